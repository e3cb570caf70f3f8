package job

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	config "github.com/plugflow/plugflow/configs"
	"github.com/plugflow/plugflow/internal/models"
	"github.com/plugflow/plugflow/internal/notifier"
	"github.com/plugflow/plugflow/internal/platform"
	"github.com/plugflow/plugflow/internal/repository"
	"github.com/plugflow/plugflow/internal/transfer"
	"github.com/plugflow/plugflow/internal/vault"
)

const (
	// refreshHorizon is how far ahead of expiry a token is swept.
	refreshHorizon = 30 * time.Minute

	// defaultTokenTTL stands in when the platform omits an expiry from
	// its refresh response.
	defaultTokenTTL = 2 * time.Hour

	refreshConcurrency = 10
)

// TokenRefreshJob sweeps connections whose access tokens expire soon
// and rotates them with each platform's refresh grant. Connections the
// platform refuses to refresh are deactivated so the pipeline stops
// attempting calls with dead credentials.
type TokenRefreshJob struct {
	cfg      config.Config
	cr       repository.ConnectionRepository
	ur       repository.UserRepository
	vault    *vault.Vault
	notify   notifier.Notifier
	adapters func(platformName, accessToken string, cfg config.Config) (platform.Adapter, error)
}

func NewTokenRefreshJob(
	cfg config.Config,
	cr repository.ConnectionRepository,
	ur repository.UserRepository,
	v *vault.Vault,
	notify notifier.Notifier) *TokenRefreshJob {
	return &TokenRefreshJob{
		cfg:      cfg,
		cr:       cr,
		ur:       ur,
		vault:    v,
		notify:   notify,
		adapters: platform.New,
	}
}

func (j *TokenRefreshJob) RefreshTokens() {
	ctx := context.Background()
	now := time.Now()

	conns, err := j.cr.ListExpiring(ctx, now, now.Add(refreshHorizon))
	if err != nil {
		slog.Info(err.Error())
		return
	}

	var wg sync.WaitGroup
	semaphore := make(chan struct{}, refreshConcurrency)

	for _, conn := range conns {
		wg.Add(1)
		semaphore <- struct{}{}

		go func(conn *models.PlatformConnection) {
			defer wg.Done()
			defer func() { <-semaphore }()

			if err := j.refreshConnection(ctx, now, conn); err != nil {
				slog.Info(fmt.Sprintf("token refresh: connection %d (%s): %s", conn.ID, conn.Platform, err.Error()))
			}
		}(conn)
	}

	wg.Wait()
}

func (j *TokenRefreshJob) refreshConnection(ctx context.Context, now time.Time, conn *models.PlatformConnection) error {
	if !conn.RefreshToken.Valid || conn.RefreshToken.String == "" {
		return j.retireConnection(ctx, conn, "no refresh token on file")
	}

	refreshToken, err := j.vault.Decrypt(conn.RefreshToken.String)
	if err != nil {
		return err
	}

	accessToken, err := j.vault.Decrypt(conn.AccessToken)
	if err != nil {
		return err
	}

	adapter, err := j.adapters(conn.Platform, accessToken, j.cfg)
	if err != nil {
		return err
	}

	result, err := adapter.RefreshToken(ctx, refreshToken)
	if err != nil {
		return j.retireConnection(ctx, conn, err.Error())
	}

	encryptedAccess, err := j.vault.Encrypt(result.AccessToken)
	if err != nil {
		return err
	}

	encryptedRefresh := ""
	if result.RefreshToken != "" {
		encryptedRefresh, err = j.vault.Encrypt(result.RefreshToken)
		if err != nil {
			return err
		}
	}

	ttl := defaultTokenTTL
	if result.ExpiresIn > 0 {
		ttl = time.Duration(result.ExpiresIn) * time.Second
	}
	expiresAt := sql.NullTime{Time: now.Add(ttl), Valid: true}

	return j.cr.SetToken(ctx, conn.ID, encryptedAccess, encryptedRefresh, expiresAt)
}

// retireConnection deactivates the connection and tells the owner to
// reconnect; scheduled posts for the platform will fail until they do.
func (j *TokenRefreshJob) retireConnection(ctx context.Context, conn *models.PlatformConnection, reason string) error {
	if err := j.cr.Deactivate(ctx, conn.ID); err != nil {
		return err
	}

	user, isExist, err := j.ur.GetByID(ctx, conn.UserID)
	if err != nil || !isExist {
		return err
	}

	body := fmt.Sprintf("Your %s connection could not be renewed (%s). Please reconnect the account to keep publishing.", conn.Platform, reason)
	msg := &transfer.EmailMessage{
		To:      user.Email,
		Subject: fmt.Sprintf("Reconnect your %s account", conn.Platform),
		HTML:    fmt.Sprintf("<p>%s</p>", body),
		Text:    body,
	}
	if err := j.notify.Send(ctx, msg); err != nil {
		slog.Info(err.Error())
	}
	return nil
}
