package job

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	config "github.com/plugflow/plugflow/configs"
	"github.com/plugflow/plugflow/internal/models"
	"github.com/plugflow/plugflow/internal/platform"
	"github.com/plugflow/plugflow/internal/repository"
	"github.com/plugflow/plugflow/internal/transfer"
	"github.com/plugflow/plugflow/internal/vault"
)

const testVaultKey = "0123456789abcdef0123456789abcdef"

type fakeConnRepo struct {
	repository.ConnectionRepository
	conns       []*models.PlatformConnection
	setAccess   string
	setRefresh  string
	setExpiry   sql.NullTime
	deactivated []int64
}

func (f *fakeConnRepo) ListExpiring(ctx context.Context, from, to time.Time) ([]*models.PlatformConnection, error) {
	return f.conns, nil
}

func (f *fakeConnRepo) SetToken(ctx context.Context, id int64, accessToken, refreshToken string, expiresAt sql.NullTime) error {
	f.setAccess = accessToken
	f.setRefresh = refreshToken
	f.setExpiry = expiresAt
	return nil
}

func (f *fakeConnRepo) Deactivate(ctx context.Context, id int64) error {
	f.deactivated = append(f.deactivated, id)
	return nil
}

type fakeUserRepo struct {
	repository.UserRepository
}

func (f *fakeUserRepo) GetByID(ctx context.Context, id int64) (*models.User, bool, error) {
	return &models.User{ID: id, Email: "owner@example.com"}, true, nil
}

type fakeRefreshAdapter struct {
	platform.Adapter
	result *platform.TokenResult
	err    error
	calls  int
}

func (f *fakeRefreshAdapter) RefreshToken(ctx context.Context, refreshToken string) (*platform.TokenResult, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type fakeNotifier struct {
	sent []*transfer.EmailMessage
}

func (f *fakeNotifier) Send(ctx context.Context, msg *transfer.EmailMessage) error {
	f.sent = append(f.sent, msg)
	return nil
}

func newSweeper(t *testing.T, conn *models.PlatformConnection, adapter *fakeRefreshAdapter) (*TokenRefreshJob, *fakeConnRepo, *fakeNotifier) {
	t.Helper()

	cr := &fakeConnRepo{conns: []*models.PlatformConnection{conn}}
	notify := &fakeNotifier{}

	j := NewTokenRefreshJob(config.Config{}, cr, &fakeUserRepo{}, vault.New(testVaultKey), notify)
	j.adapters = func(platformName, accessToken string, cfg config.Config) (platform.Adapter, error) {
		return adapter, nil
	}
	return j, cr, notify
}

func encryptedConn(t *testing.T, v *vault.Vault, platformName string) *models.PlatformConnection {
	t.Helper()

	access, err := v.Encrypt("old-access")
	require.NoError(t, err)
	refresh, err := v.Encrypt("old-refresh")
	require.NoError(t, err)

	return &models.PlatformConnection{
		ID:           1,
		UserID:       1,
		Platform:     platformName,
		AccessToken:  access,
		RefreshToken: sql.NullString{String: refresh, Valid: true},
		IsActive:     true,
	}
}

func TestRefreshRotatesToken(t *testing.T) {
	v := vault.New(testVaultKey)
	adapter := &fakeRefreshAdapter{result: &platform.TokenResult{
		AccessToken:  "new-access",
		RefreshToken: "new-refresh",
		ExpiresIn:    7200,
	}}
	j, cr, notify := newSweeper(t, encryptedConn(t, v, platform.Twitter), adapter)

	j.RefreshTokens()

	require.Equal(t, 1, adapter.calls)
	require.Empty(t, cr.deactivated)
	require.Empty(t, notify.sent)

	// Stored tokens are ciphertext, never the raw values.
	require.NotEqual(t, "new-access", cr.setAccess)
	decrypted, err := v.Decrypt(cr.setAccess)
	require.NoError(t, err)
	require.Equal(t, "new-access", decrypted)

	decrypted, err = v.Decrypt(cr.setRefresh)
	require.NoError(t, err)
	require.Equal(t, "new-refresh", decrypted)

	require.True(t, cr.setExpiry.Valid)
}

func TestRefreshAppliesDefaultExpiry(t *testing.T) {
	v := vault.New(testVaultKey)
	adapter := &fakeRefreshAdapter{result: &platform.TokenResult{
		AccessToken:  "new-access",
		RefreshToken: "new-refresh",
	}}
	j, cr, _ := newSweeper(t, encryptedConn(t, v, platform.Bluesky), adapter)

	before := time.Now()
	j.RefreshTokens()

	require.True(t, cr.setExpiry.Valid)
	require.WithinDuration(t, before.Add(defaultTokenTTL), cr.setExpiry.Time, time.Minute)
}

func TestRefreshRejectionDeactivatesAndNotifies(t *testing.T) {
	v := vault.New(testVaultKey)
	adapter := &fakeRefreshAdapter{err: &platform.AuthError{Platform: platform.Twitter, Message: "grant revoked"}}
	j, cr, notify := newSweeper(t, encryptedConn(t, v, platform.Twitter), adapter)

	j.RefreshTokens()

	require.Equal(t, []int64{1}, cr.deactivated)
	require.Len(t, notify.sent, 1)
	require.Contains(t, notify.sent[0].Subject, "Reconnect")
}

func TestRefreshWithoutRefreshTokenDeactivates(t *testing.T) {
	v := vault.New(testVaultKey)
	conn := encryptedConn(t, v, platform.Twitter)
	conn.RefreshToken = sql.NullString{}
	adapter := &fakeRefreshAdapter{}
	j, cr, notify := newSweeper(t, conn, adapter)

	j.RefreshTokens()

	require.Equal(t, 0, adapter.calls)
	require.Equal(t, []int64{1}, cr.deactivated)
	require.Len(t, notify.sent, 1)
}
