package service

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/oauth2"

	config "github.com/plugflow/plugflow/configs"
	"github.com/plugflow/plugflow/internal/models"
	"github.com/plugflow/plugflow/internal/platform"
	"github.com/plugflow/plugflow/internal/repository"
	"github.com/plugflow/plugflow/internal/vault"
)

const (
	TWITTER_AUTH_URL  = "https://twitter.com/i/oauth2/authorize"
	TWITTER_TOKEN_URL = "https://api.twitter.com/2/oauth2/token"

	LINKEDIN_AUTH_URL  = "https://www.linkedin.com/oauth/v2/authorization"
	LINKEDIN_TOKEN_URL = "https://www.linkedin.com/oauth/v2/accessToken"

	BLUESKY_SESSION_URL = "https://bsky.social/xrpc/com.atproto.server.createSession"
)

// ConnectionService manages platform OAuth grants. Tokens are
// encrypted here, at the storage boundary; everything below the
// repository only ever sees ciphertext.
type ConnectionService interface {
	GetAuthURL(ctx context.Context, platformName, state string) string
	ConnectCallback(ctx context.Context, userID int64, platformName, code string) error
	ConnectBluesky(ctx context.Context, userID int64, identifier, appPassword string) error
	List(ctx context.Context, userID int64) ([]*models.PlatformConnection, error)
	Delete(ctx context.Context, userID, connectionID int64) error
}

type connectionService struct {
	cfg   config.Config
	cr    repository.ConnectionRepository
	vault *vault.Vault
}

func NewConnectionService(cfg config.Config, cr repository.ConnectionRepository, v *vault.Vault) ConnectionService {
	return &connectionService{
		cfg:   cfg,
		cr:    cr,
		vault: v,
	}
}

func (s *connectionService) GetAuthURL(ctx context.Context, platformName, state string) string {
	switch platformName {
	case platform.Twitter:
		params := url.Values{}
		params.Add("client_id", s.cfg.Twitter.ClientID)
		params.Add("scope", "tweet.read tweet.write users.read offline.access")
		params.Add("response_type", "code")
		params.Add("redirect_uri", s.cfg.Twitter.RedirectURI)
		params.Add("state", state)
		params.Add("code_challenge", "challenge")
		params.Add("code_challenge_method", "plain")

		return fmt.Sprintf("%s?%s", TWITTER_AUTH_URL, params.Encode())

	case platform.Linkedin:
		params := url.Values{}
		params.Add("client_id", s.cfg.Linkedin.ClientID)
		params.Add("scope", "openid profile w_member_social")
		params.Add("response_type", "code")
		params.Add("redirect_uri", s.cfg.Linkedin.RedirectURI)
		params.Add("state", state)

		return fmt.Sprintf("%s?%s", LINKEDIN_AUTH_URL, params.Encode())

	default:
		return ""
	}
}

func (s *connectionService) ConnectCallback(ctx context.Context, userID int64, platformName, code string) error {
	if code == "" {
		err := errors.New("authorization code is empty")
		slog.Info(err.Error())
		return err
	}

	oauthCfg, err := s.oauthConfig(platformName)
	if err != nil {
		return err
	}

	var opts []oauth2.AuthCodeOption
	if platformName == platform.Twitter {
		opts = append(opts, oauth2.SetAuthURLParam("code_verifier", "challenge"))
	}

	token, err := oauthCfg.Exchange(ctx, code, opts...)
	if err != nil {
		slog.Info(err.Error())
		return err
	}

	accountID, accountHandle, err := s.fetchAccountInfo(ctx, platformName, token.AccessToken)
	if err != nil {
		return err
	}

	return s.storeConnection(ctx, userID, platformName, accountID, accountHandle,
		token.AccessToken, token.RefreshToken, token.Expiry, oauthCfg.Scopes)
}

// ConnectBluesky authenticates with an app password instead of OAuth;
// the session tokens it returns are stored like any other grant.
func (s *connectionService) ConnectBluesky(ctx context.Context, userID int64, identifier, appPassword string) error {
	if identifier == "" || appPassword == "" {
		err := errors.New("identifier or app password is empty")
		slog.Info(err.Error())
		return err
	}

	payload, err := json.Marshal(map[string]string{
		"identifier": identifier,
		"password":   appPassword,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, BLUESKY_SESSION_URL, bytes.NewBuffer(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		err = fmt.Errorf("bluesky session creation failed with status %d: %s", resp.StatusCode, string(body))
		slog.Info(err.Error())
		return err
	}

	var session struct {
		DID        string `json:"did"`
		Handle     string `json:"handle"`
		AccessJwt  string `json:"accessJwt"`
		RefreshJwt string `json:"refreshJwt"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return err
	}

	// Bluesky access tokens are short-lived; the refresh sweeper keeps
	// the session alive.
	expiry := time.Now().Add(2 * time.Hour)
	return s.storeConnection(ctx, userID, platform.Bluesky, session.DID, session.Handle,
		session.AccessJwt, session.RefreshJwt, expiry, nil)
}

func (s *connectionService) oauthConfig(platformName string) (*oauth2.Config, error) {
	switch platformName {
	case platform.Twitter:
		return &oauth2.Config{
			ClientID:     s.cfg.Twitter.ClientID,
			ClientSecret: s.cfg.Twitter.ClientSecret,
			RedirectURL:  s.cfg.Twitter.RedirectURI,
			Scopes:       []string{"tweet.read", "tweet.write", "users.read", "offline.access"},
			Endpoint: oauth2.Endpoint{
				AuthURL:   TWITTER_AUTH_URL,
				TokenURL:  TWITTER_TOKEN_URL,
				AuthStyle: oauth2.AuthStyleInHeader,
			},
		}, nil
	case platform.Linkedin:
		return &oauth2.Config{
			ClientID:     s.cfg.Linkedin.ClientID,
			ClientSecret: s.cfg.Linkedin.ClientSecret,
			RedirectURL:  s.cfg.Linkedin.RedirectURI,
			Scopes:       []string{"openid", "profile", "w_member_social"},
			Endpoint: oauth2.Endpoint{
				AuthURL:   LINKEDIN_AUTH_URL,
				TokenURL:  LINKEDIN_TOKEN_URL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		}, nil
	default:
		return nil, fmt.Errorf("unsupported platform: %s", platformName)
	}
}

func (s *connectionService) fetchAccountInfo(ctx context.Context, platformName, accessToken string) (string, string, error) {
	var infoURL string
	switch platformName {
	case platform.Twitter:
		infoURL = "https://api.twitter.com/2/users/me"
	case platform.Linkedin:
		infoURL = "https://api.linkedin.com/v2/userinfo"
	default:
		return "", "", fmt.Errorf("unsupported platform: %s", platformName)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, infoURL, nil)
	if err != nil {
		return "", "", err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		slog.Info(err.Error())
		return "", "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", "", fmt.Errorf("account lookup failed with status %d: %s", resp.StatusCode, string(body))
	}

	switch platformName {
	case platform.Twitter:
		var payload struct {
			Data struct {
				ID       string `json:"id"`
				Username string `json:"username"`
			} `json:"data"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
			return "", "", err
		}
		return payload.Data.ID, payload.Data.Username, nil

	default:
		var payload struct {
			Sub  string `json:"sub"`
			Name string `json:"name"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
			return "", "", err
		}
		return payload.Sub, payload.Name, nil
	}
}

func (s *connectionService) storeConnection(ctx context.Context, userID int64, platformName, accountID, accountHandle, accessToken, refreshToken string, expiry time.Time, scopes []string) error {
	encryptedAccess, err := s.vault.Encrypt(accessToken)
	if err != nil {
		return err
	}

	conn := models.PlatformConnection{
		UserID:        userID,
		Platform:      platformName,
		AccountID:     accountID,
		AccountHandle: accountHandle,
		AccessToken:   encryptedAccess,
		IsActive:      true,
	}

	if refreshToken != "" {
		encryptedRefresh, err := s.vault.Encrypt(refreshToken)
		if err != nil {
			return err
		}
		conn.RefreshToken = sql.NullString{String: encryptedRefresh, Valid: true}
	}

	if !expiry.IsZero() {
		conn.TokenExpiresAt = sql.NullTime{Time: expiry, Valid: true}
	}

	for i, scope := range scopes {
		if i > 0 {
			conn.Scopes += " "
		}
		conn.Scopes += scope
	}

	if _, err := s.cr.Upsert(ctx, &conn); err != nil {
		return fmt.Errorf("error saving connection: %w", err)
	}
	return nil
}

func (s *connectionService) List(ctx context.Context, userID int64) ([]*models.PlatformConnection, error) {
	var err error

	if userID == 0 {
		err = errors.New("UserID is not valid")
		slog.Info(err.Error())
		return nil, err
	}

	conns, err := s.cr.ListByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("Error getting connections")
	}

	return conns, nil
}

func (s *connectionService) Delete(ctx context.Context, userID, connectionID int64) error {
	var err error

	if userID == 0 {
		err = errors.New("UserID is not valid")
		slog.Info(err.Error())
		return err
	}

	if connectionID == 0 {
		err = errors.New("ConnectionID is not valid")
		slog.Info(err.Error())
		return err
	}

	isValid, err := s.cr.CheckByUserID(ctx, connectionID, userID)
	if err != nil {
		return err
	}

	if !isValid {
		err = errors.New("Connection doesn't exist")
		slog.Info(err.Error())
		return err
	}

	err = s.cr.Remove(ctx, connectionID)
	if err != nil {
		return fmt.Errorf("Error removing connection")
	}

	return nil
}
