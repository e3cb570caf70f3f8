package repository

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/plugflow/plugflow/internal/models"
)

const connectionColumns = `id, user_id, platform, account_id, account_handle, access_token, refresh_token, token_expires_at, scopes, is_active, created_at, updated_at`

type ConnectionRepository interface {
	Upsert(ctx context.Context, conn *models.PlatformConnection) (int64, error)
	GetByID(ctx context.Context, id int64) (*models.PlatformConnection, error)
	GetActive(ctx context.Context, userID int64, platform string) (*models.PlatformConnection, error)
	ListByUserID(ctx context.Context, userID int64) ([]*models.PlatformConnection, error)
	ListExpiring(ctx context.Context, from, to time.Time) ([]*models.PlatformConnection, error)
	SetToken(ctx context.Context, id int64, accessToken, refreshToken string, expiresAt sql.NullTime) error
	Deactivate(ctx context.Context, id int64) error
	CheckByUserID(ctx context.Context, connectionID, userID int64) (bool, error)
	Remove(ctx context.Context, id int64) error
}

type connectionRepository struct {
	db *sql.DB
}

func NewConnectionRepository(db *sql.DB) ConnectionRepository {
	return &connectionRepository{db: db}
}

func scanConnection(row interface{ Scan(...interface{}) error }) (*models.PlatformConnection, error) {
	var c models.PlatformConnection
	err := row.Scan(&c.ID, &c.UserID, &c.Platform, &c.AccountID, &c.AccountHandle,
		&c.AccessToken, &c.RefreshToken, &c.TokenExpiresAt, &c.Scopes, &c.IsActive,
		&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// Upsert keys on (user_id, platform): reconnecting a platform replaces
// the stored grant and reactivates the connection.
func (r *connectionRepository) Upsert(ctx context.Context, conn *models.PlatformConnection) (int64, error) {
	query := `
		INSERT INTO platform_connections
			(user_id, platform, account_id, account_handle, access_token, refresh_token, token_expires_at, scopes, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, TRUE)
		ON CONFLICT (user_id, platform) DO UPDATE
		SET account_id = EXCLUDED.account_id,
			account_handle = EXCLUDED.account_handle,
			access_token = EXCLUDED.access_token,
			refresh_token = EXCLUDED.refresh_token,
			token_expires_at = EXCLUDED.token_expires_at,
			scopes = EXCLUDED.scopes,
			is_active = TRUE,
			updated_at = CURRENT_TIMESTAMP
		RETURNING id
	`

	var id int64
	err := r.db.QueryRowContext(ctx, query, conn.UserID, conn.Platform, conn.AccountID,
		conn.AccountHandle, conn.AccessToken, conn.RefreshToken, conn.TokenExpiresAt, conn.Scopes).Scan(&id)
	if err != nil {
		slog.Info(err.Error())
		return 0, err
	}
	return id, nil
}

func (r *connectionRepository) GetByID(ctx context.Context, id int64) (*models.PlatformConnection, error) {
	query := `SELECT ` + connectionColumns + ` FROM platform_connections WHERE id = $1`

	conn, err := scanConnection(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		slog.Info(err.Error())
		return nil, err
	}
	return conn, nil
}

func (r *connectionRepository) GetActive(ctx context.Context, userID int64, platform string) (*models.PlatformConnection, error) {
	query := `SELECT ` + connectionColumns + ` FROM platform_connections WHERE user_id = $1 AND platform = $2 AND is_active = TRUE`

	conn, err := scanConnection(r.db.QueryRowContext(ctx, query, userID, platform))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		slog.Info(err.Error())
		return nil, err
	}
	return conn, nil
}

func (r *connectionRepository) ListByUserID(ctx context.Context, userID int64) ([]*models.PlatformConnection, error) {
	query := `SELECT ` + connectionColumns + ` FROM platform_connections WHERE user_id = $1 ORDER BY platform`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer rows.Close()

	var connections []*models.PlatformConnection
	for rows.Next() {
		conn, err := scanConnection(rows)
		if err != nil {
			slog.Info(err.Error())
			return nil, err
		}
		connections = append(connections, conn)
	}
	return connections, rows.Err()
}

// ListExpiring returns active connections whose token expires inside
// [from, to] or has already lapsed; the refresh sweeper works through
// this set.
func (r *connectionRepository) ListExpiring(ctx context.Context, from, to time.Time) ([]*models.PlatformConnection, error) {
	query := `
		SELECT ` + connectionColumns + `
		FROM platform_connections
		WHERE is_active = TRUE
		  AND ((token_expires_at BETWEEN $1 AND $2) OR (token_expires_at < $1))
		ORDER BY token_expires_at
	`

	rows, err := r.db.QueryContext(ctx, query, from, to)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer rows.Close()

	var connections []*models.PlatformConnection
	for rows.Next() {
		conn, err := scanConnection(rows)
		if err != nil {
			slog.Info(err.Error())
			return nil, err
		}
		connections = append(connections, conn)
	}
	return connections, rows.Err()
}

func (r *connectionRepository) SetToken(ctx context.Context, id int64, accessToken, refreshToken string, expiresAt sql.NullTime) error {
	query := `
		UPDATE platform_connections
		SET access_token = $1,
			refresh_token = COALESCE(NULLIF($2, ''), refresh_token),
			token_expires_at = COALESCE($3, token_expires_at),
			updated_at = CURRENT_TIMESTAMP
		WHERE id = $4
	`
	_, err := r.db.ExecContext(ctx, query, accessToken, refreshToken, expiresAt, id)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

// Deactivate marks a connection unusable until the user re-authenticates.
func (r *connectionRepository) Deactivate(ctx context.Context, id int64) error {
	query := `UPDATE platform_connections SET is_active = FALSE, updated_at = CURRENT_TIMESTAMP WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

func (r *connectionRepository) CheckByUserID(ctx context.Context, connectionID, userID int64) (bool, error) {
	query := "SELECT 1 FROM platform_connections WHERE id = $1 AND user_id = $2"

	var result int
	err := r.db.QueryRowContext(ctx, query, connectionID, userID).Scan(&result)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		slog.Info(err.Error())
		return false, err
	}

	return result == 1, nil
}

func (r *connectionRepository) Remove(ctx context.Context, id int64) error {
	query := `DELETE FROM platform_connections WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}
