package models

import (
	"database/sql"
	"time"
)

// PlatformConnection holds a user's OAuth grant for one platform. Tokens
// are stored encrypted; unique per (user, platform).
type PlatformConnection struct {
	ID             int64          `db:"id" json:"id"`
	UserID         int64          `db:"user_id" json:"user_id"`
	Platform       string         `db:"platform" json:"platform"`
	AccountID      string         `db:"account_id" json:"account_id"`
	AccountHandle  string         `db:"account_handle" json:"account_handle"`
	AccessToken    string         `db:"access_token" json:"-"`
	RefreshToken   sql.NullString `db:"refresh_token" json:"-"`
	TokenExpiresAt sql.NullTime   `db:"token_expires_at" json:"token_expires_at"`
	Scopes         string         `db:"scopes" json:"scopes"`
	IsActive       bool           `db:"is_active" json:"is_active"`
	CreatedAt      time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time      `db:"updated_at" json:"updated_at"`
}
