package models

import (
	"database/sql"
	"time"
)

type Post struct {
	ID            int64          `db:"id" json:"id"`
	UserID        int64          `db:"user_id" json:"user_id"`
	Content       string         `db:"content" json:"content"`
	Status        string         `db:"status" json:"status"` // draft, scheduled, published, failed
	ScheduledAt   sql.NullTime   `db:"scheduled_at" json:"scheduled_at"`
	PublishedAt   sql.NullTime   `db:"published_at" json:"published_at"`
	RetryCount    int            `db:"retry_count" json:"retry_count"`
	NextRetryAt   sql.NullTime   `db:"next_retry_at" json:"next_retry_at"`
	FailureReason sql.NullString `db:"failure_reason" json:"failure_reason"`
	CreatedAt     time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time      `db:"updated_at" json:"updated_at"`
}

// PostTarget is one platform-specific publication attempt belonging to a post.
// An empty PlatformPostID means the target has not been published yet.
type PostTarget struct {
	ID              int64          `db:"id" json:"id"`
	PostID          int64          `db:"post_id" json:"post_id"`
	Platform        string         `db:"platform" json:"platform"`
	PlatformPostID  sql.NullString `db:"platform_post_id" json:"platform_post_id"`
	PlatformPostURL sql.NullString `db:"platform_post_url" json:"platform_post_url"`
	Likes           int            `db:"likes" json:"likes"`
	Comments        int            `db:"comments" json:"comments"`
	Reposts         int            `db:"reposts" json:"reposts"`
	PublishedAt     sql.NullTime   `db:"published_at" json:"published_at"`
	LastPolledAt    sql.NullTime   `db:"last_polled_at" json:"last_polled_at"`
	FailureReason   sql.NullString `db:"failure_reason" json:"failure_reason"`
	CreatedAt       time.Time      `db:"created_at" json:"created_at"`
}

type MediaAsset struct {
	ID        int64     `db:"id" json:"id"`
	UserID    int64     `db:"user_id" json:"user_id"`
	FileName  string    `db:"file_name" json:"file_name"`
	FileType  string    `db:"file_type" json:"file_type"`
	FileSize  int64     `db:"file_size" json:"file_size"`
	FileURL   string    `db:"file_url" json:"file_url"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

type PostMedia struct {
	PostID       int64     `db:"post_id" json:"post_id"`
	AssetID      int64     `db:"asset_id" json:"asset_id"`
	DisplayOrder int       `db:"display_order" json:"display_order"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

const (
	PostStatusDraft     = "draft"
	PostStatusScheduled = "scheduled"
	PostStatusPublished = "published"
	PostStatusFailed    = "failed"
)

// MaxPublishRetries bounds retry_count for transient publish failures.
const MaxPublishRetries = 3
