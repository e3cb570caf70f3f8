package models

import (
	"database/sql"
	"time"
)

// AutoPlug is a pre-written reply that fires once its post target's
// engagement crosses the configured threshold. Status moves away from
// pending at most once; fired plugs are never re-fired.
type AutoPlug struct {
	ID              int64          `db:"id" json:"id"`
	PostID          int64          `db:"post_id" json:"post_id"`
	Platform        string         `db:"platform" json:"platform"`
	Content         string         `db:"content" json:"content"`
	TriggerType     string         `db:"trigger_type" json:"trigger_type"`
	TriggerValue    int            `db:"trigger_value" json:"trigger_value"`
	Status          string         `db:"status" json:"status"` // pending, fired, failed, skipped
	FiredAt         sql.NullTime   `db:"fired_at" json:"fired_at"`
	PlatformReplyID sql.NullString `db:"platform_reply_id" json:"platform_reply_id"`
	FailureReason   sql.NullString `db:"failure_reason" json:"failure_reason"`
	CreatedAt       time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time      `db:"updated_at" json:"updated_at"`
}

const (
	PlugStatusPending = "pending"
	PlugStatusFired   = "fired"
	PlugStatusFailed  = "failed"
	PlugStatusSkipped = "skipped"
)

const (
	TriggerLikes            = "likes"
	TriggerComments         = "comments"
	TriggerReposts          = "reposts"
	TriggerTimeAfterPublish = "time_after_publish"
)
