package models

import "time"

// RateWindow counts outbound platform calls inside one fixed 15-minute
// bucket. Rows are ephemeral and pruned once the window closes.
type RateWindow struct {
	UserID      int64     `db:"user_id" json:"user_id"`
	Platform    string    `db:"platform" json:"platform"`
	WindowStart time.Time `db:"window_start" json:"window_start"`
	CallCount   int       `db:"call_count" json:"call_count"`
}
