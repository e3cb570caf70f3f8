package repository

import (
	"context"
	"database/sql"
	"log/slog"
	"time"
)

type RateWindowRepository interface {
	TryIncrement(ctx context.Context, userID int64, platform string, windowStart time.Time, max int) (bool, error)
	Prune(ctx context.Context, before time.Time) error
}

type rateWindowRepository struct {
	db *sql.DB
}

func NewRateWindowRepository(db *sql.DB) RateWindowRepository {
	return &rateWindowRepository{db: db}
}

// TryIncrement creates or bumps the bucket row in a single atomic
// upsert. The conditional in the DO UPDATE keeps the increment below
// max even under concurrent schedulers: a full bucket updates no row,
// RETURNING yields nothing, and the caller gets false.
func (r *rateWindowRepository) TryIncrement(ctx context.Context, userID int64, platform string, windowStart time.Time, max int) (bool, error) {
	query := `
		INSERT INTO rate_windows (user_id, platform, window_start, call_count)
		VALUES ($1, $2, $3, 1)
		ON CONFLICT (user_id, platform, window_start) DO UPDATE
		SET call_count = rate_windows.call_count + 1
		WHERE rate_windows.call_count < $4
		RETURNING call_count
	`

	var callCount int
	err := r.db.QueryRowContext(ctx, query, userID, platform, windowStart, max).Scan(&callCount)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		slog.Info(err.Error())
		return false, err
	}
	return true, nil
}

// Prune drops buckets older than the cutoff; windows are ephemeral once
// closed.
func (r *rateWindowRepository) Prune(ctx context.Context, before time.Time) error {
	query := `DELETE FROM rate_windows WHERE window_start < $1`
	_, err := r.db.ExecContext(ctx, query, before)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}
