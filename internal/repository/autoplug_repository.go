package repository

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/plugflow/plugflow/internal/models"
)

const plugColumns = `id, post_id, platform, content, trigger_type, trigger_value, status, fired_at, platform_reply_id, failure_reason, created_at, updated_at`

type AutoPlugRepository interface {
	Create(ctx context.Context, tx *sql.Tx, plug *models.AutoPlug) (int64, error)
	GetByID(ctx context.Context, id int64) (*models.AutoPlug, error)
	ListByPostID(ctx context.Context, postID int64) ([]*models.AutoPlug, error)
	ListPending(ctx context.Context, postID int64, limit int) ([]*models.AutoPlug, error)
	MarkFired(ctx context.Context, id int64, platformReplyID string, firedAt time.Time) (bool, error)
	MarkFailed(ctx context.Context, id int64, reason string) (bool, error)
	MarkSkipped(ctx context.Context, id int64, reason string) (bool, error)
	CountFiredInWindow(ctx context.Context, userID int64, start, end time.Time) (int, error)
	CheckByUserID(ctx context.Context, plugID, userID int64) (bool, error)
	Remove(ctx context.Context, id int64) error
}

type autoPlugRepository struct {
	db *sql.DB
}

func NewAutoPlugRepository(db *sql.DB) AutoPlugRepository {
	return &autoPlugRepository{db: db}
}

func scanPlug(row interface{ Scan(...interface{}) error }) (*models.AutoPlug, error) {
	var plug models.AutoPlug
	err := row.Scan(&plug.ID, &plug.PostID, &plug.Platform, &plug.Content, &plug.TriggerType,
		&plug.TriggerValue, &plug.Status, &plug.FiredAt, &plug.PlatformReplyID,
		&plug.FailureReason, &plug.CreatedAt, &plug.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &plug, nil
}

func (r *autoPlugRepository) Create(ctx context.Context, tx *sql.Tx, plug *models.AutoPlug) (int64, error) {
	query := `
		INSERT INTO auto_plugs (post_id, platform, content, trigger_type, trigger_value, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`

	var id int64
	var err error

	if tx != nil {
		err = tx.QueryRowContext(ctx, query, plug.PostID, plug.Platform, plug.Content, plug.TriggerType, plug.TriggerValue, models.PlugStatusPending).Scan(&id)
	} else {
		err = r.db.QueryRowContext(ctx, query, plug.PostID, plug.Platform, plug.Content, plug.TriggerType, plug.TriggerValue, models.PlugStatusPending).Scan(&id)
	}
	if err != nil {
		slog.Info(err.Error())
		return 0, err
	}

	return id, nil
}

func (r *autoPlugRepository) GetByID(ctx context.Context, id int64) (*models.AutoPlug, error) {
	query := `SELECT ` + plugColumns + ` FROM auto_plugs WHERE id = $1`

	plug, err := scanPlug(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		slog.Info(err.Error())
		return nil, err
	}
	return plug, nil
}

func (r *autoPlugRepository) ListByPostID(ctx context.Context, postID int64) ([]*models.AutoPlug, error) {
	query := `SELECT ` + plugColumns + ` FROM auto_plugs WHERE post_id = $1 ORDER BY id`
	return r.list(ctx, query, postID)
}

// ListPending returns pending plugs whose post target already has an
// active connection on the plug's platform. A zero postID scans across
// posts (service-level batch query).
func (r *autoPlugRepository) ListPending(ctx context.Context, postID int64, limit int) ([]*models.AutoPlug, error) {
	query := `
		SELECT ap.id, ap.post_id, ap.platform, ap.content, ap.trigger_type, ap.trigger_value,
		       ap.status, ap.fired_at, ap.platform_reply_id, ap.failure_reason, ap.created_at, ap.updated_at
		FROM auto_plugs ap
		JOIN posts p ON p.id = ap.post_id
		JOIN platform_connections pc ON pc.user_id = p.user_id AND pc.platform = ap.platform
		WHERE ap.status = $1
		  AND pc.is_active = TRUE
		  AND ($2 = 0 OR ap.post_id = $2)
		ORDER BY ap.id
		LIMIT $3
	`

	rows, err := r.db.QueryContext(ctx, query, models.PlugStatusPending, postID, limit)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer rows.Close()

	var plugs []*models.AutoPlug
	for rows.Next() {
		plug, err := scanPlug(rows)
		if err != nil {
			slog.Info(err.Error())
			return nil, err
		}
		plugs = append(plugs, plug)
	}
	return plugs, rows.Err()
}

func (r *autoPlugRepository) list(ctx context.Context, query string, args ...interface{}) ([]*models.AutoPlug, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer rows.Close()

	var plugs []*models.AutoPlug
	for rows.Next() {
		plug, err := scanPlug(rows)
		if err != nil {
			slog.Info(err.Error())
			return nil, err
		}
		plugs = append(plugs, plug)
	}
	return plugs, rows.Err()
}

// transition moves a plug out of pending. The status guard in the WHERE
// clause makes the transition one-way and exclusive: concurrent cycles
// racing on the same row see rows-affected 0 and back off.
func (r *autoPlugRepository) transition(ctx context.Context, query string, args ...interface{}) (bool, error) {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		slog.Info(err.Error())
		return false, err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		slog.Info(err.Error())
		return false, err
	}
	return affected == 1, nil
}

func (r *autoPlugRepository) MarkFired(ctx context.Context, id int64, platformReplyID string, firedAt time.Time) (bool, error) {
	query := `
		UPDATE auto_plugs
		SET status = $1,
			fired_at = $2,
			platform_reply_id = $3,
			updated_at = $2
		WHERE id = $4 AND status = $5
	`
	return r.transition(ctx, query, models.PlugStatusFired, firedAt, platformReplyID, id, models.PlugStatusPending)
}

func (r *autoPlugRepository) MarkFailed(ctx context.Context, id int64, reason string) (bool, error) {
	query := `
		UPDATE auto_plugs
		SET status = $1,
			failure_reason = $2,
			updated_at = $3
		WHERE id = $4 AND status = $5
	`
	return r.transition(ctx, query, models.PlugStatusFailed, reason, time.Now(), id, models.PlugStatusPending)
}

func (r *autoPlugRepository) MarkSkipped(ctx context.Context, id int64, reason string) (bool, error) {
	query := `
		UPDATE auto_plugs
		SET status = $1,
			failure_reason = $2,
			updated_at = $3
		WHERE id = $4 AND status = $5
	`
	return r.transition(ctx, query, models.PlugStatusSkipped, reason, time.Now(), id, models.PlugStatusPending)
}

// CountFiredInWindow counts the owner's plugs fired inside [start, end);
// used for the monthly plan quota.
func (r *autoPlugRepository) CountFiredInWindow(ctx context.Context, userID int64, start, end time.Time) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM auto_plugs ap
		JOIN posts p ON p.id = ap.post_id
		WHERE p.user_id = $1 AND ap.status = $2 AND ap.fired_at >= $3 AND ap.fired_at < $4
	`

	var count int
	err := r.db.QueryRowContext(ctx, query, userID, models.PlugStatusFired, start, end).Scan(&count)
	if err != nil {
		slog.Info(err.Error())
		return 0, err
	}
	return count, nil
}

func (r *autoPlugRepository) CheckByUserID(ctx context.Context, plugID, userID int64) (bool, error) {
	query := `
		SELECT 1
		FROM auto_plugs ap
		JOIN posts p ON p.id = ap.post_id
		WHERE ap.id = $1 AND p.user_id = $2
	`

	var result int
	err := r.db.QueryRowContext(ctx, query, plugID, userID).Scan(&result)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		slog.Info(err.Error())
		return false, err
	}

	return result == 1, nil
}

func (r *autoPlugRepository) Remove(ctx context.Context, id int64) error {
	query := `DELETE FROM auto_plugs WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}
