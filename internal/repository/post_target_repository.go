package repository

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/plugflow/plugflow/internal/models"
)

const targetColumns = `id, post_id, platform, platform_post_id, platform_post_url, likes, comments, reposts, published_at, last_polled_at, failure_reason, created_at`

type PostTargetRepository interface {
	Create(ctx context.Context, tx *sql.Tx, target *models.PostTarget) (int64, error)
	GetByID(ctx context.Context, id int64) (*models.PostTarget, error)
	ListByPostID(ctx context.Context, postID int64) ([]*models.PostTarget, error)
	GetByPostAndPlatform(ctx context.Context, postID int64, platform string) (*models.PostTarget, error)
	SetPublished(ctx context.Context, id int64, platformPostID, platformPostURL string, publishedAt time.Time) error
	SetFailure(ctx context.Context, id int64, reason string) error
	UpdateEngagement(ctx context.Context, id int64, likes, comments, reposts int, polledAt time.Time) error
	TouchPolled(ctx context.Context, id int64, polledAt time.Time) error
}

type postTargetRepository struct {
	db *sql.DB
}

func NewPostTargetRepository(db *sql.DB) PostTargetRepository {
	return &postTargetRepository{db: db}
}

func scanTarget(row interface{ Scan(...interface{}) error }) (*models.PostTarget, error) {
	var t models.PostTarget
	err := row.Scan(&t.ID, &t.PostID, &t.Platform, &t.PlatformPostID, &t.PlatformPostURL,
		&t.Likes, &t.Comments, &t.Reposts, &t.PublishedAt, &t.LastPolledAt,
		&t.FailureReason, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *postTargetRepository) Create(ctx context.Context, tx *sql.Tx, target *models.PostTarget) (int64, error) {
	query := `
		INSERT INTO post_targets (post_id, platform)
		VALUES ($1, $2)
		RETURNING id
	`

	var id int64
	var err error

	if tx != nil {
		err = tx.QueryRowContext(ctx, query, target.PostID, target.Platform).Scan(&id)
	} else {
		err = r.db.QueryRowContext(ctx, query, target.PostID, target.Platform).Scan(&id)
	}
	if err != nil {
		slog.Info(err.Error())
		return 0, err
	}

	return id, nil
}

func (r *postTargetRepository) GetByID(ctx context.Context, id int64) (*models.PostTarget, error) {
	query := `SELECT ` + targetColumns + ` FROM post_targets WHERE id = $1`

	target, err := scanTarget(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		slog.Info(err.Error())
		return nil, err
	}
	return target, nil
}

func (r *postTargetRepository) ListByPostID(ctx context.Context, postID int64) ([]*models.PostTarget, error) {
	query := `SELECT ` + targetColumns + ` FROM post_targets WHERE post_id = $1 ORDER BY id`

	rows, err := r.db.QueryContext(ctx, query, postID)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer rows.Close()

	var targets []*models.PostTarget
	for rows.Next() {
		target, err := scanTarget(rows)
		if err != nil {
			slog.Info(err.Error())
			return nil, err
		}
		targets = append(targets, target)
	}
	return targets, rows.Err()
}

func (r *postTargetRepository) GetByPostAndPlatform(ctx context.Context, postID int64, platform string) (*models.PostTarget, error) {
	query := `SELECT ` + targetColumns + ` FROM post_targets WHERE post_id = $1 AND platform = $2`

	target, err := scanTarget(r.db.QueryRowContext(ctx, query, postID, platform))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		slog.Info(err.Error())
		return nil, err
	}
	return target, nil
}

func (r *postTargetRepository) SetPublished(ctx context.Context, id int64, platformPostID, platformPostURL string, publishedAt time.Time) error {
	query := `
		UPDATE post_targets
		SET platform_post_id = $1,
			platform_post_url = $2,
			published_at = $3,
			failure_reason = NULL
		WHERE id = $4
	`
	_, err := r.db.ExecContext(ctx, query, platformPostID, platformPostURL, publishedAt, id)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

func (r *postTargetRepository) SetFailure(ctx context.Context, id int64, reason string) error {
	query := `UPDATE post_targets SET failure_reason = $1 WHERE id = $2`
	_, err := r.db.ExecContext(ctx, query, reason, id)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

func (r *postTargetRepository) UpdateEngagement(ctx context.Context, id int64, likes, comments, reposts int, polledAt time.Time) error {
	query := `
		UPDATE post_targets
		SET likes = $1,
			comments = $2,
			reposts = $3,
			last_polled_at = $4
		WHERE id = $5
	`
	_, err := r.db.ExecContext(ctx, query, likes, comments, reposts, polledAt, id)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

// TouchPolled records a cycle that deliberately skipped the remote
// metrics call (optimistic skip).
func (r *postTargetRepository) TouchPolled(ctx context.Context, id int64, polledAt time.Time) error {
	query := `UPDATE post_targets SET last_polled_at = $1 WHERE id = $2`
	_, err := r.db.ExecContext(ctx, query, polledAt, id)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}
