package repository

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/plugflow/plugflow/internal/models"
)

const postColumns = `id, user_id, content, status, scheduled_at, published_at, retry_count, next_retry_at, failure_reason, created_at, updated_at`

type PostRepository interface {
	GetByID(ctx context.Context, id int64) (*models.Post, error)
	Create(ctx context.Context, tx *sql.Tx, post *models.Post) (int64, error)
	GetByUserID(ctx context.Context, userID int64) ([]*models.Post, error)
	ListDue(ctx context.Context, now time.Time, limit int) ([]*models.Post, error)
	CountCreatedInWindow(ctx context.Context, userID int64, start, end time.Time) (int, error)
	MarkPublished(ctx context.Context, id int64, publishedAt time.Time) error
	MarkFailed(ctx context.Context, id int64, reason string) error
	ScheduleRetry(ctx context.Context, id int64, retryCount int, nextRetryAt time.Time, reason string) error
	Reschedule(ctx context.Context, id int64, at time.Time) error
	CheckByUserID(ctx context.Context, postID, userID int64) (bool, error)
	Remove(ctx context.Context, id int64) error
}

type postRepository struct {
	db *sql.DB
}

func NewPostRepository(db *sql.DB) PostRepository {
	return &postRepository{db: db}
}

func scanPost(row interface{ Scan(...interface{}) error }) (*models.Post, error) {
	var post models.Post
	err := row.Scan(&post.ID, &post.UserID, &post.Content, &post.Status, &post.ScheduledAt,
		&post.PublishedAt, &post.RetryCount, &post.NextRetryAt, &post.FailureReason,
		&post.CreatedAt, &post.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &post, nil
}

func (r *postRepository) Create(ctx context.Context, tx *sql.Tx, post *models.Post) (int64, error) {
	query := `
		INSERT INTO posts (user_id, content, status, scheduled_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`

	var id int64
	var err error

	if tx != nil {
		err = tx.QueryRowContext(ctx, query, post.UserID, post.Content, post.Status, post.ScheduledAt).Scan(&id)
	} else {
		err = r.db.QueryRowContext(ctx, query, post.UserID, post.Content, post.Status, post.ScheduledAt).Scan(&id)
	}
	if err != nil {
		slog.Info(err.Error())
		return 0, err
	}

	return id, nil
}

func (r *postRepository) GetByID(ctx context.Context, id int64) (*models.Post, error) {
	query := `SELECT ` + postColumns + ` FROM posts WHERE id = $1`

	post, err := scanPost(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		slog.Info(err.Error())
		return nil, err
	}
	return post, nil
}

func (r *postRepository) GetByUserID(ctx context.Context, userID int64) ([]*models.Post, error) {
	query := `SELECT ` + postColumns + ` FROM posts WHERE user_id = $1 ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer rows.Close()

	var posts []*models.Post
	for rows.Next() {
		post, err := scanPost(rows)
		if err != nil {
			slog.Info(err.Error())
			return nil, err
		}
		posts = append(posts, post)
	}
	return posts, rows.Err()
}

// ListDue returns the batch for a publish cycle: scheduled posts whose
// time has come plus failed posts inside their retry budget whose
// backoff has elapsed. Capped to bound per-invocation latency.
func (r *postRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]*models.Post, error) {
	query := `
		SELECT ` + postColumns + `
		FROM posts
		WHERE (status = $1 AND scheduled_at IS NOT NULL AND scheduled_at <= $3)
		   OR (status = $2 AND retry_count < $4 AND next_retry_at IS NOT NULL AND next_retry_at <= $3)
		ORDER BY scheduled_at
		LIMIT $5
	`

	rows, err := r.db.QueryContext(ctx, query, models.PostStatusScheduled, models.PostStatusFailed, now, models.MaxPublishRetries, limit)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer rows.Close()

	var posts []*models.Post
	for rows.Next() {
		post, err := scanPost(rows)
		if err != nil {
			slog.Info(err.Error())
			return nil, err
		}
		posts = append(posts, post)
	}
	return posts, rows.Err()
}

// CountCreatedInWindow counts publish-bound posts (anything but drafts)
// created inside [start, end); used for the monthly plan quota.
func (r *postRepository) CountCreatedInWindow(ctx context.Context, userID int64, start, end time.Time) (int, error) {
	query := `
		SELECT COUNT(*) FROM posts
		WHERE user_id = $1 AND status != $2 AND created_at >= $3 AND created_at < $4
	`

	var count int
	err := r.db.QueryRowContext(ctx, query, userID, models.PostStatusDraft, start, end).Scan(&count)
	if err != nil {
		slog.Info(err.Error())
		return 0, err
	}
	return count, nil
}

func (r *postRepository) MarkPublished(ctx context.Context, id int64, publishedAt time.Time) error {
	query := `
		UPDATE posts
		SET status = $1,
			published_at = $2,
			failure_reason = NULL,
			next_retry_at = NULL,
			updated_at = $2
		WHERE id = $3
	`
	_, err := r.db.ExecContext(ctx, query, models.PostStatusPublished, publishedAt, id)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

// MarkFailed is the permanent variant: no retry is scheduled.
func (r *postRepository) MarkFailed(ctx context.Context, id int64, reason string) error {
	query := `
		UPDATE posts
		SET status = $1,
			failure_reason = $2,
			next_retry_at = NULL,
			updated_at = $3
		WHERE id = $4
	`
	_, err := r.db.ExecContext(ctx, query, models.PostStatusFailed, reason, time.Now(), id)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

// ScheduleRetry marks the post failed but leaves it eligible for
// re-dispatch once nextRetryAt passes.
func (r *postRepository) ScheduleRetry(ctx context.Context, id int64, retryCount int, nextRetryAt time.Time, reason string) error {
	query := `
		UPDATE posts
		SET status = $1,
			retry_count = $2,
			next_retry_at = $3,
			failure_reason = $4,
			updated_at = $5
		WHERE id = $6
	`
	_, err := r.db.ExecContext(ctx, query, models.PostStatusFailed, retryCount, nextRetryAt, reason, time.Now(), id)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

// Reschedule pushes a scheduled post's dispatch time back without
// touching its retry budget (soft backoff on rate-limit pressure).
func (r *postRepository) Reschedule(ctx context.Context, id int64, at time.Time) error {
	query := `
		UPDATE posts
		SET status = $1,
			scheduled_at = $2,
			updated_at = $3
		WHERE id = $4
	`
	_, err := r.db.ExecContext(ctx, query, models.PostStatusScheduled, at, time.Now(), id)
	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}

func (r *postRepository) CheckByUserID(ctx context.Context, postID, userID int64) (bool, error) {
	query := "SELECT 1 FROM posts WHERE id = $1 AND user_id = $2"

	var result int
	err := r.db.QueryRowContext(ctx, query, postID, userID).Scan(&result)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		slog.Info(err.Error())
		return false, err
	}

	return result == 1, nil
}

func (r *postRepository) Remove(ctx context.Context, id int64) error {
	query := `DELETE FROM posts WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, id)

	if err != nil {
		slog.Info(err.Error())
		return err
	}
	return nil
}
