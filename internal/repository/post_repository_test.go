package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/plugflow/plugflow/internal/models"
)

func newPostRows(t *testing.T, posts ...*models.Post) *sqlmock.Rows {
	t.Helper()
	rows := sqlmock.NewRows([]string{
		"id", "user_id", "content", "status", "scheduled_at", "published_at",
		"retry_count", "next_retry_at", "failure_reason", "created_at", "updated_at",
	})
	for _, p := range posts {
		rows.AddRow(p.ID, p.UserID, p.Content, p.Status, p.ScheduledAt, p.PublishedAt,
			p.RetryCount, p.NextRetryAt, p.FailureReason, p.CreatedAt, p.UpdatedAt)
	}
	return rows
}

func TestPostRepositoryGetByID(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	repo := NewPostRepository(db)
	now := time.Now()

	post := &models.Post{
		ID:          7,
		UserID:      1,
		Content:     "Launching soon",
		Status:      models.PostStatusScheduled,
		ScheduledAt: sql.NullTime{Time: now, Valid: true},
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	mock.ExpectQuery(`SELECT .+ FROM posts WHERE id = \$1`).
		WithArgs(int64(7)).
		WillReturnRows(newPostRows(t, post))

	got, err := repo.GetByID(context.Background(), 7)
	require.NoError(t, err)
	require.Equal(t, post.Content, got.Content)
	require.Equal(t, models.PostStatusScheduled, got.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostRepositoryGetByIDNotFound(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	repo := NewPostRepository(db)

	mock.ExpectQuery(`SELECT .+ FROM posts WHERE id = \$1`).
		WithArgs(int64(404)).
		WillReturnError(sql.ErrNoRows)

	got, err := repo.GetByID(context.Background(), 404)
	require.NoError(t, err)
	require.Nil(t, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostRepositoryListDue(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	repo := NewPostRepository(db)
	now := time.Now()

	scheduled := &models.Post{ID: 1, UserID: 1, Content: "due", Status: models.PostStatusScheduled,
		ScheduledAt: sql.NullTime{Time: now.Add(-time.Minute), Valid: true}, CreatedAt: now, UpdatedAt: now}
	retrying := &models.Post{ID: 2, UserID: 1, Content: "retry", Status: models.PostStatusFailed, RetryCount: 1,
		NextRetryAt: sql.NullTime{Time: now.Add(-time.Second), Valid: true}, CreatedAt: now, UpdatedAt: now}

	mock.ExpectQuery(`SELECT .+ FROM posts\s+WHERE \(status = \$1 AND scheduled_at IS NOT NULL AND scheduled_at <= \$3\)`).
		WithArgs(models.PostStatusScheduled, models.PostStatusFailed, now, models.MaxPublishRetries, 50).
		WillReturnRows(newPostRows(t, scheduled, retrying))

	posts, err := repo.ListDue(context.Background(), now, 50)
	require.NoError(t, err)
	require.Len(t, posts, 2)
	require.Equal(t, int64(1), posts[0].ID)
	require.Equal(t, 1, posts[1].RetryCount)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostRepositoryCountCreatedInWindow(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	repo := NewPostRepository(db)
	start := time.Date(2025, time.June, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM posts`).
		WithArgs(int64(1), models.PostStatusDraft, start, end).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(4))

	count, err := repo.CountCreatedInWindow(context.Background(), 1, start, end)
	require.NoError(t, err)
	require.Equal(t, 4, count)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostRepositoryMarkPublished(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	repo := NewPostRepository(db)
	publishedAt := time.Now()

	mock.ExpectExec(`UPDATE posts`).
		WithArgs(models.PostStatusPublished, publishedAt, int64(9)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.MarkPublished(context.Background(), 9, publishedAt))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostRepositoryScheduleRetry(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	repo := NewPostRepository(db)
	nextRetry := time.Now().Add(5 * time.Minute)

	mock.ExpectExec(`UPDATE posts`).
		WithArgs(models.PostStatusFailed, 2, nextRetry, "rate limit", sqlmock.AnyArg(), int64(9)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.ScheduleRetry(context.Background(), 9, 2, nextRetry, "rate limit"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostRepositoryReschedule(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	repo := NewPostRepository(db)
	at := time.Now().Add(16 * time.Minute)

	mock.ExpectExec(`UPDATE posts`).
		WithArgs(models.PostStatusScheduled, at, sqlmock.AnyArg(), int64(9)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Reschedule(context.Background(), 9, at))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostRepositoryCheckByUserID(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	repo := NewPostRepository(db)

	mock.ExpectQuery(`SELECT 1 FROM posts WHERE id = \$1 AND user_id = \$2`).
		WithArgs(int64(9), int64(1)).
		WillReturnError(sql.ErrNoRows)

	ok, err := repo.CheckByUserID(context.Background(), 9, 1)
	require.NoError(t, err)
	require.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}
