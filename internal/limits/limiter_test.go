package limits

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/plugflow/plugflow/internal/models"
	"github.com/plugflow/plugflow/internal/repository"
)

type fakeUserRepo struct {
	repository.UserRepository
	user *models.User
}

func (f *fakeUserRepo) GetByID(ctx context.Context, id int64) (*models.User, bool, error) {
	if f.user == nil {
		return nil, false, nil
	}
	return f.user, true, nil
}

type fakePostRepo struct {
	repository.PostRepository
	created int
	start   time.Time
	end     time.Time
}

func (f *fakePostRepo) CountCreatedInWindow(ctx context.Context, userID int64, start, end time.Time) (int, error) {
	f.start, f.end = start, end
	return f.created, nil
}

type fakePlugRepo struct {
	repository.AutoPlugRepository
	fired int
}

func (f *fakePlugRepo) CountFiredInWindow(ctx context.Context, userID int64, start, end time.Time) (int, error) {
	return f.fired, nil
}

// fakeRateRepo honors the repository contract: at most max increments
// per (user, platform, window) key.
type fakeRateRepo struct {
	counts map[string]int
}

func (f *fakeRateRepo) TryIncrement(ctx context.Context, userID int64, platform string, windowStart time.Time, max int) (bool, error) {
	key := platform + windowStart.Format(time.RFC3339)
	if f.counts[key] >= max {
		return false, nil
	}
	f.counts[key]++
	return true, nil
}

func (f *fakeRateRepo) Prune(ctx context.Context, before time.Time) error { return nil }

func newTestLimiter(user *models.User, created, fired int) (*Limiter, *fakePostRepo) {
	posts := &fakePostRepo{created: created}
	l := NewLimiter(
		&fakeUserRepo{user: user},
		posts,
		&fakePlugRepo{fired: fired},
		&fakeRateRepo{counts: map[string]int{}},
	)
	return l, posts
}

func TestMonthWindow(t *testing.T) {
	now := time.Date(2025, time.March, 17, 14, 30, 12, 0, time.UTC)
	start, end := MonthWindow(now)
	require.Equal(t, time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC), start)
	require.Equal(t, time.Date(2025, time.April, 1, 0, 0, 0, 0, time.UTC), end)

	// December rolls into the next year.
	start, end = MonthWindow(time.Date(2025, time.December, 31, 23, 59, 59, 0, time.UTC))
	require.Equal(t, time.Date(2025, time.December, 1, 0, 0, 0, 0, time.UTC), start)
	require.Equal(t, time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC), end)
}

func TestBucketStart(t *testing.T) {
	require.Equal(t,
		time.Date(2025, time.March, 17, 14, 30, 0, 0, time.UTC),
		BucketStart(time.Date(2025, time.March, 17, 14, 44, 59, 0, time.UTC)))
	require.Equal(t,
		time.Date(2025, time.March, 17, 14, 45, 0, 0, time.UTC),
		BucketStart(time.Date(2025, time.March, 17, 14, 45, 0, 0, time.UTC)))
	require.Equal(t,
		time.Date(2025, time.March, 17, 14, 0, 0, 0, time.UTC),
		BucketStart(time.Date(2025, time.March, 17, 14, 14, 59, 0, time.UTC)))
}

func TestCheckAndEnforceLimitUnderCap(t *testing.T) {
	l, posts := newTestLimiter(&models.User{ID: 1, Plan: models.PlanFree}, 9, 0)

	now := time.Date(2025, time.March, 17, 12, 0, 0, 0, time.UTC)
	err := l.CheckAndEnforceLimit(context.Background(), 1, KindPublish, now)
	require.NoError(t, err)

	// The count query must be scoped to the calendar month of now.
	require.Equal(t, time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC), posts.start)
	require.Equal(t, time.Date(2025, time.April, 1, 0, 0, 0, 0, time.UTC), posts.end)
}

func TestCheckAndEnforceLimitAtCap(t *testing.T) {
	l, _ := newTestLimiter(&models.User{ID: 1, Plan: models.PlanFree}, 10, 0)

	err := l.CheckAndEnforceLimit(context.Background(), 1, KindPublish, time.Now())
	require.Error(t, err)

	var limitErr *LimitExceededError
	require.True(t, errors.As(err, &limitErr))
	require.Equal(t, KindPublish, limitErr.Kind)
	require.Equal(t, 10, limitErr.Limit)
}

func TestCheckAndEnforceLimitPlugKind(t *testing.T) {
	l, _ := newTestLimiter(&models.User{ID: 1, Plan: models.PlanFree}, 0, 5)

	err := l.CheckAndEnforceLimit(context.Background(), 1, KindPlug, time.Now())
	var limitErr *LimitExceededError
	require.True(t, errors.As(err, &limitErr))
	require.Equal(t, KindPlug, limitErr.Kind)
}

func TestCheckAndEnforceLimitAgencyUnlimited(t *testing.T) {
	l, _ := newTestLimiter(&models.User{ID: 1, Plan: models.PlanAgency}, 100000, 100000)

	require.NoError(t, l.CheckAndEnforceLimit(context.Background(), 1, KindPublish, time.Now()))
	require.NoError(t, l.CheckAndEnforceLimit(context.Background(), 1, KindPlug, time.Now()))
}

func TestCheckAndEnforceLimitUnknownPlanFallsBackToFree(t *testing.T) {
	l, _ := newTestLimiter(&models.User{ID: 1, Plan: "enterprise-classic"}, 10, 0)

	err := l.CheckAndEnforceLimit(context.Background(), 1, KindPublish, time.Now())
	var limitErr *LimitExceededError
	require.True(t, errors.As(err, &limitErr))
}

func TestCheckRateLimitBucketExhaustion(t *testing.T) {
	rw := &fakeRateRepo{counts: map[string]int{}}
	l := NewLimiter(&fakeUserRepo{}, &fakePostRepo{}, &fakePlugRepo{}, rw)

	now := time.Date(2025, time.March, 17, 14, 16, 0, 0, time.UTC)
	for i := 0; i < 45; i++ {
		ok, err := l.CheckRateLimit(context.Background(), 1, "twitter", 45, now)
		require.NoError(t, err)
		require.True(t, ok, "call %d should fit the bucket", i+1)
	}

	ok, err := l.CheckRateLimit(context.Background(), 1, "twitter", 45, now)
	require.NoError(t, err)
	require.False(t, ok, "46th call in the bucket must be rejected")

	// A later instant in the same window shares the bucket.
	ok, err = l.CheckRateLimit(context.Background(), 1, "twitter", 45, now.Add(5*time.Minute))
	require.NoError(t, err)
	require.False(t, ok)

	// Crossing the 15-minute edge opens a fresh bucket.
	ok, err = l.CheckRateLimit(context.Background(), 1, "twitter", 45, now.Add(15*time.Minute))
	require.NoError(t, err)
	require.True(t, ok)
}
