package limits

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/plugflow/plugflow/internal/repository"
)

type LimitKind string

const (
	KindPublish LimitKind = "publish"
	KindPlug    LimitKind = "plug"
)

// LimitExceededError is terminal for the current cycle; callers must
// not schedule a retry for it.
type LimitExceededError struct {
	Kind  LimitKind
	Plan  string
	Limit int
}

func (e *LimitExceededError) Error() string {
	return fmt.Sprintf("monthly %s limit of %d reached for the %s plan", e.Kind, e.Limit, e.Plan)
}

// RateWindowSize is the fixed bucket width for platform call budgets.
const RateWindowSize = 15 * time.Minute

type Limiter struct {
	users repository.UserRepository
	posts repository.PostRepository
	plugs repository.AutoPlugRepository
	rw    repository.RateWindowRepository
}

func NewLimiter(
	users repository.UserRepository,
	posts repository.PostRepository,
	plugs repository.AutoPlugRepository,
	rw repository.RateWindowRepository) *Limiter {
	return &Limiter{
		users: users,
		posts: posts,
		plugs: plugs,
		rw:    rw,
	}
}

// MonthWindow returns [start of month, start of next month) in UTC for
// the given instant.
func MonthWindow(now time.Time) (time.Time, time.Time) {
	now = now.UTC()
	start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 1, 0)
}

// BucketStart aligns the instant down to its 15-minute window. Buckets
// are aligned to the hour, so edges land at :00, :15, :30 and :45.
func BucketStart(now time.Time) time.Time {
	return now.UTC().Truncate(RateWindowSize)
}

// CheckAndEnforceLimit verifies the owner's monthly plan quota for the
// given kind. Time is passed in explicitly so month boundaries are
// deterministic under test.
func (l *Limiter) CheckAndEnforceLimit(ctx context.Context, ownerID int64, kind LimitKind, now time.Time) error {
	user, isExist, err := l.users.GetByID(ctx, ownerID)
	if err != nil {
		return err
	}
	if !isExist {
		err = errors.New("owner not found")
		slog.Info(err.Error())
		return err
	}

	plan := LimitsForPlan(user.Plan)
	start, end := MonthWindow(now)

	var limit, used int
	switch kind {
	case KindPublish:
		limit = plan.MonthlyPublishes
		used, err = l.posts.CountCreatedInWindow(ctx, ownerID, start, end)
	case KindPlug:
		limit = plan.MonthlyPlugFires
		used, err = l.plugs.CountFiredInWindow(ctx, ownerID, start, end)
	default:
		return fmt.Errorf("unknown limit kind: %s", kind)
	}
	if err != nil {
		return err
	}

	if limit == Unlimited {
		return nil
	}
	if used >= limit {
		return &LimitExceededError{Kind: kind, Plan: user.Plan, Limit: limit}
	}
	return nil
}

// CheckRateLimit consumes one call from the owner's 15-minute bucket
// for the platform. A false return means the bucket is exhausted; the
// caller must defer the work, not fail it.
func (l *Limiter) CheckRateLimit(ctx context.Context, ownerID int64, platform string, max int, now time.Time) (bool, error) {
	return l.rw.TryIncrement(ctx, ownerID, platform, BucketStart(now), max)
}
