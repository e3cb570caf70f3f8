package engine

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	config "github.com/plugflow/plugflow/configs"
	"github.com/plugflow/plugflow/internal/limits"
	"github.com/plugflow/plugflow/internal/models"
	"github.com/plugflow/plugflow/internal/platform"
	"github.com/plugflow/plugflow/internal/repository"
	"github.com/plugflow/plugflow/internal/transfer"
	"github.com/plugflow/plugflow/internal/vault"
)

const testVaultKey = "0123456789abcdef0123456789abcdef"

type memPosts struct {
	repository.PostRepository
	posts          map[int64]*models.Post
	createdInMonth int
}

func (m *memPosts) GetByID(ctx context.Context, id int64) (*models.Post, error) {
	return m.posts[id], nil
}

func (m *memPosts) ListDue(ctx context.Context, now time.Time, limit int) ([]*models.Post, error) {
	var due []*models.Post
	for _, p := range m.posts {
		switch {
		case p.Status == models.PostStatusScheduled && p.ScheduledAt.Valid && !p.ScheduledAt.Time.After(now):
			due = append(due, p)
		case p.Status == models.PostStatusFailed && p.RetryCount < models.MaxPublishRetries &&
			p.NextRetryAt.Valid && !p.NextRetryAt.Time.After(now):
			due = append(due, p)
		}
	}
	return due, nil
}

func (m *memPosts) CountCreatedInWindow(ctx context.Context, userID int64, start, end time.Time) (int, error) {
	return m.createdInMonth, nil
}

func (m *memPosts) MarkPublished(ctx context.Context, id int64, publishedAt time.Time) error {
	p := m.posts[id]
	p.Status = models.PostStatusPublished
	p.PublishedAt = sql.NullTime{Time: publishedAt, Valid: true}
	p.FailureReason = sql.NullString{}
	p.NextRetryAt = sql.NullTime{}
	return nil
}

func (m *memPosts) MarkFailed(ctx context.Context, id int64, reason string) error {
	p := m.posts[id]
	p.Status = models.PostStatusFailed
	p.FailureReason = sql.NullString{String: reason, Valid: true}
	p.NextRetryAt = sql.NullTime{}
	return nil
}

func (m *memPosts) ScheduleRetry(ctx context.Context, id int64, retryCount int, nextRetryAt time.Time, reason string) error {
	p := m.posts[id]
	p.Status = models.PostStatusFailed
	p.RetryCount = retryCount
	p.NextRetryAt = sql.NullTime{Time: nextRetryAt, Valid: true}
	p.FailureReason = sql.NullString{String: reason, Valid: true}
	return nil
}

func (m *memPosts) Reschedule(ctx context.Context, id int64, at time.Time) error {
	p := m.posts[id]
	p.Status = models.PostStatusScheduled
	p.ScheduledAt = sql.NullTime{Time: at, Valid: true}
	return nil
}

type memTargets struct {
	repository.PostTargetRepository
	targets []*models.PostTarget
	touched int
}

func (m *memTargets) ListByPostID(ctx context.Context, postID int64) ([]*models.PostTarget, error) {
	var out []*models.PostTarget
	for _, t := range m.targets {
		if t.PostID == postID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *memTargets) GetByPostAndPlatform(ctx context.Context, postID int64, platformName string) (*models.PostTarget, error) {
	for _, t := range m.targets {
		if t.PostID == postID && t.Platform == platformName {
			return t, nil
		}
	}
	return nil, nil
}

func (m *memTargets) SetPublished(ctx context.Context, id int64, platformPostID, platformPostURL string, publishedAt time.Time) error {
	for _, t := range m.targets {
		if t.ID == id {
			t.PlatformPostID = sql.NullString{String: platformPostID, Valid: true}
			t.PlatformPostURL = sql.NullString{String: platformPostURL, Valid: true}
			t.PublishedAt = sql.NullTime{Time: publishedAt, Valid: true}
			t.FailureReason = sql.NullString{}
		}
	}
	return nil
}

func (m *memTargets) SetFailure(ctx context.Context, id int64, reason string) error {
	for _, t := range m.targets {
		if t.ID == id {
			t.FailureReason = sql.NullString{String: reason, Valid: true}
		}
	}
	return nil
}

func (m *memTargets) UpdateEngagement(ctx context.Context, id int64, likes, comments, reposts int, polledAt time.Time) error {
	for _, t := range m.targets {
		if t.ID == id {
			t.Likes, t.Comments, t.Reposts = likes, comments, reposts
			t.LastPolledAt = sql.NullTime{Time: polledAt, Valid: true}
		}
	}
	return nil
}

func (m *memTargets) TouchPolled(ctx context.Context, id int64, polledAt time.Time) error {
	m.touched++
	for _, t := range m.targets {
		if t.ID == id {
			t.LastPolledAt = sql.NullTime{Time: polledAt, Valid: true}
		}
	}
	return nil
}

type memPlugs struct {
	repository.AutoPlugRepository
	plugs        []*models.AutoPlug
	firedInMonth int
}

func (m *memPlugs) ListPending(ctx context.Context, postID int64, limit int) ([]*models.AutoPlug, error) {
	var out []*models.AutoPlug
	for _, p := range m.plugs {
		if p.Status != models.PlugStatusPending {
			continue
		}
		if postID != 0 && p.PostID != postID {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func (m *memPlugs) transition(id int64, status, reason, replyID string, firedAt time.Time) bool {
	for _, p := range m.plugs {
		if p.ID != id || p.Status != models.PlugStatusPending {
			continue
		}
		p.Status = status
		if reason != "" {
			p.FailureReason = sql.NullString{String: reason, Valid: true}
		}
		if replyID != "" {
			p.PlatformReplyID = sql.NullString{String: replyID, Valid: true}
			p.FiredAt = sql.NullTime{Time: firedAt, Valid: true}
		}
		return true
	}
	return false
}

func (m *memPlugs) MarkFired(ctx context.Context, id int64, platformReplyID string, firedAt time.Time) (bool, error) {
	return m.transition(id, models.PlugStatusFired, "", platformReplyID, firedAt), nil
}

func (m *memPlugs) MarkFailed(ctx context.Context, id int64, reason string) (bool, error) {
	return m.transition(id, models.PlugStatusFailed, reason, "", time.Time{}), nil
}

func (m *memPlugs) MarkSkipped(ctx context.Context, id int64, reason string) (bool, error) {
	return m.transition(id, models.PlugStatusSkipped, reason, "", time.Time{}), nil
}

func (m *memPlugs) CountFiredInWindow(ctx context.Context, userID int64, start, end time.Time) (int, error) {
	return m.firedInMonth, nil
}

type memConns struct {
	repository.ConnectionRepository
	conns []*models.PlatformConnection
}

func (m *memConns) GetActive(ctx context.Context, userID int64, platformName string) (*models.PlatformConnection, error) {
	for _, c := range m.conns {
		if c.UserID == userID && c.Platform == platformName && c.IsActive {
			return c, nil
		}
	}
	return nil, nil
}

type memUsers struct {
	repository.UserRepository
	user *models.User
}

func (m *memUsers) GetByID(ctx context.Context, id int64) (*models.User, bool, error) {
	if m.user == nil {
		return nil, false, nil
	}
	return m.user, true, nil
}

type memPostMedia struct {
	repository.PostMediaRepository
}

func (m *memPostMedia) ListByPostID(ctx context.Context, postID int64) ([]*models.PostMedia, error) {
	return nil, nil
}

type memAssets struct {
	repository.MediaAssetRepository
}

type memRate struct {
	counts map[string]int
}

func (m *memRate) TryIncrement(ctx context.Context, userID int64, platformName string, windowStart time.Time, max int) (bool, error) {
	key := platformName + windowStart.Format(time.RFC3339)
	if m.counts[key] >= max {
		return false, nil
	}
	m.counts[key]++
	return true, nil
}

func (m *memRate) Prune(ctx context.Context, before time.Time) error { return nil }

type memNotifier struct {
	sent []*transfer.EmailMessage
}

func (m *memNotifier) Send(ctx context.Context, msg *transfer.EmailMessage) error {
	m.sent = append(m.sent, msg)
	return nil
}

// fakeAdapter counts calls and serves canned results.
type fakeAdapter struct {
	publishResult *platform.PublishResult
	publishErr    error
	engagement    *platform.Engagement
	engagementErr error
	replyID       string
	replyErr      error

	publishCalls int
	fetchCalls   int
	replyCalls   int
	lastContent  string
	lastReply    string
}

func (f *fakeAdapter) Publish(ctx context.Context, content platform.Content) (*platform.PublishResult, error) {
	f.publishCalls++
	f.lastContent = content.Text
	if f.publishErr != nil {
		return nil, f.publishErr
	}
	return f.publishResult, nil
}

func (f *fakeAdapter) FetchEngagement(ctx context.Context, platformPostID string) (*platform.Engagement, error) {
	f.fetchCalls++
	if f.engagementErr != nil {
		return nil, f.engagementErr
	}
	return f.engagement, nil
}

func (f *fakeAdapter) Reply(ctx context.Context, platformPostID, content string) (string, error) {
	f.replyCalls++
	f.lastReply = content
	if f.replyErr != nil {
		return "", f.replyErr
	}
	return f.replyID, nil
}

func (f *fakeAdapter) RefreshToken(ctx context.Context, refreshToken string) (*platform.TokenResult, error) {
	return nil, nil
}

type pipelineFixture struct {
	cfg     config.Config
	posts   *memPosts
	targets *memTargets
	plugs   *memPlugs
	conns   *memConns
	users   *memUsers
	notify  *memNotifier
	adapter *fakeAdapter
	vault   *vault.Vault
	limiter *limits.Limiter
	rate    *memRate
}

func newFixture(t *testing.T) *pipelineFixture {
	t.Helper()

	v := vault.New(testVaultKey)
	encrypted, err := v.Encrypt("access-token")
	require.NoError(t, err)

	f := &pipelineFixture{
		cfg:     config.Config{RateLimitMax: 45, PublishBatchSize: 50, PlugBatchSize: 100},
		posts:   &memPosts{posts: map[int64]*models.Post{}},
		targets: &memTargets{},
		plugs:   &memPlugs{},
		users:   &memUsers{user: &models.User{ID: 1, Email: "owner@example.com", Plan: models.PlanFree}},
		notify:  &memNotifier{},
		adapter: &fakeAdapter{
			publishResult: &platform.PublishResult{PlatformPostID: "tw-100", PlatformPostURL: "https://twitter.com/i/status/tw-100"},
			engagement:    &platform.Engagement{},
			replyID:       "tw-reply-1",
		},
		vault: v,
		rate:  &memRate{counts: map[string]int{}},
	}
	f.conns = &memConns{conns: []*models.PlatformConnection{
		{ID: 1, UserID: 1, Platform: platform.Twitter, AccessToken: encrypted, IsActive: true},
	}}
	f.limiter = limits.NewLimiter(f.users, f.posts, f.plugs, f.rate)
	return f
}

func (f *pipelineFixture) publisher() *Publisher {
	p := NewPublisher(f.cfg, f.posts, f.targets, f.conns, f.users, &memPostMedia{}, &memAssets{}, f.limiter, f.vault, f.notify)
	p.adapters = func(platformName, accessToken string, cfg config.Config) (platform.Adapter, error) {
		return f.adapter, nil
	}
	return p
}

func (f *pipelineFixture) addScheduledPost(id int64, content string, at time.Time) *models.Post {
	post := &models.Post{
		ID:          id,
		UserID:      1,
		Content:     content,
		Status:      models.PostStatusScheduled,
		ScheduledAt: sql.NullTime{Time: at, Valid: true},
	}
	f.posts.posts[id] = post
	return post
}

func (f *pipelineFixture) addTarget(id, postID int64, platformName string) *models.PostTarget {
	target := &models.PostTarget{ID: id, PostID: postID, Platform: platformName}
	f.targets.targets = append(f.targets.targets, target)
	return target
}

func TestPublishScheduledPost(t *testing.T) {
	now := time.Date(2025, time.June, 10, 12, 0, 0, 0, time.UTC)
	f := newFixture(t)
	post := f.addScheduledPost(1, "Hello from the new launch", now.Add(-time.Minute))
	target := f.addTarget(10, 1, platform.Twitter)

	require.NoError(t, f.publisher().RunCycle(context.Background(), now, 0))

	require.Equal(t, 1, f.adapter.publishCalls)
	require.Equal(t, models.PostStatusPublished, post.Status)
	require.True(t, post.PublishedAt.Valid)
	require.Equal(t, "tw-100", target.PlatformPostID.String)
	require.Equal(t, "https://twitter.com/i/status/tw-100", target.PlatformPostURL.String)
	require.Empty(t, f.notify.sent)
}

func TestPublishSkipsAlreadyPublishedTarget(t *testing.T) {
	now := time.Date(2025, time.June, 10, 12, 0, 0, 0, time.UTC)
	f := newFixture(t)
	post := f.addScheduledPost(1, "Resumed after a crash", now.Add(-time.Minute))
	done := f.addTarget(10, 1, platform.Twitter)
	done.PlatformPostID = sql.NullString{String: "tw-99", Valid: true}
	f.addTarget(11, 1, platform.Bluesky)

	encrypted, err := f.vault.Encrypt("bsky-token")
	require.NoError(t, err)
	f.conns.conns = append(f.conns.conns, &models.PlatformConnection{
		ID: 2, UserID: 1, Platform: platform.Bluesky, AccessToken: encrypted, IsActive: true,
	})

	require.NoError(t, f.publisher().RunCycle(context.Background(), now, 0))

	require.Equal(t, 1, f.adapter.publishCalls)
	require.Equal(t, "tw-99", done.PlatformPostID.String)
	require.Equal(t, models.PostStatusPublished, post.Status)
}

func TestPublishTransientFailureSchedulesRetry(t *testing.T) {
	now := time.Date(2025, time.June, 10, 12, 0, 0, 0, time.UTC)
	f := newFixture(t)
	post := f.addScheduledPost(1, "Flaky upstream", now.Add(-time.Minute))
	f.addTarget(10, 1, platform.Twitter)
	f.adapter.publishErr = &platform.PlatformError{Platform: platform.Twitter, StatusCode: 503, Message: "service unavailable"}

	require.NoError(t, f.publisher().RunCycle(context.Background(), now, 0))

	require.Equal(t, models.PostStatusFailed, post.Status)
	require.Equal(t, 1, post.RetryCount)
	require.True(t, post.NextRetryAt.Valid)
	require.Equal(t, now.Add(5*time.Minute), post.NextRetryAt.Time)
	require.Len(t, f.notify.sent, 1)
}

func TestPublishPermanentFailureDoesNotRetry(t *testing.T) {
	now := time.Date(2025, time.June, 10, 12, 0, 0, 0, time.UTC)
	f := newFixture(t)
	post := f.addScheduledPost(1, "Rejected by policy", now.Add(-time.Minute))
	f.addTarget(10, 1, platform.Twitter)
	f.adapter.publishErr = &platform.PlatformError{Platform: platform.Twitter, StatusCode: 403, Message: "forbidden"}

	require.NoError(t, f.publisher().RunCycle(context.Background(), now, 0))

	require.Equal(t, models.PostStatusFailed, post.Status)
	require.Equal(t, 0, post.RetryCount)
	require.False(t, post.NextRetryAt.Valid)
}

func TestPublishRetryBudgetExhausted(t *testing.T) {
	now := time.Date(2025, time.June, 10, 12, 0, 0, 0, time.UTC)
	f := newFixture(t)
	post := f.addScheduledPost(1, "Still flaky", now.Add(-time.Minute))
	post.Status = models.PostStatusFailed
	post.RetryCount = models.MaxPublishRetries
	post.NextRetryAt = sql.NullTime{Time: now.Add(-time.Minute), Valid: true}
	f.addTarget(10, 1, platform.Twitter)

	require.NoError(t, f.publisher().RunCycle(context.Background(), now, 0))

	require.Equal(t, 0, f.adapter.publishCalls)
	require.Equal(t, models.MaxPublishRetries, post.RetryCount)
}

func TestPublishLastRetryEndsFailed(t *testing.T) {
	now := time.Date(2025, time.June, 10, 12, 0, 0, 0, time.UTC)
	f := newFixture(t)
	post := f.addScheduledPost(1, "Third strike", now.Add(-time.Minute))
	post.Status = models.PostStatusFailed
	post.RetryCount = models.MaxPublishRetries - 1
	post.NextRetryAt = sql.NullTime{Time: now.Add(-time.Minute), Valid: true}
	f.addTarget(10, 1, platform.Twitter)
	f.adapter.publishErr = &platform.PlatformError{Platform: platform.Twitter, StatusCode: 500, Message: "internal server error"}

	require.NoError(t, f.publisher().RunCycle(context.Background(), now, 0))

	require.Equal(t, models.PostStatusFailed, post.Status)
	require.Equal(t, models.MaxPublishRetries, post.RetryCount)

	// Budget spent; the next cycle must leave it alone.
	f.adapter.publishCalls = 0
	require.NoError(t, f.publisher().RunCycle(context.Background(), now.Add(10*time.Minute), 0))
	require.Equal(t, 0, f.adapter.publishCalls)
}

func TestPublishQuotaExceeded(t *testing.T) {
	now := time.Date(2025, time.June, 10, 12, 0, 0, 0, time.UTC)
	f := newFixture(t)
	f.posts.createdInMonth = 10
	post := f.addScheduledPost(1, "One over the free plan", now.Add(-time.Minute))
	f.addTarget(10, 1, platform.Twitter)

	require.NoError(t, f.publisher().RunCycle(context.Background(), now, 0))

	require.Equal(t, 0, f.adapter.publishCalls)
	require.Equal(t, models.PostStatusFailed, post.Status)
	require.Contains(t, post.FailureReason.String, "monthly publish limit")
	require.Len(t, f.notify.sent, 1)
}

func TestPublishRateLimitDefersWithoutRetrySlot(t *testing.T) {
	now := time.Date(2025, time.June, 10, 12, 0, 0, 0, time.UTC)
	f := newFixture(t)
	post := f.addScheduledPost(1, "Bucket is full", now.Add(-time.Minute))
	f.addTarget(10, 1, platform.Twitter)
	f.rate.counts[platform.Twitter+limits.BucketStart(now).Format(time.RFC3339)] = f.cfg.RateLimitMax

	require.NoError(t, f.publisher().RunCycle(context.Background(), now, 0))

	require.Equal(t, 0, f.adapter.publishCalls)
	require.Equal(t, models.PostStatusScheduled, post.Status)
	require.Equal(t, 0, post.RetryCount)
	require.Equal(t, now.Add(16*time.Minute), post.ScheduledAt.Time)
}

func TestPublishContentOverCharacterLimit(t *testing.T) {
	now := time.Date(2025, time.June, 10, 12, 0, 0, 0, time.UTC)
	f := newFixture(t)
	long := make([]byte, 0, 281)
	for i := 0; i < 281; i++ {
		long = append(long, 'a')
	}
	post := f.addScheduledPost(1, string(long), now.Add(-time.Minute))
	target := f.addTarget(10, 1, platform.Twitter)

	require.NoError(t, f.publisher().RunCycle(context.Background(), now, 0))

	require.Equal(t, 0, f.adapter.publishCalls)
	require.Equal(t, models.PostStatusFailed, post.Status)
	require.Contains(t, target.FailureReason.String, "280 character limit")
}

func TestPublishWithoutActiveConnectionFails(t *testing.T) {
	now := time.Date(2025, time.June, 10, 12, 0, 0, 0, time.UTC)
	f := newFixture(t)
	post := f.addScheduledPost(1, "Nobody is connected", now.Add(-time.Minute))
	f.addTarget(10, 1, platform.Linkedin)

	require.NoError(t, f.publisher().RunCycle(context.Background(), now, 0))

	require.Equal(t, 0, f.adapter.publishCalls)
	require.Equal(t, models.PostStatusFailed, post.Status)
	require.Contains(t, post.FailureReason.String, "no active linkedin connection")
}

func TestPublishedPostNeverRedispatched(t *testing.T) {
	now := time.Date(2025, time.June, 10, 12, 0, 0, 0, time.UTC)
	f := newFixture(t)
	post := f.addScheduledPost(1, "Already out", now.Add(-time.Hour))
	post.Status = models.PostStatusPublished
	f.addTarget(10, 1, platform.Twitter)

	require.NoError(t, f.publisher().RunCycle(context.Background(), now, 1))

	require.Equal(t, 0, f.adapter.publishCalls)
	require.Equal(t, models.PostStatusPublished, post.Status)
}

func TestPublishOnDemandSinglePost(t *testing.T) {
	now := time.Date(2025, time.June, 10, 12, 0, 0, 0, time.UTC)
	f := newFixture(t)
	wanted := f.addScheduledPost(1, "Dispatch me", now.Add(-time.Minute))
	other := f.addScheduledPost(2, "Not me", now.Add(-time.Minute))
	f.addTarget(10, 1, platform.Twitter)
	f.addTarget(11, 2, platform.Twitter)

	require.NoError(t, f.publisher().RunCycle(context.Background(), now, 1))

	require.Equal(t, 1, f.adapter.publishCalls)
	require.Equal(t, models.PostStatusPublished, wanted.Status)
	require.Equal(t, models.PostStatusScheduled, other.Status)
}
