package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	config "github.com/plugflow/plugflow/configs"
	"github.com/plugflow/plugflow/internal/limits"
	"github.com/plugflow/plugflow/internal/models"
	"github.com/plugflow/plugflow/internal/notifier"
	"github.com/plugflow/plugflow/internal/platform"
	"github.com/plugflow/plugflow/internal/repository"
	"github.com/plugflow/plugflow/internal/transfer"
	"github.com/plugflow/plugflow/internal/vault"
)

const (
	retryBackoff        = 5 * time.Minute
	rateLimitBackoff    = 16 * time.Minute
	defaultPublishBatch = 50
)

// AdapterFactory builds a platform adapter from a decrypted access
// token. Injectable so engine tests can substitute fakes.
type AdapterFactory func(platformName, accessToken string, cfg config.Config) (platform.Adapter, error)

// Publisher turns due posts into platform publish attempts, one target
// at a time, and settles each post's terminal state.
type Publisher struct {
	cfg      config.Config
	pr       repository.PostRepository
	tr       repository.PostTargetRepository
	cr       repository.ConnectionRepository
	ur       repository.UserRepository
	pm       repository.PostMediaRepository
	ma       repository.MediaAssetRepository
	limiter  *limits.Limiter
	vault    *vault.Vault
	notify   notifier.Notifier
	adapters AdapterFactory
}

func NewPublisher(
	cfg config.Config,
	pr repository.PostRepository,
	tr repository.PostTargetRepository,
	cr repository.ConnectionRepository,
	ur repository.UserRepository,
	pm repository.PostMediaRepository,
	ma repository.MediaAssetRepository,
	limiter *limits.Limiter,
	v *vault.Vault,
	notify notifier.Notifier) *Publisher {
	return &Publisher{
		cfg:      cfg,
		pr:       pr,
		tr:       tr,
		cr:       cr,
		ur:       ur,
		pm:       pm,
		ma:       ma,
		limiter:  limiter,
		vault:    v,
		notify:   notify,
		adapters: platform.New,
	}
}

// RunCycle processes one publish invocation. A non-zero postID narrows
// the run to that post (on-demand dispatch); zero scans the due batch.
// Both paths share the same per-post logic. Per-post errors are
// recorded on their rows and never abort the batch; only
// configuration-level failures (vault key) return an error.
func (p *Publisher) RunCycle(ctx context.Context, now time.Time, postID int64) error {
	posts, err := p.selectPosts(ctx, now, postID)
	if err != nil {
		return err
	}

	for _, post := range posts {
		if err := p.publishPost(ctx, now, post); err != nil {
			// Vault failures are invocation-fatal, not per-row.
			if errors.Is(err, vault.ErrNoKey) || errors.Is(err, vault.ErrIntegrity) {
				return err
			}
			slog.Info(fmt.Sprintf("publish cycle: post %d: %s", post.ID, err.Error()))
		}
	}
	return nil
}

func (p *Publisher) selectPosts(ctx context.Context, now time.Time, postID int64) ([]*models.Post, error) {
	if postID == 0 {
		batch := p.cfg.PublishBatchSize
		if batch <= 0 {
			batch = defaultPublishBatch
		}
		return p.pr.ListDue(ctx, now, batch)
	}

	post, err := p.pr.GetByID(ctx, postID)
	if err != nil {
		return nil, err
	}
	if post == nil {
		return nil, nil
	}

	switch post.Status {
	case models.PostStatusScheduled:
		return []*models.Post{post}, nil
	case models.PostStatusFailed:
		if post.RetryCount < models.MaxPublishRetries {
			return []*models.Post{post}, nil
		}
	}
	// Published posts are terminal and never re-dispatched.
	return nil, nil
}

func (p *Publisher) publishPost(ctx context.Context, now time.Time, post *models.Post) error {
	var limitErr *limits.LimitExceededError
	if err := p.limiter.CheckAndEnforceLimit(ctx, post.UserID, limits.KindPublish, now); err != nil {
		if errors.As(err, &limitErr) {
			// Quota exhaustion is terminal for the cycle, never retried.
			if err := p.pr.MarkFailed(ctx, post.ID, limitErr.Error()); err != nil {
				return err
			}
			p.notifyOwner(ctx, post.UserID, "Your post could not be published", limitErr.Error())
			return nil
		}
		return err
	}

	targets, err := p.tr.ListByPostID(ctx, post.ID)
	if err != nil {
		return err
	}
	if len(targets) == 0 {
		return p.pr.MarkFailed(ctx, post.ID, "no targets configured")
	}

	media, err := p.mediaURLs(ctx, post.ID)
	if err != nil {
		return err
	}

	var published, failed int
	var deferred bool

	for _, target := range targets {
		// Idempotent resumption: a target that already carries a
		// platform post id was published by an earlier attempt.
		if target.PlatformPostID.Valid && target.PlatformPostID.String != "" {
			published++
			continue
		}

		outcome, err := p.publishTarget(ctx, now, post, target, media)
		if err != nil {
			return err
		}

		switch outcome {
		case outcomePublished:
			published++
		case outcomeDeferred:
			deferred = true
		case outcomeFailed:
			failed++
		}
	}

	if deferred {
		// Already rescheduled; leave the post for the next cycle.
		return nil
	}
	if failed == 0 && published == len(targets) {
		return p.pr.MarkPublished(ctx, post.ID, now)
	}
	return nil
}

type targetOutcome int

const (
	outcomePublished targetOutcome = iota
	outcomeDeferred
	outcomeFailed
)

func (p *Publisher) publishTarget(ctx context.Context, now time.Time, post *models.Post, target *models.PostTarget, media []string) (targetOutcome, error) {
	limit := platform.CharacterLimit(target.Platform)
	if limit == 0 {
		return p.failPermanently(ctx, post, target, fmt.Sprintf("unsupported platform: %s", target.Platform))
	}
	if utf8.RuneCountInString(post.Content) > limit {
		reason := fmt.Sprintf("content exceeds the %d character limit for %s", limit, target.Platform)
		return p.failPermanently(ctx, post, target, reason)
	}

	ok, err := p.limiter.CheckRateLimit(ctx, post.UserID, target.Platform, p.cfg.RateLimitMax, now)
	if err != nil {
		return outcomeFailed, err
	}
	if !ok {
		// Soft backoff: push the whole post past the current window
		// without consuming a retry slot.
		if err := p.pr.Reschedule(ctx, post.ID, now.Add(rateLimitBackoff)); err != nil {
			return outcomeFailed, err
		}
		return outcomeDeferred, nil
	}

	conn, err := p.cr.GetActive(ctx, post.UserID, target.Platform)
	if err != nil {
		return outcomeFailed, err
	}
	if conn == nil {
		reason := fmt.Sprintf("no active %s connection; reconnect the account", target.Platform)
		return p.failPermanently(ctx, post, target, reason)
	}

	accessToken, err := p.vault.Decrypt(conn.AccessToken)
	if err != nil {
		// Vault failures are configuration-level, not per-row.
		return outcomeFailed, err
	}

	adapter, err := p.adapters(target.Platform, accessToken, p.cfg)
	if err != nil {
		return p.failPermanently(ctx, post, target, err.Error())
	}

	result, err := adapter.Publish(ctx, platform.Content{Text: post.Content, MediaURLs: media})
	if err != nil {
		return p.handlePublishFailure(ctx, now, post, target, err)
	}

	if err := p.tr.SetPublished(ctx, target.ID, result.PlatformPostID, result.PlatformPostURL, now); err != nil {
		return outcomeFailed, err
	}
	return outcomePublished, nil
}

func (p *Publisher) failPermanently(ctx context.Context, post *models.Post, target *models.PostTarget, reason string) (targetOutcome, error) {
	if err := p.tr.SetFailure(ctx, target.ID, reason); err != nil {
		return outcomeFailed, err
	}
	if err := p.pr.MarkFailed(ctx, post.ID, reason); err != nil {
		return outcomeFailed, err
	}
	p.notifyOwner(ctx, post.UserID, "Your post could not be published", reason)
	return outcomeFailed, nil
}

func (p *Publisher) handlePublishFailure(ctx context.Context, now time.Time, post *models.Post, target *models.PostTarget, cause error) (targetOutcome, error) {
	reason := cause.Error()

	if err := p.tr.SetFailure(ctx, target.ID, reason); err != nil {
		return outcomeFailed, err
	}

	if isTransient(cause) && post.RetryCount < models.MaxPublishRetries {
		if err := p.pr.ScheduleRetry(ctx, post.ID, post.RetryCount+1, now.Add(retryBackoff), reason); err != nil {
			return outcomeFailed, err
		}
	} else {
		if err := p.pr.MarkFailed(ctx, post.ID, reason); err != nil {
			return outcomeFailed, err
		}
	}

	p.notifyOwner(ctx, post.UserID, "Your post could not be published", reason)
	return outcomeFailed, nil
}

func (p *Publisher) mediaURLs(ctx context.Context, postID int64) ([]string, error) {
	postMedia, err := p.pm.ListByPostID(ctx, postID)
	if err != nil {
		return nil, err
	}

	var urls []string
	for _, pm := range postMedia {
		asset, err := p.ma.GetByID(ctx, pm.AssetID)
		if err != nil {
			return nil, err
		}
		if asset != nil {
			urls = append(urls, asset.FileURL)
		}
	}
	return urls, nil
}

// notifyOwner is fire-and-forget; a delivery failure is logged and
// never retried.
func (p *Publisher) notifyOwner(ctx context.Context, userID int64, subject, body string) {
	user, isExist, err := p.ur.GetByID(ctx, userID)
	if err != nil || !isExist {
		return
	}

	msg := &transfer.EmailMessage{
		To:      user.Email,
		Subject: subject,
		HTML:    fmt.Sprintf("<p>%s</p>", body),
		Text:    body,
	}
	if err := p.notify.Send(ctx, msg); err != nil {
		slog.Info(err.Error())
	}
}
