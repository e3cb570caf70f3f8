package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
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
	// optimisticSkipRatio bounds engagement polling: plugs whose cached
	// counter sits below this fraction of the threshold skip the remote
	// metrics call for the cycle.
	optimisticSkipRatio = 0.6

	defaultPlugBatch = 100
)

// AutoPlugEngine polls engagement for posts with pending plugs and
// fires each plug's reply at most once when its trigger is met.
type AutoPlugEngine struct {
	cfg      config.Config
	pr       repository.PostRepository
	tr       repository.PostTargetRepository
	ap       repository.AutoPlugRepository
	cr       repository.ConnectionRepository
	ur       repository.UserRepository
	limiter  *limits.Limiter
	vault    *vault.Vault
	notify   notifier.Notifier
	adapters AdapterFactory
}

func NewAutoPlugEngine(
	cfg config.Config,
	pr repository.PostRepository,
	tr repository.PostTargetRepository,
	ap repository.AutoPlugRepository,
	cr repository.ConnectionRepository,
	ur repository.UserRepository,
	limiter *limits.Limiter,
	v *vault.Vault,
	notify notifier.Notifier) *AutoPlugEngine {
	return &AutoPlugEngine{
		cfg:      cfg,
		pr:       pr,
		tr:       tr,
		ap:       ap,
		cr:       cr,
		ur:       ur,
		limiter:  limiter,
		vault:    v,
		notify:   notify,
		adapters: platform.New,
	}
}

// RunCycle evaluates pending plugs. A non-zero postID narrows the run
// to that post's plugs. Per-plug errors are recorded on the row and
// never abort the batch.
func (e *AutoPlugEngine) RunCycle(ctx context.Context, now time.Time, postID int64) error {
	batch := e.cfg.PlugBatchSize
	if batch <= 0 {
		batch = defaultPlugBatch
	}

	plugs, err := e.ap.ListPending(ctx, postID, batch)
	if err != nil {
		return err
	}

	for _, plug := range plugs {
		if err := e.processPlug(ctx, now, plug); err != nil {
			if errors.Is(err, vault.ErrNoKey) || errors.Is(err, vault.ErrIntegrity) {
				return err
			}
			slog.Info(fmt.Sprintf("engagement cycle: plug %d: %s", plug.ID, err.Error()))
		}
	}
	return nil
}

func (e *AutoPlugEngine) processPlug(ctx context.Context, now time.Time, plug *models.AutoPlug) error {
	// Invalid content never reaches the platform: a plug fires at most
	// once ever, so there is nothing to retry.
	if reason, ok := e.validateContent(plug); !ok {
		if _, err := e.ap.MarkFailed(ctx, plug.ID, reason); err != nil {
			return err
		}
		return nil
	}

	post, err := e.pr.GetByID(ctx, plug.PostID)
	if err != nil {
		return err
	}
	if post == nil {
		_, err := e.ap.MarkSkipped(ctx, plug.ID, "parent post no longer exists")
		return err
	}

	target, err := e.tr.GetByPostAndPlatform(ctx, plug.PostID, plug.Platform)
	if err != nil {
		return err
	}
	if target == nil {
		_, err := e.ap.MarkSkipped(ctx, plug.ID, fmt.Sprintf("post has no %s target", plug.Platform))
		return err
	}

	// Not yet published on this platform: wait, unless the post is
	// terminally failed and will never publish.
	if !target.PlatformPostID.Valid || target.PlatformPostID.String == "" {
		if post.Status == models.PostStatusFailed && post.RetryCount >= models.MaxPublishRetries {
			_, err := e.ap.MarkSkipped(ctx, plug.ID, "post failed to publish")
			return err
		}
		return nil
	}

	if plug.TriggerType == models.TriggerTimeAfterPublish {
		return e.processTimePlug(ctx, now, post, target, plug)
	}

	cached := metricFor(plug.TriggerType, target.Likes, target.Comments, target.Reposts)

	// Optimistic skip: far from the threshold, the remote call is not
	// worth its rate budget this cycle.
	if float64(cached) < optimisticSkipRatio*float64(plug.TriggerValue) {
		return e.tr.TouchPolled(ctx, target.ID, now)
	}

	ok, err := e.limiter.CheckRateLimit(ctx, post.UserID, plug.Platform, e.cfg.RateLimitMax, now)
	if err != nil {
		return err
	}
	if !ok {
		// Budget exhausted; the plug stays pending for the next cycle.
		return nil
	}

	conn, err := e.cr.GetActive(ctx, post.UserID, plug.Platform)
	if err != nil {
		return err
	}
	if conn == nil {
		return nil
	}

	accessToken, err := e.vault.Decrypt(conn.AccessToken)
	if err != nil {
		return err
	}

	adapter, err := e.adapters(plug.Platform, accessToken, e.cfg)
	if err != nil {
		return err
	}

	engagement, err := adapter.FetchEngagement(ctx, target.PlatformPostID.String)
	if err != nil {
		// Polling failures leave the plug pending; the next cycle
		// re-fetches.
		slog.Info(err.Error())
		return nil
	}

	if err := e.tr.UpdateEngagement(ctx, target.ID, engagement.Likes, engagement.Comments, engagement.Reposts, now); err != nil {
		return err
	}

	current := metricFor(plug.TriggerType, engagement.Likes, engagement.Comments, engagement.Reposts)
	if current < plug.TriggerValue {
		return nil
	}

	return e.firePlug(ctx, now, post, target, plug, adapter)
}

func (e *AutoPlugEngine) processTimePlug(ctx context.Context, now time.Time, post *models.Post, target *models.PostTarget, plug *models.AutoPlug) error {
	if !target.PublishedAt.Valid {
		return nil
	}

	fireAt := target.PublishedAt.Time.Add(time.Duration(plug.TriggerValue) * time.Minute)
	if now.Before(fireAt) {
		return nil
	}

	conn, err := e.cr.GetActive(ctx, post.UserID, plug.Platform)
	if err != nil {
		return err
	}
	if conn == nil {
		return nil
	}

	accessToken, err := e.vault.Decrypt(conn.AccessToken)
	if err != nil {
		return err
	}

	adapter, err := e.adapters(plug.Platform, accessToken, e.cfg)
	if err != nil {
		return err
	}

	return e.firePlug(ctx, now, post, target, plug, adapter)
}

func (e *AutoPlugEngine) firePlug(ctx context.Context, now time.Time, post *models.Post, target *models.PostTarget, plug *models.AutoPlug, adapter platform.Adapter) error {
	var limitErr *limits.LimitExceededError
	if err := e.limiter.CheckAndEnforceLimit(ctx, post.UserID, limits.KindPlug, now); err != nil {
		if errors.As(err, &limitErr) {
			// Quota holds the trigger, not the plug: it stays pending
			// and fires once the next month window opens.
			return nil
		}
		return err
	}

	ok, err := e.limiter.CheckRateLimit(ctx, post.UserID, plug.Platform, e.cfg.RateLimitMax, now)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	replyID, err := adapter.Reply(ctx, target.PlatformPostID.String, appendTracking(plug.Content))
	if err != nil {
		if _, markErr := e.ap.MarkFailed(ctx, plug.ID, err.Error()); markErr != nil {
			return markErr
		}
		e.notifyOwner(ctx, post.UserID, "Your auto-plug could not be posted", err.Error())
		return nil
	}

	fired, err := e.ap.MarkFired(ctx, plug.ID, replyID, now)
	if err != nil {
		return err
	}
	if !fired {
		// A concurrent cycle won the transition; ours is a duplicate
		// reply on the platform but the row stays consistent.
		slog.Info(fmt.Sprintf("plug %d already transitioned, dropping duplicate fire result", plug.ID))
	}
	return nil
}

func (e *AutoPlugEngine) validateContent(plug *models.AutoPlug) (string, bool) {
	if strings.TrimSpace(plug.Content) == "" {
		return "plug content is empty", false
	}

	limit := platform.CharacterLimit(plug.Platform)
	if limit == 0 {
		return fmt.Sprintf("unsupported platform: %s", plug.Platform), false
	}
	if utf8.RuneCountInString(plug.Content) > limit {
		return fmt.Sprintf("plug content exceeds the %d character limit for %s", limit, plug.Platform), false
	}
	return "", true
}

func metricFor(triggerType string, likes, comments, reposts int) int {
	switch triggerType {
	case models.TriggerComments:
		return comments
	case models.TriggerReposts:
		return reposts
	default:
		return likes
	}
}

func (e *AutoPlugEngine) notifyOwner(ctx context.Context, userID int64, subject, body string) {
	user, isExist, err := e.ur.GetByID(ctx, userID)
	if err != nil || !isExist {
		return
	}

	msg := &transfer.EmailMessage{
		To:      user.Email,
		Subject: subject,
		HTML:    fmt.Sprintf("<p>%s</p>", body),
		Text:    body,
	}
	if err := e.notify.Send(ctx, msg); err != nil {
		slog.Info(err.Error())
	}
}
