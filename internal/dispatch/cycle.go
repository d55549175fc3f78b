// Package dispatch delivers due notifications. Each cycle reads the due
// set, claims each notification, pushes it, and records the terminal
// state. A send that fails transiently leaves the row pending so the
// next cycle retries it; delivery is at-least-once.
package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/daybreakhq/daybreak/internal/db"
	"github.com/daybreakhq/daybreak/internal/metrics"
	"github.com/daybreakhq/daybreak/internal/push"
	"github.com/daybreakhq/daybreak/internal/redis"
)

type Repository interface {
	GetDueNotifications(ctx context.Context, now time.Time, limit int) ([]*db.Notification, error)
	GetDeliveryTarget(ctx context.Context, userID string) (*db.DeliveryTarget, error)
	MarkSent(ctx context.Context, id uuid.UUID, at time.Time) error
	MarkFailed(ctx context.Context, id uuid.UUID, reason string) error
}

// Claims guards each notification against concurrent delivery by
// overlapping cycles.
type Claims interface {
	Claim(ctx context.Context, notificationID string) (bool, error)
	Release(ctx context.Context, notificationID string) error
}

// Throttle caps per-user push volume. A nil throttle disables capping.
type Throttle interface {
	Allow(ctx context.Context, userID string) (*redis.ThrottleResult, error)
}

// Events receives terminal dispatch outcomes. A nil producer disables
// the stream.
type Events interface {
	Publish(ctx context.Context, notif *db.Notification, status, reason string)
}

// Config holds dispatch cycle tuning.
type Config struct {
	BatchSize   int
	Concurrency int
	PushTimeout time.Duration
}

// Cycle runs one pass over the due set.
type Cycle struct {
	repo     Repository
	sender   push.Sender
	claims   Claims
	throttle Throttle
	events   Events
	config   Config
	logger   *zap.Logger
}

func New(repo Repository, sender push.Sender, claims Claims, throttle Throttle, ev Events, cfg Config, logger *zap.Logger) *Cycle {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	if cfg.PushTimeout <= 0 {
		cfg.PushTimeout = 10 * time.Second
	}
	return &Cycle{
		repo:     repo,
		sender:   sender,
		claims:   claims,
		throttle: throttle,
		events:   ev,
		config:   cfg,
		logger:   logger,
	}
}

// Run processes every notification due at now. Failures are isolated per
// notification; one bad row never blocks the rest of the batch.
func (c *Cycle) Run(ctx context.Context, now time.Time) error {
	start := time.Now()

	due, err := c.repo.GetDueNotifications(ctx, now, c.config.BatchSize)
	if err != nil {
		return err
	}
	if len(due) == 0 {
		metrics.RecordDispatchCycle(time.Since(start), 0)
		return nil
	}

	sem := make(chan struct{}, c.config.Concurrency)
	var wg sync.WaitGroup
	for _, notif := range due {
		wg.Add(1)
		sem <- struct{}{}
		go func(n *db.Notification) {
			defer wg.Done()
			defer func() { <-sem }()
			c.dispatchOne(ctx, n)
		}(notif)
	}
	wg.Wait()

	metrics.RecordDispatchCycle(time.Since(start), len(due))
	c.logger.Info("dispatch cycle complete",
		zap.Int("due", len(due)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return nil
}

func (c *Cycle) dispatchOne(ctx context.Context, notif *db.Notification) {
	id := notif.ID.String()

	claimed, err := c.claims.Claim(ctx, id)
	if err != nil {
		c.logger.Error("claim check failed", zap.Error(err), zap.String("notification_id", id))
		return
	}
	if !claimed {
		// Another cycle is already delivering this one.
		metrics.RecordNotificationDispatched("duplicate_suppressed")
		return
	}

	if c.throttle != nil {
		res, err := c.throttle.Allow(ctx, notif.UserID)
		if err != nil {
			c.logger.Error("throttle check failed", zap.Error(err), zap.String("notification_id", id))
			c.release(ctx, id)
			return
		}
		if !res.Allowed {
			metrics.RecordThrottleDeferred()
			c.logger.Info("push deferred by throttle",
				zap.String("notification_id", id),
				zap.String("user_id", notif.UserID),
				zap.Time("reset_at", res.ResetAt),
			)
			c.release(ctx, id)
			return
		}
	}

	target, err := c.repo.GetDeliveryTarget(ctx, notif.UserID)
	if err != nil {
		c.logger.Error("failed to load delivery target", zap.Error(err), zap.String("notification_id", id))
		c.release(ctx, id)
		return
	}
	if target == nil {
		// No registered device. The row stays pending until the user
		// registers a target or dismisses it.
		metrics.RecordNotificationDispatched("no_target")
		c.release(ctx, id)
		return
	}

	sendCtx, cancel := context.WithTimeout(ctx, c.config.PushTimeout)
	err = c.sender.Send(sendCtx, target, notif)
	cancel()

	switch {
	case err == nil:
		sentAt := time.Now().UTC()
		if err := c.repo.MarkSent(ctx, notif.ID, sentAt); err != nil {
			c.logger.Error("failed to mark sent", zap.Error(err), zap.String("notification_id", id))
			return
		}
		metrics.RecordNotificationDispatched("sent")
		if c.events != nil {
			c.events.Publish(ctx, notif, db.StatusSent, "")
		}
		c.logger.Info("notification delivered",
			zap.String("notification_id", id),
			zap.String("user_id", notif.UserID),
			zap.String("kind", target.Kind),
		)

	case push.IsUnrecoverable(err):
		reason := err.Error()
		if err := c.repo.MarkFailed(ctx, notif.ID, reason); err != nil {
			c.logger.Error("failed to mark failed", zap.Error(err), zap.String("notification_id", id))
			return
		}
		metrics.RecordNotificationDispatched("failed")
		if c.events != nil {
			c.events.Publish(ctx, notif, db.StatusFailed, reason)
		}
		c.logger.Warn("notification failed permanently",
			zap.String("notification_id", id),
			zap.String("reason", reason),
		)

	default:
		// Transient: leave pending, drop the claim so a later cycle
		// retries.
		metrics.RecordNotificationDispatched("retry")
		c.release(ctx, id)
		c.logger.Warn("push failed, will retry",
			zap.Error(err),
			zap.String("notification_id", id),
		)
	}
}

func (c *Cycle) release(ctx context.Context, id string) {
	if err := c.claims.Release(ctx, id); err != nil {
		c.logger.Warn("failed to release claim", zap.Error(err), zap.String("notification_id", id))
	}
}
