package worker

import (
	"context"
	"fmt"
	"time"

	"bookstore-service/config"
	"bookstore-service/internal/broker"
	"bookstore-service/internal/store"
	"bookstore-service/internal/util"

	"go.uber.org/zap"
)

const relayLockKey = "outbox-relay"

// Locker is a lease shared by relay instances
type Locker interface {
	AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, lockKey string) error
}

// OutboxRelay moves committed outbox events to the event transport.
// Events are published in outbox order and an event is marked published only
// after the transport accepted it, so delivery is at least once.
type OutboxRelay struct {
	repo      store.Repository
	publisher broker.Publisher
	locker    Locker
	interval  time.Duration
	batchSize int
	leaseTTL  time.Duration
	wake      chan struct{}
	logger    *zap.Logger
}

// NewOutboxRelay creates a relay. locker may be nil for a single instance.
func NewOutboxRelay(repo store.Repository, publisher broker.Publisher, locker Locker, cfg config.OutboxConfig) *OutboxRelay {
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}

	return &OutboxRelay{
		repo:      repo,
		publisher: publisher,
		locker:    locker,
		interval:  interval,
		batchSize: batchSize,
		leaseTTL:  cfg.LeaseTTL,
		wake:      make(chan struct{}, 1),
		logger:    util.GetLogger(),
	}
}

// Wake asks the relay to poll now instead of waiting for the next tick.
// It never blocks.
func (r *OutboxRelay) Wake() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// Start polls the outbox until ctx is cancelled
func (r *OutboxRelay) Start(ctx context.Context) error {
	r.logger.Info("Starting outbox relay", zap.Duration("interval", r.interval))

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Stopping outbox relay")
			return nil
		case <-ticker.C:
		case <-r.wake:
		}

		if _, err := r.RelayOnce(ctx); err != nil && ctx.Err() == nil {
			r.logger.Error("Outbox relay failed", zap.Error(err))
		}
	}
}

// RelayOnce publishes one batch of pending events and returns how many were
// published. It stops at the first failure so later events never overtake it.
func (r *OutboxRelay) RelayOnce(ctx context.Context) (int, error) {
	if r.locker != nil {
		ok, err := r.locker.AcquireLock(ctx, relayLockKey, r.leaseTTL)
		if err != nil {
			return 0, fmt.Errorf("failed to acquire relay lease: %w", err)
		}
		if !ok {
			return 0, nil
		}
		defer func() {
			if err := r.locker.ReleaseLock(context.WithoutCancel(ctx), relayLockKey); err != nil {
				r.logger.Warn("Failed to release relay lease", zap.Error(err))
			}
		}()
	}

	events, err := r.repo.FetchPendingEvents(ctx, r.batchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch pending events: %w", err)
	}

	published := 0
	for i := range events {
		event := &events[i]
		if err := r.publisher.Publish(ctx, event); err != nil {
			util.OutboxPublishFailedTotal.Inc()
			return published, fmt.Errorf("failed to publish event %d: %w", event.ID, err)
		}
		if err := r.repo.MarkEventsPublished(ctx, []int64{event.ID}); err != nil {
			return published, fmt.Errorf("failed to mark event %d published: %w", event.ID, err)
		}
		util.OutboxPublishedTotal.Inc()
		published++
	}

	if published > 0 {
		r.logger.Debug("Relayed outbox events", zap.Int("count", published))
	}
	return published, nil
}
