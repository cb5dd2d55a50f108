package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bookstore-service/internal/models"
	"bookstore-service/internal/notify"
	"bookstore-service/internal/store"
	"bookstore-service/internal/util"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// NotificationService sends order confirmations and keeps the attempt ledger
type NotificationService struct {
	repo        store.Repository
	notifier    notify.Notifier
	sendTimeout time.Duration
	logger      *zap.Logger
}

// NewNotificationService creates a new notification service
func NewNotificationService(repo store.Repository, notifier notify.Notifier, sendTimeout time.Duration) *NotificationService {
	return &NotificationService{
		repo:        repo,
		notifier:    notifier,
		sendTimeout: sendTimeout,
		logger:      util.GetLogger(),
	}
}

// Deliver sends the confirmation for an order once and appends exactly one
// ledger entry tagged with provider. emailed is only ever set on success.
// A failed send is returned as *NotificationSendError.
func (s *NotificationService) Deliver(ctx context.Context, orderID int64, provider string) error {
	ctx, span := util.StartSpan(ctx, "NotificationService.Deliver",
		attribute.Int64("order_id", orderID),
		attribute.String("provider", provider))
	defer span.End()

	order, err := s.repo.GetOrder(ctx, orderID)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: %d", ErrOrderNotFound, orderID)
	}
	if err != nil {
		return fmt.Errorf("failed to load order: %w", err)
	}

	sendErr := s.send(ctx, order)

	// the ledger is written even when the caller has gone away
	ledgerCtx := context.WithoutCancel(ctx)

	if sendErr != nil {
		util.RecordError(span, sendErr)
		util.NotificationAttemptsTotal.WithLabelValues(provider, "failure").Inc()
		s.appendAttempt(ledgerCtx, orderID, provider, sendErr)
		return &NotificationSendError{OrderID: orderID, Err: sendErr}
	}

	util.NotificationAttemptsTotal.WithLabelValues(provider, "success").Inc()
	if err := s.repo.MarkOrderEmailed(ledgerCtx, orderID); err != nil {
		s.logger.Error("Failed to mark order emailed", zap.Int64("order_id", orderID), zap.Error(err))
	}
	s.appendAttempt(ledgerCtx, orderID, provider, nil)

	s.logger.Info("Order confirmation sent",
		zap.Int64("order_id", orderID),
		zap.String("provider", provider))
	return nil
}

func (s *NotificationService) send(ctx context.Context, order *models.Order) error {
	if s.sendTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.sendTimeout)
		defer cancel()
	}

	start := time.Now()
	defer func() {
		util.NotificationLatency.Observe(time.Since(start).Seconds())
	}()

	return s.notifier.SendOrderConfirmation(ctx, order)
}

func (s *NotificationService) appendAttempt(ctx context.Context, orderID int64, provider string, sendErr error) {
	attempt := &models.EmailAttempt{
		OrderID:  orderID,
		Success:  sendErr == nil,
		Provider: provider,
		SentAt:   time.Now(),
	}
	if sendErr != nil {
		msg := sendErr.Error()
		attempt.ErrorMessage = &msg
	}

	if err := s.repo.AppendEmailAttempt(ctx, attempt); err != nil {
		s.logger.Error("Failed to record email attempt",
			zap.Int64("order_id", orderID),
			zap.String("provider", provider),
			zap.Error(err))
	}
}

// HandleOrderPlaced sends the initial confirmation for a committed order.
// Redelivered events are skipped. Send failures are logged and recorded in
// the ledger but never returned, so the order itself is unaffected.
func (s *NotificationService) HandleOrderPlaced(ctx context.Context, event *models.OrderPlacedEvent) error {
	processed, err := s.repo.IsEventProcessed(ctx, event.EventID)
	if err != nil {
		return fmt.Errorf("failed to check event: %w", err)
	}
	if processed {
		util.EventsDuplicateTotal.Inc()
		s.logger.Info("Event already processed, skipping",
			zap.String("event_id", event.EventID),
			zap.Int64("order_id", event.OrderID))
		return nil
	}

	err = s.Deliver(ctx, event.OrderID, models.AttemptInitial)
	var sendErr *NotificationSendError
	switch {
	case err == nil:
	case errors.As(err, &sendErr):
		s.logger.Error("Order confirmation failed",
			zap.Int64("order_id", event.OrderID),
			zap.Error(err))
	case errors.Is(err, ErrOrderNotFound):
		s.logger.Warn("Order for event not found",
			zap.String("event_id", event.EventID),
			zap.Int64("order_id", event.OrderID))
	default:
		return err
	}

	if err := s.repo.MarkEventProcessed(ctx, event.EventID, event.EventType); err != nil {
		s.logger.Error("Failed to mark event processed", zap.String("event_id", event.EventID), zap.Error(err))
	}
	return nil
}
