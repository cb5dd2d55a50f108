package service

import (
	"context"
	"errors"
	"fmt"

	"bookstore-service/internal/models"
	"bookstore-service/internal/store"
	"bookstore-service/internal/util"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// AdminService holds the back-office operations on orders
type AdminService struct {
	repo          store.Repository
	notifications *NotificationService
	logger        *zap.Logger
}

// NewAdminService creates a new admin service
func NewAdminService(repo store.Repository, notifications *NotificationService) *AdminService {
	return &AdminService{
		repo:          repo,
		notifications: notifications,
		logger:        util.GetLogger(),
	}
}

// SetPaymentStatus records the payment status of an order. The first time a
// PENDING order is marked PAID it also becomes CONFIRMED and one confirmation
// send is attempted after the status change has committed. A failed send does
// not fail the call.
func (s *AdminService) SetPaymentStatus(ctx context.Context, orderID int64, status models.PaymentStatus) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "AdminService.SetPaymentStatus",
		attribute.Int64("order_id", orderID),
		attribute.String("payment_status", string(status)))
	defer span.End()

	if !status.Valid() {
		return nil, fmt.Errorf("%w: payment status %q", ErrInvalidStatus, status)
	}

	var confirmed bool
	err := s.repo.WithTx(ctx, func(tx store.Tx) error {
		order, err := tx.GetOrderForUpdate(ctx, orderID)
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: %d", ErrOrderNotFound, orderID)
		}
		if err != nil {
			return err
		}

		orderStatus := order.OrderStatus
		if status == models.PaymentStatusPaid && orderStatus == models.OrderStatusPending {
			orderStatus = models.OrderStatusConfirmed
			confirmed = true
		}
		return tx.UpdateOrderStatuses(ctx, orderID, orderStatus, status)
	})
	if err != nil {
		util.RecordError(span, err)
		return nil, err
	}

	util.OrderStatusChangesTotal.WithLabelValues("payment", string(status)).Inc()
	s.logger.Info("Payment status updated",
		zap.Int64("order_id", orderID),
		zap.String("payment_status", string(status)),
		zap.Bool("confirmed", confirmed))

	if confirmed {
		util.OrderStatusChangesTotal.WithLabelValues("order", string(models.OrderStatusConfirmed)).Inc()
		if err := s.notifications.Deliver(ctx, orderID, models.AttemptAutoOnPayment); err != nil {
			s.logger.Error("Payment confirmation email failed",
				zap.Int64("order_id", orderID),
				zap.Error(err))
		}
	}

	return s.getOrder(ctx, orderID)
}

// SetOrderStatus overwrites the fulfillment status of an order
func (s *AdminService) SetOrderStatus(ctx context.Context, orderID int64, status models.OrderStatus) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "AdminService.SetOrderStatus",
		attribute.Int64("order_id", orderID),
		attribute.String("order_status", string(status)))
	defer span.End()

	if !status.Valid() {
		return nil, fmt.Errorf("%w: order status %q", ErrInvalidStatus, status)
	}

	err := s.repo.UpdateOrderStatus(ctx, orderID, status)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %d", ErrOrderNotFound, orderID)
	}
	if err != nil {
		return nil, err
	}

	util.OrderStatusChangesTotal.WithLabelValues("order", string(status)).Inc()
	s.logger.Info("Order status updated",
		zap.Int64("order_id", orderID),
		zap.String("order_status", string(status)))

	return s.getOrder(ctx, orderID)
}

// ResendEmail sends the confirmation again. Unlike the automatic paths a
// failed send is returned to the caller.
func (s *AdminService) ResendEmail(ctx context.Context, orderID int64) (*models.Order, error) {
	if err := s.notifications.Deliver(ctx, orderID, models.AttemptManualResend); err != nil {
		return nil, err
	}
	return s.getOrder(ctx, orderID)
}

// ListEmailAttempts returns the notification ledger of an order, oldest first
func (s *AdminService) ListEmailAttempts(ctx context.Context, orderID int64) ([]models.EmailAttempt, error) {
	if _, err := s.getOrder(ctx, orderID); err != nil {
		return nil, err
	}
	return s.repo.ListEmailAttempts(ctx, orderID)
}

func (s *AdminService) getOrder(ctx context.Context, orderID int64) (*models.Order, error) {
	order, err := s.repo.GetOrder(ctx, orderID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %d", ErrOrderNotFound, orderID)
	}
	return order, err
}
