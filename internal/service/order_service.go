package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"bookstore-service/internal/models"
	"bookstore-service/internal/pricing"
	"bookstore-service/internal/store"
	"bookstore-service/internal/util"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// IdempotencyCache remembers which order a client idempotency key produced
type IdempotencyCache interface {
	LookupOrder(ctx context.Context, key string) (int64, bool, error)
	RememberOrder(ctx context.Context, key string, orderID int64, ttl time.Duration) error
}

// EventWaker is nudged after an order commits so its event leaves promptly
type EventWaker interface {
	Wake()
}

// OrderService places orders and serves order reads
type OrderService struct {
	repo           store.Repository
	idempotency    IdempotencyCache
	idempotencyTTL time.Duration
	waker          EventWaker
	logger         *zap.Logger
}

// NewOrderService creates a new order service. cache and waker may be nil.
func NewOrderService(
	repo store.Repository,
	cache IdempotencyCache,
	idempotencyTTL time.Duration,
	waker EventWaker,
) *OrderService {
	return &OrderService{
		repo:           repo,
		idempotency:    cache,
		idempotencyTTL: idempotencyTTL,
		waker:          waker,
		logger:         util.GetLogger(),
	}
}

// PlaceOrderRequest represents a request to place an order
type PlaceOrderRequest struct {
	Items          []OrderItemRequest `json:"items" binding:"dive"`
	IdempotencyKey string             `json:"idempotency_key,omitempty"`
}

// OrderItemRequest represents one requested line
type OrderItemRequest struct {
	BookID     int64  `json:"book_id" binding:"required"`
	Quantity   int    `json:"quantity"`
	ItemType   string `json:"item_type"`
	RentalDays *int   `json:"rental_days,omitempty" binding:"omitempty,gt=0"`
}

// PlaceOrder validates the items, takes them from stock, prices them and
// stores the order in a single transaction. The "order placed" event is
// written to the outbox in that same transaction, so it exists if and only if
// the order committed.
func (s *OrderService) PlaceOrder(ctx context.Context, userRef string, req *PlaceOrderRequest) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.PlaceOrder", attribute.String("user", userRef))
	defer span.End()

	start := time.Now()
	defer func() {
		util.OrderPlacementLatency.Observe(time.Since(start).Seconds())
	}()

	if len(req.Items) == 0 {
		util.OrdersFailedTotal.WithLabelValues(failureReason(ErrEmptyOrder)).Inc()
		return nil, ErrEmptyOrder
	}

	if existing := s.lookupIdempotent(ctx, req.IdempotencyKey); existing != nil {
		return existing, nil
	}

	var order *models.Order
	err := s.repo.WithTx(ctx, func(tx store.Tx) error {
		var err error
		order, err = s.placeInTx(ctx, tx, userRef, req.Items)
		return err
	})
	if err != nil {
		util.RecordError(span, err)
		util.OrdersFailedTotal.WithLabelValues(failureReason(err)).Inc()
		s.logger.Info("Order rejected", zap.String("user", userRef), zap.Error(err))
		return nil, err
	}

	util.OrdersPlacedTotal.Inc()
	for _, item := range order.Items {
		util.BooksReservedTotal.Add(float64(item.Quantity))
	}
	s.logger.Info("Order placed",
		zap.Int64("order_id", order.ID),
		zap.Int64("user_id", order.UserID),
		zap.String("total", order.TotalAmount.StringFixed(2)))

	if s.waker != nil {
		s.waker.Wake()
	}
	s.rememberIdempotent(ctx, req.IdempotencyKey, order.ID)

	return order, nil
}

func (s *OrderService) placeInTx(ctx context.Context, tx store.Tx, userRef string, items []OrderItemRequest) (*models.Order, error) {
	user, err := tx.GetUser(ctx, userRef)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownUser, userRef)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve user: %w", err)
	}

	books, err := tx.LockBooks(ctx, bookIDs(items))
	if err != nil {
		return nil, err
	}

	order := models.NewOrder(user)
	for _, req := range items {
		book, ok := books[req.BookID]
		if !ok {
			return nil, fmt.Errorf("%w: %d", ErrUnknownBook, req.BookID)
		}

		if req.Quantity < 1 {
			return nil, fmt.Errorf("%w: quantity must be at least 1, got %d", ErrInvalidItem, req.Quantity)
		}

		// stock is checked and taken before the line is priced
		if book.Stock < req.Quantity {
			return nil, &InsufficientStockError{BookID: book.ID, Requested: req.Quantity, Available: book.Stock}
		}
		ok, err := tx.DecrementStock(ctx, book.ID, req.Quantity)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, &InsufficientStockError{BookID: book.ID, Requested: req.Quantity, Available: book.Stock}
		}
		// the same book may appear on several lines
		book.Stock -= req.Quantity

		itemType := models.ParseItemType(req.ItemType)
		quote, err := pricing.Price(book, itemType, req.Quantity, req.RentalDays)
		if err != nil {
			return nil, err
		}

		var rentalDays *int
		if itemType == models.ItemTypeRent {
			days := *req.RentalDays
			rentalDays = &days
		}

		order.AddItem(models.OrderItem{
			BookID:     book.ID,
			BookTitle:  book.Title,
			Quantity:   req.Quantity,
			ItemType:   itemType,
			RentalDays: rentalDays,
			UnitPrice:  quote.UnitPrice,
			Subtotal:   quote.Subtotal,
		})
	}

	if err := tx.CreateOrder(ctx, order); err != nil {
		return nil, err
	}

	event, err := newOrderPlacedEvent(order)
	if err != nil {
		return nil, err
	}
	if err := tx.CreateOutboxEvent(ctx, event); err != nil {
		return nil, fmt.Errorf("failed to enqueue order placed event: %w", err)
	}

	return order, nil
}

func newOrderPlacedEvent(order *models.Order) (*models.OutboxEvent, error) {
	payload, err := json.Marshal(models.OrderPlacedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeOrderPlaced,
			Timestamp: time.Now(),
		},
		OrderID:     order.ID,
		UserID:      order.UserID,
		TotalAmount: order.TotalAmount,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}

	return &models.OutboxEvent{
		AggregateID: order.ID,
		EventType:   models.EventTypeOrderPlaced,
		Payload:     payload,
	}, nil
}

// bookIDs returns the distinct book ids of items in ascending order
func bookIDs(items []OrderItemRequest) []int64 {
	seen := make(map[int64]bool, len(items))
	ids := make([]int64, 0, len(items))
	for _, item := range items {
		if !seen[item.BookID] {
			seen[item.BookID] = true
			ids = append(ids, item.BookID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (s *OrderService) lookupIdempotent(ctx context.Context, key string) *models.Order {
	if key == "" || s.idempotency == nil {
		return nil
	}

	orderID, ok, err := s.idempotency.LookupOrder(ctx, key)
	if err != nil {
		s.logger.Warn("Idempotency lookup failed", zap.String("idempotency_key", key), zap.Error(err))
		return nil
	}
	if !ok {
		return nil
	}

	order, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		s.logger.Warn("Idempotency key points at unreadable order",
			zap.String("idempotency_key", key),
			zap.Int64("order_id", orderID),
			zap.Error(err))
		return nil
	}

	s.logger.Info("Duplicate order request detected",
		zap.String("idempotency_key", key),
		zap.Int64("order_id", orderID))
	return order
}

func (s *OrderService) rememberIdempotent(ctx context.Context, key string, orderID int64) {
	if key == "" || s.idempotency == nil {
		return
	}
	if err := s.idempotency.RememberOrder(ctx, key, orderID, s.idempotencyTTL); err != nil {
		s.logger.Warn("Failed to store idempotency key",
			zap.String("idempotency_key", key),
			zap.Int64("order_id", orderID),
			zap.Error(err))
	}
}

// GetOrder retrieves an order by ID
func (s *OrderService) GetOrder(ctx context.Context, orderID int64) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.GetOrder")
	defer span.End()

	order, err := s.repo.GetOrder(ctx, orderID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %d", ErrOrderNotFound, orderID)
	}
	return order, err
}

// ListOrders retrieves every order
func (s *OrderService) ListOrders(ctx context.Context) ([]models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.ListOrders")
	defer span.End()

	return s.repo.ListOrders(ctx)
}

// ListOrdersForUser retrieves the orders owned by a user
func (s *OrderService) ListOrdersForUser(ctx context.Context, userRef string) ([]models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.ListOrdersForUser")
	defer span.End()

	user, err := s.resolveUser(ctx, userRef)
	if err != nil {
		return nil, err
	}
	return s.repo.ListOrdersByUser(ctx, user.ID)
}

// GetOrderForUser retrieves an order only if userRef owns it
func (s *OrderService) GetOrderForUser(ctx context.Context, orderID int64, userRef string) (*models.Order, error) {
	user, err := s.resolveUser(ctx, userRef)
	if err != nil {
		return nil, err
	}

	order, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.UserID != user.ID {
		return nil, fmt.Errorf("%w: %d", ErrOrderNotFound, orderID)
	}
	return order, nil
}

func (s *OrderService) resolveUser(ctx context.Context, userRef string) (*models.User, error) {
	user, err := s.repo.GetUser(ctx, userRef)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownUser, userRef)
	}
	return user, err
}

// failureReason labels a placement error for metrics
func failureReason(err error) string {
	var stockErr *InsufficientStockError
	switch {
	case errors.As(err, &stockErr):
		return "insufficient_stock"
	case errors.Is(err, ErrEmptyOrder):
		return "empty_order"
	case errors.Is(err, ErrUnknownUser):
		return "unknown_user"
	case errors.Is(err, ErrUnknownBook):
		return "unknown_book"
	case errors.Is(err, ErrInvalidItem):
		return "invalid_item"
	default:
		return "db_error"
	}
}
