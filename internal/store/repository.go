package store

import (
	"context"
	"errors"

	"bookstore-service/internal/models"
)

// ErrNotFound is returned when a looked up row does not exist
var ErrNotFound = errors.New("not found")

// Tx is the set of operations that run inside one database transaction
type Tx interface {
	// GetUser resolves a numeric id or a username
	GetUser(ctx context.Context, ref string) (*models.User, error)

	// LockBooks row-locks the given books in ascending id order and returns
	// the ones that exist, keyed by id
	LockBooks(ctx context.Context, ids []int64) (map[int64]*models.Book, error)

	// DecrementStock subtracts quantity if at least that much stock remains.
	// It reports false and changes nothing otherwise.
	DecrementStock(ctx context.Context, bookID int64, quantity int) (bool, error)

	// CreateOrder inserts the order and its items, assigning ids
	CreateOrder(ctx context.Context, order *models.Order) error

	// GetOrderForUpdate row-locks an order without loading its items
	GetOrderForUpdate(ctx context.Context, id int64) (*models.Order, error)

	UpdateOrderStatuses(ctx context.Context, id int64, orderStatus models.OrderStatus, paymentStatus models.PaymentStatus) error

	// CreateOutboxEvent records an event that becomes visible on commit
	CreateOutboxEvent(ctx context.Context, event *models.OutboxEvent) error
}

// Repository is the persistence boundary of the order pipeline
type Repository interface {
	// WithTx runs fn in a transaction, committing only if fn returns nil
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	GetUser(ctx context.Context, ref string) (*models.User, error)

	GetOrder(ctx context.Context, id int64) (*models.Order, error)
	ListOrders(ctx context.Context) ([]models.Order, error)
	ListOrdersByUser(ctx context.Context, userID int64) ([]models.Order, error)
	UpdateOrderStatus(ctx context.Context, id int64, status models.OrderStatus) error
	MarkOrderEmailed(ctx context.Context, id int64) error

	AppendEmailAttempt(ctx context.Context, attempt *models.EmailAttempt) error
	ListEmailAttempts(ctx context.Context, orderID int64) ([]models.EmailAttempt, error)

	FetchPendingEvents(ctx context.Context, limit int) ([]models.OutboxEvent, error)
	MarkEventsPublished(ctx context.Context, ids []int64) error

	IsEventProcessed(ctx context.Context, eventID string) (bool, error)
	MarkEventProcessed(ctx context.Context, eventID, eventType string) error
}
