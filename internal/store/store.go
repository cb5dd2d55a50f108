package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"bookstore-service/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

type Store struct {
	db *sqlx.DB
}

var _ Repository = (*Store)(nil)

// NewStore creates a new database store
func NewStore(databaseURL string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// GetDB returns the underlying database connection
func (s *Store) GetDB() *sqlx.DB {
	return s.db
}

// Ping checks that the database is reachable
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// WithTx runs fn inside a transaction. Any error from fn, or a panic, rolls
// the transaction back.
func (s *Store) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(&txStore{tx: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetUser resolves a user by numeric id or username
func (s *Store) GetUser(ctx context.Context, ref string) (*models.User, error) {
	return getUser(ctx, s.db, ref)
}

// GetBook retrieves a book by ID
func (s *Store) GetBook(ctx context.Context, id int64) (*models.Book, error) {
	var book models.Book
	err := s.db.GetContext(ctx, &book, "SELECT * FROM books WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("book %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &book, nil
}

// txStore implements Tx on top of a sqlx transaction
type txStore struct {
	tx *sqlx.Tx
}

func (t *txStore) GetUser(ctx context.Context, ref string) (*models.User, error) {
	return getUser(ctx, t.tx, ref)
}

// LockBooks takes FOR UPDATE locks in ascending id order, so two orders that
// share books always acquire them in the same sequence.
func (t *txStore) LockBooks(ctx context.Context, ids []int64) (map[int64]*models.Book, error) {
	var books []models.Book
	err := t.tx.SelectContext(ctx, &books,
		"SELECT * FROM books WHERE id = ANY($1) ORDER BY id FOR UPDATE", pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("failed to lock books: %w", err)
	}

	byID := make(map[int64]*models.Book, len(books))
	for i := range books {
		byID[books[i].ID] = &books[i]
	}
	return byID, nil
}

func (t *txStore) DecrementStock(ctx context.Context, bookID int64, quantity int) (bool, error) {
	res, err := t.tx.ExecContext(ctx,
		"UPDATE books SET stock = stock - $1, updated_at = NOW() WHERE id = $2 AND stock >= $1",
		quantity, bookID)
	if err != nil {
		return false, fmt.Errorf("failed to decrement stock: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (t *txStore) CreateOrder(ctx context.Context, order *models.Order) error {
	query := `
		INSERT INTO orders (user_id, total_amount, order_status, payment_status, emailed)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at`

	err := t.tx.GetContext(ctx, order, query,
		order.UserID, order.TotalAmount, order.OrderStatus, order.PaymentStatus, order.Emailed)
	if err != nil {
		return fmt.Errorf("failed to insert order: %w", err)
	}
	order.AssignID(order.ID)

	itemQuery := `
		INSERT INTO order_items (order_id, book_id, book_title, quantity, item_type, rental_days, unit_price, subtotal)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at`

	for i := range order.Items {
		item := &order.Items[i]
		err := t.tx.GetContext(ctx, item, itemQuery,
			item.OrderID, item.BookID, item.BookTitle, item.Quantity,
			item.ItemType, item.RentalDays, item.UnitPrice, item.Subtotal)
		if err != nil {
			return fmt.Errorf("failed to insert order item for book %d: %w", item.BookID, err)
		}
	}
	return nil
}

func (t *txStore) GetOrderForUpdate(ctx context.Context, id int64) (*models.Order, error) {
	var order models.Order
	err := t.tx.GetContext(ctx, &order, `
		SELECT o.*, u.username, u.email
		FROM orders o JOIN users u ON u.id = o.user_id
		WHERE o.id = $1
		FOR UPDATE OF o`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("order %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (t *txStore) UpdateOrderStatuses(ctx context.Context, id int64, orderStatus models.OrderStatus, paymentStatus models.PaymentStatus) error {
	_, err := t.tx.ExecContext(ctx,
		"UPDATE orders SET order_status = $1, payment_status = $2, updated_at = NOW() WHERE id = $3",
		orderStatus, paymentStatus, id)
	return err
}

func (t *txStore) CreateOutboxEvent(ctx context.Context, event *models.OutboxEvent) error {
	query := `
		INSERT INTO outbox_events (aggregate_id, event_type, payload)
		VALUES ($1, $2, $3)
		RETURNING id, created_at`

	// jsonb takes the payload as text; lib/pq would send []byte as bytea
	return t.tx.GetContext(ctx, event, query, event.AggregateID, event.EventType, string(event.Payload))
}

func getUser(ctx context.Context, q sqlx.QueryerContext, ref string) (*models.User, error) {
	var user models.User

	if id, err := strconv.ParseInt(ref, 10, 64); err == nil {
		err := sqlx.GetContext(ctx, q, &user, "SELECT * FROM users WHERE id = $1", id)
		if err == nil {
			return &user, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
	}

	err := sqlx.GetContext(ctx, q, &user, "SELECT * FROM users WHERE username = $1", ref)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %q: %w", ref, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}
