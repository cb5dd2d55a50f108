package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"bookstore-service/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const orderColumns = `
	SELECT o.*, u.username, u.email
	FROM orders o JOIN users u ON u.id = o.user_id`

// GetOrder retrieves an order by ID together with its items
func (s *Store) GetOrder(ctx context.Context, id int64) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, orderColumns+" WHERE o.id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("order %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	orders := []models.Order{order}
	if err := s.loadItems(ctx, orders); err != nil {
		return nil, err
	}
	return &orders[0], nil
}

// ListOrders retrieves every order, newest first
func (s *Store) ListOrders(ctx context.Context) ([]models.Order, error) {
	var orders []models.Order
	if err := s.db.SelectContext(ctx, &orders, orderColumns+" ORDER BY o.id DESC"); err != nil {
		return nil, err
	}
	return orders, s.loadItems(ctx, orders)
}

// ListOrdersByUser retrieves orders for a user, newest first
func (s *Store) ListOrdersByUser(ctx context.Context, userID int64) ([]models.Order, error) {
	var orders []models.Order
	err := s.db.SelectContext(ctx, &orders, orderColumns+" WHERE o.user_id = $1 ORDER BY o.id DESC", userID)
	if err != nil {
		return nil, err
	}
	return orders, s.loadItems(ctx, orders)
}

// loadItems fetches the items of all given orders in one query
func (s *Store) loadItems(ctx context.Context, orders []models.Order) error {
	if len(orders) == 0 {
		return nil
	}

	ids := make([]int64, len(orders))
	for i := range orders {
		ids[i] = orders[i].ID
	}

	var items []models.OrderItem
	err := s.db.SelectContext(ctx, &items,
		"SELECT * FROM order_items WHERE order_id = ANY($1) ORDER BY order_id, id", pq.Array(ids))
	if err != nil {
		return fmt.Errorf("failed to load order items: %w", err)
	}

	byOrder := make(map[int64][]models.OrderItem, len(orders))
	for _, item := range items {
		byOrder[item.OrderID] = append(byOrder[item.OrderID], item)
	}
	for i := range orders {
		lines := byOrder[orders[i].ID]
		if lines == nil {
			lines = []models.OrderItem{}
		}
		orders[i].SetItems(lines)
	}
	return nil
}

// UpdateOrderStatus sets the fulfillment status of an order
func (s *Store) UpdateOrderStatus(ctx context.Context, id int64, status models.OrderStatus) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE orders SET order_status = $1, updated_at = NOW() WHERE id = $2",
		status, id)
	if err != nil {
		return err
	}
	return requireRow(res, "order", id)
}

// MarkOrderEmailed records that at least one confirmation was delivered
func (s *Store) MarkOrderEmailed(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE orders SET emailed = TRUE, updated_at = NOW() WHERE id = $1", id)
	if err != nil {
		return err
	}
	return requireRow(res, "order", id)
}

// AppendEmailAttempt adds a ledger entry; entries are never updated
func (s *Store) AppendEmailAttempt(ctx context.Context, attempt *models.EmailAttempt) error {
	query := `
		INSERT INTO order_emails (order_id, success, provider, error_message, sent_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`

	return s.db.GetContext(ctx, &attempt.ID, query,
		attempt.OrderID, attempt.Success, attempt.Provider, attempt.ErrorMessage, attempt.SentAt)
}

// ListEmailAttempts retrieves the ledger for an order in the order written
func (s *Store) ListEmailAttempts(ctx context.Context, orderID int64) ([]models.EmailAttempt, error) {
	attempts := []models.EmailAttempt{}
	err := s.db.SelectContext(ctx, &attempts,
		"SELECT * FROM order_emails WHERE order_id = $1 ORDER BY id", orderID)
	return attempts, err
}

// FetchPendingEvents returns unpublished outbox events in commit order
func (s *Store) FetchPendingEvents(ctx context.Context, limit int) ([]models.OutboxEvent, error) {
	var events []models.OutboxEvent
	err := s.db.SelectContext(ctx, &events,
		"SELECT * FROM outbox_events WHERE published_at IS NULL ORDER BY id LIMIT $1", limit)
	return events, err
}

// MarkEventsPublished stamps outbox events as handed to the broker
func (s *Store) MarkEventsPublished(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}

	query, args, err := sqlx.In("UPDATE outbox_events SET published_at = NOW() WHERE id IN (?)", ids)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, s.db.Rebind(query), args...)
	return err
}

// IsEventProcessed checks if an event has been processed
func (s *Store) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM processed_events WHERE event_id = $1)", eventID)
	return exists, err
}

// MarkEventProcessed marks an event as processed
func (s *Store) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO processed_events (event_id, event_type) VALUES ($1, $2) ON CONFLICT (event_id) DO NOTHING",
		eventID, eventType)
	return err
}

func requireRow(res sql.Result, kind string, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s %d: %w", kind, id, ErrNotFound)
	}
	return nil
}
