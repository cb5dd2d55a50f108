package store

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"bookstore-service/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Integration tests run against TEST_DATABASE_URL and are skipped without it.
func newTestStore(t *testing.T) *Store {
	t.Helper()

	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("Integration test - requires database (set TEST_DATABASE_URL)")
	}

	require.NoError(t, Migrate(url))

	s, err := NewStore(url)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func seedUser(t *testing.T, s *Store, username string) *models.User {
	t.Helper()
	var u models.User
	err := s.db.Get(&u,
		"INSERT INTO users (username, email) VALUES ($1, $2) ON CONFLICT (username) DO UPDATE SET email = EXCLUDED.email RETURNING *",
		username, username+"@example.com")
	require.NoError(t, err)
	return &u
}

func seedBook(t *testing.T, s *Store, price string, stock int) *models.Book {
	t.Helper()
	var b models.Book
	err := s.db.Get(&b,
		"INSERT INTO books (title, price, stock) VALUES ($1, $2, $3) RETURNING *",
		"Test Book", decimal.RequireFromString(price), stock)
	require.NoError(t, err)
	return &b
}

func TestCreateOrderRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	user := seedUser(t, s, "store-roundtrip")
	book := seedBook(t, s, "45.00", 3)
	days := 7

	order := models.NewOrder(user)
	order.AddItem(models.OrderItem{
		BookID:     book.ID,
		BookTitle:  book.Title,
		Quantity:   1,
		ItemType:   models.ItemTypeRent,
		RentalDays: &days,
		UnitPrice:  decimal.RequireFromString("9.00"),
		Subtotal:   decimal.RequireFromString("63.00"),
	})

	err := s.WithTx(ctx, func(tx Tx) error {
		return tx.CreateOrder(ctx, order)
	})
	require.NoError(t, err)
	assert.NotZero(t, order.ID)

	got, err := s.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, user.Username, got.Username)
	require.Len(t, got.Items, 1)
	assert.Equal(t, 7, *got.Items[0].RentalDays)
	assert.True(t, got.TotalAmount.Equal(decimal.RequireFromString("63.00")))
}

func TestWithTxRollsBackStock(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	book := seedBook(t, s, "10.00", 2)

	err := s.WithTx(ctx, func(tx Tx) error {
		ok, err := tx.DecrementStock(ctx, book.ID, 2)
		require.NoError(t, err)
		require.True(t, ok)
		return assert.AnError
	})
	assert.ErrorIs(t, err, assert.AnError)

	got, err := s.GetBook(ctx, book.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Stock)
}

func TestDecrementStockIsSerialized(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	book := seedBook(t, s, "10.00", 1)

	var wg sync.WaitGroup
	results := make(chan bool, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.WithTx(ctx, func(tx Tx) error {
				if _, err := tx.LockBooks(ctx, []int64{book.ID}); err != nil {
					return err
				}
				ok, err := tx.DecrementStock(ctx, book.ID, 1)
				results <- ok
				return err
			})
		}()
	}
	wg.Wait()
	close(results)

	succeeded := 0
	for ok := range results {
		if ok {
			succeeded++
		}
	}
	assert.Equal(t, 1, succeeded)
}

func TestLockBooksInOppositeOrderDoesNotDeadlock(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first := seedBook(t, s, "10.00", 100)
	second := seedBook(t, s, "12.00", 100)
	orders := [][]int64{{first.ID, second.ID}, {second.ID, first.ID}}

	const rounds = 20
	var wg sync.WaitGroup
	errs := make(chan error, len(orders)*rounds)
	for _, ids := range orders {
		wg.Add(1)
		go func(ids []int64) {
			defer wg.Done()
			for i := 0; i < rounds; i++ {
				errs <- s.WithTx(ctx, func(tx Tx) error {
					if _, err := tx.LockBooks(ctx, ids); err != nil {
						return err
					}
					time.Sleep(2 * time.Millisecond)
					for _, id := range ids {
						if _, err := tx.DecrementStock(ctx, id, 1); err != nil {
							return err
						}
					}
					return nil
				})
			}
		}(ids)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	for _, id := range []int64{first.ID, second.ID} {
		got, err := s.GetBook(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, 100-len(orders)*rounds, got.Stock)
	}
}

func TestEmailAttemptsAndOutbox(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	user := seedUser(t, s, "store-ledger")
	order := models.NewOrder(user)
	event := &models.OutboxEvent{EventType: models.EventTypeOrderPlaced, Payload: []byte(`{"order_id":0}`)}

	err := s.WithTx(ctx, func(tx Tx) error {
		if err := tx.CreateOrder(ctx, order); err != nil {
			return err
		}
		event.AggregateID = order.ID
		return tx.CreateOutboxEvent(ctx, event)
	})
	require.NoError(t, err)

	msg := "smtp down"
	require.NoError(t, s.AppendEmailAttempt(ctx, &models.EmailAttempt{OrderID: order.ID, Provider: models.AttemptInitial, ErrorMessage: &msg}))
	require.NoError(t, s.AppendEmailAttempt(ctx, &models.EmailAttempt{OrderID: order.ID, Provider: models.AttemptManualResend, Success: true}))

	attempts, err := s.ListEmailAttempts(ctx, order.ID)
	require.NoError(t, err)
	require.Len(t, attempts, 2)
	assert.False(t, attempts[0].Success)
	assert.True(t, attempts[1].Success)

	pending, err := s.FetchPendingEvents(ctx, 1000)
	require.NoError(t, err)
	assert.NotEmpty(t, pending)

	require.NoError(t, s.MarkEventsPublished(ctx, []int64{event.ID}))
	assert.ErrorIs(t, s.UpdateOrderStatus(ctx, -1, models.OrderStatusShipped), ErrNotFound)
}
