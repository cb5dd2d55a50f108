package notify

import (
	"context"
	"testing"
	"time"

	"bookstore-service/config"
	"bookstore-service/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleOrder() *models.Order {
	days := 7
	order := models.NewOrder(&models.User{ID: 1, Username: "alice", Email: "alice@example.com"})
	order.AddItem(models.OrderItem{
		BookID:    1,
		BookTitle: "Go in Practice",
		Quantity:  1,
		ItemType:  models.ItemTypeBuy,
		UnitPrice: decimal.RequireFromString("40.00"),
		Subtotal:  decimal.RequireFromString("40.00"),
	})
	order.AddItem(models.OrderItem{
		BookID:     2,
		Quantity:   1,
		ItemType:   models.ItemTypeRent,
		RentalDays: &days,
		UnitPrice:  decimal.RequireFromString("9.00"),
		Subtotal:   decimal.RequireFromString("63.00"),
	})
	order.AssignID(12)
	return order
}

func TestBody(t *testing.T) {
	body := Body(sampleOrder())

	assert.Contains(t, body, "Order #12")
	assert.Contains(t, body, "Total: 103.00")
	assert.Contains(t, body, " - Go in Practice x1 = 40.00")
	assert.Contains(t, body, " - Book #2 x1 (rent, 7 days) = 63.00")
}

func TestSubject(t *testing.T) {
	assert.Equal(t, "Order Confirmation #12", Subject(sampleOrder()))
}

func TestLogNotifierKeepsMessages(t *testing.T) {
	n := NewLogNotifier()

	require.NoError(t, n.SendOrderConfirmation(context.Background(), sampleOrder()))
	require.NoError(t, n.SendOrderConfirmation(context.Background(), sampleOrder()))

	sent := n.Sent()
	require.Len(t, sent, 2)
	assert.Contains(t, sent[0], "Order #12")
}

func TestLogNotifierHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := NewLogNotifier().SendOrderConfirmation(ctx, sampleOrder())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSMTPNotifierRequiresRecipient(t *testing.T) {
	n, err := NewSMTPNotifier(config.MailConfig{Host: "localhost", Port: 2525, From: "shop@example.com"})
	require.NoError(t, err)

	order := sampleOrder()
	order.Email = ""

	err = n.SendOrderConfirmation(context.Background(), order)
	assert.ErrorIs(t, err, ErrNoRecipient)
}

func TestSMTPNotifierGivesUpWaitingForBusyConnection(t *testing.T) {
	n, err := NewSMTPNotifier(config.MailConfig{Host: "localhost", Port: 2525, From: "shop@example.com"})
	require.NoError(t, err)

	// another send holds the connection
	n.slot <- struct{}{}
	defer func() { <-n.slot }()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	err = n.SendOrderConfirmation(ctx, sampleOrder())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestFuncAdapter(t *testing.T) {
	var got int64
	var n Notifier = Func(func(ctx context.Context, order *models.Order) error {
		got = order.ID
		return nil
	})

	require.NoError(t, n.SendOrderConfirmation(context.Background(), sampleOrder()))
	assert.Equal(t, int64(12), got)
}
