// Package notify delivers order confirmation messages.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"bookstore-service/internal/models"
)

// ErrNoRecipient is returned when an order has nowhere to be sent
var ErrNoRecipient = errors.New("order has no recipient address")

// Notifier sends the confirmation for a placed order.
// A returned error means the message was not delivered.
type Notifier interface {
	SendOrderConfirmation(ctx context.Context, order *models.Order) error
}

// Func adapts a function to the Notifier interface
type Func func(ctx context.Context, order *models.Order) error

func (f Func) SendOrderConfirmation(ctx context.Context, order *models.Order) error {
	return f(ctx, order)
}

// Subject returns the confirmation subject line
func Subject(order *models.Order) string {
	return fmt.Sprintf("Order Confirmation #%d", order.ID)
}

// Body renders the plain text confirmation: order id, total and one line per item
func Body(order *models.Order) string {
	var sb strings.Builder
	sb.WriteString("Thank you for your order!\n\n")
	fmt.Fprintf(&sb, "Order #%d\n", order.ID)
	fmt.Fprintf(&sb, "Total: %s\n", order.TotalAmount.StringFixed(2))
	sb.WriteString("Items:\n")
	for _, item := range order.Items {
		title := item.BookTitle
		if title == "" {
			title = fmt.Sprintf("Book #%d", item.BookID)
		}
		fmt.Fprintf(&sb, " - %s x%d", title, item.Quantity)
		if item.ItemType == models.ItemTypeRent && item.RentalDays != nil {
			fmt.Fprintf(&sb, " (rent, %d days)", *item.RentalDays)
		}
		fmt.Fprintf(&sb, " = %s\n", item.Subtotal.StringFixed(2))
	}
	return sb.String()
}
