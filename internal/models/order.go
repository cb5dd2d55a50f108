package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Order represents a customer order and its line items.
//
// TotalAmount is derived from Items. Code outside the store must change items
// through AddItem or SetItems, which keep the total in step.
type Order struct {
	ID            int64           `db:"id" json:"id"`
	UserID        int64           `db:"user_id" json:"user_id"`
	Username      string          `db:"username" json:"username"`
	Email         string          `db:"email" json:"-"`
	Items         []OrderItem     `db:"-" json:"items"`
	TotalAmount   decimal.Decimal `db:"total_amount" json:"total_amount"`
	OrderStatus   OrderStatus     `db:"order_status" json:"order_status"`
	PaymentStatus PaymentStatus   `db:"payment_status" json:"payment_status"`
	Emailed       bool            `db:"emailed" json:"emailed"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time       `db:"updated_at" json:"updated_at"`
}

// OrderItem is a priced line of an order. UnitPrice is a snapshot taken at
// order time and does not follow later catalog changes.
type OrderItem struct {
	ID         int64           `db:"id" json:"id"`
	OrderID    int64           `db:"order_id" json:"order_id"`
	BookID     int64           `db:"book_id" json:"book_id"`
	BookTitle  string          `db:"book_title" json:"book_title"`
	Quantity   int             `db:"quantity" json:"quantity"`
	ItemType   ItemType        `db:"item_type" json:"item_type"`
	RentalDays *int            `db:"rental_days" json:"rental_days,omitempty"`
	UnitPrice  decimal.Decimal `db:"unit_price" json:"unit_price"`
	Subtotal   decimal.Decimal `db:"subtotal" json:"subtotal"`
	CreatedAt  time.Time       `db:"created_at" json:"created_at"`
}

// NewOrder returns an empty order in its initial (PENDING, PENDING) state
func NewOrder(user *User) *Order {
	return &Order{
		UserID:        user.ID,
		Username:      user.Username,
		Email:         user.Email,
		Items:         []OrderItem{},
		TotalAmount:   decimal.Zero,
		OrderStatus:   OrderStatusPending,
		PaymentStatus: PaymentStatusPending,
	}
}

// AddItem appends a line and recalculates the total
func (o *Order) AddItem(item OrderItem) {
	item.OrderID = o.ID
	o.Items = append(o.Items, item)
	o.RecalculateTotal()
}

// SetItems replaces all lines and recalculates the total
func (o *Order) SetItems(items []OrderItem) {
	o.Items = items
	o.RecalculateTotal()
}

// RecalculateTotal sets TotalAmount to the sum of item subtotals
func (o *Order) RecalculateTotal() {
	total := decimal.Zero
	for _, item := range o.Items {
		total = total.Add(item.Subtotal)
	}
	o.TotalAmount = total
}

// AssignID sets the order id on the order and every line
func (o *Order) AssignID(id int64) {
	o.ID = id
	for i := range o.Items {
		o.Items[i].OrderID = id
	}
}
