package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// User is the account that owns orders
type User struct {
	ID        int64     `db:"id" json:"id"`
	Username  string    `db:"username" json:"username"`
	Email     string    `db:"email" json:"email"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Book represents a catalog entry with its sellable stock
type Book struct {
	ID        int64           `db:"id" json:"id"`
	Title     string          `db:"title" json:"title"`
	Author    string          `db:"author" json:"author"`
	Price     decimal.Decimal `db:"price" json:"price"`
	Stock     int             `db:"stock" json:"stock"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt time.Time       `db:"updated_at" json:"updated_at"`
}

// ItemType distinguishes purchases from rentals
type ItemType string

// Item types
const (
	ItemTypeBuy  ItemType = "BUY"
	ItemTypeRent ItemType = "RENT"
)

// ParseItemType maps a client supplied value to an ItemType.
// Anything that is not RENT (case-insensitive), including the empty string, is a BUY.
func ParseItemType(s string) ItemType {
	if strings.EqualFold(strings.TrimSpace(s), string(ItemTypeRent)) {
		return ItemTypeRent
	}
	return ItemTypeBuy
}

// OrderStatus is the fulfillment state of an order
type OrderStatus string

// Order statuses
const (
	OrderStatusPending   OrderStatus = "PENDING"
	OrderStatusConfirmed OrderStatus = "CONFIRMED"
	OrderStatusShipped   OrderStatus = "SHIPPED"
	OrderStatusDelivered OrderStatus = "DELIVERED"
	OrderStatusCancelled OrderStatus = "CANCELLED"
)

// Valid reports whether s is a known order status
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusConfirmed, OrderStatusShipped,
		OrderStatusDelivered, OrderStatusCancelled:
		return true
	}
	return false
}

// PaymentStatus is the externally asserted payment state of an order
type PaymentStatus string

// Payment statuses
const (
	PaymentStatusPending  PaymentStatus = "PENDING"
	PaymentStatusPaid     PaymentStatus = "PAID"
	PaymentStatusFailed   PaymentStatus = "FAILED"
	PaymentStatusRefunded PaymentStatus = "REFUNDED"
)

// Valid reports whether s is a known payment status
func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentStatusPending, PaymentStatusPaid, PaymentStatusFailed, PaymentStatusRefunded:
		return true
	}
	return false
}

// Email attempt providers, tagging what triggered a send
const (
	AttemptInitial       = "initial"
	AttemptAutoOnPayment = "auto-on-payment"
	AttemptManualResend  = "manual-resend"
)

// EmailAttempt is one append-only entry of the notification ledger
type EmailAttempt struct {
	ID           int64     `db:"id" json:"id"`
	OrderID      int64     `db:"order_id" json:"order_id"`
	Success      bool      `db:"success" json:"success"`
	Provider     string    `db:"provider" json:"provider"`
	ErrorMessage *string   `db:"error_message" json:"error_message,omitempty"`
	SentAt       time.Time `db:"sent_at" json:"sent_at"`
}

// OutboxEvent is an event written in the same transaction as its aggregate
type OutboxEvent struct {
	ID          int64      `db:"id"`
	AggregateID int64      `db:"aggregate_id"`
	EventType   string     `db:"event_type"`
	Payload     []byte     `db:"payload"`
	CreatedAt   time.Time  `db:"created_at"`
	PublishedAt *time.Time `db:"published_at"`
}

// ProcessedEvent for idempotency
type ProcessedEvent struct {
	EventID     string    `db:"event_id"`
	EventType   string    `db:"event_type"`
	ProcessedAt time.Time `db:"processed_at"`
}
