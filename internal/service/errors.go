package service

import (
	"errors"
	"fmt"

	"bookstore-service/internal/pricing"
)

// Errors returned by the order pipeline; match with errors.Is / errors.As
var (
	ErrEmptyOrder    = errors.New("order must contain at least one item")
	ErrUnknownUser   = errors.New("user not found")
	ErrUnknownBook   = errors.New("book not found")
	ErrOrderNotFound = errors.New("order not found")
	ErrInvalidItem   = pricing.ErrInvalidItem
	ErrInvalidStatus = errors.New("invalid status")
)

// InsufficientStockError reports the book that could not cover an item
type InsufficientStockError struct {
	BookID    int64
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for book id: %d (requested %d, available %d)",
		e.BookID, e.Requested, e.Available)
}

// NotificationSendError wraps a failed confirmation send
type NotificationSendError struct {
	OrderID int64
	Err     error
}

func (e *NotificationSendError) Error() string {
	return fmt.Sprintf("failed to send confirmation for order %d: %v", e.OrderID, e.Err)
}

func (e *NotificationSendError) Unwrap() error {
	return e.Err
}
