// Package pricing computes unit prices and line subtotals for order items.
package pricing

import (
	"errors"
	"fmt"

	"bookstore-service/internal/models"

	"github.com/shopspring/decimal"
)

// ErrInvalidItem is returned for a line that cannot be priced
var ErrInvalidItem = errors.New("invalid order item")

// RentRate is the share of the buy price charged per rental day
var RentRate = decimal.RequireFromString("0.20")

// Quote is the priced result for a single line
type Quote struct {
	UnitPrice decimal.Decimal
	Subtotal  decimal.Decimal
}

// Price computes the unit price and subtotal for quantity copies of book.
//
// BUY lines cost the book price per copy. RENT lines cost RentRate of the book
// price per copy per day, rounded half-up to cents, and require rentalDays > 0.
func Price(book *models.Book, itemType models.ItemType, quantity int, rentalDays *int) (Quote, error) {
	if quantity < 1 {
		return Quote{}, fmt.Errorf("%w: quantity must be at least 1, got %d", ErrInvalidItem, quantity)
	}

	qty := decimal.NewFromInt(int64(quantity))

	if itemType != models.ItemTypeRent {
		return Quote{
			UnitPrice: book.Price,
			Subtotal:  book.Price.Mul(qty),
		}, nil
	}

	if rentalDays == nil || *rentalDays <= 0 {
		return Quote{}, fmt.Errorf("%w: rental of book %d requires a positive number of rental days", ErrInvalidItem, book.ID)
	}

	// Round keeps halves away from zero, which is half-up for non-negative prices.
	unit := book.Price.Mul(RentRate).Round(2)
	return Quote{
		UnitPrice: unit,
		Subtotal:  unit.Mul(qty).Mul(decimal.NewFromInt(int64(*rentalDays))),
	}, nil
}
