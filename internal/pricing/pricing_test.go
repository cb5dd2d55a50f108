package pricing

import (
	"testing"

	"bookstore-service/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func days(n int) *int { return &n }

func book(price string) *models.Book {
	return &models.Book{ID: 1, Price: decimal.RequireFromString(price)}
}

func TestPriceBuy(t *testing.T) {
	q, err := Price(book("40.00"), models.ItemTypeBuy, 3, nil)
	require.NoError(t, err)

	assert.True(t, q.UnitPrice.Equal(decimal.RequireFromString("40.00")))
	assert.True(t, q.Subtotal.Equal(decimal.RequireFromString("120.00")))
}

func TestPriceBuyIgnoresRentalDays(t *testing.T) {
	q, err := Price(book("12.50"), models.ItemTypeBuy, 2, days(5))
	require.NoError(t, err)

	assert.True(t, q.Subtotal.Equal(decimal.RequireFromString("25.00")))
}

func TestPriceRent(t *testing.T) {
	q, err := Price(book("45.00"), models.ItemTypeRent, 1, days(7))
	require.NoError(t, err)

	assert.Equal(t, "9.00", q.UnitPrice.StringFixed(2))
	assert.Equal(t, "63.00", q.Subtotal.StringFixed(2))
}

func TestPriceRentRoundsHalfUp(t *testing.T) {
	tests := []struct {
		price string
		unit  string
	}{
		{"10.025", "2.01"}, // 2.005 -> 2.01
		{"19.99", "4.00"},  // 3.998 -> 4.00
		{"0.02", "0.00"},   // 0.004 -> 0.00
		{"0.025", "0.01"},  // 0.005 -> 0.01
		{"33.33", "6.67"},  // 6.666 -> 6.67
	}

	for _, tt := range tests {
		q, err := Price(book(tt.price), models.ItemTypeRent, 1, days(1))
		require.NoError(t, err)
		assert.Equal(t, tt.unit, q.UnitPrice.StringFixed(2), "price %s", tt.price)
	}
}

func TestPriceRentMultipliesQuantityAndDays(t *testing.T) {
	q, err := Price(book("45.00"), models.ItemTypeRent, 2, days(3))
	require.NoError(t, err)

	assert.Equal(t, "54.00", q.Subtotal.StringFixed(2))
}

func TestPriceRejectsInvalidItems(t *testing.T) {
	_, err := Price(book("10.00"), models.ItemTypeBuy, 0, nil)
	assert.ErrorIs(t, err, ErrInvalidItem)

	_, err = Price(book("10.00"), models.ItemTypeRent, 1, nil)
	assert.ErrorIs(t, err, ErrInvalidItem)

	_, err = Price(book("10.00"), models.ItemTypeRent, 1, days(0))
	assert.ErrorIs(t, err, ErrInvalidItem)

	_, err = Price(book("10.00"), models.ItemTypeRent, 1, days(-2))
	assert.ErrorIs(t, err, ErrInvalidItem)
}

func TestPriceIsPure(t *testing.T) {
	b := book("45.00")
	first, err := Price(b, models.ItemTypeRent, 1, days(7))
	require.NoError(t, err)
	second, err := Price(b, models.ItemTypeRent, 1, days(7))
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.True(t, b.Price.Equal(decimal.RequireFromString("45.00")))
}
