package domain

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestProductValidate(t *testing.T) {
	ok := Product{ID: "p1", Name: "Teh", UnitPrice: decimal.NewFromInt(5000), StockQuantity: 3}
	require.NoError(t, ok.Validate())

	cases := map[string]Product{
		"missing id":     {UnitPrice: decimal.NewFromInt(1)},
		"negative price": {ID: "p", UnitPrice: decimal.NewFromInt(-1)},
		"negative stock": {ID: "p", StockQuantity: -1},
		"negative min":   {ID: "p", MinStockLevel: -2},
	}
	for name, p := range cases {
		t.Run(name, func(t *testing.T) {
			require.ErrorIs(t, p.Validate(), ErrInvalidInput)
		})
	}
}

func TestStockErrorUnwraps(t *testing.T) {
	err := NewStockError("p1", 3, 1)
	require.ErrorIs(t, err, ErrInsufficientStock)
	var se *StockError
	require.True(t, errors.As(err, &se))
	require.Equal(t, 1, se.Available)
}

func TestPaymentMethodValid(t *testing.T) {
	require.True(t, PaymentCash.Valid())
	require.True(t, PaymentQRIS.Valid())
	require.False(t, PaymentMethod("barter").Valid())
}

func TestLowStock(t *testing.T) {
	require.True(t, Product{StockQuantity: 2, MinStockLevel: 2}.LowStock())
	require.False(t, Product{StockQuantity: 3, MinStockLevel: 2}.LowStock())
}
