package pricing

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-kasir/internal/domain"
)

// DefaultTaxRatePercent is the sales tax applied on top of the cart subtotal.
var DefaultTaxRatePercent = decimal.NewFromInt(11)

var hundred = decimal.NewFromInt(100)

// SaleTotals are the persisted header figures of a sale.
type SaleTotals struct {
	Subtotal  Money `json:"subtotal"`
	TaxAmount Money `json:"taxAmount"`
	Total     Money `json:"total"`
}

// Subtotal returns Σ qty × unit price over the lines.
func Subtotal(lines []LineInput) Money {
	sum := decimal.Zero
	for _, ln := range lines {
		if ln.Qty <= 0 {
			continue
		}
		sum = sum.Add(ln.UnitPrice.Mul(decimal.NewFromInt(int64(ln.Qty))))
	}
	return sum
}

// Totals derives tax and total from a subtotal and a tax rate expressed in percent.
func Totals(subtotal Money, taxRatePercent Money) (SaleTotals, error) {
	if subtotal.IsNegative() {
		return SaleTotals{}, fmt.Errorf("subtotal must not be negative: %w", domain.ErrInvalidInput)
	}
	if taxRatePercent.IsNegative() || taxRatePercent.GreaterThan(hundred) {
		return SaleTotals{}, fmt.Errorf("tax rate must be within [0,100]: %w", domain.ErrInvalidInput)
	}
	tax := subtotal.Mul(taxRatePercent).Div(hundred).Round(CurrencyPlaces)
	return SaleTotals{
		Subtotal:  subtotal,
		TaxAmount: tax,
		Total:     subtotal.Add(tax),
	}, nil
}

// Change returns received − total. A negative result means the payment is short.
func Change(total, received Money) Money {
	return received.Sub(total)
}
