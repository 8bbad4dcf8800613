package pricing

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-kasir/internal/domain"
)

// Money represents a monetary value in the currency's major unit with minor-unit precision.
type Money = decimal.Decimal

// CurrencyPlaces is the number of decimal places kept when amounts are presented or persisted.
const CurrencyPlaces int32 = 2

var (
	// DefaultDiscountRate is the discount applied to DPP in the base mode.
	DefaultDiscountRate = decimal.RequireFromString("0.08")

	dppNumerator   = decimal.NewFromInt(100)
	dppDenominator = decimal.NewFromInt(111)
	lainNumerator  = decimal.NewFromInt(11)
	lainDenom      = decimal.NewFromInt(12)
	ppnRate        = decimal.RequireFromString("0.11")
	one            = decimal.NewFromInt(1)
)

// Breakdown is the tax-base decomposition of a line or a whole cart.
type Breakdown struct {
	Amount    Money `json:"amount"`
	DPP11     Money `json:"dpp11"`
	Discount  Money `json:"discount"`
	DPPFaktur Money `json:"dppFaktur"`
	DPPLain   Money `json:"dppLain"`
	PPN11     Money `json:"ppn11"`
	PPN12     Money `json:"ppn12"`
}

// LineInput is a single priced line fed to the engine.
type LineInput struct {
	UnitPrice Money
	Qty       int
}

// Zero returns a breakdown with every field set to zero.
func Zero() Breakdown {
	return Breakdown{
		Amount:    decimal.Zero,
		DPP11:     decimal.Zero,
		Discount:  decimal.Zero,
		DPPFaktur: decimal.Zero,
		DPPLain:   decimal.Zero,
		PPN11:     decimal.Zero,
		PPN12:     decimal.Zero,
	}
}

// Line computes the breakdown of qty units sold at price with the given discount rate.
// Per-unit tax-base fields are scaled by qty; Amount is qty × price.
func Line(price Money, qty int, discountRate Money) (Breakdown, error) {
	if err := validate(price, qty, discountRate); err != nil {
		return Breakdown{}, err
	}
	q := decimal.NewFromInt(int64(qty))

	dpp11 := price.Mul(dppNumerator).Div(dppDenominator)
	discount := discountRate.Mul(dpp11)
	dppFaktur := dpp11.Sub(discount)
	dppLain := dppFaktur.Mul(lainNumerator).Div(lainDenom)
	ppn11 := ppnRate.Mul(dppFaktur)
	// PPN 12 is reported as the same figure as PPN 11; the 12% rate is applied to the
	// 11/12 base (DPP Lain), which yields the PPN 11 amount.
	ppn12 := ppn11

	return Breakdown{
		Amount:    price.Mul(q),
		DPP11:     dpp11.Mul(q),
		Discount:  discount.Mul(q),
		DPPFaktur: dppFaktur.Mul(q),
		DPPLain:   dppLain.Mul(q),
		PPN11:     ppn11.Mul(q),
		PPN12:     ppn12.Mul(q),
	}, nil
}

// Aggregate sums the breakdowns of every line field by field.
func Aggregate(lines []LineInput, discountRate Money) (Breakdown, error) {
	total := Zero()
	for i, ln := range lines {
		b, err := Line(ln.UnitPrice, ln.Qty, discountRate)
		if err != nil {
			return Breakdown{}, fmt.Errorf("line %d: %w", i, err)
		}
		total = total.Add(b)
	}
	return total, nil
}

// Add returns the field-by-field sum of two breakdowns.
func (b Breakdown) Add(o Breakdown) Breakdown {
	return Breakdown{
		Amount:    b.Amount.Add(o.Amount),
		DPP11:     b.DPP11.Add(o.DPP11),
		Discount:  b.Discount.Add(o.Discount),
		DPPFaktur: b.DPPFaktur.Add(o.DPPFaktur),
		DPPLain:   b.DPPLain.Add(o.DPPLain),
		PPN11:     b.PPN11.Add(o.PPN11),
		PPN12:     b.PPN12.Add(o.PPN12),
	}
}

// Round returns a copy with every field rounded half away from zero to places.
func (b Breakdown) Round(places int32) Breakdown {
	return Breakdown{
		Amount:    b.Amount.Round(places),
		DPP11:     b.DPP11.Round(places),
		Discount:  b.Discount.Round(places),
		DPPFaktur: b.DPPFaktur.Round(places),
		DPPLain:   b.DPPLain.Round(places),
		PPN11:     b.PPN11.Round(places),
		PPN12:     b.PPN12.Round(places),
	}
}

func validate(price Money, qty int, rate Money) error {
	if price.IsNegative() {
		return fmt.Errorf("price must not be negative: %w", domain.ErrInvalidInput)
	}
	if qty <= 0 {
		return fmt.Errorf("qty must be positive: %w", domain.ErrInvalidInput)
	}
	if rate.IsNegative() || rate.GreaterThan(one) {
		return fmt.Errorf("discount rate must be within [0,1]: %w", domain.ErrInvalidInput)
	}
	return nil
}
