package checkout

import (
	"github.com/noah-isme/backend-kasir/internal/cart"
	"github.com/noah-isme/backend-kasir/internal/pricing"
)

// LinePreview is the rounded breakdown of one cart line.
type LinePreview struct {
	ProductID string            `json:"productId"`
	Name      string            `json:"name"`
	Quantity  int               `json:"quantity"`
	UnitPrice pricing.Money     `json:"unitPrice"`
	Breakdown pricing.Breakdown `json:"breakdown"`
}

// Preview is the priced view of a cart before commit.
type Preview struct {
	Lines        []LinePreview      `json:"lines"`
	Breakdown    pricing.Breakdown  `json:"breakdown"`
	Totals       pricing.SaleTotals `json:"totals"`
	DiscountRate pricing.Money      `json:"discountRate"`
}

// Preview prices the cart without touching stock or numbering. A nil discountRate uses
// the service default. The aggregate is summed from unrounded lines and rounded once.
func (s *Service) Preview(c *cart.Cart, discountRate *pricing.Money) (Preview, error) {
	rate := s.DiscountRate
	if discountRate != nil {
		rate = *discountRate
	}
	if c == nil {
		c = cart.New()
	}
	out := Preview{Lines: make([]LinePreview, 0, c.Len()), DiscountRate: rate}
	total := pricing.Zero()
	for _, l := range c.Lines() {
		b, err := pricing.Line(l.Product.UnitPrice, l.Quantity, rate)
		if err != nil {
			return Preview{}, err
		}
		total = total.Add(b)
		out.Lines = append(out.Lines, LinePreview{
			ProductID: l.Product.ID,
			Name:      l.Product.Name,
			Quantity:  l.Quantity,
			UnitPrice: l.Product.UnitPrice,
			Breakdown: b.Round(pricing.CurrencyPlaces),
		})
	}
	out.Breakdown = total.Round(pricing.CurrencyPlaces)
	totals, err := pricing.Totals(c.Subtotal(), s.TaxRatePercent)
	if err != nil {
		return Preview{}, err
	}
	out.Totals = totals
	return out, nil
}
