package receipt

import (
	"fmt"
	"strings"

	"github.com/noah-isme/backend-kasir/internal/domain"
	"github.com/noah-isme/backend-kasir/internal/pricing"
)

// Policy selects which breakdown fields are printed on the customer receipt.
type Policy struct {
	ShowAmount    bool `json:"showAmount"`
	ShowDppFaktur bool `json:"showDppFaktur"`
	ShowDiscount  bool `json:"showDiscount"`
	ShowPpn11     bool `json:"showPpn11"`
}

// DefaultPolicy prints the amount only.
func DefaultPolicy() Policy {
	return Policy{ShowAmount: true}
}

// Fields is the customer-visible subset of a pricing.Breakdown. DPP 11, DPP Lain and
// PPN 12 are intermediate bases and have no slot here.
type Fields struct {
	Amount    *pricing.Money `json:"amount,omitempty"`
	DPPFaktur *pricing.Money `json:"dppFaktur,omitempty"`
	Discount  *pricing.Money `json:"discount,omitempty"`
	PPN11     *pricing.Money `json:"ppn11,omitempty"`
}

// Apply filters b according to the policy. Values are rounded to currency precision.
func (p Policy) Apply(b pricing.Breakdown) Fields {
	r := b.Round(pricing.CurrencyPlaces)
	var out Fields
	if p.ShowAmount {
		out.Amount = &r.Amount
	}
	if p.ShowDppFaktur {
		out.DPPFaktur = &r.DPPFaktur
	}
	if p.ShowDiscount {
		out.Discount = &r.Discount
	}
	if p.ShowPpn11 {
		out.PPN11 = &r.PPN11
	}
	return out
}

// ParsePolicy builds a policy from field names such as "amount,dppFaktur". Names are
// case-insensitive and may use underscores. An empty list yields DefaultPolicy.
func ParsePolicy(fields []string) (Policy, error) {
	if len(fields) == 0 {
		return DefaultPolicy(), nil
	}
	var p Policy
	for _, f := range fields {
		switch strings.ReplaceAll(strings.ToLower(strings.TrimSpace(f)), "_", "") {
		case "":
		case "amount":
			p.ShowAmount = true
		case "dppfaktur":
			p.ShowDppFaktur = true
		case "discount":
			p.ShowDiscount = true
		case "ppn11":
			p.ShowPpn11 = true
		default:
			return Policy{}, fmt.Errorf("unknown receipt field %q: %w", f, domain.ErrInvalidInput)
		}
	}
	return p, nil
}
