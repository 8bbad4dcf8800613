// Package ledger persists committed sales. Every implementation writes a SaleBatch as
// one all-or-nothing unit and performs the authoritative stock check inside that unit.
package ledger

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/noah-isme/backend-kasir/internal/domain"
)

// SaleBatch is everything one commit writes.
type SaleBatch struct {
	Sale       domain.Sale
	Items      []domain.SaleItem
	Movements  []domain.StockMovement
	Decrements []domain.StockDecrement
}

// Writer is the contract shared by all ledgers.
type Writer interface {
	WriteSaleAtomic(ctx context.Context, batch SaleBatch) (domain.Sale, error)
}

// Validate rejects malformed batches before anything is written.
func (b SaleBatch) Validate() error {
	if strings.TrimSpace(b.Sale.ID) == "" || strings.TrimSpace(b.Sale.SaleNumber) == "" {
		return fmt.Errorf("sale id and number required: %w", domain.ErrInvalidInput)
	}
	if len(b.Items) == 0 || len(b.Decrements) == 0 {
		return fmt.Errorf("sale %s has no lines: %w", b.Sale.SaleNumber, domain.ErrInvalidInput)
	}
	if len(b.Movements) != len(b.Items) {
		return fmt.Errorf("sale %s: %d movements for %d items: %w", b.Sale.SaleNumber, len(b.Movements), len(b.Items), domain.ErrInvalidInput)
	}
	for _, it := range b.Items {
		if it.Quantity <= 0 || it.SaleID != b.Sale.ID {
			return fmt.Errorf("sale %s: bad item %s: %w", b.Sale.SaleNumber, it.ProductID, domain.ErrInvalidInput)
		}
	}
	for _, d := range b.Decrements {
		if d.Quantity <= 0 || d.ProductID == "" {
			return fmt.Errorf("sale %s: bad decrement %s: %w", b.Sale.SaleNumber, d.ProductID, domain.ErrInvalidInput)
		}
	}
	return nil
}

// mergeDecrements sums decrements per product and orders them by id so concurrent
// writers always lock rows in the same order.
func mergeDecrements(decs []domain.StockDecrement) []domain.StockDecrement {
	totals := make(map[string]int, len(decs))
	for _, d := range decs {
		totals[d.ProductID] += d.Quantity
	}
	out := make([]domain.StockDecrement, 0, len(totals))
	for id, qty := range totals {
		out = append(out, domain.StockDecrement{ProductID: id, Quantity: qty})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out
}

func persistence(step string, err error) error {
	return fmt.Errorf("%w: %s: %w", domain.ErrPersistence, step, err)
}
