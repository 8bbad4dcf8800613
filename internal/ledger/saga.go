package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/noah-isme/backend-kasir/internal/domain"
)

// RecordStore is a store without multi-record transactions. DecrementStock must be
// atomic per product and fail with a *domain.StockError when stock is short. Delete
// and restock calls must tolerate records that were never written.
type RecordStore interface {
	DecrementStock(ctx context.Context, productID string, qty int) error
	RestockStock(ctx context.Context, productID string, qty int) error
	InsertSale(ctx context.Context, sale domain.Sale) error
	DeleteSale(ctx context.Context, saleID string) error
	InsertItems(ctx context.Context, items []domain.SaleItem) error
	DeleteItems(ctx context.Context, saleID string) error
	InsertMovements(ctx context.Context, movements []domain.StockMovement) error
	DeleteMovements(ctx context.Context, referenceNumber string) error
}

// Saga writes a sale step by step and undoes completed steps in reverse order when a
// later step fails.
type Saga struct {
	Store RecordStore
}

type compensation struct {
	name string
	undo func(context.Context) error
}

// WriteSaleAtomic implements Writer. Compensation runs even if ctx is cancelled.
func (s *Saga) WriteSaleAtomic(ctx context.Context, b SaleBatch) (domain.Sale, error) {
	if err := b.Validate(); err != nil {
		return domain.Sale{}, err
	}
	var undo []compensation
	fail := func(step string, err error) (domain.Sale, error) {
		cleanup := s.compensate(context.WithoutCancel(ctx), undo)
		var stockErr *domain.StockError
		if errors.As(err, &stockErr) {
			return domain.Sale{}, errors.Join(err, cleanup)
		}
		return domain.Sale{}, errors.Join(persistence(step, err), cleanup)
	}

	for _, d := range mergeDecrements(b.Decrements) {
		if err := s.Store.DecrementStock(ctx, d.ProductID, d.Quantity); err != nil {
			return fail("decrement stock", err)
		}
		undo = append(undo, compensation{
			name: "restock " + d.ProductID,
			undo: func(ctx context.Context) error { return s.Store.RestockStock(ctx, d.ProductID, d.Quantity) },
		})
	}

	// Each undo is registered before its step so a partially applied step is also removed.
	undo = append(undo, compensation{name: "delete sale", undo: func(ctx context.Context) error {
		return s.Store.DeleteSale(ctx, b.Sale.ID)
	}})
	if err := s.Store.InsertSale(ctx, b.Sale); err != nil {
		return fail("insert sale", err)
	}
	undo = append(undo, compensation{name: "delete items", undo: func(ctx context.Context) error {
		return s.Store.DeleteItems(ctx, b.Sale.ID)
	}})
	if err := s.Store.InsertItems(ctx, b.Items); err != nil {
		return fail("insert items", err)
	}
	undo = append(undo, compensation{name: "delete movements", undo: func(ctx context.Context) error {
		return s.Store.DeleteMovements(ctx, b.Sale.SaleNumber)
	}})
	if err := s.Store.InsertMovements(ctx, b.Movements); err != nil {
		return fail("insert movements", err)
	}
	return b.Sale, nil
}

func (s *Saga) compensate(ctx context.Context, undo []compensation) error {
	var errs []error
	for i := len(undo) - 1; i >= 0; i-- {
		if err := undo[i].undo(ctx); err != nil {
			errs = append(errs, fmt.Errorf("compensate %s: %w", undo[i].name, err))
		}
	}
	return errors.Join(errs...)
}
