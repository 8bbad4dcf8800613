package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/noah-isme/backend-kasir/internal/domain"
)

// Step names a Memory write that can be made to fail.
type Step string

const (
	StepDecrement       Step = "decrement"
	StepInsertSale      Step = "insert-sale"
	StepInsertItems     Step = "insert-items"
	StepInsertMovements Step = "insert-movements"
)

// Memory is an in-process RecordStore that also serves as the product catalog. It is
// used by tests and by the memory ledger driver. Injected faults on the item and
// movement steps write the first record before failing, leaving a partial write behind.
type Memory struct {
	mu        sync.Mutex
	products  map[string]domain.Product
	sales     map[string]domain.Sale
	items     []domain.SaleItem
	movements []domain.StockMovement
	faults    map[Step]error
}

// NewMemory returns a store seeded with products.
func NewMemory(products ...domain.Product) *Memory {
	m := &Memory{
		products: make(map[string]domain.Product, len(products)),
		sales:    map[string]domain.Sale{},
		faults:   map[Step]error{},
	}
	for _, p := range products {
		m.products[p.ID] = p
	}
	return m
}

// Put inserts or replaces a product.
func (m *Memory) Put(p domain.Product) error {
	if err := p.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.products[p.ID] = p
	return nil
}

// FailOn makes the next and all later calls of step return err. A nil err clears it.
func (m *Memory) FailOn(step Step, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.faults, step)
		return
	}
	m.faults[step] = err
}

// Lookup returns the current state of a product.
func (m *Memory) Lookup(_ context.Context, id string) (domain.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[id]
	if !ok {
		return domain.Product{}, fmt.Errorf("product %s: %w", id, domain.ErrProductNotFound)
	}
	return p, nil
}

// LookupMany returns every requested product keyed by id.
func (m *Memory) LookupMany(ctx context.Context, ids []string) (map[string]domain.Product, error) {
	out := make(map[string]domain.Product, len(ids))
	for _, id := range ids {
		p, err := m.Lookup(ctx, id)
		if err != nil {
			return nil, err
		}
		out[id] = p
	}
	return out, nil
}

// List returns products ordered by name.
func (m *Memory) List(_ context.Context, inStockOnly bool) ([]domain.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Product, 0, len(m.products))
	for _, p := range m.products {
		if inStockOnly && p.StockQuantity <= 0 {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// DecrementStock implements RecordStore.
func (m *Memory) DecrementStock(_ context.Context, productID string, qty int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.faults[StepDecrement]; err != nil {
		return err
	}
	p, ok := m.products[productID]
	if !ok {
		return fmt.Errorf("product %s: %w", productID, domain.ErrProductNotFound)
	}
	if p.StockQuantity < qty {
		return domain.NewStockError(productID, qty, p.StockQuantity)
	}
	p.StockQuantity -= qty
	m.products[productID] = p
	return nil
}

// RestockStock implements RecordStore.
func (m *Memory) RestockStock(_ context.Context, productID string, qty int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[productID]
	if !ok {
		return fmt.Errorf("product %s: %w", productID, domain.ErrProductNotFound)
	}
	p.StockQuantity += qty
	m.products[productID] = p
	return nil
}

// InsertSale implements RecordStore. Sale numbers are unique.
func (m *Memory) InsertSale(_ context.Context, sale domain.Sale) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.faults[StepInsertSale]; err != nil {
		return err
	}
	for _, existing := range m.sales {
		if existing.SaleNumber == sale.SaleNumber {
			return fmt.Errorf("sale number %s already used", sale.SaleNumber)
		}
	}
	m.sales[sale.ID] = sale
	return nil
}

// DeleteSale implements RecordStore.
func (m *Memory) DeleteSale(_ context.Context, saleID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sales, saleID)
	return nil
}

// InsertItems implements RecordStore.
func (m *Memory) InsertItems(_ context.Context, items []domain.SaleItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.faults[StepInsertItems]; err != nil {
		if len(items) > 0 {
			m.items = append(m.items, items[0])
		}
		return err
	}
	m.items = append(m.items, items...)
	return nil
}

// DeleteItems implements RecordStore.
func (m *Memory) DeleteItems(_ context.Context, saleID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.items[:0]
	for _, it := range m.items {
		if it.SaleID != saleID {
			kept = append(kept, it)
		}
	}
	m.items = kept
	return nil
}

// InsertMovements implements RecordStore.
func (m *Memory) InsertMovements(_ context.Context, movements []domain.StockMovement) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.faults[StepInsertMovements]; err != nil {
		if len(movements) > 0 {
			m.movements = append(m.movements, movements[0])
		}
		return err
	}
	m.movements = append(m.movements, movements...)
	return nil
}

// DeleteMovements implements RecordStore.
func (m *Memory) DeleteMovements(_ context.Context, referenceNumber string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.movements[:0]
	for _, mv := range m.movements {
		if mv.ReferenceNumber != referenceNumber {
			kept = append(kept, mv)
		}
	}
	m.movements = kept
	return nil
}

// Counts reports how many sales, items and movements are stored.
func (m *Memory) Counts() (sales, items, movements int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sales), len(m.items), len(m.movements)
}

// Sales returns the stored sale headers ordered by sale number.
func (m *Memory) Sales() []domain.Sale {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Sale, 0, len(m.sales))
	for _, s := range m.sales {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SaleNumber < out[j].SaleNumber })
	return out
}

// Movements returns a copy of the stored stock movements.
func (m *Memory) Movements() []domain.StockMovement {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.StockMovement, len(m.movements))
	copy(out, m.movements)
	return out
}

// Stock returns the current stock of a product, or -1 when it is unknown.
func (m *Memory) Stock(productID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[productID]
	if !ok {
		return -1
	}
	return p.StockQuantity
}
