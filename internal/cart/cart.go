package cart

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-kasir/internal/domain"
	"github.com/noah-isme/backend-kasir/internal/pricing"
)

// ErrNotFound indicates the requested cart or cart line could not be located.
var ErrNotFound = errors.New("cart not found")

// Line pairs the last known product snapshot with the quantity being bought.
type Line struct {
	Product  domain.Product `json:"product"`
	Quantity int            `json:"quantity"`
}

// Subtotal returns quantity × unit price for the line.
func (l Line) Subtotal() pricing.Money {
	return l.Product.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Cart is the ordered set of lines of one checkout session. Stock checks use the
// product snapshot held by each line; the ledger re-checks authoritatively at commit.
type Cart struct {
	lines []Line
}

// New returns an empty cart.
func New() *Cart {
	return &Cart{}
}

// Add puts one unit of product into the cart.
func (c *Cart) Add(product domain.Product) error {
	if err := product.Validate(); err != nil {
		return err
	}
	if i := c.index(product.ID); i >= 0 {
		next := c.lines[i].Quantity + 1
		if next > product.StockQuantity {
			return domain.NewStockError(product.ID, next, product.StockQuantity)
		}
		c.lines[i] = Line{Product: product, Quantity: next}
		return nil
	}
	if product.StockQuantity < 1 {
		return domain.NewStockError(product.ID, 1, product.StockQuantity)
	}
	c.lines = append(c.lines, Line{Product: product, Quantity: 1})
	return nil
}

// SetQuantity replaces the quantity of an existing line. n ≤ 0 removes the line.
func (c *Cart) SetQuantity(productID string, n int) error {
	if n <= 0 {
		c.Remove(productID)
		return nil
	}
	i := c.index(productID)
	if i < 0 {
		return fmt.Errorf("product %s not in cart: %w", productID, ErrNotFound)
	}
	if n > c.lines[i].Product.StockQuantity {
		return domain.NewStockError(productID, n, c.lines[i].Product.StockQuantity)
	}
	c.lines[i].Quantity = n
	return nil
}

// Remove deletes the line for productID if present.
func (c *Cart) Remove(productID string) {
	i := c.index(productID)
	if i < 0 {
		return
	}
	c.lines = append(c.lines[:i:i], c.lines[i+1:]...)
}

// RefreshProduct replaces the snapshot of a product already in the cart without touching
// its quantity. It reports whether the product was present.
func (c *Cart) RefreshProduct(product domain.Product) bool {
	i := c.index(product.ID)
	if i < 0 {
		return false
	}
	c.lines[i].Product = product
	return true
}

// Subtotal returns Σ quantity × unit price.
func (c *Cart) Subtotal() pricing.Money {
	return pricing.Subtotal(c.PricingLines())
}

// Lines returns a copy of the cart lines in insertion order.
func (c *Cart) Lines() []Line {
	out := make([]Line, len(c.lines))
	copy(out, c.lines)
	return out
}

// PricingLines converts the cart into pricing engine input.
func (c *Cart) PricingLines() []pricing.LineInput {
	out := make([]pricing.LineInput, 0, len(c.lines))
	for _, l := range c.lines {
		out = append(out, pricing.LineInput{UnitPrice: l.Product.UnitPrice, Qty: l.Quantity})
	}
	return out
}

// Len returns the number of lines.
func (c *Cart) Len() int {
	return len(c.lines)
}

// IsEmpty reports whether the cart has no lines.
func (c *Cart) IsEmpty() bool {
	return len(c.lines) == 0
}

// TotalQuantity returns the sum of all line quantities.
func (c *Cart) TotalQuantity() int {
	total := 0
	for _, l := range c.lines {
		total += l.Quantity
	}
	return total
}

// Clone returns an independent copy of the cart.
func (c *Cart) Clone() *Cart {
	return &Cart{lines: c.Lines()}
}

func (c *Cart) index(productID string) int {
	for i, l := range c.lines {
		if l.Product.ID == productID {
			return i
		}
	}
	return -1
}

type snapshot struct {
	Lines []Line `json:"lines"`
}

// MarshalJSON encodes the cart lines.
func (c *Cart) MarshalJSON() ([]byte, error) {
	lines := c.lines
	if lines == nil {
		lines = []Line{}
	}
	return json.Marshal(snapshot{Lines: lines})
}

// UnmarshalJSON decodes a snapshot and rejects lines that break the cart invariants.
func (c *Cart) UnmarshalJSON(data []byte) error {
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return err
	}
	seen := make(map[string]struct{}, len(snap.Lines))
	for _, l := range snap.Lines {
		if err := l.Product.Validate(); err != nil {
			return err
		}
		if _, dup := seen[l.Product.ID]; dup {
			return fmt.Errorf("duplicate line for product %s: %w", l.Product.ID, domain.ErrInvalidInput)
		}
		seen[l.Product.ID] = struct{}{}
		if l.Quantity <= 0 || l.Quantity > l.Product.StockQuantity {
			return fmt.Errorf("line %s: quantity %d out of range: %w", l.Product.ID, l.Quantity, domain.ErrInvalidInput)
		}
	}
	c.lines = snap.Lines
	return nil
}
