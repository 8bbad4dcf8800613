package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Product is the catalog view the checkout core reads. Stock is owned by the catalog.
type Product struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	UnitPrice     decimal.Decimal `json:"unitPrice"`
	StockQuantity int             `json:"stockQuantity"`
	MinStockLevel int             `json:"minStockLevel"`
}

// Validate checks a catalog row before it is handed to the checkout core.
func (p Product) Validate() error {
	if strings.TrimSpace(p.ID) == "" {
		return fmt.Errorf("product id required: %w", ErrInvalidInput)
	}
	if p.UnitPrice.IsNegative() {
		return fmt.Errorf("product %s: negative unit price: %w", p.ID, ErrInvalidInput)
	}
	if p.StockQuantity < 0 {
		return fmt.Errorf("product %s: negative stock: %w", p.ID, ErrInvalidInput)
	}
	if p.MinStockLevel < 0 {
		return fmt.Errorf("product %s: negative minimum stock level: %w", p.ID, ErrInvalidInput)
	}
	return nil
}

// LowStock reports whether stock sits at or below the configured minimum.
func (p Product) LowStock() bool {
	return p.StockQuantity <= p.MinStockLevel
}

// PaymentMethod enumerates the tender types accepted at the counter.
type PaymentMethod string

const (
	PaymentCash     PaymentMethod = "cash"
	PaymentTransfer PaymentMethod = "transfer"
	PaymentDebit    PaymentMethod = "debit"
	PaymentCredit   PaymentMethod = "credit"
	PaymentQRIS     PaymentMethod = "qris"
)

// Valid reports whether the method is one of the known tender types.
func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentCash, PaymentTransfer, PaymentDebit, PaymentCredit, PaymentQRIS:
		return true
	}
	return false
}

// Sale is the header of a committed sale. It is never updated after commit.
type Sale struct {
	ID              string          `json:"id"`
	SaleNumber      string          `json:"saleNumber"`
	CustomerName    *string         `json:"customerName,omitempty"`
	Subtotal        decimal.Decimal `json:"subtotal"`
	TaxAmount       decimal.Decimal `json:"taxAmount"`
	TotalAmount     decimal.Decimal `json:"totalAmount"`
	PaymentMethod   PaymentMethod   `json:"paymentMethod"`
	PaymentReceived decimal.Decimal `json:"paymentReceived"`
	ChangeAmount    decimal.Decimal `json:"changeAmount"`
	Notes           *string         `json:"notes,omitempty"`
	CreatedBy       string          `json:"createdBy"`
	CreatedAt       time.Time       `json:"createdAt"`
}

// SaleItem is one committed line of a sale.
type SaleItem struct {
	SaleID    string          `json:"saleId"`
	ProductID string          `json:"productId"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
	Subtotal  decimal.Decimal `json:"subtotal"`
}

// MovementType classifies stock movements.
type MovementType string

const (
	MovementInbound  MovementType = "inbound"
	MovementOutbound MovementType = "outbound"
)

// StockMovement records a stock change caused by a sale.
type StockMovement struct {
	ProductID       string       `json:"productId"`
	Type            MovementType `json:"type"`
	Quantity        int          `json:"quantity"`
	ReferenceNumber string       `json:"referenceNumber"`
	Notes           string       `json:"notes"`
	CreatedBy       string       `json:"createdBy"`
	CreatedAt       time.Time    `json:"createdAt"`
}

// StockDecrement asks the ledger to take Quantity units of ProductID out of stock.
type StockDecrement struct {
	ProductID string
	Quantity  int
}
