package receipt

import (
	"strings"
	"time"

	"github.com/noah-isme/backend-kasir/internal/domain"
	"github.com/noah-isme/backend-kasir/internal/pricing"
)

const bankDetailsPrefix = "Bank Details: "

// Line is one printed receipt row.
type Line struct {
	ProductID string        `json:"productId"`
	Name      string        `json:"name"`
	Quantity  int           `json:"quantity"`
	UnitPrice pricing.Money `json:"unitPrice"`
	Subtotal  pricing.Money `json:"subtotal"`
}

// Receipt is the data handed to the rendering collaborator after a commit.
type Receipt struct {
	SaleNumber      string               `json:"saleNumber"`
	Date            time.Time            `json:"date"`
	CustomerName    string               `json:"customerName,omitempty"`
	Cashier         string               `json:"cashier,omitempty"`
	Lines           []Line               `json:"lines"`
	Subtotal        pricing.Money        `json:"subtotal"`
	Breakdown       Fields               `json:"breakdown"`
	TaxAmount       pricing.Money        `json:"taxAmount"`
	Total           pricing.Money        `json:"total"`
	PaymentMethod   domain.PaymentMethod `json:"paymentMethod"`
	PaymentReceived pricing.Money        `json:"paymentReceived"`
	BankDetails     string               `json:"bankDetails,omitempty"`
	Change          pricing.Money        `json:"change"`
}

// Build assembles a receipt from a committed sale. names maps product ids to display names.
func Build(sale domain.Sale, items []domain.SaleItem, names map[string]string, breakdown pricing.Breakdown, policy Policy) Receipt {
	lines := make([]Line, 0, len(items))
	for _, it := range items {
		lines = append(lines, Line{
			ProductID: it.ProductID,
			Name:      names[it.ProductID],
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
			Subtotal:  it.Subtotal,
		})
	}
	rec := Receipt{
		SaleNumber:      sale.SaleNumber,
		Date:            sale.CreatedAt,
		Cashier:         sale.CreatedBy,
		Lines:           lines,
		Subtotal:        sale.Subtotal,
		Breakdown:       policy.Apply(breakdown),
		TaxAmount:       sale.TaxAmount,
		Total:           sale.TotalAmount,
		PaymentMethod:   sale.PaymentMethod,
		PaymentReceived: sale.PaymentReceived,
		Change:          sale.ChangeAmount,
	}
	if sale.CustomerName != nil {
		rec.CustomerName = *sale.CustomerName
	}
	if sale.PaymentMethod != domain.PaymentCash && sale.Notes != nil {
		rec.BankDetails = strings.TrimPrefix(*sale.Notes, bankDetailsPrefix)
	}
	return rec
}

// BankNotes formats bank details the way they are stored on the sale header.
func BankNotes(details string) *string {
	details = strings.TrimSpace(details)
	if details == "" {
		return nil
	}
	notes := bankDetailsPrefix + details
	return &notes
}
