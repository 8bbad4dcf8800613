package receipt_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-kasir/internal/domain"
	"github.com/noah-isme/backend-kasir/internal/pricing"
	"github.com/noah-isme/backend-kasir/internal/receipt"
)

func sampleBreakdown(t *testing.T) pricing.Breakdown {
	t.Helper()
	b, err := pricing.Line(decimal.NewFromInt(111000), 1, pricing.DefaultDiscountRate)
	require.NoError(t, err)
	return b
}

func TestDefaultPolicyShowsAmountOnly(t *testing.T) {
	f := receipt.DefaultPolicy().Apply(sampleBreakdown(t))
	require.NotNil(t, f.Amount)
	require.True(t, f.Amount.Equal(decimal.NewFromInt(111000)))
	require.Nil(t, f.DPPFaktur)
	require.Nil(t, f.Discount)
	require.Nil(t, f.PPN11)
}

func TestPolicyTogglesIndependently(t *testing.T) {
	b := sampleBreakdown(t)
	f := receipt.Policy{ShowDiscount: true, ShowPpn11: true}.Apply(b)
	require.Nil(t, f.Amount)
	require.Nil(t, f.DPPFaktur)
	require.True(t, f.Discount.Equal(decimal.NewFromInt(8000)))
	require.True(t, f.PPN11.Equal(decimal.NewFromInt(10120)))
}

func TestHiddenBasesNeverSerialised(t *testing.T) {
	all := receipt.Policy{ShowAmount: true, ShowDppFaktur: true, ShowDiscount: true, ShowPpn11: true}
	raw, err := json.Marshal(all.Apply(sampleBreakdown(t)))
	require.NoError(t, err)

	var fields map[string]any
	require.NoError(t, json.Unmarshal(raw, &fields))
	require.Len(t, fields, 4)
	for _, hidden := range []string{"dpp11", "dppLain", "ppn12"} {
		require.NotContains(t, fields, hidden)
	}
}

func TestBuildReceipt(t *testing.T) {
	customer := "Budi"
	sale := domain.Sale{
		SaleNumber:      "TRX-20261019-0001",
		CustomerName:    &customer,
		Subtotal:        decimal.NewFromInt(111000),
		TaxAmount:       decimal.NewFromInt(12210),
		TotalAmount:     decimal.NewFromInt(123210),
		PaymentMethod:   domain.PaymentTransfer,
		PaymentReceived: decimal.NewFromInt(123210),
		ChangeAmount:    decimal.Zero,
		Notes:           receipt.BankNotes("BCA 1234567890"),
		CreatedBy:       "kasir-1",
		CreatedAt:       time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC),
	}
	items := []domain.SaleItem{{ProductID: "p1", Quantity: 1, UnitPrice: decimal.NewFromInt(111000), Subtotal: decimal.NewFromInt(111000)}}

	rec := receipt.Build(sale, items, map[string]string{"p1": "Beras 5kg"}, sampleBreakdown(t), receipt.DefaultPolicy())
	require.Equal(t, "TRX-20261019-0001", rec.SaleNumber)
	require.Equal(t, "Budi", rec.CustomerName)
	require.Equal(t, "BCA 1234567890", rec.BankDetails)
	require.Len(t, rec.Lines, 1)
	require.Equal(t, "Beras 5kg", rec.Lines[0].Name)
	require.NotNil(t, rec.Breakdown.Amount)
}

func TestBankNotesBlank(t *testing.T) {
	require.Nil(t, receipt.BankNotes("   "))
}

func TestParsePolicy(t *testing.T) {
	p, err := receipt.ParsePolicy(nil)
	require.NoError(t, err)
	require.Equal(t, receipt.DefaultPolicy(), p)

	p, err = receipt.ParsePolicy([]string{"amount", "DPP_FAKTUR", " ppn11 "})
	require.NoError(t, err)
	require.Equal(t, receipt.Policy{ShowAmount: true, ShowDppFaktur: true, ShowPpn11: true}, p)

	_, err = receipt.ParsePolicy([]string{"dppLain"})
	require.ErrorIs(t, err, domain.ErrInvalidInput)
}
