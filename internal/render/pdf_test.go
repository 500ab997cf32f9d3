package render_test

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/invoice-pricing/internal/invoice"
	"github.com/noah-isme/invoice-pricing/internal/pricing"
	"github.com/noah-isme/invoice-pricing/internal/render"
)

func TestQuotePDF(t *testing.T) {
	d, err := invoice.New("acme", invoice.KindInvoice, "live", time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	d = d.AddItem(invoice.Item{
		ProductID:   1,
		Description: "Widget",
		LineInput: pricing.LineInput{
			Quantity:       pricing.NumberOf(2),
			UnitPrice:      pricing.NumberOf(100),
			DiscountValue:  pricing.NumberOf(10),
			TaxRatePercent: pricing.NumberOf(18),
		},
	})
	d = d.AddItem(invoice.Item{
		ProductID: 2,
		LineInput: pricing.LineInput{
			UnitPrice:     pricing.NumberOf(50),
			DiscountValue: pricing.NumberOf(5),
			DiscountType:  pricing.DiscountAmount,
		},
	})
	d = d.SetDetails(invoice.Details{CustomerID: 7, Notes: "Thank you"})

	var buf bytes.Buffer
	require.NoError(t, render.QuotePDF(&buf, d, d.Quote(), "INR"))
	require.True(t, bytes.HasPrefix(buf.Bytes(), []byte("%PDF")))
	require.Greater(t, buf.Len(), 500)
}

func TestQuotePDFEmptyDraft(t *testing.T) {
	d, err := invoice.New("acme", invoice.KindReturn, "snapshot", time.Now())
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, render.QuotePDF(&buf, d, d.Quote(), "XYZ"))
	require.True(t, bytes.HasPrefix(buf.Bytes(), []byte("%PDF")))
}
