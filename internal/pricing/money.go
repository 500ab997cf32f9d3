package pricing

import (
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
)

// Round2 rounds to two decimal places, half away from zero. Use it only when
// presenting values; calculations keep full precision.
func Round2(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return v
	}
	return decimal.NewFromFloat(v).Round(2).InexactFloat64()
}

// FormatAmount renders v for display with its ISO currency code, e.g.
// "INR 1062.00". Unknown codes render the bare two-decimal amount.
func FormatAmount(v float64, code string) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Sprint(v)
	}
	rounded := decimal.NewFromFloat(v).Round(2)
	unit, err := currency.ParseISO(strings.ToUpper(strings.TrimSpace(code)))
	if err != nil {
		return rounded.StringFixed(2)
	}
	return fmt.Sprint(currency.ISO(unit.Amount(rounded.InexactFloat64())))
}

// Display is a rounded copy of a breakdown for presentation.
func (b Breakdown) Display() Breakdown {
	return Breakdown{
		Gross:           Round2(b.Gross),
		DiscountAmount:  Round2(b.DiscountAmount),
		TaxableSubtotal: Round2(b.TaxableSubtotal),
		TaxAmount:       Round2(b.TaxAmount),
		LineTotal:       Round2(b.LineTotal),
	}
}

// Display is a rounded copy of the totals for presentation.
func (t Totals) Display() Totals {
	return Totals{
		Subtotal:          Round2(t.Subtotal),
		TaxTotal:          Round2(t.TaxTotal),
		LineDiscountTotal: Round2(t.LineDiscountTotal),
		InvoiceDiscount:   Round2(t.InvoiceDiscount),
		GrandTotal:        Round2(t.GrandTotal),
	}
}
