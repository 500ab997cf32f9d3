package render

import (
	"fmt"
	"io"
	"strconv"

	"github.com/jung-kurt/gofpdf"

	"github.com/noah-isme/invoice-pricing/internal/invoice"
	"github.com/noah-isme/invoice-pricing/internal/pricing"
)

var columns = []struct {
	title string
	width float64
	align string
}{
	{"Item", 62, "L"},
	{"Qty", 16, "R"},
	{"Unit price", 28, "R"},
	{"Discount", 24, "R"},
	{"Tax %", 16, "R"},
	{"Line total", 34, "R"},
}

// QuotePDF writes a one page quote for d. Amounts are rounded for display
// only; q is expected to be the unrounded quote of d.
func QuotePDF(w io.Writer, d invoice.Draft, q invoice.Quote, currency string) error {
	pdf := gofpdf.New("P", "mm", "A4", "")
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.SetTitle("Quote "+d.ID, true)
	pdf.SetCreationDate(d.UpdatedAt)
	pdf.AddPage()

	title := "Invoice quote"
	if d.Kind == invoice.KindReturn {
		title = "Return quote"
	}
	pdf.SetFont("Arial", "B", 16)
	pdf.CellFormat(0, 10, title, "", 1, "L", false, 0, "")

	pdf.SetFont("Arial", "", 10)
	meta := []string{
		"Draft: " + d.ID,
		"Status: " + string(d.Details.Status),
		"Pricing: " + q.Strategy,
	}
	if d.Details.CustomerID > 0 {
		meta = append(meta, "Customer: "+strconv.FormatInt(d.Details.CustomerID, 10))
	}
	if d.Details.DueDate != "" {
		meta = append(meta, "Due: "+d.Details.DueDate)
	}
	for _, line := range meta {
		pdf.CellFormat(0, 6, tr(line), "", 1, "L", false, 0, "")
	}
	pdf.Ln(4)

	pdf.SetFont("Arial", "B", 10)
	pdf.SetFillColor(235, 235, 235)
	for _, c := range columns {
		pdf.CellFormat(c.width, 8, c.title, "1", 0, c.align, true, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Arial", "", 9)
	lines := d.Lines()
	for i, ql := range q.Lines {
		item, _ := d.Item(ql.RowID)
		line := lines[i]
		if q.Strategy == (pricing.Snapshot{}).Name() {
			if line.UnitPriceSnapshot != nil {
				line.UnitPrice = *line.UnitPriceSnapshot
			}
			if line.TaxRateSnapshot != nil {
				line.TaxRatePercent = *line.TaxRateSnapshot
			}
		}
		cells := []string{
			tr(itemLabel(item)),
			strconv.FormatFloat(line.Quantity, 'f', -1, 64),
			pricing.FormatAmount(line.UnitPrice, currency),
			discountLabel(line, currency),
			strconv.FormatFloat(pricing.Round2(line.TaxRatePercent), 'f', -1, 64),
			pricing.FormatAmount(ql.LineTotal, currency),
		}
		for j, c := range columns {
			pdf.CellFormat(c.width, 7, cells[j], "1", 0, c.align, false, 0, "")
		}
		pdf.Ln(-1)
	}
	pdf.Ln(4)

	totals := []struct {
		label string
		value float64
	}{
		{"Subtotal", q.Totals.Subtotal},
		{"Tax", q.Totals.TaxTotal},
		{"Line discounts", q.Totals.LineDiscountTotal},
		{"Invoice discount", q.Totals.InvoiceDiscount},
		{"Grand total", q.Totals.GrandTotal},
	}
	for i, t := range totals {
		if i == len(totals)-1 {
			pdf.SetFont("Arial", "B", 11)
		}
		pdf.CellFormat(146, 7, t.label, "", 0, "R", false, 0, "")
		pdf.CellFormat(34, 7, pricing.FormatAmount(t.value, currency), "", 1, "R", false, 0, "")
	}

	if d.Details.Notes != "" {
		pdf.Ln(6)
		pdf.SetFont("Arial", "I", 9)
		pdf.MultiCell(0, 5, tr(d.Details.Notes), "", "L", false)
	}

	if err := pdf.Error(); err != nil {
		return fmt.Errorf("render quote: %w", err)
	}
	return pdf.Output(w)
}

func itemLabel(item invoice.Item) string {
	if item.Description != "" {
		return item.Description
	}
	if item.ProductID > 0 {
		return "Product #" + strconv.FormatInt(item.ProductID, 10)
	}
	return "-"
}

func discountLabel(line pricing.Line, currency string) string {
	if line.DiscountValue == 0 {
		return "-"
	}
	if line.DiscountType == pricing.DiscountAmount {
		return pricing.FormatAmount(line.DiscountValue, currency)
	}
	return strconv.FormatFloat(pricing.Round2(line.DiscountValue), 'f', -1, 64) + "%"
}
