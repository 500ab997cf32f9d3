package pricing

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// DiscountType selects how a line discount value is interpreted.
type DiscountType string

const (
	// DiscountPercentage treats the discount value as a percent of the line gross.
	DiscountPercentage DiscountType = "percentage"
	// DiscountAmount treats the discount value as a flat currency amount.
	DiscountAmount DiscountType = "amount"
)

// Quantity fallbacks applied when the raw quantity cannot be parsed.
const (
	// QuantityFallbackEdit is used while an existing row is being edited.
	QuantityFallbackEdit float64 = 0
	// QuantityFallbackNewRow is used when a default row is created.
	QuantityFallbackNewRow float64 = 1
)

var (
	// ErrUnknownStrategy is returned by StrategyFor for unsupported names.
	ErrUnknownStrategy = errors.New("pricing: unknown strategy")
	// ErrUnknownDiscountType is returned when decoding an unsupported discount type.
	ErrUnknownDiscountType = errors.New("pricing: unknown discount type")
)

// ParseDiscountType normalises client supplied discount types. Empty and
// unrecognised values fall back to percentage, the default of a new row.
func ParseDiscountType(value string) DiscountType {
	d, _ := lookupDiscountType(value)
	return d
}

func lookupDiscountType(value string) (DiscountType, bool) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "percentage", "percent":
		return DiscountPercentage, true
	case "amount", "fixed", "fixed_amount", "flat":
		return DiscountAmount, true
	default:
		return DiscountPercentage, false
	}
}

// UnmarshalText implements encoding.TextUnmarshaler. Empty selects
// percentage; anything that is not a known spelling is rejected.
func (d *DiscountType) UnmarshalText(text []byte) error {
	v, ok := lookupDiscountType(string(text))
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownDiscountType, text)
	}
	*d = v
	return nil
}

// Line is a fully coerced line item ready for pricing.
type Line struct {
	// Quantity is a whole number of units.
	Quantity          float64
	UnitPrice         float64
	DiscountValue     float64
	DiscountType      DiscountType
	TaxRatePercent    float64
	UnitPriceSnapshot *float64
	TaxRateSnapshot   *float64
}

// LineInput carries raw form values for one line item.
type LineInput struct {
	Quantity          Number       `json:"quantity"`
	UnitPrice         Number       `json:"unitPrice"`
	DiscountValue     Number       `json:"discount"`
	DiscountType      DiscountType `json:"discountType"`
	TaxRatePercent    Number       `json:"taxRate"`
	UnitPriceSnapshot Number       `json:"unitPriceSnapshot"`
	TaxRateSnapshot   Number       `json:"taxRateSnapshot"`
}

// Normalize coerces raw values into a Line. qtyFallback is
// QuantityFallbackNewRow for freshly created rows and QuantityFallbackEdit
// otherwise; every other field falls back to zero.
func (in LineInput) Normalize(qtyFallback float64) Line {
	return Line{
		Quantity:          math.Trunc(in.Quantity.Float(qtyFallback)),
		UnitPrice:         in.UnitPrice.Float(0),
		DiscountValue:     in.DiscountValue.Float(0),
		DiscountType:      ParseDiscountType(string(in.DiscountType)),
		TaxRatePercent:    in.TaxRatePercent.Float(0),
		UnitPriceSnapshot: optionalFloat(in.UnitPriceSnapshot),
		TaxRateSnapshot:   optionalFloat(in.TaxRateSnapshot),
	}
}

func optionalFloat(n Number) *float64 {
	v := n.Float(math.NaN())
	if math.IsNaN(v) {
		return nil
	}
	return &v
}

// Breakdown is the derived pricing of one line.
type Breakdown struct {
	Gross           float64 `json:"gross"`
	DiscountAmount  float64 `json:"discountAmount"`
	TaxableSubtotal float64 `json:"taxableSubtotal"`
	TaxAmount       float64 `json:"taxAmount"`
	LineTotal       float64 `json:"lineTotal"`
}

// Totals aggregates the breakdowns of an invoice.
type Totals struct {
	Subtotal          float64 `json:"subtotal"`
	TaxTotal          float64 `json:"taxTotal"`
	LineDiscountTotal float64 `json:"lineDiscountTotal"`
	InvoiceDiscount   float64 `json:"invoiceDiscount"`
	GrandTotal        float64 `json:"grandTotal"`
}

// ComputeLineItem prices a single line. Tax is applied after the discount and
// nothing is rounded or clamped: a discount larger than the gross yields a
// negative taxable subtotal. Inputs that overflow float64 price as zero.
func ComputeLineItem(quantity, unitPrice, discountValue float64, discountType DiscountType, taxRatePercent float64) Breakdown {
	gross := quantity * unitPrice
	discount := discountValue
	if discountType != DiscountAmount {
		discount = gross * discountValue / 100
	}
	taxable := gross - discount
	tax := taxable * taxRatePercent / 100
	b := Breakdown{
		Gross:           gross,
		DiscountAmount:  discount,
		TaxableSubtotal: taxable,
		TaxAmount:       tax,
		LineTotal:       taxable + tax,
	}
	if !finite(b.Gross, b.DiscountAmount, b.TaxableSubtotal, b.TaxAmount, b.LineTotal) {
		return Breakdown{}
	}
	return b
}

func finite(vs ...float64) bool {
	for _, v := range vs {
		if math.IsInf(v, 0) || math.IsNaN(v) {
			return false
		}
	}
	return true
}

// ComputeRaw coerces and prices raw form values with the live strategy.
func ComputeRaw(in LineInput, qtyFallback float64) Breakdown {
	return Live{}.Price(in.Normalize(qtyFallback))
}

// ComputeInvoiceTotals sums line breakdowns and subtracts the invoice-level
// discount once. The grand total is not clamped at zero. Lines or a discount
// that are not finite count as zero, as does a sum that overflows.
func ComputeInvoiceTotals(lines []Breakdown, invoiceDiscount float64) Totals {
	if !finite(invoiceDiscount) {
		invoiceDiscount = 0
	}
	var t Totals
	for _, b := range lines {
		if !finite(b.DiscountAmount, b.TaxableSubtotal, b.TaxAmount) {
			continue
		}
		t.Subtotal += b.TaxableSubtotal
		t.TaxTotal += b.TaxAmount
		t.LineDiscountTotal += b.DiscountAmount
	}
	t.InvoiceDiscount = invoiceDiscount
	t.GrandTotal = t.Subtotal + t.TaxTotal - invoiceDiscount
	if !finite(t.Subtotal, t.TaxTotal, t.LineDiscountTotal, t.GrandTotal) {
		return Totals{InvoiceDiscount: invoiceDiscount}
	}
	return t
}

// Strategy prices a coerced line.
type Strategy interface {
	Name() string
	Price(Line) Breakdown
}

// Live prices the values currently in the form.
type Live struct{}

// Name implements Strategy.
func (Live) Name() string { return "live" }

// Price implements Strategy.
func (Live) Price(l Line) Breakdown {
	return ComputeLineItem(l.Quantity, l.UnitPrice, l.DiscountValue, l.DiscountType, l.TaxRatePercent)
}

// Snapshot prices from the unit price and tax rate captured when the product
// was added (the ERP form behaviour), falling back to live values when no
// snapshot exists.
type Snapshot struct{}

// Name implements Strategy.
func (Snapshot) Name() string { return "snapshot" }

// Price implements Strategy.
func (Snapshot) Price(l Line) Breakdown {
	price := l.UnitPrice
	if l.UnitPriceSnapshot != nil {
		price = *l.UnitPriceSnapshot
	}
	rate := l.TaxRatePercent
	if l.TaxRateSnapshot != nil {
		rate = *l.TaxRateSnapshot
	}
	return ComputeLineItem(l.Quantity, price, l.DiscountValue, l.DiscountType, rate)
}

// StrategyFor resolves a strategy by name. Empty selects Live.
func StrategyFor(name string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "live":
		return Live{}, nil
	case "snapshot", "erp":
		return Snapshot{}, nil
	default:
		return nil, ErrUnknownStrategy
	}
}

// Engine is the single entry point used wherever pricing is needed.
type Engine struct {
	Strategy Strategy
}

// NewEngine returns an engine using s, or Live when s is nil.
func NewEngine(s Strategy) Engine {
	if s == nil {
		s = Live{}
	}
	return Engine{Strategy: s}
}

func (e Engine) strategy() Strategy {
	if e.Strategy == nil {
		return Live{}
	}
	return e.Strategy
}

// Line prices one line.
func (e Engine) Line(l Line) Breakdown {
	return e.strategy().Price(l)
}

// Lines prices every line, preserving order.
func (e Engine) Lines(lines []Line) []Breakdown {
	out := make([]Breakdown, 0, len(lines))
	s := e.strategy()
	for _, l := range lines {
		out = append(out, s.Price(l))
	}
	return out
}

// Quote prices all lines and aggregates them. Nothing is cached between calls.
func (e Engine) Quote(lines []Line, invoiceDiscount float64) ([]Breakdown, Totals) {
	breakdowns := e.Lines(lines)
	return breakdowns, ComputeInvoiceTotals(breakdowns, invoiceDiscount)
}

// Totals returns only the aggregate of lines.
func (e Engine) Totals(lines []Line, invoiceDiscount float64) Totals {
	_, totals := e.Quote(lines, invoiceDiscount)
	return totals
}

// NegativeLines counts breakdowns whose taxable subtotal went below zero.
func NegativeLines(lines []Breakdown) int {
	n := 0
	for _, b := range lines {
		if b.TaxableSubtotal < 0 {
			n++
		}
	}
	return n
}
