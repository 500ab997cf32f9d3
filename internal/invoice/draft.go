package invoice

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/invoice-pricing/internal/pricing"
)

var (
	// ErrItemNotFound is returned when a row id does not exist on the draft.
	ErrItemNotFound = errors.New("invoice: item not found")
	// ErrInvalidKind is returned for unsupported draft kinds.
	ErrInvalidKind = errors.New("invoice: invalid kind")
)

// Kind distinguishes sales invoices from returns.
type Kind string

const (
	KindInvoice Kind = "invoice"
	KindReturn  Kind = "return"
)

// ParseKind validates a kind. Empty means KindInvoice.
func ParseKind(value string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", string(KindInvoice):
		return KindInvoice, nil
	case string(KindReturn):
		return KindReturn, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidKind, value)
	}
}

// Status is the lifecycle status submitted with the invoice.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusPending   Status = "pending"
	StatusPaid      Status = "paid"
	StatusOverdue   Status = "overdue"
	StatusCancelled Status = "cancelled"
)

// Item is one editable row of a draft. Pricing fields keep the raw form text.
type Item struct {
	RowID       string `json:"rowId"`
	ProductID   int64  `json:"productId"`
	Description string `json:"description,omitempty"`
	pricing.LineInput
}

// ItemPatch carries the fields changed by one edit. Unset fields are left alone.
type ItemPatch struct {
	ProductID         *int64                `json:"productId"`
	Description       *string               `json:"description"`
	Quantity          pricing.Number        `json:"quantity"`
	UnitPrice         pricing.Number        `json:"unitPrice"`
	DiscountValue     pricing.Number        `json:"discount"`
	DiscountType      *pricing.DiscountType `json:"discountType"`
	TaxRatePercent    pricing.Number        `json:"taxRate"`
	UnitPriceSnapshot pricing.Number        `json:"unitPriceSnapshot"`
	TaxRateSnapshot   pricing.Number        `json:"taxRateSnapshot"`
}

// Details holds the non-pricing metadata of an invoice.
type Details struct {
	CustomerID int64  `json:"customerId"`
	Status     Status `json:"status"`
	DueDate    string `json:"dueDate,omitempty"`
	Notes      string `json:"notes,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

// Draft is the explicit state of one invoice being composed. Every operation
// takes a Draft and returns a new one; the receiver is never modified.
type Draft struct {
	ID              string         `json:"id"`
	TenantID        string         `json:"tenantId"`
	Kind            Kind           `json:"kind"`
	Strategy        string         `json:"strategy"`
	Details         Details        `json:"details"`
	Items           []Item         `json:"items"`
	InvoiceDiscount pricing.Number `json:"invoiceDiscount"`
	CreatedAt       time.Time      `json:"createdAt"`
	UpdatedAt       time.Time      `json:"updatedAt"`
}

// New opens an empty draft.
func New(tenantID string, kind Kind, strategy string, now time.Time) (Draft, error) {
	if kind == "" {
		kind = KindInvoice
	}
	if kind != KindInvoice && kind != KindReturn {
		return Draft{}, fmt.Errorf("%w: %q", ErrInvalidKind, kind)
	}
	s, err := pricing.StrategyFor(strategy)
	if err != nil {
		return Draft{}, err
	}
	now = now.UTC()
	return Draft{
		ID:        uuid.NewString(),
		TenantID:  tenantID,
		Kind:      kind,
		Strategy:  s.Name(),
		Details:   Details{Status: StatusDraft},
		Items:     []Item{},
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (d Draft) clone() Draft {
	items := make([]Item, len(d.Items))
	copy(items, d.Items)
	d.Items = items
	return d
}

// Touch returns d with UpdatedAt set to now.
func (d Draft) Touch(now time.Time) Draft {
	d.UpdatedAt = now.UTC()
	return d
}

// AddItem appends a row under a newly generated row id; any id carried by
// item is replaced. A missing or unparseable quantity becomes 1, the value a
// freshly created row starts with.
func (d Draft) AddItem(item Item) Draft {
	out := d.clone()
	item.RowID = uuid.NewString()
	if math.IsNaN(item.Quantity.Float(math.NaN())) {
		item.Quantity = pricing.NumberOf(pricing.QuantityFallbackNewRow)
	}
	out.Items = append(out.Items, item)
	return out
}

// UpdateItem applies patch to the row identified by rowID.
func (d Draft) UpdateItem(rowID string, patch ItemPatch) (Draft, error) {
	idx := d.indexOf(rowID)
	if idx < 0 {
		return d, fmt.Errorf("%w: %s", ErrItemNotFound, rowID)
	}
	out := d.clone()
	item := out.Items[idx]
	if patch.ProductID != nil {
		item.ProductID = *patch.ProductID
	}
	if patch.Description != nil {
		item.Description = *patch.Description
	}
	if patch.Quantity.IsSet() {
		item.Quantity = patch.Quantity
	}
	if patch.UnitPrice.IsSet() {
		item.UnitPrice = patch.UnitPrice
	}
	if patch.DiscountValue.IsSet() {
		item.DiscountValue = patch.DiscountValue
	}
	if patch.DiscountType != nil {
		item.DiscountType = *patch.DiscountType
	}
	if patch.TaxRatePercent.IsSet() {
		item.TaxRatePercent = patch.TaxRatePercent
	}
	if patch.UnitPriceSnapshot.IsSet() {
		item.UnitPriceSnapshot = patch.UnitPriceSnapshot
	}
	if patch.TaxRateSnapshot.IsSet() {
		item.TaxRateSnapshot = patch.TaxRateSnapshot
	}
	out.Items[idx] = item
	return out, nil
}

// RemoveItem drops the row identified by rowID, keeping the order of the rest.
func (d Draft) RemoveItem(rowID string) (Draft, error) {
	idx := d.indexOf(rowID)
	if idx < 0 {
		return d, fmt.Errorf("%w: %s", ErrItemNotFound, rowID)
	}
	out := d
	out.Items = make([]Item, 0, len(d.Items)-1)
	out.Items = append(out.Items, d.Items[:idx]...)
	out.Items = append(out.Items, d.Items[idx+1:]...)
	return out, nil
}

// SetInvoiceDiscount replaces the invoice-level discount.
func (d Draft) SetInvoiceDiscount(v pricing.Number) Draft {
	out := d.clone()
	out.InvoiceDiscount = v
	return out
}

// SetDetails replaces the invoice metadata. An empty status keeps the current one.
func (d Draft) SetDetails(details Details) Draft {
	out := d.clone()
	if details.Status == "" {
		details.Status = d.Details.Status
	}
	details.Status = Status(strings.ToLower(strings.TrimSpace(string(details.Status))))
	out.Details = details
	return out
}

// Item returns the row identified by rowID.
func (d Draft) Item(rowID string) (Item, bool) {
	idx := d.indexOf(rowID)
	if idx < 0 {
		return Item{}, false
	}
	return d.Items[idx], true
}

func (d Draft) indexOf(rowID string) int {
	for i, item := range d.Items {
		if item.RowID == rowID {
			return i
		}
	}
	return -1
}

// Engine returns the pricing engine selected for the draft.
func (d Draft) Engine() pricing.Engine {
	s, err := pricing.StrategyFor(d.Strategy)
	if err != nil {
		s = pricing.Live{}
	}
	return pricing.NewEngine(s)
}

// Lines coerces every row for pricing. Stored rows are existing rows, so an
// unparseable quantity counts as zero.
func (d Draft) Lines() []pricing.Line {
	lines := make([]pricing.Line, 0, len(d.Items))
	for _, item := range d.Items {
		lines = append(lines, item.Normalize(pricing.QuantityFallbackEdit))
	}
	return lines
}

// QuoteLine is the priced form of one row.
type QuoteLine struct {
	RowID string `json:"rowId"`
	pricing.Breakdown
}

// Quote is the full pricing of a draft.
type Quote struct {
	Strategy string         `json:"strategy"`
	Lines    []QuoteLine    `json:"lines"`
	Totals   pricing.Totals `json:"totals"`
}

// Quote prices every row and aggregates totals. It is recomputed on each call.
func (d Draft) Quote() Quote {
	engine := d.Engine()
	breakdowns, totals := engine.Quote(d.Lines(), d.InvoiceDiscount.Float(0))
	lines := make([]QuoteLine, 0, len(breakdowns))
	for i, b := range breakdowns {
		lines = append(lines, QuoteLine{RowID: d.Items[i].RowID, Breakdown: b})
	}
	return Quote{Strategy: engine.Strategy.Name(), Lines: lines, Totals: totals}
}

// Breakdowns returns the per-line breakdowns in row order.
func (q Quote) Breakdowns() []pricing.Breakdown {
	out := make([]pricing.Breakdown, 0, len(q.Lines))
	for _, l := range q.Lines {
		out = append(out, l.Breakdown)
	}
	return out
}

// Display returns a copy rounded for presentation.
func (q Quote) Display() Quote {
	lines := make([]QuoteLine, 0, len(q.Lines))
	for _, l := range q.Lines {
		lines = append(lines, QuoteLine{RowID: l.RowID, Breakdown: l.Breakdown.Display()})
	}
	return Quote{Strategy: q.Strategy, Lines: lines, Totals: q.Totals.Display()}
}
