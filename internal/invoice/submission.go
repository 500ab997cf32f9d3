package invoice

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	validator "github.com/go-playground/validator/v10"

	"github.com/noah-isme/invoice-pricing/internal/common"
	"github.com/noah-isme/invoice-pricing/internal/pricing"
)

// ErrValidation marks a draft that cannot be submitted yet.
var ErrValidation = errors.New("invoice: validation failed")

// ValidationError lists the fields that blocked a submission.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	if e == nil || len(e.Fields) == 0 {
		return ErrValidation.Error()
	}
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return fmt.Sprintf("%s (%s)", ErrValidation.Error(), strings.Join(parts, ", "))
}

// Unwrap lets errors.Is match ErrValidation.
func (e *ValidationError) Unwrap() error { return ErrValidation }

// SubmissionItem is one line as sent to the invoicing backend.
type SubmissionItem struct {
	ProductID         int64                `json:"productId" validate:"required,gt=0"`
	Quantity          float64              `json:"quantity" validate:"gte=0"`
	UnitPrice         float64              `json:"unitPrice" validate:"gt=0"`
	UnitPriceSnapshot float64              `json:"unitPriceSnapshot"`
	Discount          float64              `json:"discount" validate:"gte=0"`
	DiscountType      pricing.DiscountType `json:"discountType" validate:"oneof=percentage amount"`
	TaxRate           float64              `json:"taxRate" validate:"gte=0"`
}

// Submission is the payload handed to the invoicing backend. Amounts are sent
// unrounded; the backend recomputes them.
type Submission struct {
	Kind       Kind             `json:"-"`
	CustomerID int64            `json:"customerId" validate:"required,gt=0"`
	Status     Status           `json:"status" validate:"oneof=draft pending paid overdue cancelled"`
	DueDate    string           `json:"dueDate,omitempty" validate:"omitempty,datetime=2006-01-02"`
	Notes      string           `json:"notes,omitempty" validate:"max=2000"`
	Reason     string           `json:"reason,omitempty" validate:"required_if=Kind return,max=500"`
	Subtotal   float64          `json:"subtotal"`
	TaxAmount  float64          `json:"taxAmount"`
	Discount   float64          `json:"discount"`
	Total      float64          `json:"total"`
	Items      []SubmissionItem `json:"items" validate:"required,min=1,dive"`
}

// Endpoint is the backend collection the submission belongs to.
func (s Submission) Endpoint() string {
	if s.Kind == KindReturn {
		return "returns"
	}
	return "invoices"
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func submissionValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = common.NewValidator()
	})
	return validate
}

// BuildSubmission validates the draft and produces the backend payload with
// totals computed by the draft's pricing strategy.
func BuildSubmission(d Draft) (Submission, error) {
	quote := d.Quote()
	lines := d.Lines()

	sub := Submission{
		Kind:       d.Kind,
		CustomerID: d.Details.CustomerID,
		Status:     d.Details.Status,
		DueDate:    strings.TrimSpace(d.Details.DueDate),
		Notes:      d.Details.Notes,
		Reason:     strings.TrimSpace(d.Details.Reason),
		Subtotal:   quote.Totals.Subtotal,
		TaxAmount:  quote.Totals.TaxTotal,
		Discount:   quote.Totals.InvoiceDiscount,
		Total:      quote.Totals.GrandTotal,
		Items:      make([]SubmissionItem, 0, len(d.Items)),
	}
	if sub.Status == "" {
		sub.Status = StatusDraft
	}
	for i, item := range d.Items {
		line := lines[i]
		price, rate := line.UnitPrice, line.TaxRatePercent
		snapshot := price
		if line.UnitPriceSnapshot != nil {
			snapshot = *line.UnitPriceSnapshot
		}
		if quote.Strategy == (pricing.Snapshot{}).Name() {
			price = snapshot
			if line.TaxRateSnapshot != nil {
				rate = *line.TaxRateSnapshot
			}
		}
		sub.Items = append(sub.Items, SubmissionItem{
			ProductID:         item.ProductID,
			Quantity:          line.Quantity,
			UnitPrice:         price,
			UnitPriceSnapshot: snapshot,
			Discount:          line.DiscountValue,
			DiscountType:      line.DiscountType,
			TaxRate:           rate,
		})
	}

	if err := submissionValidator().Struct(sub); err != nil {
		return Submission{}, &ValidationError{Fields: common.ValidationDetails(err)}
	}
	return sub, nil
}
