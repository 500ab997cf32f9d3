package pricing

import (
	"errors"
	"net/http"

	validator "github.com/go-playground/validator/v10"

	"github.com/noah-isme/invoice-pricing/internal/common"
	"github.com/noah-isme/invoice-pricing/internal/obs"
)

// Handler exposes stateless pricing endpoints used by the invoice forms.
type Handler struct {
	// Strategy is used when a request does not name one.
	Strategy Strategy
	Currency string
	Validate *validator.Validate
}

type lineRequest struct {
	LineInput
	NewRow   bool   `json:"newRow"`
	Strategy string `json:"strategy"`
}

type totalsRequest struct {
	Lines           []LineInput `json:"lines" validate:"max=1000"`
	InvoiceDiscount Number      `json:"invoiceDiscount"`
	Strategy        string      `json:"strategy"`
}

// Line handles POST /api/v1/pricing/line.
func (h *Handler) Line(w http.ResponseWriter, r *http.Request) {
	var req lineRequest
	if !common.DecodeJSON(w, r, &req, false) {
		return
	}
	engine, err := h.engine(req.Strategy)
	if err != nil {
		h.writeError(w, err)
		return
	}
	fallback := QuantityFallbackEdit
	if req.NewRow {
		fallback = QuantityFallbackNewRow
	}
	b := engine.Line(req.Normalize(fallback))
	negative := 0
	if b.TaxableSubtotal < 0 {
		negative = 1
	}
	obs.ObservePricing(engine.Strategy.Name(), 1, negative)

	common.JSON(w, http.StatusOK, map[string]any{
		"data": map[string]any{
			"strategy":  engine.Strategy.Name(),
			"breakdown": b,
			"display":   b.Display(),
			"formatted": map[string]string{
				"lineTotal": FormatAmount(b.LineTotal, h.Currency),
			},
		},
	})
}

// Totals handles POST /api/v1/pricing/totals.
func (h *Handler) Totals(w http.ResponseWriter, r *http.Request) {
	var req totalsRequest
	if !common.DecodeJSON(w, r, &req, false) {
		return
	}
	if h.Validate != nil {
		if err := h.Validate.Struct(req); err != nil {
			h.writeError(w, common.ValidationError(err))
			return
		}
	}
	engine, err := h.engine(req.Strategy)
	if err != nil {
		h.writeError(w, err)
		return
	}
	lines := make([]Line, 0, len(req.Lines))
	for _, in := range req.Lines {
		lines = append(lines, in.Normalize(QuantityFallbackEdit))
	}
	breakdowns, totals := engine.Quote(lines, req.InvoiceDiscount.Float(0))
	obs.ObservePricing(engine.Strategy.Name(), len(breakdowns), NegativeLines(breakdowns))
	obs.RecordQuote(r.Context(), "stateless", engine.Strategy.Name())

	display := make([]Breakdown, 0, len(breakdowns))
	for _, b := range breakdowns {
		display = append(display, b.Display())
	}
	common.JSON(w, http.StatusOK, map[string]any{
		"data": map[string]any{
			"strategy": engine.Strategy.Name(),
			"lines":    breakdowns,
			"totals":   totals,
			"display": map[string]any{
				"lines":  display,
				"totals": totals.Display(),
			},
			"formatted": FormatTotals(totals, h.Currency),
		},
	})
}

// FormatTotals renders the headline totals as currency strings.
func FormatTotals(t Totals, code string) map[string]string {
	return map[string]string{
		"subtotal":        FormatAmount(t.Subtotal, code),
		"taxTotal":        FormatAmount(t.TaxTotal, code),
		"invoiceDiscount": FormatAmount(t.InvoiceDiscount, code),
		"grandTotal":      FormatAmount(t.GrandTotal, code),
	}
}

func (h *Handler) engine(name string) (Engine, error) {
	if name == "" && h.Strategy != nil {
		return NewEngine(h.Strategy), nil
	}
	s, err := StrategyFor(name)
	if err != nil {
		return Engine{}, err
	}
	return NewEngine(s), nil
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	if common.WriteAppError(w, err) {
		return
	}
	switch {
	case errors.Is(err, ErrUnknownStrategy):
		common.JSONError(w, http.StatusBadRequest, "UNKNOWN_STRATEGY", err.Error(), nil)
	default:
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "internal error", nil)
	}
}
