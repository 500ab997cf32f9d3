package draft

import (
	"bytes"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	validator "github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/noah-isme/invoice-pricing/internal/backend"
	"github.com/noah-isme/invoice-pricing/internal/common"
	"github.com/noah-isme/invoice-pricing/internal/invoice"
	"github.com/noah-isme/invoice-pricing/internal/pricing"
	"github.com/noah-isme/invoice-pricing/internal/render"
)

// Handler exposes draft session endpoints under /api/v1/drafts.
type Handler struct {
	Service  *Service
	Currency string
	Validate *validator.Validate
	Logger   zerolog.Logger
}

type openRequest struct {
	Kind     string `json:"kind"`
	Strategy string `json:"strategy"`
}

type discountRequest struct {
	InvoiceDiscount pricing.Number `json:"invoiceDiscount"`
}

type detailsRequest struct {
	CustomerID int64  `json:"customerId" validate:"gte=0"`
	Status     string `json:"status" validate:"omitempty,oneof=draft pending paid overdue cancelled"`
	DueDate    string `json:"dueDate" validate:"omitempty,datetime=2006-01-02"`
	Notes      string `json:"notes" validate:"max=2000"`
	Reason     string `json:"reason" validate:"max=500"`
}

// Open handles POST /api/v1/drafts.
func (h *Handler) Open(w http.ResponseWriter, r *http.Request) {
	var req openRequest
	if !common.DecodeJSON(w, r, &req, true) {
		return
	}
	kind, err := invoice.ParseKind(req.Kind)
	if err != nil {
		h.writeError(w, err)
		return
	}
	d, err := h.Service.Open(r.Context(), kind, req.Strategy)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeDraft(w, http.StatusCreated, d)
}

// Get handles GET /api/v1/drafts/{id}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	d, err := h.Service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeDraft(w, http.StatusOK, d)
}

// Discard handles DELETE /api/v1/drafts/{id}.
func (h *Handler) Discard(w http.ResponseWriter, r *http.Request) {
	if err := h.Service.Discard(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AddItem handles POST /api/v1/drafts/{id}/items.
func (h *Handler) AddItem(w http.ResponseWriter, r *http.Request) {
	var item invoice.Item
	if !common.DecodeJSON(w, r, &item, false) {
		return
	}
	d, err := h.Service.AddItem(r.Context(), chi.URLParam(r, "id"), item)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeDraft(w, http.StatusCreated, d)
}

// UpdateItem handles PATCH /api/v1/drafts/{id}/items/{rowId}.
func (h *Handler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	var patch invoice.ItemPatch
	if !common.DecodeJSON(w, r, &patch, false) {
		return
	}
	d, err := h.Service.UpdateItem(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "rowId"), patch)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeDraft(w, http.StatusOK, d)
}

// RemoveItem handles DELETE /api/v1/drafts/{id}/items/{rowId}.
func (h *Handler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	d, err := h.Service.RemoveItem(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "rowId"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeDraft(w, http.StatusOK, d)
}

// SetDiscount handles PUT /api/v1/drafts/{id}/discount.
func (h *Handler) SetDiscount(w http.ResponseWriter, r *http.Request) {
	var req discountRequest
	if !common.DecodeJSON(w, r, &req, false) {
		return
	}
	d, err := h.Service.SetDiscount(r.Context(), chi.URLParam(r, "id"), req.InvoiceDiscount)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeDraft(w, http.StatusOK, d)
}

// SetDetails handles PUT /api/v1/drafts/{id}/details.
func (h *Handler) SetDetails(w http.ResponseWriter, r *http.Request) {
	var req detailsRequest
	if !common.DecodeJSON(w, r, &req, false) {
		return
	}
	if h.Validate != nil {
		if err := h.Validate.Struct(req); err != nil {
			h.writeError(w, common.ValidationError(err))
			return
		}
	}
	d, err := h.Service.SetDetails(r.Context(), chi.URLParam(r, "id"), invoice.Details{
		CustomerID: req.CustomerID,
		Status:     invoice.Status(req.Status),
		DueDate:    req.DueDate,
		Notes:      req.Notes,
		Reason:     req.Reason,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeDraft(w, http.StatusOK, d)
}

// Quote handles GET /api/v1/drafts/{id}/quote.
func (h *Handler) Quote(w http.ResponseWriter, r *http.Request) {
	_, q, err := h.Service.Quote(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.Data(w, http.StatusOK, h.quoteView(q))
}

// QuotePDF handles GET /api/v1/drafts/{id}/quote.pdf.
func (h *Handler) QuotePDF(w http.ResponseWriter, r *http.Request) {
	d, q, err := h.Service.Quote(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	var buf bytes.Buffer
	if err := render.QuotePDF(&buf, d, q, h.Currency); err != nil {
		h.Logger.Error().Err(err).Str("draft_id", d.ID).Msg("render quote pdf")
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "could not render quote", nil)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `inline; filename="quote-`+d.ID+`.pdf"`)
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

// Submit handles POST /api/v1/drafts/{id}/submit.
func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	res, err := h.Service.Submit(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	status := http.StatusCreated
	if res.TaskID != "" {
		status = http.StatusAccepted
	}
	common.Data(w, status, res)
}

func (h *Handler) writeDraft(w http.ResponseWriter, status int, d invoice.Draft) {
	common.JSON(w, status, map[string]any{
		"data": map[string]any{
			"draft": d,
			"quote": h.quoteView(d.Quote()),
		},
	})
}

func (h *Handler) quoteView(q invoice.Quote) map[string]any {
	return map[string]any{
		"strategy":  q.Strategy,
		"lines":     q.Lines,
		"totals":    q.Totals,
		"display":   q.Display(),
		"formatted": pricing.FormatTotals(q.Totals, h.Currency),
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	if common.WriteAppError(w, err) {
		return
	}
	var validationErr *invoice.ValidationError
	var rejected *backend.RejectedError
	switch {
	case errors.Is(err, ErrNotFound):
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "draft not found", nil)
	case errors.Is(err, invoice.ErrItemNotFound):
		common.JSONError(w, http.StatusNotFound, "ITEM_NOT_FOUND", "item not found", nil)
	case errors.Is(err, invoice.ErrInvalidKind):
		common.JSONError(w, http.StatusBadRequest, "INVALID_KIND", err.Error(), nil)
	case errors.Is(err, pricing.ErrUnknownStrategy):
		common.JSONError(w, http.StatusBadRequest, "UNKNOWN_STRATEGY", err.Error(), nil)
	case errors.As(err, &validationErr):
		common.JSONError(w, http.StatusUnprocessableEntity, "VALIDATION_FAILED", "draft is not ready to submit", validationErr.Fields)
	case errors.As(err, &rejected):
		common.JSONError(w, http.StatusUnprocessableEntity, "BACKEND_REJECTED", rejected.Message, map[string]any{
			"status":  rejected.Status,
			"code":    rejected.Code,
			"details": rejected.Details,
		})
	case errors.Is(err, backend.ErrUnavailable):
		common.JSONError(w, http.StatusBadGateway, "BACKEND_UNAVAILABLE", "invoicing backend unavailable", nil)
	case errors.Is(err, ErrBusy):
		common.JSONError(w, http.StatusConflict, "DRAFT_BUSY", "draft is being modified by another request", nil)
	default:
		h.Logger.Error().Err(err).Msg("draft request failed")
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "internal error", nil)
	}
}
