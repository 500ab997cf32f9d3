package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/noah-isme/invoice-pricing/internal/invoice"
	"github.com/noah-isme/invoice-pricing/internal/obs"
	"github.com/noah-isme/invoice-pricing/internal/resilience"
)

var (
	// ErrRejected is returned when the backend refused the submission (4xx).
	ErrRejected = errors.New("backend: submission rejected")
	// ErrUnavailable is returned when the backend could not be reached or kept failing.
	ErrUnavailable = errors.New("backend: unavailable")
)

// RejectedError carries the backend's explanation of a 4xx response.
type RejectedError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *RejectedError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.Status)
	}
	return fmt.Sprintf("backend: rejected with %d: %s", e.Status, msg)
}

// Unwrap lets errors.Is match ErrRejected.
func (e *RejectedError) Unwrap() error { return ErrRejected }

// Receipt identifies the invoice the backend created.
type Receipt struct {
	ID     string `json:"id"`
	Number string `json:"number,omitempty"`
	Status string `json:"status,omitempty"`
}

// Doer executes outbound requests. *resilience.HTTPClient satisfies it.
type Doer interface {
	Do(ctx context.Context, req *http.Request) (*http.Response, error)
}

// Client talks to the invoicing backend.
type Client struct {
	BaseURL      string
	HTTP         Doer
	TenantHeader string
	Logger       zerolog.Logger
}

// Options configures NewClient.
type Options struct {
	BaseURL      string
	TenantHeader string
	Timeout      time.Duration
	MaxAttempts  int
	BaseBackoff  time.Duration
	Jitter       float64
	Breaker      *resilience.Breaker
	Logger       zerolog.Logger
}

// NewClient builds a backend client whose transport is traced and whose calls
// go through retry, timeout and the circuit breaker.
func NewClient(opts Options) *Client {
	header := strings.TrimSpace(opts.TenantHeader)
	if header == "" {
		header = "X-Tenant-ID"
	}
	logger := opts.Logger.With().Str("component", "backend").Logger()
	return &Client{
		BaseURL:      strings.TrimRight(opts.BaseURL, "/"),
		TenantHeader: header,
		Logger:       logger,
		HTTP: &resilience.HTTPClient{
			Client:      &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
			Breaker:     opts.Breaker,
			BaseBackoff: opts.BaseBackoff,
			MaxAttempts: opts.MaxAttempts,
			Jitter:      opts.Jitter,
			Timeout:     opts.Timeout,
			Target:      "backend",
			Logger:      &logger,
		},
	}
}

// Submit posts sub to the collection matching its kind.
func (c *Client) Submit(ctx context.Context, tenantID, idempotencyKey string, sub invoice.Submission) (Receipt, error) {
	endpoint := sub.Endpoint()
	ctx, span := otel.Tracer("backend.Client").Start(ctx, "Client.Submit")
	defer span.End()
	span.SetAttributes(
		attribute.String("invoice.endpoint", endpoint),
		attribute.Int("invoice.items", len(sub.Items)),
	)

	body, err := json.Marshal(sub)
	if err != nil {
		return Receipt{}, fmt.Errorf("encode submission: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/"+endpoint, bytes.NewReader(body))
	if err != nil {
		return Receipt{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if tenantID != "" {
		req.Header.Set(c.TenantHeader, tenantID)
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	start := time.Now()
	resp, err := c.HTTP.Do(ctx, req)
	if err != nil {
		obs.ObserveBackend(endpoint, "error", time.Since(start))
		span.RecordError(err)
		span.SetStatus(codes.Error, "backend unavailable")
		c.Logger.Warn().Err(err).Str("tenant_id", tenantID).Str("endpoint", endpoint).Msg("backend submission failed")
		return Receipt{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		obs.ObserveBackend(endpoint, "error", time.Since(start))
		return Receipt{}, fmt.Errorf("%w: read response: %w", ErrUnavailable, err)
	}
	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))

	if resp.StatusCode >= 400 {
		obs.ObserveBackend(endpoint, "rejected", time.Since(start))
		rejected := decodeRejection(resp.StatusCode, raw)
		span.SetStatus(codes.Error, "rejected")
		c.Logger.Info().Str("tenant_id", tenantID).Int("status", resp.StatusCode).Str("code", rejected.Code).Msg("backend rejected submission")
		return Receipt{}, rejected
	}
	obs.ObserveBackend(endpoint, "ok", time.Since(start))
	receipt, err := decodeReceipt(raw)
	if err != nil {
		return Receipt{}, fmt.Errorf("decode receipt: %w", err)
	}
	return receipt, nil
}

// Ping reports whether the backend answers at all. Any response below 500 counts.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL, nil)
	if err != nil {
		return err
	}
	resp, err := c.HTTP.Do(ctx, req)
	if err != nil {
		return err
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
	_ = resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("backend: status %d", resp.StatusCode)
	}
	return nil
}

type receiptWire struct {
	ID            json.RawMessage `json:"id"`
	Number        json.RawMessage `json:"number"`
	InvoiceNumber json.RawMessage `json:"invoiceNumber"`
	Status        json.RawMessage `json:"status"`
}

// decodeReceipt accepts both {"data":{...}} envelopes and bare objects, with
// numeric or string identifiers.
func decodeReceipt(raw []byte) (Receipt, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return Receipt{}, nil
	}
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return Receipt{}, err
	}
	if len(envelope.Data) > 0 && string(envelope.Data) != "null" {
		raw = envelope.Data
	}
	var wire receiptWire
	if err := json.Unmarshal(raw, &wire); err != nil {
		return Receipt{}, err
	}
	number := scalar(wire.Number)
	if number == "" {
		number = scalar(wire.InvoiceNumber)
	}
	return Receipt{ID: scalar(wire.ID), Number: number, Status: scalar(wire.Status)}, nil
}

func scalar(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return strings.TrimSpace(string(raw))
}

func decodeRejection(status int, raw []byte) *RejectedError {
	out := &RejectedError{Status: status}
	var body struct {
		Error   json.RawMessage `json:"error"`
		Message string          `json:"message"`
		Code    string          `json:"code"`
		Details any             `json:"details"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		out.Message = strings.TrimSpace(string(raw))
		return out
	}
	out.Code, out.Message, out.Details = body.Code, body.Message, body.Details
	if len(body.Error) > 0 {
		var nested struct {
			Code    string `json:"code"`
			Message string `json:"message"`
			Details any    `json:"details"`
		}
		if err := json.Unmarshal(body.Error, &nested); err == nil {
			out.Code, out.Message, out.Details = nested.Code, nested.Message, nested.Details
		} else {
			out.Message = scalar(body.Error)
		}
	}
	if out.Code == "" {
		out.Code = strconv.Itoa(status)
	}
	return out
}
