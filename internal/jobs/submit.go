package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/noah-isme/invoice-pricing/internal/backend"
	"github.com/noah-isme/invoice-pricing/internal/invoice"
	"github.com/noah-isme/invoice-pricing/internal/obs"
	"github.com/noah-isme/invoice-pricing/internal/tenant"
)

// TypeSubmitInvoice delivers a validated draft to the invoicing backend.
const TypeSubmitInvoice = "invoice:submit"

// SubmitPayload is the task body of TypeSubmitInvoice.
type SubmitPayload struct {
	TenantID   string             `json:"tenantId"`
	DraftID    string             `json:"draftId"`
	Kind       invoice.Kind       `json:"kind"`
	Submission invoice.Submission `json:"submission"`
}

// NewSubmitTask builds the task for one submission.
func NewSubmitTask(tenantID, draftID string, sub invoice.Submission, opts ...asynq.Option) (*asynq.Task, error) {
	payload, err := json.Marshal(SubmitPayload{TenantID: tenantID, DraftID: draftID, Kind: sub.Kind, Submission: sub})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeSubmitInvoice, payload, opts...), nil
}

// ParseSubmitPayload decodes a task body, restoring the submission kind.
func ParseSubmitPayload(t *asynq.Task) (SubmitPayload, error) {
	var p SubmitPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return SubmitPayload{}, err
	}
	if p.DraftID == "" {
		return SubmitPayload{}, errors.New("submit payload without draft id")
	}
	p.Submission.Kind = p.Kind
	return p, nil
}

// SubmitTaskID is the asynq task id for a draft; one draft is queued at most once.
func SubmitTaskID(tenantID, draftID string) string {
	return tenant.PrefixKey(tenantID, TypeSubmitInvoice+":"+draftID)
}

// Enqueuer schedules submissions on asynq.
type Enqueuer struct {
	Client    *asynq.Client
	Queue     string
	MaxRetry  int
	Retention time.Duration
}

// EnqueueSubmit queues sub and returns the task id. Queuing the same draft
// twice returns the existing id.
func (e Enqueuer) EnqueueSubmit(ctx context.Context, tenantID, draftID string, sub invoice.Submission) (string, error) {
	if e.Client == nil {
		return "", errors.New("jobs: asynq client not configured")
	}
	id := SubmitTaskID(tenantID, draftID)
	opts := []asynq.Option{asynq.TaskID(id)}
	if e.Queue != "" {
		opts = append(opts, asynq.Queue(e.Queue))
	}
	if e.MaxRetry > 0 {
		opts = append(opts, asynq.MaxRetry(e.MaxRetry))
	}
	if e.Retention > 0 {
		opts = append(opts, asynq.Retention(e.Retention))
	}
	task, err := NewSubmitTask(tenantID, draftID, sub, opts...)
	if err != nil {
		return "", fmt.Errorf("build task: %w", err)
	}
	info, err := e.Client.EnqueueContext(ctx, task)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			return id, nil
		}
		return "", err
	}
	return info.ID, nil
}

// Processor handles TypeSubmitInvoice tasks.
type Processor struct {
	Submitter backend.Submitter
	Logger    zerolog.Logger
}

// ProcessTask submits the payload. Malformed payloads and backend rejections
// are not retried; transport failures are.
func (p *Processor) ProcessTask(ctx context.Context, t *asynq.Task) error {
	payload, err := ParseSubmitPayload(t)
	if err != nil {
		obs.ObserveSubmission("worker", "invalid")
		return fmt.Errorf("decode %s: %v: %w", t.Type(), err, asynq.SkipRetry)
	}
	ctx = tenant.With(ctx, payload.TenantID)
	log := p.Logger.With().Str("tenant_id", payload.TenantID).Str("draft_id", payload.DraftID).Logger()

	receipt, err := p.Submitter.Submit(ctx, payload.TenantID, payload.DraftID, payload.Submission)
	switch {
	case err == nil:
		obs.ObserveSubmission("worker", "ok")
		log.Info().Str("invoice_id", receipt.ID).Str("invoice_number", receipt.Number).Msg("invoice submitted")
		return nil
	case errors.Is(err, backend.ErrRejected):
		obs.ObserveSubmission("worker", "rejected")
		log.Warn().Err(err).Msg("invoice rejected by backend")
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	default:
		obs.ObserveSubmission("worker", "error")
		log.Error().Err(err).Msg("invoice submission failed")
		return err
	}
}
