package draft

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/invoice-pricing/internal/backend"
	"github.com/noah-isme/invoice-pricing/internal/cache"
	"github.com/noah-isme/invoice-pricing/internal/config"
	"github.com/noah-isme/invoice-pricing/internal/invoice"
	"github.com/noah-isme/invoice-pricing/internal/obs"
	"github.com/noah-isme/invoice-pricing/internal/pricing"
	"github.com/noah-isme/invoice-pricing/internal/tenant"
)

var (
	// ErrNotFound indicates the draft does not exist or has expired.
	ErrNotFound = errors.New("draft: not found")
	// ErrBusy is returned when another request holds the draft for longer than the lock wait.
	ErrBusy = errors.New("draft: busy")
)

// Locker serialises work on one key. lock.Locker satisfies it.
type Locker interface {
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error
}

// SubmitQueue hands a submission to the background worker and returns the task id.
type SubmitQueue interface {
	EnqueueSubmit(ctx context.Context, tenantID, draftID string, sub invoice.Submission) (string, error)
}

// Service manages draft sessions.
type Service struct {
	Store     Store
	Locker    Locker
	LockTTL   time.Duration
	LockWait  time.Duration
	Submitter backend.Submitter
	Queue     SubmitQueue
	// Mode is config.SubmitModeSync or config.SubmitModeAsync.
	Mode string
	// Strategy is used when Open is not given one.
	Strategy string
	Now      func() time.Time
	Logger   zerolog.Logger
}

// SubmitResult describes where a submitted draft went.
type SubmitResult struct {
	Mode       string             `json:"mode"`
	Receipt    *backend.Receipt   `json:"receipt,omitempty"`
	TaskID     string             `json:"taskId,omitempty"`
	Submission invoice.Submission `json:"submission"`
}

func (s *Service) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Service) mode() string {
	if s.Mode == config.SubmitModeAsync {
		return config.SubmitModeAsync
	}
	return config.SubmitModeSync
}

// Open creates and stores an empty draft for the tenant in ctx.
func (s *Service) Open(ctx context.Context, kind invoice.Kind, strategy string) (d invoice.Draft, err error) {
	defer func() { obs.ObserveDraftOp("open", err) }()
	if s == nil || s.Store == nil {
		return invoice.Draft{}, errors.New("draft service not configured")
	}
	if strategy == "" {
		strategy = s.Strategy
	}
	tenantID, _ := tenant.From(ctx)
	d, err = invoice.New(tenantID, kind, strategy, s.now())
	if err != nil {
		return invoice.Draft{}, err
	}
	if err := s.Store.Save(ctx, d); err != nil {
		return invoice.Draft{}, fmt.Errorf("save draft: %w", err)
	}
	return d, nil
}

// Get loads a draft owned by the tenant in ctx.
func (s *Service) Get(ctx context.Context, id string) (invoice.Draft, error) {
	if s == nil || s.Store == nil {
		return invoice.Draft{}, errors.New("draft service not configured")
	}
	d, err := s.Store.Get(ctx, id)
	if err != nil {
		return invoice.Draft{}, err
	}
	if tenantID, ok := tenant.From(ctx); ok && d.TenantID != tenantID {
		return invoice.Draft{}, ErrNotFound
	}
	return d, nil
}

// AddItem appends a row to the draft.
func (s *Service) AddItem(ctx context.Context, id string, item invoice.Item) (invoice.Draft, error) {
	return s.mutate(ctx, "add_item", id, func(d invoice.Draft) (invoice.Draft, error) {
		return d.AddItem(item), nil
	})
}

// UpdateItem edits one row.
func (s *Service) UpdateItem(ctx context.Context, id, rowID string, patch invoice.ItemPatch) (invoice.Draft, error) {
	return s.mutate(ctx, "update_item", id, func(d invoice.Draft) (invoice.Draft, error) {
		return d.UpdateItem(rowID, patch)
	})
}

// RemoveItem deletes one row.
func (s *Service) RemoveItem(ctx context.Context, id, rowID string) (invoice.Draft, error) {
	return s.mutate(ctx, "remove_item", id, func(d invoice.Draft) (invoice.Draft, error) {
		return d.RemoveItem(rowID)
	})
}

// SetDiscount replaces the invoice-level discount.
func (s *Service) SetDiscount(ctx context.Context, id string, discount pricing.Number) (invoice.Draft, error) {
	return s.mutate(ctx, "set_discount", id, func(d invoice.Draft) (invoice.Draft, error) {
		return d.SetInvoiceDiscount(discount), nil
	})
}

// SetDetails replaces the invoice metadata.
func (s *Service) SetDetails(ctx context.Context, id string, details invoice.Details) (invoice.Draft, error) {
	return s.mutate(ctx, "set_details", id, func(d invoice.Draft) (invoice.Draft, error) {
		return d.SetDetails(details), nil
	})
}

// Quote prices the stored draft.
func (s *Service) Quote(ctx context.Context, id string) (invoice.Draft, invoice.Quote, error) {
	d, err := s.Get(ctx, id)
	if err != nil {
		return invoice.Draft{}, invoice.Quote{}, err
	}
	q := d.Quote()
	obs.ObservePricing(q.Strategy, len(q.Lines), pricing.NegativeLines(q.Breakdowns()))
	obs.RecordQuote(ctx, "draft", q.Strategy)
	return d, q, nil
}

// Discard deletes the draft.
func (s *Service) Discard(ctx context.Context, id string) (err error) {
	defer func() { obs.ObserveDraftOp("discard", err) }()
	return s.withLock(ctx, id, s.LockTTL, func(ctx context.Context) error {
		if _, err := s.Get(ctx, id); err != nil {
			return err
		}
		return s.Store.Delete(ctx, id)
	})
}

// Submit validates the draft and delivers it to the backend, directly or via
// the queue depending on Mode. The draft is deleted once delivery succeeded
// or was queued; on failure it is kept so the user can fix and retry.
func (s *Service) Submit(ctx context.Context, id string) (res SubmitResult, err error) {
	mode := s.mode()
	defer func() {
		obs.ObserveDraftOp("submit", err)
		obs.ObserveSubmission(mode, submissionResult(err))
	}()
	if mode == config.SubmitModeSync && s.Submitter == nil {
		return SubmitResult{}, errors.New("draft submitter not configured")
	}
	if mode == config.SubmitModeAsync && s.Queue == nil {
		return SubmitResult{}, errors.New("draft submit queue not configured")
	}

	// Sync submission holds the lock across the backend call.
	ttl := s.LockTTL
	if mode == config.SubmitModeSync && ttl < time.Minute {
		ttl = time.Minute
	}
	err = s.withLock(ctx, id, ttl, func(ctx context.Context) error {
		d, err := s.Get(ctx, id)
		if err != nil {
			return err
		}
		sub, err := invoice.BuildSubmission(d)
		if err != nil {
			return err
		}
		res = SubmitResult{Mode: mode, Submission: sub}
		if mode == config.SubmitModeAsync {
			taskID, err := s.Queue.EnqueueSubmit(ctx, d.TenantID, d.ID, sub)
			if err != nil {
				return fmt.Errorf("enqueue submission: %w", err)
			}
			res.TaskID = taskID
		} else {
			receipt, err := s.Submitter.Submit(ctx, d.TenantID, d.ID, sub)
			if err != nil {
				return err
			}
			res.Receipt = &receipt
		}
		if err := s.Store.Delete(ctx, id); err != nil && !errors.Is(err, ErrNotFound) {
			s.Logger.Warn().Err(err).Str("draft_id", id).Msg("delete submitted draft")
		}
		return nil
	})
	if err != nil {
		return SubmitResult{}, err
	}
	s.Logger.Info().Str("draft_id", id).Str("mode", mode).Str("task_id", res.TaskID).Msg("draft submitted")
	return res, nil
}

func (s *Service) mutate(ctx context.Context, op, id string, fn func(invoice.Draft) (invoice.Draft, error)) (out invoice.Draft, err error) {
	defer func() { obs.ObserveDraftOp(op, err) }()
	if s == nil || s.Store == nil {
		return invoice.Draft{}, errors.New("draft service not configured")
	}
	err = s.withLock(ctx, id, s.LockTTL, func(ctx context.Context) error {
		d, err := s.Get(ctx, id)
		if err != nil {
			return err
		}
		next, err := fn(d)
		if err != nil {
			return err
		}
		next = next.Touch(s.now())
		if err := s.Store.Save(ctx, next); err != nil {
			return fmt.Errorf("save draft: %w", err)
		}
		out = next
		return nil
	})
	return out, err
}

// withLock runs fn under the per-draft lock. Waiting is bounded by LockWait;
// fn itself runs with the caller's context.
func (s *Service) withLock(ctx context.Context, id string, ttl time.Duration, fn func(context.Context) error) error {
	if s.Locker == nil {
		return fn(ctx)
	}
	wait := s.LockWait
	if wait <= 0 {
		wait = 3 * time.Second
	}
	lockCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()
	entered := false
	err := s.Locker.WithLock(lockCtx, cache.KeyDraftLock(ctx, id), ttl, func(context.Context) error {
		entered = true
		return fn(ctx)
	})
	if !entered && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return ErrBusy
	}
	return err
}

func submissionResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, invoice.ErrValidation):
		return "invalid"
	case errors.Is(err, backend.ErrRejected):
		return "rejected"
	default:
		return "error"
	}
}
