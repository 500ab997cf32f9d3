package draft_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/noah-isme/invoice-pricing/internal/backend"
	"github.com/noah-isme/invoice-pricing/internal/cache"
	"github.com/noah-isme/invoice-pricing/internal/config"
	"github.com/noah-isme/invoice-pricing/internal/draft"
	"github.com/noah-isme/invoice-pricing/internal/invoice"
	"github.com/noah-isme/invoice-pricing/internal/lock"
	"github.com/noah-isme/invoice-pricing/internal/pricing"
	"github.com/noah-isme/invoice-pricing/internal/tenant"
)

type fakeQueue struct {
	mu    sync.Mutex
	calls []invoice.Submission
	err   error
}

func (q *fakeQueue) EnqueueSubmit(_ context.Context, tenantID, draftID string, sub invoice.Submission) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return "", q.err
	}
	q.calls = append(q.calls, sub)
	return "invoice:submit:" + draftID, nil
}

type fixture struct {
	svc       *draft.Service
	mr        *miniredis.Miniredis
	submitter *backend.MockSubmitter
	queue     *fakeQueue
}

func newFixture(t *testing.T, mode string) fixture {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	ctrl := gomock.NewController(t)
	submitter := backend.NewMockSubmitter(ctrl)
	queue := &fakeQueue{}
	svc := &draft.Service{
		Store:     draft.NewRedisStore(client, time.Hour),
		Locker:    lock.Locker{R: client, RetryBackoff: 5 * time.Millisecond},
		LockTTL:   5 * time.Second,
		LockWait:  5 * time.Second,
		Submitter: submitter,
		Queue:     queue,
		Mode:      mode,
		Strategy:  "live",
		Now:       func() time.Time { return time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC) },
		Logger:    zerolog.Nop(),
	}
	return fixture{svc: svc, mr: mr, submitter: submitter, queue: queue}
}

func acme() context.Context {
	return tenant.With(context.Background(), "acme")
}

func widget(qty, price, discount float64) invoice.Item {
	return invoice.Item{
		ProductID: 1,
		LineInput: pricing.LineInput{
			Quantity:      pricing.NumberOf(qty),
			UnitPrice:     pricing.NumberOf(price),
			DiscountValue: pricing.NumberOf(discount),
			DiscountType:  pricing.DiscountPercentage,
		},
	}
}

func readyDraft(t *testing.T, f fixture) invoice.Draft {
	t.Helper()
	ctx := acme()
	d, err := f.svc.Open(ctx, invoice.KindInvoice, "")
	require.NoError(t, err)
	_, err = f.svc.AddItem(ctx, d.ID, widget(2, 100, 10))
	require.NoError(t, err)
	d, err = f.svc.SetDetails(ctx, d.ID, invoice.Details{CustomerID: 7, Status: invoice.StatusPending})
	require.NoError(t, err)
	return d
}

func TestOpenStoresDraftWithTTL(t *testing.T) {
	f := newFixture(t, config.SubmitModeSync)
	d, err := f.svc.Open(acme(), invoice.KindInvoice, "")
	require.NoError(t, err)
	require.Equal(t, "acme", d.TenantID)
	require.Equal(t, "live", d.Strategy)

	key := cache.KeyDraft(acme(), d.ID)
	require.True(t, f.mr.Exists(key))
	require.Equal(t, time.Hour, f.mr.TTL(key))
}

func TestOpenRejectsUnknownStrategy(t *testing.T) {
	f := newFixture(t, config.SubmitModeSync)
	_, err := f.svc.Open(acme(), invoice.KindInvoice, "fifo")
	require.ErrorIs(t, err, pricing.ErrUnknownStrategy)
}

func TestEditsRecomputeQuote(t *testing.T) {
	f := newFixture(t, config.SubmitModeSync)
	ctx := acme()
	d, err := f.svc.Open(ctx, invoice.KindInvoice, "")
	require.NoError(t, err)

	item := widget(2, 100, 10)
	item.TaxRatePercent = pricing.NumberOf(18)
	d, err = f.svc.AddItem(ctx, d.ID, item)
	require.NoError(t, err)
	rowID := d.Items[0].RowID

	_, q, err := f.svc.Quote(ctx, d.ID)
	require.NoError(t, err)
	require.InDelta(t, 212.4, q.Totals.GrandTotal, 1e-9)

	_, err = f.svc.SetDiscount(ctx, d.ID, pricing.NumberFrom("12.4"))
	require.NoError(t, err)
	_, q, err = f.svc.Quote(ctx, d.ID)
	require.NoError(t, err)
	require.InDelta(t, 200, q.Totals.GrandTotal, 1e-9)

	_, err = f.svc.UpdateItem(ctx, d.ID, rowID, invoice.ItemPatch{Quantity: pricing.NumberFrom("")})
	require.NoError(t, err)
	_, q, err = f.svc.Quote(ctx, d.ID)
	require.NoError(t, err)
	require.Equal(t, 0.0, q.Lines[0].LineTotal)

	d, err = f.svc.RemoveItem(ctx, d.ID, rowID)
	require.NoError(t, err)
	require.Empty(t, d.Items)
}

func TestAddItemWithoutQuantityDefaultsToOne(t *testing.T) {
	f := newFixture(t, config.SubmitModeSync)
	ctx := acme()
	d, err := f.svc.Open(ctx, invoice.KindInvoice, "")
	require.NoError(t, err)

	d, err = f.svc.AddItem(ctx, d.ID, invoice.Item{ProductID: 3, LineInput: pricing.LineInput{UnitPrice: pricing.NumberOf(40)}})
	require.NoError(t, err)
	require.Equal(t, "1", d.Items[0].Quantity.Raw())
	require.InDelta(t, 40, d.Quote().Totals.GrandTotal, 1e-9)
}

func TestUnknownDraftAndRow(t *testing.T) {
	f := newFixture(t, config.SubmitModeSync)
	ctx := acme()
	_, err := f.svc.Get(ctx, "missing")
	require.ErrorIs(t, err, draft.ErrNotFound)
	_, err = f.svc.AddItem(ctx, "missing", widget(1, 1, 0))
	require.ErrorIs(t, err, draft.ErrNotFound)

	d, err := f.svc.Open(ctx, invoice.KindInvoice, "")
	require.NoError(t, err)
	_, err = f.svc.RemoveItem(ctx, d.ID, "nope")
	require.ErrorIs(t, err, invoice.ErrItemNotFound)
}

func TestDraftsAreTenantScoped(t *testing.T) {
	f := newFixture(t, config.SubmitModeSync)
	d, err := f.svc.Open(acme(), invoice.KindInvoice, "")
	require.NoError(t, err)

	_, err = f.svc.Get(tenant.With(context.Background(), "globex"), d.ID)
	require.ErrorIs(t, err, draft.ErrNotFound)
}

func TestDiscard(t *testing.T) {
	f := newFixture(t, config.SubmitModeSync)
	ctx := acme()
	d, err := f.svc.Open(ctx, invoice.KindInvoice, "")
	require.NoError(t, err)
	require.NoError(t, f.svc.Discard(ctx, d.ID))
	require.ErrorIs(t, f.svc.Discard(ctx, d.ID), draft.ErrNotFound)
}

func TestConcurrentEditsAreSerialised(t *testing.T) {
	f := newFixture(t, config.SubmitModeSync)
	ctx := acme()
	d, err := f.svc.Open(ctx, invoice.KindInvoice, "")
	require.NoError(t, err)

	const n = 12
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.AddItem(ctx, d.ID, widget(1, 10, 0))
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	got, err := f.svc.Get(ctx, d.ID)
	require.NoError(t, err)
	require.Len(t, got.Items, n)
}

func TestBusyDraft(t *testing.T) {
	f := newFixture(t, config.SubmitModeSync)
	f.svc.LockWait = 30 * time.Millisecond
	ctx := acme()
	d, err := f.svc.Open(ctx, invoice.KindInvoice, "")
	require.NoError(t, err)

	require.NoError(t, f.mr.Set(cache.KeyDraftLock(ctx, d.ID), "someone-else"))
	_, err = f.svc.AddItem(ctx, d.ID, widget(1, 1, 0))
	require.ErrorIs(t, err, draft.ErrBusy)
}

func TestSubmitSync(t *testing.T) {
	f := newFixture(t, config.SubmitModeSync)
	d := readyDraft(t, f)

	f.submitter.EXPECT().
		Submit(gomock.Any(), "acme", d.ID, gomock.Any()).
		DoAndReturn(func(_ context.Context, _, _ string, sub invoice.Submission) (backend.Receipt, error) {
			require.Equal(t, int64(7), sub.CustomerID)
			require.InDelta(t, 180, sub.Total, 1e-9)
			require.Len(t, sub.Items, 1)
			return backend.Receipt{ID: "42", Number: "INV-42"}, nil
		})

	res, err := f.svc.Submit(acme(), d.ID)
	require.NoError(t, err)
	require.Equal(t, config.SubmitModeSync, res.Mode)
	require.Equal(t, "INV-42", res.Receipt.Number)

	_, err = f.svc.Get(acme(), d.ID)
	require.ErrorIs(t, err, draft.ErrNotFound)
}

func TestSubmitRejectedKeepsDraft(t *testing.T) {
	f := newFixture(t, config.SubmitModeSync)
	d := readyDraft(t, f)

	f.submitter.EXPECT().
		Submit(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return(backend.Receipt{}, &backend.RejectedError{Status: 422, Code: "CUSTOMER_UNKNOWN"})

	_, err := f.svc.Submit(acme(), d.ID)
	require.ErrorIs(t, err, backend.ErrRejected)

	_, err = f.svc.Get(acme(), d.ID)
	require.NoError(t, err)
}

func TestSubmitValidationFailsBeforeBackend(t *testing.T) {
	f := newFixture(t, config.SubmitModeSync)
	d, err := f.svc.Open(acme(), invoice.KindInvoice, "")
	require.NoError(t, err)

	_, err = f.svc.Submit(acme(), d.ID)
	require.ErrorIs(t, err, invoice.ErrValidation)
	var verr *invoice.ValidationError
	require.True(t, errors.As(err, &verr))
	require.Contains(t, verr.Fields, "items")
	require.Contains(t, verr.Fields, "customerId")
}

func TestSubmitAsyncEnqueues(t *testing.T) {
	f := newFixture(t, config.SubmitModeAsync)
	d := readyDraft(t, f)

	res, err := f.svc.Submit(acme(), d.ID)
	require.NoError(t, err)
	require.Equal(t, config.SubmitModeAsync, res.Mode)
	require.Equal(t, "invoice:submit:"+d.ID, res.TaskID)
	require.Len(t, f.queue.calls, 1)

	_, err = f.svc.Get(acme(), d.ID)
	require.ErrorIs(t, err, draft.ErrNotFound)
}

func TestSubmitAsyncEnqueueFailureKeepsDraft(t *testing.T) {
	f := newFixture(t, config.SubmitModeAsync)
	f.queue.err = errors.New("redis down")
	d := readyDraft(t, f)

	_, err := f.svc.Submit(acme(), d.ID)
	require.Error(t, err)
	_, err = f.svc.Get(acme(), d.ID)
	require.NoError(t, err)
}
