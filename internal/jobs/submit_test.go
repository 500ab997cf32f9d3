package jobs_test

import (
	"context"
	"errors"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/noah-isme/invoice-pricing/internal/backend"
	"github.com/noah-isme/invoice-pricing/internal/invoice"
	"github.com/noah-isme/invoice-pricing/internal/jobs"
	"github.com/noah-isme/invoice-pricing/internal/tenant"
)

func returnSubmission() invoice.Submission {
	return invoice.Submission{
		Kind:       invoice.KindReturn,
		CustomerID: 7,
		Status:     invoice.StatusDraft,
		Reason:     "damaged",
		Subtotal:   90.30000000000001,
		Total:      90.30000000000001,
		Items:      []invoice.SubmissionItem{{ProductID: 1, Quantity: 1, UnitPrice: 90.30000000000001, DiscountType: "percentage"}},
	}
}

func TestSubmitTaskPayload(t *testing.T) {
	task, err := jobs.NewSubmitTask("acme", "d1", returnSubmission())
	require.NoError(t, err)
	require.Equal(t, jobs.TypeSubmitInvoice, task.Type())

	payload, err := jobs.ParseSubmitPayload(task)
	require.NoError(t, err)
	require.Equal(t, "acme", payload.TenantID)
	require.Equal(t, "d1", payload.DraftID)
	require.Equal(t, invoice.KindReturn, payload.Submission.Kind)
	require.Equal(t, "returns", payload.Submission.Endpoint())
	require.Equal(t, 90.30000000000001, payload.Submission.Total)
}

func TestSubmitTaskIDIsTenantScoped(t *testing.T) {
	require.Equal(t, "acme:invoice:submit:d1", jobs.SubmitTaskID("acme", "d1"))
	require.Equal(t, "invoice:submit:d1", jobs.SubmitTaskID("", "d1"))
}

func TestEnqueuerWithoutClient(t *testing.T) {
	_, err := jobs.Enqueuer{}.EnqueueSubmit(context.Background(), "acme", "d1", returnSubmission())
	require.Error(t, err)
}

func newProcessor(t *testing.T) (*jobs.Processor, *backend.MockSubmitter) {
	ctrl := gomock.NewController(t)
	m := backend.NewMockSubmitter(ctrl)
	return &jobs.Processor{Submitter: m, Logger: zerolog.Nop()}, m
}

func TestProcessTaskSubmits(t *testing.T) {
	p, m := newProcessor(t)
	task, err := jobs.NewSubmitTask("acme", "d1", returnSubmission())
	require.NoError(t, err)

	m.EXPECT().
		Submit(gomock.Any(), "acme", "d1", gomock.Any()).
		DoAndReturn(func(ctx context.Context, _, _ string, sub invoice.Submission) (backend.Receipt, error) {
			id, ok := tenant.From(ctx)
			require.True(t, ok)
			require.Equal(t, "acme", id)
			require.Equal(t, invoice.KindReturn, sub.Kind)
			return backend.Receipt{ID: "9"}, nil
		})

	require.NoError(t, p.ProcessTask(context.Background(), task))
}

func TestProcessTaskRejectionSkipsRetry(t *testing.T) {
	p, m := newProcessor(t)
	task, err := jobs.NewSubmitTask("acme", "d1", returnSubmission())
	require.NoError(t, err)

	m.EXPECT().
		Submit(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return(backend.Receipt{}, &backend.RejectedError{Status: 409, Code: "DUPLICATE"})

	err = p.ProcessTask(context.Background(), task)
	require.ErrorIs(t, err, asynq.SkipRetry)
	require.ErrorIs(t, err, backend.ErrRejected)
}

func TestProcessTaskUnavailableIsRetried(t *testing.T) {
	p, m := newProcessor(t)
	task, err := jobs.NewSubmitTask("acme", "d1", returnSubmission())
	require.NoError(t, err)

	m.EXPECT().
		Submit(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return(backend.Receipt{}, backend.ErrUnavailable)

	err = p.ProcessTask(context.Background(), task)
	require.ErrorIs(t, err, backend.ErrUnavailable)
	require.False(t, errors.Is(err, asynq.SkipRetry))
}

func TestProcessTaskMalformedPayload(t *testing.T) {
	p, _ := newProcessor(t)
	err := p.ProcessTask(context.Background(), asynq.NewTask(jobs.TypeSubmitInvoice, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)
}
