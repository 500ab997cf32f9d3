package backend

//go:generate mockgen -source=submitter.go -destination=mock_submitter.go -package=backend

import (
	"context"

	"github.com/noah-isme/invoice-pricing/internal/invoice"
)

// Submitter hands a validated submission to the invoicing backend. The
// idempotency key lets the backend collapse retried deliveries of one draft.
type Submitter interface {
	Submit(ctx context.Context, tenantID, idempotencyKey string, sub invoice.Submission) (Receipt, error)
}
