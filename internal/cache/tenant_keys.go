package cache

import (
	"context"

	"github.com/noah-isme/invoice-pricing/internal/tenant"
)

// KeyDraft returns the per-tenant key holding a draft session.
func KeyDraft(ctx context.Context, draftID string) string {
	return tenant.Scoped(ctx, "draft:"+draftID)
}

// KeyDraftLock returns the per-tenant key guarding edits of one draft.
func KeyDraftLock(ctx context.Context, draftID string) string {
	return KeyDraft(ctx, draftID) + ":lock"
}

// KeyIdempotency scopes an idempotency fingerprint to the tenant.
func KeyIdempotency(ctx context.Context, fingerprint string) string {
	return tenant.Scoped(ctx, "idem:"+fingerprint)
}

// KeyRateLimit scopes a rate limit bucket to the tenant.
func KeyRateLimit(ctx context.Context, bucket string) string {
	return tenant.Scoped(ctx, bucket)
}
