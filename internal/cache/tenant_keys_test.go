package cache_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/invoice-pricing/internal/cache"
	"github.com/noah-isme/invoice-pricing/internal/tenant"
)

func TestKeysAreTenantScoped(t *testing.T) {
	ctx := tenant.With(context.Background(), "acme")
	require.Equal(t, "acme:draft:d1", cache.KeyDraft(ctx, "d1"))
	require.Equal(t, "acme:draft:d1:lock", cache.KeyDraftLock(ctx, "d1"))
	require.Equal(t, "acme:idem:abc", cache.KeyIdempotency(ctx, "abc"))
	require.Equal(t, "acme:1.2.3.4", cache.KeyRateLimit(ctx, "1.2.3.4"))
}

func TestKeysWithoutTenant(t *testing.T) {
	ctx := context.Background()
	require.Equal(t, "draft:d1", cache.KeyDraft(ctx, "d1"))
	require.Equal(t, "idem:abc", cache.KeyIdempotency(ctx, "abc"))
}
