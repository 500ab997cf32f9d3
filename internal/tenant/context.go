package tenant

import (
	"context"
	"strings"
)

type contextKey struct{}

// With stores the tenant identifier on ctx.
func With(ctx context.Context, id string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, contextKey{}, id)
}

// From returns the tenant carried by ctx. A blank identifier counts as absent.
func From(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	id, ok := ctx.Value(contextKey{}).(string)
	if !ok {
		return "", false
	}
	id = strings.TrimSpace(id)
	return id, id != ""
}

// PrefixKey namespaces a Redis key or task id by tenant.
func PrefixKey(tenantID, key string) string {
	if tenantID == "" {
		return key
	}
	return tenantID + ":" + key
}

// Scoped prefixes key with the tenant carried by ctx, if there is one.
func Scoped(ctx context.Context, key string) string {
	id, _ := From(ctx)
	return PrefixKey(id, key)
}
