package middleware

import (
	"net/http"

	"github.com/noah-isme/invoice-pricing/internal/common"
	"github.com/noah-isme/invoice-pricing/internal/tenant"
)

// RequireTenant rejects requests that carry no tenant. Drafts, idempotency
// keys and rate limit buckets are all namespaced by tenant.
func RequireTenant(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := tenant.From(r.Context()); !ok {
			common.JSONError(w, http.StatusBadRequest, "TENANT_REQUIRED", "tenant is required", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}
