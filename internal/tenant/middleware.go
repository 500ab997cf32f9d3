package tenant

import (
	"net"
	"net/http"
	"strings"
)

// DefaultHeader carries the tenant when no header name is configured.
const DefaultHeader = "X-Tenant-ID"

// Resolver finds the tenant of a request. The header wins; otherwise the
// label directly in front of RootDomain is used; otherwise DefaultTenant.
// Identifiers are lower-cased so "Acme" and "acme" share drafts and limits.
type Resolver struct {
	HeaderName    string
	RootDomain    string
	DefaultTenant string
}

// NewResolver returns a resolver. An empty headerName means DefaultHeader
// and an empty rootDomain disables subdomain lookup.
func NewResolver(headerName, rootDomain, defaultTenant string) *Resolver {
	if strings.TrimSpace(headerName) == "" {
		headerName = DefaultHeader
	}
	return &Resolver{
		HeaderName:    headerName,
		RootDomain:    strings.Trim(strings.ToLower(strings.TrimSpace(rootDomain)), "."),
		DefaultTenant: strings.ToLower(strings.TrimSpace(defaultTenant)),
	}
}

// Middleware stores the resolved tenant on the request context. Identifiers
// that are not Valid are dropped, leaving the request without a tenant.
func (r *Resolver) Middleware(next http.Handler) http.Handler {
	if r == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if id := r.Resolve(req); Valid(id) {
			req = req.WithContext(With(req.Context(), id))
		}
		next.ServeHTTP(w, req)
	})
}

// Resolve returns the tenant identifier for req, or "" when none applies.
func (r *Resolver) Resolve(req *http.Request) string {
	if r == nil || req == nil {
		return ""
	}
	if id := strings.TrimSpace(req.Header.Get(r.HeaderName)); id != "" {
		return strings.ToLower(id)
	}
	if id := r.subdomain(req.Host); id != "" {
		return id
	}
	return r.DefaultTenant
}

// subdomain returns the label directly left of RootDomain in host, so
// "acme.eu.invoices.test" under "invoices.test" is "eu".
func (r *Resolver) subdomain(host string) string {
	if r.RootDomain == "" {
		return ""
	}
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(host)), ".")
	rest, ok := strings.CutSuffix(host, "."+r.RootDomain)
	if !ok || rest == "" {
		return ""
	}
	if i := strings.LastIndexByte(rest, '.'); i >= 0 {
		rest = rest[i+1:]
	}
	return rest
}

// Valid reports whether id is usable as a key prefix: 1 to 64 letters,
// digits, '-', '_' or '.'.
func Valid(id string) bool {
	if id == "" || len(id) > 64 {
		return false
	}
	for _, c := range id {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '-' || c == '_' || c == '.':
		default:
			return false
		}
	}
	return true
}
