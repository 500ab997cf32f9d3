package security

import (
	"net/http"

	"github.com/noah-isme/invoice-pricing/internal/common"
)

// BodyLimit caps request payloads at Max bytes. Requests that declare a
// larger Content-Length are refused up front; the rest are streamed through
// http.MaxBytesReader, whose error common.DecodeJSON turns into a 413.
type BodyLimit struct {
	Max int64
}

// Middleware applies the limit. A non-positive Max disables it.
func (b BodyLimit) Middleware(next http.Handler) http.Handler {
	if b.Max <= 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.ContentLength > b.Max {
			common.WriteAppError(w, common.PayloadTooLarge(b.Max))
			return
		}
		if r.Body != nil && r.Body != http.NoBody {
			r.Body = http.MaxBytesReader(w, r.Body, b.Max)
		}
		next.ServeHTTP(w, r)
	})
}
