package common

import (
	"net"
	"net/http"
	"strings"
)

// ClientIP returns the address rate limits are keyed on. RemoteAddr wins: the
// router runs chi's RealIP first, which already folds in X-Real-IP and
// X-Forwarded-For. The headers are only read when RemoteAddr is empty.
func ClientIP(r *http.Request) string {
	if r == nil {
		return ""
	}
	addr := strings.TrimSpace(r.RemoteAddr)
	if addr != "" {
		if host, _, err := net.SplitHostPort(addr); err == nil {
			return host
		}
		return addr
	}
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	return strings.TrimSpace(r.Header.Get("X-Real-IP"))
}
