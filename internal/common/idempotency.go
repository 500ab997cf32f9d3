package common

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strconv"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/noah-isme/invoice-pricing/internal/cache"
)

const (
	idemPending  = "pending"
	idemDonePref = "done:"
)

// Idem provides an Idempotency-Key middleware backed by Redis. Keys are
// scoped by tenant, method and path. A key is claimed while the request runs
// and then remembers the status it finished with for TTL.
type Idem struct {
	R   *redis.Client
	TTL time.Duration
}

func (i Idem) key(r *http.Request, header string) string {
	sum := sha256.Sum256([]byte(r.Method + " " + r.URL.Path + " " + header))
	return cache.KeyIdempotency(r.Context(), hex.EncodeToString(sum[:]))
}

// Middleware enforces idempotency for write endpoints. Requests without the
// header pass through. A request that fails with a server error, or panics,
// releases its key so the client can retry.
func (i Idem) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
		if header == "" || i.R == nil {
			next.ServeHTTP(w, r)
			return
		}
		ctx := r.Context()
		key := i.key(r, header)
		claimed, err := i.R.SetNX(ctx, key, idemPending, i.TTL).Result()
		if err != nil {
			JSONError(w, http.StatusInternalServerError, "INTERNAL", "idempotency store error", nil)
			return
		}
		if !claimed {
			i.replay(ctx, w, key)
			return
		}

		rec := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		// The request context may already be cancelled when the handler returns.
		bg := context.WithoutCancel(ctx)
		defer func() {
			if p := recover(); p != nil {
				_ = i.R.Del(bg, key).Err()
				panic(p)
			}
			if rec.status >= http.StatusInternalServerError {
				_ = i.R.Del(bg, key).Err()
				return
			}
			_ = i.R.Set(bg, key, idemDonePref+strconv.Itoa(rec.status), i.TTL).Err()
		}()
		next.ServeHTTP(rec, r)
	})
}

func (i Idem) replay(ctx context.Context, w http.ResponseWriter, key string) {
	state, err := i.R.Get(ctx, key).Result()
	if err != nil || state == idemPending {
		JSONError(w, http.StatusConflict, "IDEMPOTENCY_IN_PROGRESS", "a request with this key is still running", nil)
		return
	}
	var details map[string]any
	if code, err := strconv.Atoi(strings.TrimPrefix(state, idemDonePref)); err == nil {
		details = map[string]any{"status": code}
	}
	JSONError(w, http.StatusConflict, "IDEMPOTENT_REPLAY", "duplicate request", details)
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (s *statusWriter) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}
