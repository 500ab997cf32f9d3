package health

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/noah-isme/invoice-pricing/internal/common"
)

var draining atomic.Bool

// SetReady flips readiness. The API marks itself not ready while draining so
// load balancers stop routing submissions to it.
func SetReady(ready bool) {
	draining.Store(!ready)
}

// Checker represents dependencies that can be probed for readiness.
type Checker interface {
	PingRedis(ctx context.Context, timeout time.Duration) error
	PingBackend(ctx context.Context, timeout time.Duration) error
}

// Handler exposes HTTP handlers for health endpoints.
type Handler struct {
	Checker        Checker
	RedisTimeout   time.Duration
	BackendTimeout time.Duration
}

// Live reports that the process is up.
func (h Handler) Live(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Ready probes Redis and the invoicing backend in parallel and answers 503
// unless both respond.
func (h Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if draining.Load() {
		common.JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "draining"})
		return
	}
	if h.Checker == nil {
		common.JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unconfigured"})
		return
	}

	var redisErr, backendErr error
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		redisErr = h.Checker.PingRedis(r.Context(), orDefault(h.RedisTimeout, 300*time.Millisecond))
	}()
	go func() {
		defer wg.Done()
		backendErr = h.Checker.PingBackend(r.Context(), orDefault(h.BackendTimeout, time.Second))
	}()
	wg.Wait()

	status := http.StatusOK
	if redisErr != nil || backendErr != nil {
		status = http.StatusServiceUnavailable
	}
	common.JSON(w, status, map[string]string{
		"redis":   describe(redisErr),
		"backend": describe(backendErr),
	})
}

func describe(err error) string {
	if err == nil {
		return "ok"
	}
	return err.Error()
}

func orDefault(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}
