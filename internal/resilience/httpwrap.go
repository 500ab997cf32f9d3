package resilience

import (
	"bytes"
	"context"
	"errors"
	"io"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// HTTPClient wraps an http.Client with retry, timeout and circuit-breaker logic.
type HTTPClient struct {
	Client      *http.Client
	Breaker     *Breaker
	BaseBackoff time.Duration
	MaxAttempts int
	Jitter      float64
	Timeout     time.Duration
	// Target labels breaker telemetry; Logger receives breaker transitions.
	Target string
	Logger *zerolog.Logger

	once sync.Once
}

// Do executes the request applying retry semantics. The provided request body is
// buffered automatically to support retries. When the breaker is open
// ErrOpenCircuit is returned.
func (cl *HTTPClient) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	if cl.Client == nil {
		return nil, errors.New("resilience: http client not configured")
	}
	cl.once.Do(func() {
		if cl.Breaker == nil {
			// minimum request count is never reached, so it stays closed
			cl.Breaker = NewBreaker(math.MaxInt32, 1, time.Second)
		}
		if cl.Target != "" {
			cl.Breaker.WithTarget(cl.Target)
		}
		if cl.Logger != nil {
			cl.Breaker.WithLogger(*cl.Logger)
		}
	})
	breaker := cl.Breaker
	maxAttempts := cl.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	baseBackoff := cl.BaseBackoff
	if baseBackoff <= 0 {
		baseBackoff = 100 * time.Millisecond
	}

	body, err := bufferBody(req)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for n := 1; n <= maxAttempts; n++ {
		if !breaker.Allow(ctx) {
			cl.count("short_circuit")
			lastErr = ErrOpenCircuit
			break
		}
		resp, err := cl.doOnce(attempt(ctx, req, body))
		if err == nil && resp.StatusCode < 500 {
			breaker.Report(ctx, true)
			if resp.StatusCode >= 400 {
				cl.count("client_error")
			} else {
				cl.count("ok")
			}
			return resp, nil
		}
		if err == nil {
			lastErr = &StatusError{Code: resp.StatusCode, Status: resp.Status}
			drain(resp)
		} else {
			lastErr = err
		}
		breaker.Report(ctx, false)
		if n == maxAttempts {
			cl.count("exhausted")
			break
		}
		cl.count("retry")
		sleepFor := Backoff(baseBackoff, n, cl.Jitter)
		timer := time.NewTimer(sleepFor)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	return nil, lastErr
}

func (cl *HTTPClient) count(outcome string) {
	target := cl.Target
	if target == "" {
		target = "default"
	}
	UpstreamAttempts.WithLabelValues(target, outcome).Inc()
}

// StatusError reports an upstream 5xx response that exhausted the retries.
type StatusError struct {
	Code   int
	Status string
}

func (e *StatusError) Error() string { return "resilience: upstream " + e.Status }

func (cl *HTTPClient) doOnce(req *http.Request) (*http.Response, error) {
	timeout := cl.Timeout
	if timeout <= 0 {
		timeout = cl.Client.Timeout
	}
	if timeout <= 0 {
		return cl.Client.Do(req)
	}
	callCtx, cancel := context.WithTimeout(req.Context(), timeout)
	resp, err := cl.Client.Do(req.WithContext(callCtx))
	if err != nil {
		cancel()
		return nil, err
	}
	resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

// cancelOnClose keeps the per-attempt timeout alive until the caller has read the body.
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}

func drain(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
}

// bufferBody reads the request body once so each attempt can resend it.
func bufferBody(req *http.Request) ([]byte, error) {
	if req.Body == nil || req.Body == http.NoBody {
		return nil, nil
	}
	src := req.Body
	if req.GetBody != nil {
		fresh, err := req.GetBody()
		if err != nil {
			return nil, err
		}
		src = fresh
	}
	defer func() { _ = src.Close() }()
	return io.ReadAll(src)
}

// attempt clones req for one try, bound to ctx and carrying its own copy of body.
func attempt(ctx context.Context, req *http.Request, body []byte) *http.Request {
	clone := req.Clone(ctx)
	if body != nil {
		clone.Body = io.NopCloser(bytes.NewReader(body))
		clone.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(body)), nil
		}
	}
	return clone
}
