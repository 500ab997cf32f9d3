package resilience

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

// ErrOpenCircuit is returned when the circuit breaker refuses a request.
var ErrOpenCircuit = errors.New("resilience: circuit breaker open")

// State represents the current breaker state.
type State int

const (
	// Closed accepts all requests and tracks failures.
	Closed State = iota
	// Open rejects requests until the cool-off period expires.
	Open
	// HalfOpen lets a single probe through to test recovery.
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// gauge is the value exported on the breaker state gauge.
func (s State) gauge() float64 {
	switch s {
	case Closed:
		return 0
	case Open:
		return 1
	case HalfOpen:
		return 2
	default:
		return -1
	}
}

// DefaultInterval is how long closed-state outcomes are counted before the
// tally starts over.
const DefaultInterval = time.Minute

// Breaker is a failure-ratio circuit breaker guarding one upstream. While
// closed it counts outcomes in fixed intervals and opens once an interval
// has seen at least minRequests with a failure share of failureRatio or more.
type Breaker struct {
	mu sync.Mutex

	minRequests  int
	failureRatio float64
	openFor      time.Duration
	interval     time.Duration
	now          func() time.Time

	state       State
	probing     bool
	failures    int
	total       int
	windowStart time.Time
	openedAt    time.Time

	target string
	logger zerolog.Logger
}

// NewBreaker constructs a closed breaker. Non-positive arguments fall back to
// one request, a 50% ratio and a 30 second cool-off.
func NewBreaker(minRequests int, failureRatio float64, openFor time.Duration) *Breaker {
	if minRequests <= 0 {
		minRequests = 1
	}
	if failureRatio <= 0 {
		failureRatio = 0.5
	}
	if failureRatio > 1 {
		failureRatio = 1
	}
	if openFor <= 0 {
		openFor = 30 * time.Second
	}
	return &Breaker{
		minRequests:  minRequests,
		failureRatio: failureRatio,
		openFor:      openFor,
		interval:     DefaultInterval,
		now:          time.Now,
		logger:       zerolog.Nop(),
	}
}

// WithInterval changes how long closed-state outcomes are tallied together.
func (b *Breaker) WithInterval(d time.Duration) *Breaker {
	b.mu.Lock()
	defer b.mu.Unlock()
	if d > 0 {
		b.interval = d
	}
	return b
}

// WithTarget sets the dependency name used for telemetry labels.
func (b *Breaker) WithTarget(target string) *Breaker {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.target = strings.TrimSpace(target)
	b.publishStateLocked()
	return b
}

// WithLogger sets the logger used for transition events when the request
// context carries none.
func (b *Breaker) WithLogger(logger zerolog.Logger) *Breaker {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.logger = logger
	return b
}

// Allow reports whether a request may proceed. After the cool-off an open
// breaker turns half-open and admits exactly one probe; everyone else is
// refused until that probe is reported.
func (b *Breaker) Allow(ctx context.Context) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Open:
		if b.now().Sub(b.openedAt) < b.openFor {
			return false
		}
		b.transitionLocked(ctx, HalfOpen)
		b.probing = true
		return true
	case HalfOpen:
		if b.probing {
			return false
		}
		b.probing = true
		return true
	default:
		return true
	}
}

// State returns the current breaker state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Report records the outcome of an admitted request.
func (b *Breaker) Report(ctx context.Context, success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Open:
		return
	case HalfOpen:
		if success {
			b.transitionLocked(ctx, Closed)
		} else {
			b.transitionLocked(ctx, Open)
		}
		return
	}

	now := b.now()
	if b.windowStart.IsZero() || now.Sub(b.windowStart) >= b.interval {
		b.windowStart = now
		b.failures, b.total = 0, 0
	}
	b.total++
	if !success {
		b.failures++
	}
	if b.total >= b.minRequests && float64(b.failures)/float64(b.total) >= b.failureRatio {
		b.transitionLocked(ctx, Open)
	}
}

func (b *Breaker) transitionLocked(ctx context.Context, next State) {
	prev := b.state
	if prev == next {
		return
	}
	b.state = next
	b.probing = false
	b.failures, b.total = 0, 0
	b.windowStart = time.Time{}
	if next == Open {
		b.openedAt = b.now()
	}

	label := b.label()
	b.publishStateLocked()
	BreakerTransitions.WithLabelValues(label, prev.String(), next.String()).Inc()
	if next == Open {
		BreakerOpenedTotal.WithLabelValues(label).Inc()
	}

	logger := &b.logger
	if l := zerolog.Ctx(ctx); l.GetLevel() != zerolog.Disabled {
		logger = l
	}
	evt := logger.Info().Str("target", label).Str("from_state", prev.String()).Str("to_state", next.String())
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		evt = evt.Str("trace_id", sc.TraceID().String())
	}
	evt.Msg("breaker_transition")
}

func (b *Breaker) publishStateLocked() {
	BreakerState.WithLabelValues(b.label()).Set(b.state.gauge())
}

func (b *Breaker) label() string {
	if b.target == "" {
		return "default"
	}
	return b.target
}
