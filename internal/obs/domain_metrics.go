package obs

import (
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// PricingLinesTotal counts priced line items by strategy.
	PricingLinesTotal *prometheus.CounterVec
	// PricingNegativeSubtotalTotal counts lines whose discount exceeded the gross.
	PricingNegativeSubtotalTotal prometheus.Counter
	// DraftOperationsTotal counts draft session operations by outcome.
	DraftOperationsTotal *prometheus.CounterVec
	// InvoiceSubmissionsTotal counts submission outcomes per delivery mode.
	InvoiceSubmissionsTotal *prometheus.CounterVec
	// BackendRequestLatency records invoicing backend call latency in milliseconds.
	BackendRequestLatency *prometheus.HistogramVec
)

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		PricingLinesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pricing_lines_total",
			Help:      "Count of priced line items by strategy.",
		}, []string{"strategy"})
		PricingNegativeSubtotalTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pricing_negative_subtotal_total",
			Help:      "Count of priced lines with a negative taxable subtotal.",
		})
		DraftOperationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "draft_operations_total",
			Help:      "Count of draft session operations by outcome.",
		}, []string{"op", "result"})
		InvoiceSubmissionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invoice_submissions_total",
			Help:      "Count of invoice submissions by mode and outcome.",
		}, []string{"mode", "result"})
		BackendRequestLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "backend_request_duration_ms",
			Help:      "Latency of invoicing backend requests in milliseconds.",
			Buckets:   []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		}, []string{"endpoint", "result"})

		mustRegisterCollector(reg, PricingLinesTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				PricingLinesTotal = v
			}
		})
		mustRegisterCollector(reg, PricingNegativeSubtotalTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(prometheus.Counter); ok {
				PricingNegativeSubtotalTotal = v
			}
		})
		mustRegisterCollector(reg, DraftOperationsTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				DraftOperationsTotal = v
			}
		})
		mustRegisterCollector(reg, InvoiceSubmissionsTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				InvoiceSubmissionsTotal = v
			}
		})
		mustRegisterCollector(reg, BackendRequestLatency, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.HistogramVec); ok {
				BackendRequestLatency = v
			}
		})
	})
}

// ObservePricing records a pricing pass over lines lines, negative of which
// ended below zero. It is a no-op until MustRegisterDomainMetrics ran.
func ObservePricing(strategy string, lines, negative int) {
	if PricingLinesTotal != nil && lines > 0 {
		PricingLinesTotal.WithLabelValues(strategy).Add(float64(lines))
	}
	if PricingNegativeSubtotalTotal != nil && negative > 0 {
		PricingNegativeSubtotalTotal.Add(float64(negative))
	}
}

// ObserveDraftOp records the outcome of a draft operation.
func ObserveDraftOp(op string, err error) {
	if DraftOperationsTotal == nil {
		return
	}
	DraftOperationsTotal.WithLabelValues(op, resultLabel(err)).Inc()
}

// ObserveSubmission records a submission outcome for the given mode.
func ObserveSubmission(mode, result string) {
	if InvoiceSubmissionsTotal == nil {
		return
	}
	InvoiceSubmissionsTotal.WithLabelValues(mode, result).Inc()
}

// ObserveBackend records the latency of one invoicing backend call.
func ObserveBackend(endpoint, result string, d time.Duration) {
	if BackendRequestLatency == nil {
		return
	}
	BackendRequestLatency.WithLabelValues(endpoint, result).Observe(DurationMillis(d))
}

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func mustRegisterCollector(reg prometheus.Registerer, collector prometheus.Collector, reuse func(prometheus.Collector)) {
	if err := reg.Register(collector); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if reuse != nil {
				reuse(are.ExistingCollector)
			}
			return
		}
		panic(fmt.Errorf("register metric: %w", err))
	}
}
