package obs

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/noah-isme/invoice-pricing"

var (
	meterOnce    sync.Once
	quotesServed metric.Int64Counter
)

// Meter returns the service meter from the global provider.
func Meter() metric.Meter {
	return otel.Meter(meterName)
}

// RecordQuote counts a computed quote on the OpenTelemetry meter.
func RecordQuote(ctx context.Context, source, strategy string) {
	meterOnce.Do(func() {
		counter, err := Meter().Int64Counter("pricing.quotes",
			metric.WithDescription("Number of invoice quotes computed."),
			metric.WithUnit("{quote}"),
		)
		if err == nil {
			quotesServed = counter
		}
	})
	if quotesServed == nil {
		return
	}
	quotesServed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("source", source),
		attribute.String("strategy", strategy),
	))
}
