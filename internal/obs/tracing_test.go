package obs_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"

	"github.com/noah-isme/invoice-pricing/internal/obs"
)

func TestInitTracerWithoutExporter(t *testing.T) {
	previous := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(previous) })

	shutdown, err := obs.InitTracer(context.Background(), obs.TracingConfig{Exporter: "none", Environment: "test"})
	require.NoError(t, err)
	_, span := otel.Tracer("test").Start(context.Background(), "quote")
	require.True(t, span.SpanContext().IsValid())
	span.End()
	require.NoError(t, shutdown(context.Background()))
}

func TestInitTracerRejectsUnknownExporter(t *testing.T) {
	_, err := obs.InitTracer(context.Background(), obs.TracingConfig{Exporter: "zipkin"})
	require.Error(t, err)
}
