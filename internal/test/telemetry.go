package test

import (
	"testing"

	"github.com/dogmatiq/rewind/internal/telemetry"
	"github.com/dogmatiq/rewind/internal/tlog"
	noopmetric "go.opentelemetry.io/otel/metric/noop"
	nooptrace "go.opentelemetry.io/otel/trace/noop"
)

// NewTelemetryProvider returns a new telemetry provider for use in tests.
func NewTelemetryProvider(t testing.TB) *telemetry.Provider {
	t.Helper()

	return &telemetry.Provider{
		TracerProvider: nooptrace.NewTracerProvider(),
		MeterProvider:  noopmetric.NewMeterProvider(),
		Logger:         tlog.New(t),
	}
}
