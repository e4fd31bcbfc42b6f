package rewind

import (
	"github.com/dogmatiq/rewind/internal/config"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/exp/slog"
)

// WithTracerProvider is an [Option] that sets the OpenTelemetry tracer
// provider.
func WithTracerProvider(p trace.TracerProvider) Option {
	if p == nil {
		panic("tracer provider must not be nil")
	}

	return func(c *config.Config) {
		c.Telemetry.TracerProvider = p
	}
}

// WithMeterProvider is an [Option] that sets the OpenTelemetry meter provider.
func WithMeterProvider(p metric.MeterProvider) Option {
	if p == nil {
		panic("meter provider must not be nil")
	}

	return func(c *config.Config) {
		c.Telemetry.MeterProvider = p
	}
}

// WithLogger is an [Option] that sets the logger.
func WithLogger(l *slog.Logger) Option {
	if l == nil {
		panic("logger must not be nil")
	}

	return func(c *config.Config) {
		c.Telemetry.Logger = l
	}
}
