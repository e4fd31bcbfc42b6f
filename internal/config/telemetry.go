package config

import (
	"go.opentelemetry.io/otel"
	noopmetric "go.opentelemetry.io/otel/metric/noop"
	nooptrace "go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/exp/slog"
)

// finalizeTelemetry fills in any telemetry providers that were not supplied
// as options.
//
// When the environment is in use the global OpenTelemetry providers are used,
// otherwise nothing is recorded. Log messages go to the default slog logger
// unless another is given.
func (c *Config) finalizeTelemetry() {
	p := c.Telemetry

	switch {
	case p.TracerProvider != nil:
	case c.UseEnv:
		p.TracerProvider = otel.GetTracerProvider()
	default:
		p.TracerProvider = nooptrace.NewTracerProvider()
	}

	switch {
	case p.MeterProvider != nil:
	case c.UseEnv:
		p.MeterProvider = otel.GetMeterProvider()
	default:
		p.MeterProvider = noopmetric.NewMeterProvider()
	}

	if p.Logger == nil {
		p.Logger = slog.Default()
	}
}
