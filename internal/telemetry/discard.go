package telemetry

import (
	"context"

	"golang.org/x/exp/slog"
)

// discard is a [slog.Handler] that discards all records.
type discard struct{}

func (discard) Enabled(context.Context, slog.Level) bool  { return false }
func (discard) Handle(context.Context, slog.Record) error { return nil }
func (h discard) WithAttrs([]slog.Attr) slog.Handler      { return h }
func (h discard) WithGroup(string) slog.Handler           { return h }
