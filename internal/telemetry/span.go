package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/exp/slog"
)

// Span represents a single named and timed operation of a workflow.
type Span struct {
	recorder *Recorder
	ctx      context.Context
	span     trace.Span
	logger   *slog.Logger
}

// StartSpan starts a new span.
func (r *Recorder) StartSpan(
	ctx context.Context,
	name string,
	attrs ...Attr,
) (context.Context, *Span) {
	set := attrSet{
		Namespace: r.name,
		Attrs:     append(r.attrs[:len(r.attrs):len(r.attrs)], attrs...),
	}

	ctx, span := r.tracer.Start(ctx, name, set.ForSpan())

	loggerAttrs := set.ForLogger(
		slog.String("span_name", name),
	)

	sctx := span.SpanContext()
	if sctx.HasTraceID() {
		loggerAttrs = append(
			loggerAttrs,
			slog.String("trace_id", sctx.TraceID().String()),
		)
	}
	if sctx.HasSpanID() {
		loggerAttrs = append(
			loggerAttrs,
			slog.String("span_id", sctx.SpanID().String()),
		)
	}

	args := make([]any, len(loggerAttrs))
	for i, a := range loggerAttrs {
		args[i] = a
	}

	return ctx, &Span{
		r,
		ctx,
		span,
		r.logger.With(args...),
	}
}

// End completes the span.
func (s *Span) End() {
	s.span.End()
}

// SetAttributes sets attributes on the span.
func (s *Span) SetAttributes(attrs ...Attr) {
	set := attrSet{
		Namespace: s.recorder.name,
		Attrs:     attrs,
	}

	s.span.SetAttributes(set.ForOpenTelemetry()...)
}
