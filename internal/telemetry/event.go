package telemetry

import (
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/exp/slog"
)

// Info logs an info-level event.
func (s *Span) Info(message string, attrs ...Attr) {
	s.event(slog.LevelInfo, message, attrs)
}

// Warn logs a warning-level event.
func (s *Span) Warn(message string, attrs ...Attr) {
	s.event(slog.LevelWarn, message, attrs)
}

// Debug logs a debug-level event.
func (s *Span) Debug(message string, attrs ...Attr) {
	s.event(slog.LevelDebug, message, attrs)
}

// Error logs an error-level event.
//
// It marks the span as an error and increments the recorder's "errors" metric.
func (s *Span) Error(message string, err error, attrs ...Attr) {
	set := s.eventAttrs(attrs)

	s.span.SetStatus(codes.Error, err.Error())
	s.span.RecordError(err, set.ForSpan())
	s.recorder.errorCount(s.ctx, 1)

	if !s.logger.Enabled(s.ctx, slog.LevelError) {
		return
	}

	s.logger.LogAttrs(
		s.ctx,
		slog.LevelError,
		message,
		set.ForLogger(
			slog.String("error", err.Error()),
		)...,
	)
}

func (s *Span) event(level slog.Level, message string, attrs []Attr) {
	if !s.logger.Enabled(s.ctx, level) {
		return
	}

	set := s.eventAttrs(attrs)

	s.span.AddEvent(message, set.ForSpan())
	s.logger.LogAttrs(s.ctx, level, message, set.ForLogger()...)
}

func (s *Span) eventAttrs(attrs []Attr) attrSet {
	return attrSet{
		Namespace: s.recorder.name,
		Attrs:     attrs,
	}
}
