package tlog

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"golang.org/x/exp/slices"
	"golang.org/x/exp/slog"
)

// New returns a logger that writes records of every level to the test's log.
func New(t testing.TB) *slog.Logger {
	return NewWithLevel(t, slog.LevelDebug)
}

// NewWithLevel returns a logger that writes records at or above the given
// level to the test's log.
func NewWithLevel(t testing.TB, level slog.Leveler) *slog.Logger {
	return slog.New(
		&handler{
			t:     t,
			level: level,
		},
	)
}

type handler struct {
	t      testing.TB
	level  slog.Leveler
	attrs  []slog.Attr
	groups []string
}

func (h *handler) Enabled(_ context.Context, l slog.Level) bool {
	return l >= h.level.Level()
}

func (h *handler) Handle(_ context.Context, rec slog.Record) error {
	var attrs []slog.Attr
	rec.Attrs(func(a slog.Attr) bool {
		attrs = append(attrs, a)
		return true
	})

	for i := len(h.groups) - 1; i >= 0; i-- {
		args := make([]any, len(attrs))
		for j, a := range attrs {
			args[j] = a
		}
		attrs = []slog.Attr{slog.Group(h.groups[i], args...)}
	}

	attrs = append(slices.Clone(h.attrs), attrs...)

	var w strings.Builder
	fmt.Fprintf(&w, "[%s] %s", rec.Level, rec.Message)
	write(&w, "", attrs)

	h.t.Helper()
	h.t.Log(w.String())

	return nil
}

// write renders attrs as an indented tree beneath the message.
func write(w *strings.Builder, prefix string, attrs []slog.Attr) {
	for i, a := range attrs {
		branch, indent := "├─ ", "│  "
		if i == len(attrs)-1 {
			branch, indent = "╰─ ", "   "
		}

		w.WriteString("\n")
		w.WriteString(prefix)
		w.WriteString(branch)
		w.WriteString(a.Key)

		if a.Value.Kind() == slog.KindGroup {
			write(w, prefix+indent, a.Value.Group())
			continue
		}

		v := a.Value.String()
		if strings.ContainsAny(v, " \t\r\n") {
			v = fmt.Sprintf("%q", v)
		}

		w.WriteString(": ")
		w.WriteString(v)
	}
}

func (h *handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(h.groups) != 0 {
		args := make([]any, len(attrs))
		for i, a := range attrs {
			args[i] = a
		}
		for i := len(h.groups) - 1; i >= 0; i-- {
			args = []any{slog.Group(h.groups[i], args...)}
		}
		attrs = []slog.Attr{args[0].(slog.Attr)}
	}

	return &handler{
		t:      h.t,
		level:  h.level,
		attrs:  append(slices.Clone(h.attrs), attrs...),
		groups: h.groups,
	}
}

func (h *handler) WithGroup(name string) slog.Handler {
	return &handler{
		t:      h.t,
		level:  h.level,
		attrs:  h.attrs,
		groups: append(slices.Clone(h.groups), name),
	}
}
