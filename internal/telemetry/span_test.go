package telemetry_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	. "github.com/dogmatiq/rewind/internal/telemetry"
	"golang.org/x/exp/slog"
)

func TestSpan(t *testing.T) {
	setup := func(level slog.Level) (*bytes.Buffer, *Recorder) {
		buf := &bytes.Buffer{}
		p := &Provider{
			Logger: slog.New(
				slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: level}),
			),
			Attrs: []Attr{
				String("run", "<run>"),
			},
		}

		return buf, p.Recorder("github.com/dogmatiq/rewind/internal/telemetry_test", "test")
	}

	decode := func(t *testing.T, buf *bytes.Buffer) map[string]any {
		t.Helper()

		var m map[string]any
		if err := json.Unmarshal(buf.Bytes(), &m); err != nil {
			t.Fatal(err)
		}
		return m
	}

	t.Run("func Info()", func(t *testing.T) {
		t.Run("it logs the message with the span and event attributes", func(t *testing.T) {
			buf, r := setup(slog.LevelDebug)

			_, span := r.StartSpan(context.Background(), "test.span", Int("index", uint64(8)))
			span.Info("<message>", Bool("ok", true))
			span.End()

			m := decode(t, buf)
			if m["msg"] != "<message>" || m["span_name"] != "test.span" {
				t.Fatalf("unexpected log record: %s", buf.String())
			}

			for _, want := range []string{
				`"run":"<run>"`,
				`"index":8`,
				`"ok":true`,
			} {
				if !strings.Contains(buf.String(), want) {
					t.Fatalf("expected log record to contain %s: %s", want, buf.String())
				}
			}
		})
	})

	t.Run("func Debug()", func(t *testing.T) {
		t.Run("it does not log if the level is disabled", func(t *testing.T) {
			buf, r := setup(slog.LevelInfo)

			_, span := r.StartSpan(context.Background(), "test.span")
			span.Debug("<message>")
			span.End()

			if buf.Len() != 0 {
				t.Fatalf("unexpected output: %s", buf.String())
			}
		})
	})

	t.Run("func Error()", func(t *testing.T) {
		t.Run("it includes the error message", func(t *testing.T) {
			buf, r := setup(slog.LevelDebug)

			_, span := r.StartSpan(context.Background(), "test.span")
			span.Error("<message>", errors.New("<error>"))
			span.End()

			m := decode(t, buf)
			if m["error"] != "<error>" {
				t.Fatalf("unexpected error attribute: %v", m["error"])
			}
		})
	})

	t.Run("it discards logs when the provider is nil", func(t *testing.T) {
		var p *Provider
		r := p.Recorder("github.com/dogmatiq/rewind/internal/telemetry_test", "test")

		ctx, span := r.StartSpan(context.Background(), "test.span")
		defer span.End()

		span.Info("<message>")
		r.Counter("count", "{thing}", "A count.")(ctx, 1)
	})
}
