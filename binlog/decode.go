package binlog

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/dogmatiq/rewind/change"
	"github.com/dogmatiq/rewind/internal/telemetry"
	"golang.org/x/sync/errgroup"
)

// progressInterval is the number of lines between progress reports.
const progressInterval = 100_000

// DecodeOption is an option that changes the behavior of [Decode] and
// [DecodeFunc].
type DecodeOption func(*decodeConfig)

type decodeConfig struct {
	Location  *time.Location
	Telemetry *telemetry.Provider
}

// WithLocation is a [DecodeOption] that sets the time zone in which the log's
// timestamps are interpreted. The default is UTC.
func WithLocation(loc *time.Location) DecodeOption {
	return func(c *decodeConfig) {
		c.Location = loc
	}
}

// WithTelemetry is a [DecodeOption] that sets the telemetry provider used to
// report progress.
func WithTelemetry(p *telemetry.Provider) DecodeOption {
	return func(c *decodeConfig) {
		c.Telemetry = p
	}
}

// Decode returns every transaction in src that changes a table in the catalog,
// in log order.
func Decode(
	ctx context.Context,
	src Source,
	catalog change.Catalog,
	options ...DecodeOption,
) (change.Sequence, error) {
	var seq change.Sequence

	err := DecodeFunc(
		ctx,
		src,
		catalog,
		func(_ context.Context, tx change.Transaction) error {
			seq = append(seq, tx)
			return nil
		},
		options...,
	)

	return seq, err
}

// DecodeFunc calls fn for each transaction in src that changes a table in the
// catalog, in log order.
//
// The log is scanned on a separate goroutine, concurrently with decoding.
func DecodeFunc(
	ctx context.Context,
	src Source,
	catalog change.Catalog,
	fn func(context.Context, change.Transaction) error,
	options ...DecodeOption,
) error {
	var cfg decodeConfig
	for _, opt := range options {
		opt(&cfg)
	}

	r := cfg.Telemetry.Recorder(
		"github.com/dogmatiq/rewind/binlog",
		"binlog",
		telemetry.String("source", src.Name()),
	)

	lineCount := r.Counter("lines", "{line}", "The number of log lines that have been scanned.")
	txCount := r.Counter("transactions", "{transaction}", "The number of transactions that have been decoded.")

	ctx, span := r.StartSpan(ctx, "binlog.decode")
	defer span.End()

	rc, err := src.Open()
	if err != nil {
		span.Error("could not open replication log", err)
		return err
	}
	defer rc.Close()

	scanner := NewScanner(rc, catalog, cfg.Location)
	events := make(chan Event, 1024)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(events)

		reported := 0

		for {
			ev, err := scanner.Next()
			if err == io.EOF {
				lineCount(ctx, int64(scanner.Line()-reported))
				return nil
			}
			if err != nil {
				return err
			}

			if n := scanner.Line(); n-reported >= progressInterval {
				lineCount(ctx, int64(n-reported))
				reported = n
				span.Info(
					"scanning replication log",
					telemetry.Int("lines", n),
				)
			}

			select {
			case <-ctx.Done():
				return ctx.Err()
			case events <- ev:
			}
		}
	})

	dec := &Decoder{Catalog: catalog}
	var (
		kept int
		last change.Position
	)

	g.Go(func() error {
		for ev := range events {
			tx, ok, err := dec.Decode(ev)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}

			kept++
			last = tx.Position
			txCount(ctx, 1)

			if err := fn(ctx, tx); err != nil {
				return err
			}
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}

		return dec.Close()
	})

	if err := g.Wait(); err != nil {
		var malformed *MalformedLogError
		if errors.As(err, &malformed) {
			span.SetAttributes(telemetry.Int("malformed_line", malformed.Line))
		}
		span.Error("could not decode replication log", err)
		return err
	}

	span.SetAttributes(
		telemetry.Int("lines", scanner.Line()),
		telemetry.Int("transactions", kept),
		telemetry.Int("dropped_transactions", dec.Dropped()),
	)

	span.Info(
		"decoded replication log",
		telemetry.Int("lines", scanner.Line()),
		telemetry.Int("transactions", kept),
		telemetry.Int("dropped_transactions", dec.Dropped()),
		telemetry.Stringer("last_position", last),
	)

	return nil
}
