package instrumentedpersistence

import (
	"context"
	"errors"
	"strings"

	"github.com/dogmatiq/rewind/internal/telemetry"
	"github.com/dogmatiq/rewind/persistence/journal"
)

// JournalStore is a decorator that adds instrumentation to a [journal.Store].
type JournalStore struct {
	Next      journal.Store
	Telemetry *telemetry.Provider
}

// Open returns the journal at the given path.
func (s *JournalStore) Open(ctx context.Context, path ...string) (journal.Journal, error) {
	r := s.Telemetry.Recorder(
		"github.com/dogmatiq/rewind/persistence",
		"journal",
		telemetry.Type("store", s.Next),
		telemetry.String("instance", instanceID()),
		telemetry.Stringer("path", journalPath(path)),
	)

	ctx, span := r.StartSpan(ctx, "journal.open")
	defer span.End()

	next, err := s.Next.Open(ctx, path...)
	if err != nil {
		span.Error("could not open journal", err)
		return nil, err
	}

	j := &journ{
		next:     next,
		recorder: r,
		io:       newIOMetrics(r, "journal", "record"),
		conflicts: r.Counter(
			"conflicts",
			"{conflict}",
			"The number of appends that failed because a record already exists at the target offset.",
		),
	}

	j.io.open(ctx, 1)
	span.Debug("opened journal")

	return j, nil
}

type journalPath []string

func (p journalPath) String() string {
	return strings.Join(p, "/")
}

type journ struct {
	next      journal.Journal
	recorder  *telemetry.Recorder
	io        ioMetrics
	conflicts telemetry.Instrument[int64]
}

func (j *journ) Bounds(ctx context.Context) (begin, end journal.Offset, err error) {
	ctx, span := j.recorder.StartSpan(ctx, "journal.bounds")
	defer span.End()

	begin, end, err = j.next.Bounds(ctx)
	if err != nil {
		span.Error("could not fetch journal bounds", err)
		return 0, 0, err
	}

	span.SetAttributes(
		telemetry.Int("begin", begin),
		telemetry.Int("end", end),
	)
	span.Debug("fetched journal bounds")

	return begin, end, nil
}

func (j *journ) Get(ctx context.Context, off journal.Offset) ([]byte, bool, error) {
	ctx, span := j.recorder.StartSpan(
		ctx,
		"journal.get",
		telemetry.Int("offset", off),
	)
	defer span.End()

	rec, ok, err := j.next.Get(ctx, off)
	if err != nil {
		span.Error("could not fetch journal record", err)
		return nil, false, err
	}

	if !ok {
		span.Debug("journal record not found")
		return nil, false, nil
	}

	span.SetAttributes(telemetry.Int("record_size", len(rec)))
	j.io.transfer(ctx, len(rec), telemetry.ReadDirection)
	span.Debug("fetched journal record")

	return rec, true, nil
}

func (j *journ) Range(
	ctx context.Context,
	begin journal.Offset,
	fn journal.RangeFunc,
) error {
	ctx, span := j.recorder.StartSpan(
		ctx,
		"journal.range",
		telemetry.Int("range_start", begin),
	)
	defer span.End()

	return j.observeRange(ctx, span, fn, func(ctx context.Context, fn journal.RangeFunc) error {
		return j.next.Range(ctx, begin, fn)
	})
}

func (j *journ) RangeAll(ctx context.Context, fn journal.RangeFunc) error {
	ctx, span := j.recorder.StartSpan(ctx, "journal.range_all")
	defer span.End()

	return j.observeRange(ctx, span, fn, j.next.RangeAll)
}

func (j *journ) observeRange(
	ctx context.Context,
	span *telemetry.Span,
	fn journal.RangeFunc,
	doRange func(context.Context, journal.RangeFunc) error,
) error {
	var (
		first, last journal.Offset
		count       int
		bytes       int
		stopped     bool
	)

	err := doRange(
		ctx,
		func(ctx context.Context, off journal.Offset, rec []byte) (bool, error) {
			if count == 0 {
				first = off
			}
			last = off
			count++
			bytes += len(rec)

			j.io.transfer(ctx, len(rec), telemetry.ReadDirection)

			ok, err := fn(ctx, off, rec)
			stopped = !ok
			return ok, err
		},
	)

	if count != 0 {
		span.SetAttributes(
			telemetry.Int("range_start", first),
			telemetry.Int("range_stop", last),
		)
	}

	span.SetAttributes(
		telemetry.Int("records_read", count),
		telemetry.Int("bytes_read", bytes),
		telemetry.Bool("reached_end", !stopped && err == nil),
	)

	if err != nil {
		span.Error("could not read journal records", err)
		return err
	}

	span.Debug("read journal records")

	return nil
}

func (j *journ) Append(ctx context.Context, end journal.Offset, rec []byte) error {
	ctx, span := j.recorder.StartSpan(
		ctx,
		"journal.append",
		telemetry.Int("offset", end),
		telemetry.Int("record_size", len(rec)),
	)
	defer span.End()

	if err := j.next.Append(ctx, end, rec); err != nil {
		if errors.Is(err, journal.ErrConflict) {
			span.SetAttributes(telemetry.Bool("conflict", true))
			j.conflicts(ctx, 1)
		}

		span.Error("could not append journal record", err)
		return err
	}

	j.io.transfer(ctx, len(rec), telemetry.WriteDirection)
	span.Debug("appended journal record")

	return nil
}

func (j *journ) Truncate(ctx context.Context, end journal.Offset) error {
	ctx, span := j.recorder.StartSpan(
		ctx,
		"journal.truncate",
		telemetry.Int("retained_offset", end),
	)
	defer span.End()

	if err := j.next.Truncate(ctx, end); err != nil {
		span.Error("could not truncate journal", err)
		return err
	}

	span.Debug("truncated journal")

	return nil
}

func (j *journ) Close() error {
	ctx, span := j.recorder.StartSpan(context.Background(), "journal.close")
	defer span.End()

	if j.next == nil {
		span.Warn("journal is already closed")
		return nil
	}

	next := j.next
	j.next = nil
	j.io.open(ctx, -1)

	if err := next.Close(); err != nil {
		span.Error("could not close journal", err)
		return err
	}

	span.Debug("closed journal")

	return nil
}
