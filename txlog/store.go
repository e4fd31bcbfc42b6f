// Package txlog persists decoded transactions so that a replication log need
// only be decoded once.
//
// Each log is stored in a journal with one record per transaction. A journal
// is only used once it has been sealed, which happens after the final
// transaction has been written. A journal that was never sealed is abandoned
// and the log is decoded again into a journal of the next generation.
package txlog

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/dogmatiq/rewind/binlog"
	"github.com/dogmatiq/rewind/change"
	"github.com/dogmatiq/rewind/internal/telemetry"
	"github.com/dogmatiq/rewind/persistence/journal"
	"github.com/dogmatiq/rewind/persistence/kv"
)

// Keyspace is the name of the keyspace that tracks which journals are sealed.
const Keyspace = "txlog"

// Store opens transaction logs, decoding them as necessary.
type Store struct {
	Journals  journal.Store
	Keyspaces kv.Store
	Telemetry *telemetry.Provider
}

// Open returns a log containing the transactions in src that change a table
// in the catalog.
//
// If the log has previously been decoded with the same catalog and location
// the stored transactions are used as-is. Otherwise, src is decoded and the
// transactions are stored before returning.
func (s *Store) Open(
	ctx context.Context,
	src binlog.Source,
	catalog change.Catalog,
	loc *time.Location,
) (*Log, error) {
	name, err := Name(ctx, src, catalog, loc)
	if err != nil {
		return nil, err
	}

	r := s.Telemetry.Recorder(
		"github.com/dogmatiq/rewind/txlog",
		"txlog",
		telemetry.String("source", src.Name()),
		telemetry.String("log", name),
	)

	ctx, span := r.StartSpan(ctx, "txlog.open")
	defer span.End()

	ks, err := s.Keyspaces.Open(ctx, Keyspace)
	if err != nil {
		span.Error("could not open keyspace", err)
		return nil, err
	}
	defer ks.Close()

	prev, err := loadState(ctx, ks, name)
	if err != nil {
		span.Error("could not load log state", err)
		return nil, err
	}

	if prev.Sealed {
		l, err := s.openGeneration(ctx, name, prev.Generation)
		if err != nil {
			span.Error("could not open sealed journal", err)
			return nil, err
		}

		if uint64(l.Len()) == prev.Count {
			span.SetAttributes(
				telemetry.Int("generation", prev.Generation),
				telemetry.Int("transactions", l.Len()),
			)
			span.Info("using previously decoded transactions")
			return l, nil
		}

		l.Close()
		span.Warn(
			"sealed journal has the wrong number of transactions, decoding again",
			telemetry.Int("expected", prev.Count),
			telemetry.Int("actual", l.Len()),
		)
	}

	next := state{Generation: prev.Generation + 1}
	if err := saveState(ctx, ks, name, next); err != nil {
		span.Error("could not save log state", err)
		return nil, err
	}

	span.SetAttributes(telemetry.Int("generation", next.Generation))

	l, err := s.build(ctx, src, catalog, loc, name, next.Generation)
	if err != nil {
		span.Error("could not decode transactions", err)
		return nil, err
	}

	next.Sealed = true
	next.Count = uint64(l.Len())

	if err := saveState(ctx, ks, name, next); err != nil {
		l.Close()
		span.Error("could not seal journal", err)
		return nil, err
	}

	span.Info(
		"sealed journal of decoded transactions",
		telemetry.Int("transactions", l.Len()),
	)

	if prev.Generation != 0 {
		if err := s.discard(ctx, name, prev.Generation); err != nil {
			span.Warn(
				"could not discard previous journal",
				telemetry.Int("previous_generation", prev.Generation),
				telemetry.String("error", err.Error()),
			)
		}
	}

	return l, nil
}

func (s *Store) openGeneration(ctx context.Context, name string, gen uint64) (*Log, error) {
	j, err := s.Journals.Open(ctx, path(name, gen)...)
	if err != nil {
		return nil, err
	}

	l, err := newLog(ctx, name, j)
	if err != nil {
		j.Close()
		return nil, err
	}

	return l, nil
}

// build decodes src into a new journal.
func (s *Store) build(
	ctx context.Context,
	src binlog.Source,
	catalog change.Catalog,
	loc *time.Location,
	name string,
	gen uint64,
) (*Log, error) {
	j, err := s.Journals.Open(ctx, path(name, gen)...)
	if err != nil {
		return nil, err
	}

	_, end, err := j.Bounds(ctx)
	if err != nil {
		j.Close()
		return nil, err
	}

	if err := binlog.DecodeFunc(
		ctx,
		src,
		catalog,
		func(ctx context.Context, tx change.Transaction) error {
			if err := j.Append(ctx, end, MarshalTransaction(tx)); err != nil {
				return fmt.Errorf("unable to store transaction %s: %w", tx.Position, err)
			}
			end++
			return nil
		},
		binlog.WithLocation(loc),
		binlog.WithTelemetry(s.Telemetry),
	); err != nil {
		j.Close()
		return nil, err
	}

	l, err := newLog(ctx, name, j)
	if err != nil {
		j.Close()
		return nil, err
	}

	return l, nil
}

// discard removes the records of an abandoned journal.
func (s *Store) discard(ctx context.Context, name string, gen uint64) error {
	j, err := s.Journals.Open(ctx, path(name, gen)...)
	if err != nil {
		return err
	}
	defer j.Close()

	_, end, err := j.Bounds(ctx)
	if err != nil {
		return err
	}

	return j.Truncate(ctx, end)
}

func path(name string, gen uint64) []string {
	return []string{"txlog", name, strconv.FormatUint(gen, 10)}
}
