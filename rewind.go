// Package rewind reconstructs the content of a set of database tables at any
// position within a replication log, starting from a snapshot that was taken
// at an approximately known time.
package rewind

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dogmatiq/rewind/binlog"
	"github.com/dogmatiq/rewind/change"
	"github.com/dogmatiq/rewind/checkpoint"
	"github.com/dogmatiq/rewind/internal/config"
	"github.com/dogmatiq/rewind/internal/telemetry"
	"github.com/dogmatiq/rewind/normalize"
	"github.com/dogmatiq/rewind/replay"
	"github.com/dogmatiq/rewind/table"
	"github.com/dogmatiq/rewind/txlog"
)

// Timeline is a normalized snapshot and the replication log it was normalized
// against.
//
// It is safe for concurrent use. The cursors it creates are not. It must be
// closed when it is no longer needed.
type Timeline struct {
	snapshot   *normalize.Snapshot
	log        *txlog.Log
	checkpoint checkpoint.Checkpoint
	config     *config.Config
}

// Open decodes the transactions in log, then normalizes snapshot, which was
// taken at approximately the time estimate.
//
// snapshot is not modified.
func Open(
	ctx context.Context,
	snapshot table.Set,
	log binlog.Source,
	estimate time.Time,
	options ...Option,
) (_ *Timeline, err error) {
	cfg, err := config.New(ctx, options)
	if err != nil {
		return nil, err
	}

	tl := &Timeline{config: cfg}
	defer func() {
		if err != nil {
			err = errors.Join(err, tl.Close())
		}
	}()

	r := cfg.Telemetry.Recorder(
		"github.com/dogmatiq/rewind",
		"rewind",
		telemetry.String("source", log.Name()),
	)

	ctx, span := r.StartSpan(
		ctx,
		"rewind.open",
		telemetry.Time("estimate", estimate),
	)
	defer span.End()

	raw, err := interest(snapshot, cfg.Tables)
	if err != nil {
		span.Error("could not select tables", err)
		return nil, err
	}

	store := &txlog.Store{
		Journals:  cfg.Persistence.Journals,
		Keyspaces: cfg.Persistence.Keyspaces,
		Telemetry: cfg.Telemetry,
	}

	tl.log, err = store.Open(ctx, log, raw.Catalog(), cfg.Normalization.Location)
	if err != nil {
		span.Error("could not open transaction log", err)
		return nil, err
	}

	n := &normalize.Normalizer{
		Window:           cfg.Normalization.Window,
		RetryWiderWindow: cfg.Normalization.RetryWiderWindow,
		Telemetry:        cfg.Telemetry,
	}

	tl.snapshot, err = n.Normalize(ctx, raw, estimate, tl.log)
	if err != nil {
		return nil, err
	}

	tl.checkpoint = checkpoint.New(tl.log.Name(), raw.Digest(), tl.snapshot)
	checkpoints := &checkpoint.Store{
		Keyspaces: cfg.Persistence.Keyspaces,
	}

	prev, ok, err := checkpoints.Load(ctx, tl.checkpoint)
	if err != nil {
		span.Error("could not load checkpoint", err)
		return nil, err
	}

	if ok && prev.Anchor != tl.checkpoint.Anchor {
		span.Warn(
			"snapshot normalized to a different position than before",
			telemetry.Stringer("previous_anchor", prev.Anchor),
			telemetry.Duration("previous_window", prev.Window),
			telemetry.Stringer("anchor", tl.checkpoint.Anchor),
		)
	}

	if err := checkpoints.Save(ctx, tl.checkpoint); err != nil {
		span.Error("could not save checkpoint", err)
		return nil, err
	}

	return tl, nil
}

// Snapshot returns the normalized snapshot.
func (t *Timeline) Snapshot() *normalize.Snapshot {
	return t.snapshot
}

// Anchor returns the position that the snapshot was normalized to.
func (t *Timeline) Anchor() change.Position {
	return t.snapshot.Anchor
}

// Checkpoint returns the checkpoint that was recorded for the normalization.
func (t *Timeline) Checkpoint() checkpoint.Checkpoint {
	return t.checkpoint
}

// Log returns the transactions in the log that change a table of interest.
func (t *Timeline) Log() *txlog.Log {
	return t.log
}

// NewCursor returns a cursor positioned at the snapshot's anchor.
//
// The cursor reads transactions from the timeline's log, so it must not be
// used after the timeline is closed.
func (t *Timeline) NewCursor() *replay.Cursor {
	return replay.NewCursor(
		t.snapshot,
		t.log,
		replay.WithTelemetry(t.config.Telemetry),
	)
}

// Close closes the timeline's log and releases the persistence resources
// that were opened from the environment.
func (t *Timeline) Close() error {
	var err error

	if t.log != nil {
		err = t.log.Close()
		t.log = nil
	}

	if t.config != nil {
		err = errors.Join(err, t.config.Close())
		t.config = nil
	}

	return err
}

// interest returns the subset of s containing the given tables, or all of s
// if ids is empty.
func interest(s table.Set, ids []change.TableID) (table.Set, error) {
	if len(ids) == 0 {
		return s, nil
	}

	subset := table.Set{}
	for _, id := range ids {
		_, canonical, ok := s.Catalog().Lookup(id)
		if !ok {
			return nil, fmt.Errorf("%w: %s", table.ErrUnknownTable, id)
		}
		subset[canonical] = s[canonical]
	}

	return subset, nil
}
