// Package normalize resolves an approximately-timestamped table snapshot to an
// exact position within a replication log.
package normalize

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dogmatiq/rewind/change"
	"github.com/dogmatiq/rewind/internal/telemetry"
	"github.com/dogmatiq/rewind/table"
)

// DefaultWindow is the default half-width of the search window.
const DefaultWindow = time.Hour

// Normalizer determines the exact log position of a snapshot by reconciling
// it with the transactions committed near its estimated time.
type Normalizer struct {
	// Window is the half-width of the search window.
	//
	// The zero value means [DefaultWindow], so an empty window cannot be
	// requested. Use [Exact] when the position of the snapshot is already
	// known.
	Window time.Duration

	// RetryWiderWindow, if true, causes a failed normalization to be retried
	// once with the window doubled.
	RetryWiderWindow bool

	// Telemetry is the provider used to record traces, metrics and logs.
	Telemetry *telemetry.Provider
}

// Normalize returns the exact snapshot that raw represents, given that it was
// taken at approximately the time estimate.
//
// raw is not modified.
func (n *Normalizer) Normalize(
	ctx context.Context,
	raw table.Set,
	estimate time.Time,
	src change.Source,
) (*Snapshot, error) {
	window := n.Window
	if window == 0 {
		window = DefaultWindow
	}
	if window < 0 {
		return nil, fmt.Errorf("window must not be negative, got %s", window)
	}

	r := n.Telemetry.Recorder(
		"github.com/dogmatiq/rewind/normalize",
		"normalize",
	)

	ctx, span := r.StartSpan(
		ctx,
		"normalize.snapshot",
		telemetry.Time("estimate", estimate),
	)
	defer span.End()

	w := &reconciler{
		Applied:   r.Counter("transactions.applied", "{transaction}", "The number of transactions applied to raw snapshots."),
		Reflected: r.Counter("transactions.reflected", "{transaction}", "The number of transactions already reflected by raw snapshots."),
		Conflicts: r.Counter("conflicts", "{change}", "The number of row changes that conflicted with raw snapshots."),
	}

	snap, err := w.reconcile(ctx, raw, estimate, window, src)
	if err == nil || !n.RetryWiderWindow || !retryable(err) {
		return n.finish(span, snap, err)
	}

	span.Warn(
		"retrying with a wider window",
		telemetry.Duration("window", window),
		telemetry.Duration("wider_window", 2*window),
		telemetry.String("reason", err.Error()),
	)

	snap, err = w.reconcile(ctx, raw, estimate, 2*window, src)
	return n.finish(span, snap, err)
}

func (n *Normalizer) finish(
	span *telemetry.Span,
	snap *Snapshot,
	err error,
) (*Snapshot, error) {
	if err != nil {
		var rec *ReconciliationError
		if errors.As(err, &rec) {
			span.SetAttributes(telemetry.Int("conflicts", len(rec.Conflicts)))
		}
		span.Error("could not normalize snapshot", err)
		return nil, err
	}

	span.SetAttributes(
		telemetry.Stringer("anchor", snap.Anchor),
		telemetry.Duration("window", snap.Window),
		telemetry.Int("applied", snap.Applied),
		telemetry.Int("reflected", snap.Reflected),
	)

	span.Info(
		"normalized snapshot",
		telemetry.Stringer("anchor", snap.Anchor),
		telemetry.Time("anchor_time", snap.AnchorTime),
		telemetry.Duration("window", snap.Window),
		telemetry.Int("applied", snap.Applied),
		telemetry.Int("reflected", snap.Reflected),
	)

	return snap, nil
}

func retryable(err error) bool {
	return errors.Is(err, ErrNoTransactionsInWindow) ||
		errors.Is(err, ErrReconciliationConflict)
}

// reconciler reconciles a raw snapshot with the transactions in a search window.
type reconciler struct {
	Applied   telemetry.Instrument[int64]
	Reflected telemetry.Instrument[int64]
	Conflicts telemetry.Instrument[int64]
}

func (w *reconciler) reconcile(
	ctx context.Context,
	raw table.Set,
	estimate time.Time,
	halfWidth time.Duration,
	src change.Source,
) (*Snapshot, error) {
	lo, hi := estimate.Add(-halfWidth), estimate.Add(halfWidth)

	candidates, err := src.CommittedBetween(ctx, lo, hi)
	if err != nil {
		return nil, err
	}

	if len(candidates) == 0 {
		return nil, fmt.Errorf(
			"%w: nothing was committed between %s and %s",
			ErrNoTransactionsInWindow,
			lo.Format(time.RFC3339),
			hi.Format(time.RFC3339),
		)
	}

	working := raw.Clone()
	snap := &Snapshot{
		Estimate: estimate,
		Window:   halfWidth,
		tables:   working,
	}

	var conflicts []Conflict

	for _, tx := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		applied := false

		for _, c := range tx.Changes {
			t, ok := working[c.Table]
			if !ok {
				return nil, fmt.Errorf("%w: %s", table.ErrUnknownTable, c.Table)
			}

			class, actual, err := t.Classify(c)
			if err != nil {
				return nil, err
			}

			switch class {
			case table.Pending:
				if err := t.Apply(c, nil); err != nil {
					return nil, err
				}
				applied = true

			case table.Conflicting:
				conflicts = append(conflicts, Conflict{
					Position: tx.Position,
					Table:    c.Table,
					Op:       c.Op,
					Key:      c.Key,
					Expected: c.Before,
					Actual:   actual,
				})
			}
		}

		if applied {
			snap.Applied++
		} else {
			snap.Reflected++
		}
	}

	w.Conflicts(ctx, int64(len(conflicts)))

	if len(conflicts) != 0 {
		return nil, &ReconciliationError{
			Estimate:  estimate,
			Window:    halfWidth,
			Conflicts: conflicts,
		}
	}

	last := candidates[len(candidates)-1]
	snap.Anchor = last.Position
	snap.AnchorTime = last.CommittedAt

	w.Applied(ctx, int64(snap.Applied))
	w.Reflected(ctx, int64(snap.Reflected))

	return snap, nil
}
