// Package replay moves the content of a set of tables forwards and backwards
// through a replication log.
package replay

import (
	"context"
	"time"

	"github.com/dogmatiq/rewind/change"
	"github.com/dogmatiq/rewind/internal/telemetry"
	"github.com/dogmatiq/rewind/normalize"
	"github.com/dogmatiq/rewind/table"
)

// Cursor is a position within a replication log and the content of a set of
// tables at that position.
//
// The cursor's position is always the position of a transaction, or the zero
// position if the cursor is before the first transaction.
//
// It is not safe for concurrent use.
type Cursor struct {
	source   change.Source
	position change.Position
	tables   table.Set

	recorder  *telemetry.Recorder
	txCount   telemetry.Instrument[int64]
	stepCount telemetry.Instrument[int64]
}

// Option is an option that changes the behavior of a [Cursor].
type Option func(*Cursor)

// WithTelemetry is an [Option] that sets the telemetry provider used to record
// traces, metrics and logs.
func WithTelemetry(p *telemetry.Provider) Option {
	return func(c *Cursor) {
		c.recorder = p.Recorder(
			"github.com/dogmatiq/rewind/replay",
			"replay",
		)
	}
}

// NewCursor returns a cursor positioned at the anchor of snap.
//
// The cursor operates on its own copy of the snapshot's tables.
func NewCursor(
	snap *normalize.Snapshot,
	src change.Source,
	options ...Option,
) *Cursor {
	c := &Cursor{
		source:   src,
		position: snap.Anchor,
		tables:   snap.Clone(),
	}

	for _, opt := range options {
		opt(c)
	}

	if c.recorder == nil {
		WithTelemetry(nil)(c)
	}

	c.txCount = c.recorder.Counter("transactions", "{transaction}", "The number of transactions that have been applied or reverted.")
	c.stepCount = c.recorder.Counter("steps", "{step}", "The number of steps that have been taken.")

	return c
}

// Position returns the cursor's current position.
func (c *Cursor) Position() change.Position {
	return c.position
}

// Tables returns the identifiers of the tables that the cursor tracks.
func (c *Cursor) Tables() []change.TableID {
	return c.tables.IDs()
}

// View returns a read-only view of a table at the cursor's current position.
//
// The view reflects subsequent steps.
func (c *Cursor) View(id change.TableID) (table.View, bool) {
	snap, ok := c.tables[id]
	if !ok {
		return nil, false
	}
	return table.ReadOnly(snap), true
}

// Digest returns a fingerprint of the content of the tables at the cursor's
// current position.
func (c *Cursor) Digest() uint64 {
	return c.tables.Digest()
}

// StepTo moves the cursor to the last transaction at or before target.
//
// Moving forward applies each transaction in (current, target]. Moving
// backward reverts each transaction in (target, current], most recent first.
//
// If a transaction cannot be applied or reverted the step is abandoned, the
// cursor is left unchanged and a [*ReplayError] is returned. If ctx is
// canceled the cursor remains at the last transaction that was fully applied
// or reverted.
func (c *Cursor) StepTo(ctx context.Context, target change.Position) error {
	switch target.Compare(c.position) {
	case 0:
		return nil
	case +1:
		return c.forward(ctx, target)
	default:
		return c.backward(ctx, target)
	}
}

// StepForward applies the next transaction after the cursor's current
// position.
//
// ok is false if the cursor is already at the end of the log.
func (c *Cursor) StepForward(ctx context.Context) (tx change.Transaction, ok bool, err error) {
	tx, ok, err = c.source.Next(ctx, c.position)
	if !ok || err != nil {
		return change.Transaction{}, false, err
	}

	return tx, true, c.forward(ctx, tx.Position)
}

// StepBackward reverts the transaction at the cursor's current position.
//
// ok is false if the cursor is already at the start of the log.
func (c *Cursor) StepBackward(ctx context.Context) (tx change.Transaction, ok bool, err error) {
	if c.position.IsZero() {
		return change.Transaction{}, false, nil
	}

	tx, ok, err = c.source.Last(ctx, c.position)
	if !ok || err != nil {
		return change.Transaction{}, false, err
	}

	return tx, true, c.backward(ctx, previous(tx.Position))
}

// StepForwardBy applies up to n transactions. It returns the number of
// transactions that were applied, which is less than n only if the end of
// the log is reached.
func (c *Cursor) StepForwardBy(ctx context.Context, n int) (int, error) {
	target := c.position
	count := 0

	for count < n {
		tx, ok, err := c.source.Next(ctx, target)
		if err != nil {
			return 0, err
		}
		if !ok {
			break
		}

		target = tx.Position
		count++
	}

	if err := c.StepTo(ctx, target); err != nil {
		return 0, err
	}

	return count, nil
}

// StepBackwardBy reverts up to n transactions. It returns the number of
// transactions that were reverted, which is less than n only if the start of
// the log is reached.
func (c *Cursor) StepBackwardBy(ctx context.Context, n int) (int, error) {
	target := c.position
	count := 0

	for count < n && !target.IsZero() {
		tx, ok, err := c.source.Last(ctx, target)
		if err != nil {
			return 0, err
		}
		if !ok {
			break
		}

		target = previous(tx.Position)
		count++
	}

	if err := c.StepTo(ctx, target); err != nil {
		return 0, err
	}

	return count, nil
}

// StepToTime moves the cursor to the last transaction committed at or before
// t. If no transaction was committed by t the cursor moves to the start of the
// log.
func (c *Cursor) StepToTime(ctx context.Context, t time.Time) error {
	txs, err := c.source.CommittedBetween(ctx, time.Time{}, t)
	if err != nil {
		return err
	}

	var target change.Position
	if len(txs) != 0 {
		target = txs[len(txs)-1].Position
	}

	return c.StepTo(ctx, target)
}

func (c *Cursor) forward(ctx context.Context, target change.Position) error {
	ctx, span := c.recorder.StartSpan(
		ctx,
		"replay.step",
		telemetry.String("direction", "forward"),
		telemetry.Stringer("from", c.position),
		telemetry.Stringer("to", target),
	)
	defer span.End()

	txs, err := c.source.Between(ctx, c.position, target)
	if err != nil {
		span.Error("could not load transactions", err)
		return err
	}

	var undo table.Undo
	start := c.position

	for i, tx := range txs {
		if err := c.tables.ApplyTransaction(tx, &undo); err != nil {
			undo.Rollback()
			c.position = start

			err = &ReplayError{Position: tx.Position, Err: err}
			span.Error("could not step forward", err)
			return err
		}

		c.position = tx.Position
		c.txCount(ctx, 1, telemetry.String("direction", "forward"))

		if i < len(txs)-1 {
			if err := ctx.Err(); err != nil {
				span.Warn("step interrupted", telemetry.Stringer("position", c.position))
				return err
			}
		}
	}

	c.stepCount(ctx, 1, telemetry.String("direction", "forward"))
	span.Debug(
		"stepped forward",
		telemetry.Int("transactions", len(txs)),
		telemetry.Stringer("position", c.position),
	)

	return nil
}

func (c *Cursor) backward(ctx context.Context, target change.Position) error {
	ctx, span := c.recorder.StartSpan(
		ctx,
		"replay.step",
		telemetry.String("direction", "backward"),
		telemetry.Stringer("from", c.position),
		telemetry.Stringer("to", target),
	)
	defer span.End()

	txs, err := c.source.Between(ctx, target, c.position)
	if err != nil {
		span.Error("could not load transactions", err)
		return err
	}

	// The position preceding the earliest transaction being reverted is the
	// last transaction at or before the target.
	floor, _, err := c.source.Last(ctx, target)
	if err != nil {
		span.Error("could not load transactions", err)
		return err
	}

	var undo table.Undo
	start := c.position

	for i := len(txs) - 1; i >= 0; i-- {
		tx := txs[i]

		if err := c.tables.ApplyTransaction(tx.Invert(), &undo); err != nil {
			undo.Rollback()
			c.position = start

			err = &ReplayError{Position: tx.Position, Backward: true, Err: err}
			span.Error("could not step backward", err)
			return err
		}

		if i > 0 {
			c.position = txs[i-1].Position
		} else {
			c.position = floor.Position
		}
		c.txCount(ctx, 1, telemetry.String("direction", "backward"))

		if i > 0 {
			if err := ctx.Err(); err != nil {
				span.Warn("step interrupted", telemetry.Stringer("position", c.position))
				return err
			}
		}
	}

	c.stepCount(ctx, 1, telemetry.String("direction", "backward"))
	span.Debug(
		"stepped backward",
		telemetry.Int("transactions", len(txs)),
		telemetry.Stringer("position", c.position),
	)

	return nil
}

// previous returns the position immediately before p.
func previous(p change.Position) change.Position {
	return change.Position{Index: p.Index - 1}
}
