package table

import (
	"errors"
	"fmt"

	"github.com/dogmatiq/rewind/change"
	"golang.org/x/exp/slices"
)

var (
	// ErrKeyConflict indicates that an insert (or a key-changing update)
	// addressed a primary key that is already present.
	ErrKeyConflict = errors.New("key conflict")

	// ErrStaleDelete indicates that a delete addressed a row that is absent or
	// does not match the delete's before image.
	ErrStaleDelete = errors.New("stale delete")

	// ErrStaleUpdate indicates that an update addressed a row that is absent
	// or does not match the update's before image.
	ErrStaleUpdate = errors.New("stale update")

	// ErrUnknownTable indicates that a change addressed a table that is not
	// part of the snapshot.
	ErrUnknownTable = errors.New("unknown table")
)

// ApplyError is returned when a row change cannot be applied to a table.
//
// It wraps one of [ErrKeyConflict], [ErrStaleDelete] or [ErrStaleUpdate].
type ApplyError struct {
	Err   error
	Table change.TableID
	Op    change.Op
	Key   change.Image

	// Expected is the image the change expected to find. It is nil if the
	// change expected the row to be absent.
	Expected change.Image

	// Actual is the current image of the row. It is nil if the row is absent.
	Actual change.Image
}

func (e *ApplyError) Error() string {
	return fmt.Sprintf(
		"%s: cannot %s row %s of table %s: expected %s, actual %s",
		e.Err,
		e.Op,
		e.Key,
		e.Table,
		describe(e.Expected),
		describe(e.Actual),
	)
}

func (e *ApplyError) Unwrap() error {
	return e.Err
}

func describe(img change.Image) string {
	if img == nil {
		return "(absent)"
	}
	return img.String()
}

// Apply applies c to the table.
//
// It fails with an [*ApplyError] if the table's current content does not
// satisfy the change's expectations, in which case the table is unchanged.
// If u is non-nil the prior state of each modified row is recorded in u.
func (s *Snapshot) Apply(c change.RowChange, u *Undo) error {
	key, err := s.schema.EncodeKey(c.Key)
	if err != nil {
		return err
	}

	current, exists := s.rows[key]

	fail := func(sentinel error, expected change.Image, actual change.Image) error {
		return &ApplyError{
			Err:      sentinel,
			Table:    s.schema.Table,
			Op:       c.Op,
			Key:      c.Key,
			Expected: expected,
			Actual:   actual,
		}
	}

	switch c.Op {
	case change.Insert:
		if exists {
			return fail(ErrKeyConflict, nil, s.schema.ImageOf(current))
		}

		row, err := s.rowOf(c.After)
		if err != nil {
			return err
		}

		u.record(s, key, current, exists)
		s.rows[key] = row

	case change.Delete:
		if !exists || !s.matches(current, c.Before) {
			return fail(ErrStaleDelete, c.Before, s.imageOf(current, exists))
		}

		u.record(s, key, current, exists)
		delete(s.rows, key)

	case change.Update:
		if !exists || !s.matches(current, c.Before) {
			return fail(ErrStaleUpdate, c.Before, s.imageOf(current, exists))
		}

		row := slices.Clone(current)
		if err := s.assign(row, c.After); err != nil {
			return err
		}

		newKey, err := s.schema.EncodeKey(s.schema.KeyOfRow(row))
		if err != nil {
			return err
		}

		if newKey != key {
			if occupant, taken := s.rows[newKey]; taken {
				return fail(ErrKeyConflict, nil, s.schema.ImageOf(occupant))
			}

			u.record(s, newKey, nil, false)
			u.record(s, key, current, exists)
			delete(s.rows, key)
		} else {
			u.record(s, key, current, exists)
		}

		s.rows[newKey] = row

	default:
		return fmt.Errorf("unrecognized operation (%d)", c.Op)
	}

	return nil
}

// rowOf returns the complete row described by img.
func (s *Snapshot) rowOf(img change.Image) (change.Row, error) {
	row := make(change.Row, len(s.schema.Columns))
	return row, s.assign(row, img)
}

// assign sets the columns of row to the values in img.
func (s *Snapshot) assign(row change.Row, img change.Image) error {
	for name, v := range img {
		i, ok := s.schema.Index(name)
		if !ok {
			return fmt.Errorf("table %s has no column named %q", s.schema.Table, name)
		}
		row[i] = v
	}
	return nil
}

// Undo records the prior state of rows modified by [Snapshot.Apply], such
// that the modifications can be reverted.
//
// The zero value is ready to use. A nil *Undo records nothing.
type Undo struct {
	entries []undoEntry
}

type undoEntry struct {
	snapshot *Snapshot
	key      string
	row      change.Row
	existed  bool
}

// Len returns the number of recorded modifications. It can be passed to
// [Undo.RollbackTo] to revert only the modifications made after this point.
func (u *Undo) Len() int {
	if u == nil {
		return 0
	}
	return len(u.entries)
}

// Rollback reverts every recorded modification, most recent first.
func (u *Undo) Rollback() {
	u.RollbackTo(0)
}

// RollbackTo reverts the modifications recorded after the first n, most recent
// first.
func (u *Undo) RollbackTo(n int) {
	if u == nil {
		return
	}

	for i := len(u.entries) - 1; i >= n; i-- {
		e := u.entries[i]
		if e.existed {
			e.snapshot.rows[e.key] = e.row
		} else {
			delete(e.snapshot.rows, e.key)
		}
	}

	u.entries = u.entries[:n]
}

func (u *Undo) record(s *Snapshot, key string, row change.Row, existed bool) {
	if u == nil {
		return
	}

	u.entries = append(u.entries, undoEntry{s, key, row, existed})
}
