package table

import "github.com/dogmatiq/rewind/change"

// View is a read-only view of a table's content.
type View interface {
	// Schema returns the table's schema.
	Schema() *change.Schema

	// Len returns the number of rows in the table.
	Len() int

	// Get returns the row with the given primary key.
	Get(key change.Image) (change.Row, bool)

	// Range calls fn for each row in primary key order until fn returns false.
	Range(fn func(change.Row) bool)

	// Digest returns a fingerprint of the table's content.
	Digest() uint64
}

// ReadOnly returns a read-only view of s.
//
// The view reflects subsequent modifications to s.
func ReadOnly(s *Snapshot) View {
	return view{s}
}

type view struct {
	s *Snapshot
}

func (v view) Schema() *change.Schema                  { return v.s.Schema() }
func (v view) Len() int                                { return v.s.Len() }
func (v view) Get(key change.Image) (change.Row, bool) { return v.s.Get(key) }
func (v view) Range(fn func(change.Row) bool)          { v.s.Range(fn) }
func (v view) Digest() uint64                          { return v.s.Digest() }
