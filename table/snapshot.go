package table

import (
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/dogmatiq/rewind/change"
	"golang.org/x/exp/slices"
)

// Snapshot is the in-memory state of a single table, with rows keyed by
// primary key.
type Snapshot struct {
	schema *change.Schema
	rows   map[string]change.Row
}

// New returns an empty snapshot of the table described by schema.
func New(schema *change.Schema) (*Snapshot, error) {
	if err := schema.Validate(); err != nil {
		return nil, err
	}

	return &Snapshot{
		schema: schema,
		rows:   map[string]change.Row{},
	}, nil
}

// Schema returns the table's schema.
func (s *Snapshot) Schema() *change.Schema {
	return s.schema
}

// Len returns the number of rows in the table.
func (s *Snapshot) Len() int {
	return len(s.rows)
}

// Put adds a row to the table. It is used to populate the table when loading
// a snapshot.
func (s *Snapshot) Put(row change.Row) error {
	if len(row) != len(s.schema.Columns) {
		return fmt.Errorf(
			"row of table %s has %d values, expected %d",
			s.schema.Table,
			len(row),
			len(s.schema.Columns),
		)
	}

	key := s.schema.KeyOfRow(row)
	k, err := s.schema.EncodeKey(key)
	if err != nil {
		return err
	}

	if existing, ok := s.rows[k]; ok {
		return &ApplyError{
			Err:    ErrKeyConflict,
			Table:  s.schema.Table,
			Op:     change.Insert,
			Key:    key,
			Actual: s.schema.ImageOf(existing),
		}
	}

	s.rows[k] = slices.Clone(row)
	return nil
}

// Get returns the row with the given primary key.
func (s *Snapshot) Get(key change.Image) (change.Row, bool) {
	k, err := s.schema.EncodeKey(key)
	if err != nil {
		return nil, false
	}

	row, ok := s.rows[k]
	return slices.Clone(row), ok
}

// Range calls fn for each row in the table, in primary key order, until fn
// returns false.
func (s *Snapshot) Range(fn func(change.Row) bool) {
	for _, row := range s.Rows() {
		if !fn(row) {
			return
		}
	}
}

// Rows returns a copy of every row in the table, in primary key order.
func (s *Snapshot) Rows() []change.Row {
	rows := make([]change.Row, 0, len(s.rows))
	for _, row := range s.rows {
		rows = append(rows, slices.Clone(row))
	}

	indices := make([]int, len(s.schema.PrimaryKey))
	for i, k := range s.schema.PrimaryKey {
		indices[i], _ = s.schema.Index(k)
	}

	slices.SortFunc(
		rows,
		func(a, b change.Row) int {
			for _, i := range indices {
				if c := a[i].Compare(b[i]); c != 0 {
					return c
				}
			}
			return 0
		},
	)

	return rows
}

// Clone returns a deep copy of the snapshot.
func (s *Snapshot) Clone() *Snapshot {
	rows := make(map[string]change.Row, len(s.rows))
	for k, row := range s.rows {
		rows[k] = slices.Clone(row)
	}

	return &Snapshot{
		schema: s.schema,
		rows:   rows,
	}
}

// Digest returns a fingerprint of the table's content.
//
// Two snapshots of the same table have the same digest if and only if they
// contain the same rows (barring hash collisions).
func (s *Snapshot) Digest() uint64 {
	keys := make([]string, 0, len(s.rows))
	for k := range s.rows {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	h := xxhash.New()
	var buf []byte

	for _, k := range keys {
		buf = buf[:0]
		buf = append(buf, k...)
		for _, v := range s.rows[k] {
			buf = change.AppendValue(buf, v)
		}
		h.Write(buf) // nolint:errcheck
	}

	return h.Sum64()
}

// matches returns true if every column in img has the same value in row.
func (s *Snapshot) matches(row change.Row, img change.Image) bool {
	for name, v := range img {
		i, ok := s.schema.Index(name)
		if !ok || !row[i].Equal(v) {
			return false
		}
	}
	return true
}

// imageOf returns the image of row, or nil if the row does not exist.
func (s *Snapshot) imageOf(row change.Row, ok bool) change.Image {
	if !ok {
		return nil
	}
	return s.schema.ImageOf(row)
}
