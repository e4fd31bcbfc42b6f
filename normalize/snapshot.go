package normalize

import (
	"time"

	"github.com/dogmatiq/rewind/change"
	"github.com/dogmatiq/rewind/table"
)

// Snapshot is the content of a set of tables at an exact position within a
// replication log.
//
// It is immutable and safe for concurrent use.
type Snapshot struct {
	// Anchor is the position that the snapshot reflects. Every transaction at
	// or before the anchor is reflected, and no transaction after it is.
	Anchor change.Position

	// AnchorTime is the commit time of the transaction at the anchor.
	AnchorTime time.Time

	// Estimate is the approximate snapshot time that the anchor was derived
	// from.
	Estimate time.Time

	// Window is the half-width of the search window that was used.
	Window time.Duration

	// Applied is the number of transactions in the window that the raw
	// snapshot did not yet reflect.
	Applied int

	// Reflected is the number of transactions in the window that the raw
	// snapshot already reflected.
	Reflected int

	tables table.Set
}

// Exact returns a snapshot of tables that is already known to reflect the
// log exactly up to and including the transaction at anchor.
//
// tables must not be modified after calling Exact.
func Exact(tables table.Set, anchor change.Position, at time.Time) *Snapshot {
	return &Snapshot{
		Anchor:     anchor,
		AnchorTime: at,
		Estimate:   at,
		tables:     tables,
	}
}

// Tables returns the identifiers of the tables in the snapshot.
func (s *Snapshot) Tables() []change.TableID {
	return s.tables.IDs()
}

// View returns a read-only view of a table in the snapshot.
func (s *Snapshot) View(id change.TableID) (table.View, bool) {
	snap, ok := s.tables[id]
	if !ok {
		return nil, false
	}
	return table.ReadOnly(snap), true
}

// Catalog returns the schemas of the tables in the snapshot.
func (s *Snapshot) Catalog() change.Catalog {
	return s.tables.Catalog()
}

// Clone returns a mutable copy of the tables in the snapshot.
func (s *Snapshot) Clone() table.Set {
	return s.tables.Clone()
}

// Digest returns a fingerprint of the content of the snapshot.
func (s *Snapshot) Digest() uint64 {
	return s.tables.Digest()
}
