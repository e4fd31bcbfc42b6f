package table

import (
	"encoding/binary"
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/dogmatiq/rewind/change"
	"golang.org/x/exp/slices"
)

// Set is a collection of table snapshots, keyed by table.
type Set map[change.TableID]*Snapshot

// NewSet returns a set containing the given snapshots.
func NewSet(snapshots ...*Snapshot) (Set, error) {
	s := Set{}

	for _, snap := range snapshots {
		id := snap.Schema().Table
		if _, ok := s[id]; ok {
			return nil, fmt.Errorf("duplicate snapshot of table %s", id)
		}
		s[id] = snap
	}

	return s, nil
}

// IDs returns the identifiers of the tables in the set, in lexical order.
func (s Set) IDs() []change.TableID {
	ids := make([]change.TableID, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	slices.SortFunc(
		ids,
		func(a, b change.TableID) int {
			if a.Database != b.Database {
				if a.Database < b.Database {
					return -1
				}
				return +1
			}
			switch {
			case a.Name < b.Name:
				return -1
			case a.Name > b.Name:
				return +1
			default:
				return 0
			}
		},
	)
	return ids
}

// Catalog returns the schemas of the tables in the set.
func (s Set) Catalog() change.Catalog {
	c := make(change.Catalog, len(s))
	for id, snap := range s {
		c[id] = snap.Schema()
	}
	return c
}

// Clone returns a deep copy of the set.
func (s Set) Clone() Set {
	c := make(Set, len(s))
	for id, snap := range s {
		c[id] = snap.Clone()
	}
	return c
}

// Apply applies a single row change to the appropriate table.
func (s Set) Apply(c change.RowChange, u *Undo) error {
	snap, ok := s[c.Table]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTable, c.Table)
	}
	return snap.Apply(c, u)
}

// ApplyTransaction applies every change in tx, in order.
//
// The transaction is applied atomically: if any change fails, the changes
// already applied are reverted before the error is returned. On success the
// prior state of each modified row is recorded in u, if u is non-nil.
func (s Set) ApplyTransaction(tx change.Transaction, u *Undo) error {
	if u == nil {
		u = &Undo{}
	}

	mark := u.Len()

	for _, c := range tx.Changes {
		if err := s.Apply(c, u); err != nil {
			u.RollbackTo(mark)
			return err
		}
	}

	return nil
}

// Digest returns a fingerprint of the content of every table in the set.
func (s Set) Digest() uint64 {
	h := xxhash.New()

	var buf [8]byte
	for _, id := range s.IDs() {
		h.WriteString(id.String()) // nolint:errcheck
		binary.BigEndian.PutUint64(buf[:], s[id].Digest())
		h.Write(buf[:]) // nolint:errcheck
	}

	return h.Sum64()
}
