package change

import (
	"fmt"
	"time"
)

// Position identifies a transaction boundary within a replication log.
//
// The zero value refers to the start of the log, before the first transaction.
type Position struct {
	// Index is the 1-based ordinal of the transaction within the log. It is
	// the sole basis for ordering positions.
	Index uint64

	// GTID is the global transaction identifier of the transaction, if the
	// server assigned one.
	GTID string

	// LogPos is the byte offset of the end of the transaction's final event.
	LogPos uint64
}

// Compare returns -1, 0 or +1 depending on whether p is before, the same as,
// or after q.
func (p Position) Compare(q Position) int {
	switch {
	case p.Index < q.Index:
		return -1
	case p.Index > q.Index:
		return +1
	default:
		return 0
	}
}

// Before returns true if p is before q.
func (p Position) Before(q Position) bool {
	return p.Index < q.Index
}

// After returns true if p is after q.
func (p Position) After(q Position) bool {
	return p.Index > q.Index
}

// IsZero returns true if p refers to the start of the log.
func (p Position) IsZero() bool {
	return p.Index == 0
}

func (p Position) String() string {
	if p.IsZero() {
		return "#0 (start of log)"
	}

	s := fmt.Sprintf("#%d", p.Index)
	if p.GTID != "" {
		s += " " + p.GTID
	}
	if p.LogPos != 0 {
		s += fmt.Sprintf(" @%d", p.LogPos)
	}

	return s
}

// Transaction is a committed set of row changes.
type Transaction struct {
	Position    Position
	CommittedAt time.Time
	Changes     []RowChange
}

// Invert returns the transaction that undoes t.
//
// Its changes are the inverse of the changes in t, in reverse order.
func (t Transaction) Invert() Transaction {
	inv := Transaction{
		Position:    t.Position,
		CommittedAt: t.CommittedAt,
		Changes:     make([]RowChange, len(t.Changes)),
	}

	for i, c := range t.Changes {
		inv.Changes[len(t.Changes)-1-i] = c.Invert()
	}

	return inv
}

// Touches returns true if t changes a row of the given table.
func (t Transaction) Touches(id TableID) bool {
	for _, c := range t.Changes {
		if c.Table == id {
			return true
		}
	}
	return false
}
