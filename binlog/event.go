package binlog

import (
	"time"

	"github.com/dogmatiq/rewind/change"
)

// Event is an event produced by a [Scanner].
type Event interface {
	isEvent()
}

// TransactionStart marks the beginning of a transaction.
type TransactionStart struct {
	Position  change.Position
	Timestamp time.Time
}

// TableMap associates a table number with a table.
//
// Columns is nil if the table is not in the scanner's catalog.
type TableMap struct {
	TableNumber uint64
	Table       change.TableID
	Columns     []change.Column
}

// RowOp is a change to a single row.
//
// Key is empty if the table is not in the scanner's catalog.
type RowOp struct {
	Op     change.Op
	Table  change.TableID
	Key    change.Image
	Before change.Image
	After  change.Image
}

// TransactionEnd marks the end of a transaction.
//
// If Rollback is true the transaction's changes were discarded by the server.
type TransactionEnd struct {
	Position  change.Position
	Timestamp time.Time
	Rollback  bool
}

func (TransactionStart) isEvent() {}
func (TableMap) isEvent()         {}
func (RowOp) isEvent()            {}
func (TransactionEnd) isEvent()   {}
