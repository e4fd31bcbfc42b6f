package binlog

import (
	"fmt"

	"github.com/dogmatiq/rewind/change"
)

// Decoder groups the events produced by a [Scanner] into transactions.
//
// Only changes to tables in the catalog are retained. Rolled-back
// transactions, and transactions that retain no changes, are discarded.
type Decoder struct {
	Catalog change.Catalog

	open    *change.Transaction
	last    change.Position
	dropped int
}

// Decode processes a single event. ok is true if ev completed a transaction
// that should be retained, in which case it is returned as tx.
func (d *Decoder) Decode(ev Event) (tx change.Transaction, ok bool, err error) {
	switch ev := ev.(type) {
	case TransactionStart:
		if d.open != nil {
			return tx, false, fmt.Errorf("%w: transaction %s started before %s ended", ErrMalformedLog, ev.Position, d.open.Position)
		}
		if !ev.Position.After(d.last) {
			return tx, false, fmt.Errorf("%w: transaction %s is out of order", ErrMalformedLog, ev.Position)
		}

		d.last = ev.Position
		d.open = &change.Transaction{
			Position: ev.Position,
		}

	case RowOp:
		if d.open == nil {
			return tx, false, fmt.Errorf("%w: %s of table %s outside of a transaction", ErrMalformedLog, ev.Op, ev.Table)
		}

		if c, ok := d.rowChange(ev); ok {
			d.open.Changes = append(d.open.Changes, c)
		}

	case TransactionEnd:
		if d.open == nil {
			return tx, false, nil
		}

		tx = *d.open
		d.open = nil

		tx.Position.LogPos = ev.Position.LogPos
		tx.CommittedAt = ev.Timestamp

		if ev.Rollback || len(tx.Changes) == 0 {
			d.dropped++
			return change.Transaction{}, false, nil
		}

		return tx, true, nil
	}

	return tx, false, nil
}

// Dropped returns the number of transactions that have been discarded because
// they were rolled back or contained no changes of interest.
func (d *Decoder) Dropped() int {
	return d.dropped
}

// Close returns [ErrUnterminatedTransaction] if a transaction is still open.
func (d *Decoder) Close() error {
	if d.open != nil {
		return fmt.Errorf("%w: transaction %s", ErrUnterminatedTransaction, d.open.Position)
	}
	return nil
}

func (d *Decoder) rowChange(ev RowOp) (change.RowChange, bool) {
	schema, id, ok := d.Catalog.Lookup(ev.Table)
	if !ok || len(ev.Key) == 0 {
		return change.RowChange{}, false
	}

	switch ev.Op {
	case change.Insert:
		return change.RowChange{
			Table: id,
			Op:    change.Insert,
			Key:   ev.Key,
			After: ev.After,
		}, true

	case change.Delete:
		return change.RowChange{
			Table:  id,
			Op:     change.Delete,
			Key:    ev.Key,
			Before: ev.Before,
		}, true

	default:
		return change.NewUpdate(schema, ev.Before, ev.After)
	}
}
