package txlog

import (
	"context"
	"fmt"
	"time"

	"github.com/dogmatiq/rewind/change"
	"github.com/dogmatiq/rewind/persistence/journal"
)

// Log is a [change.Source] that reads transactions from a sealed journal.
//
// The journal holds one record per transaction, in log order, so positions
// are located by binary search.
type Log struct {
	name       string
	journal    journal.Journal
	begin, end journal.Offset
}

var _ change.Source = (*Log)(nil)

// newLog returns a log that reads the transactions in j.
func newLog(ctx context.Context, name string, j journal.Journal) (*Log, error) {
	begin, end, err := j.Bounds(ctx)
	if err != nil {
		return nil, err
	}

	return &Log{name, j, begin, end}, nil
}

// Name returns the name of the log, as returned by [Name].
func (l *Log) Name() string {
	return l.name
}

// Len returns the number of transactions in the log.
func (l *Log) Len() int {
	return int(l.end - l.begin)
}

// Close closes the underlying journal.
func (l *Log) Close() error {
	return l.journal.Close()
}

// Transactions returns every transaction in the log.
func (l *Log) Transactions(ctx context.Context) (change.Sequence, error) {
	seq := make(change.Sequence, 0, l.Len())

	err := l.rangeFrom(
		ctx,
		l.begin,
		func(tx change.Transaction) bool {
			seq = append(seq, tx)
			return true
		},
	)

	return seq, err
}

// Between returns the transactions with positions in the half-open range
// (after, upTo], in log order.
func (l *Log) Between(ctx context.Context, after, upTo change.Position) ([]change.Transaction, error) {
	if !upTo.After(after) {
		return nil, ctx.Err()
	}

	off, _, ok, err := l.search(ctx, after)
	if !ok || err != nil {
		return nil, err
	}

	var txs []change.Transaction

	err = l.rangeFrom(
		ctx,
		off,
		func(tx change.Transaction) bool {
			if tx.Position.After(upTo) {
				return false
			}
			txs = append(txs, tx)
			return true
		},
	)

	return txs, err
}

// Next returns the first transaction positioned after p.
func (l *Log) Next(ctx context.Context, p change.Position) (change.Transaction, bool, error) {
	_, tx, ok, err := l.search(ctx, p)
	return tx, ok, err
}

// Last returns the last transaction positioned at or before p.
func (l *Log) Last(ctx context.Context, p change.Position) (change.Transaction, bool, error) {
	off, _, _, err := l.search(ctx, p)
	if err != nil || off == l.begin {
		return change.Transaction{}, false, err
	}

	return l.get(ctx, off-1)
}

// CommittedBetween returns the transactions committed within the closed
// interval [lo, hi], in log order.
//
// Commit times are not guaranteed to be monotonic, so every transaction is
// considered.
func (l *Log) CommittedBetween(ctx context.Context, lo, hi time.Time) ([]change.Transaction, error) {
	var txs []change.Transaction

	err := l.rangeFrom(
		ctx,
		l.begin,
		func(tx change.Transaction) bool {
			if !tx.CommittedAt.Before(lo) && !tx.CommittedAt.After(hi) {
				txs = append(txs, tx)
			}
			return true
		},
	)

	return txs, err
}

// search returns the offset of the first transaction positioned after p.
//
// If there is no such transaction, ok is false and off is the end of the
// journal.
func (l *Log) search(ctx context.Context, p change.Position) (off journal.Offset, tx change.Transaction, ok bool, err error) {
	off, rec, ok, err := journal.Search(
		ctx,
		l.journal,
		l.begin,
		l.end,
		func(ctx context.Context, rec []byte) (bool, error) {
			tx, err := UnmarshalTransaction(rec)
			if err != nil {
				return false, err
			}
			return tx.Position.After(p), nil
		},
	)
	if !ok || err != nil {
		return off, change.Transaction{}, false, err
	}

	tx, err = UnmarshalTransaction(rec)
	if err != nil {
		return 0, change.Transaction{}, false, err
	}

	return off, tx, true, nil
}

func (l *Log) get(ctx context.Context, off journal.Offset) (change.Transaction, bool, error) {
	rec, ok, err := l.journal.Get(ctx, off)
	if err != nil {
		return change.Transaction{}, false, err
	}
	if !ok {
		return change.Transaction{}, false, fmt.Errorf("journal is corrupt: missing record at offset %d", off)
	}

	tx, err := UnmarshalTransaction(rec)
	if err != nil {
		return change.Transaction{}, false, err
	}

	return tx, true, nil
}

// rangeFrom calls fn for each transaction from the given offset until fn
// returns false or the end of the sealed journal is reached.
func (l *Log) rangeFrom(
	ctx context.Context,
	begin journal.Offset,
	fn func(change.Transaction) bool,
) error {
	if begin >= l.end {
		return ctx.Err()
	}

	return l.journal.Range(
		ctx,
		begin,
		func(ctx context.Context, off journal.Offset, rec []byte) (bool, error) {
			if off >= l.end {
				return false, nil
			}

			tx, err := UnmarshalTransaction(rec)
			if err != nil {
				return false, fmt.Errorf("journal is corrupt: record at offset %d: %w", off, err)
			}

			return fn(tx), nil
		},
	)
}
