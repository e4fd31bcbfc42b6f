package change

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/exp/slices"
)

// Source provides ordered access to the transactions decoded from a
// replication log.
type Source interface {
	// Between returns the transactions with positions in the half-open range
	// (after, upTo], in log order.
	Between(ctx context.Context, after, upTo Position) ([]Transaction, error)

	// Next returns the first transaction positioned after p.
	//
	// ok is false if there is no such transaction.
	Next(ctx context.Context, p Position) (tx Transaction, ok bool, err error)

	// Last returns the last transaction positioned at or before p.
	//
	// ok is false if there is no such transaction.
	Last(ctx context.Context, p Position) (tx Transaction, ok bool, err error)

	// CommittedBetween returns the transactions committed within the closed
	// interval [lo, hi], in log order.
	CommittedBetween(ctx context.Context, lo, hi time.Time) ([]Transaction, error)
}

// Sequence is an in-memory [Source].
//
// Its transactions are in strictly increasing position order.
type Sequence []Transaction

var _ Source = Sequence(nil)

// NewSequence returns a sequence containing the given transactions.
//
// It returns an error if the transactions are not in strictly increasing
// position order.
func NewSequence(txs []Transaction) (Sequence, error) {
	for i := 1; i < len(txs); i++ {
		if !txs[i].Position.After(txs[i-1].Position) {
			return nil, fmt.Errorf(
				"transaction at position %s does not follow %s",
				txs[i].Position,
				txs[i-1].Position,
			)
		}
	}

	return Sequence(txs), nil
}

// Between returns the transactions with positions in the half-open range
// (after, upTo], in log order.
func (s Sequence) Between(ctx context.Context, after, upTo Position) ([]Transaction, error) {
	if !upTo.After(after) {
		return nil, ctx.Err()
	}

	begin := s.search(after)
	end := s.search(upTo)

	return s[begin:end], ctx.Err()
}

// Next returns the first transaction positioned after p.
func (s Sequence) Next(ctx context.Context, p Position) (Transaction, bool, error) {
	i := s.search(p)
	if i == len(s) {
		return Transaction{}, false, ctx.Err()
	}
	return s[i], true, ctx.Err()
}

// Last returns the last transaction positioned at or before p.
func (s Sequence) Last(ctx context.Context, p Position) (Transaction, bool, error) {
	i := s.search(p)
	if i == 0 {
		return Transaction{}, false, ctx.Err()
	}
	return s[i-1], true, ctx.Err()
}

// CommittedBetween returns the transactions committed within the closed
// interval [lo, hi], in log order.
func (s Sequence) CommittedBetween(ctx context.Context, lo, hi time.Time) ([]Transaction, error) {
	var matches []Transaction

	for _, tx := range s {
		if !tx.CommittedAt.Before(lo) && !tx.CommittedAt.After(hi) {
			matches = append(matches, tx)
		}
	}

	return matches, ctx.Err()
}

// search returns the index of the first transaction positioned after p.
func (s Sequence) search(p Position) int {
	i, found := slices.BinarySearchFunc(
		s,
		p,
		func(tx Transaction, p Position) int {
			return tx.Position.Compare(p)
		},
	)
	if found {
		i++
	}
	return i
}
