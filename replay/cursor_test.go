package replay_test

import (
	"context"
	"testing"
	"time"

	"github.com/dogmatiq/rewind/change"
	"github.com/dogmatiq/rewind/internal/test"
	"github.com/dogmatiq/rewind/normalize"
	. "github.com/dogmatiq/rewind/replay"
	"github.com/dogmatiq/rewind/table"
	"pgregory.net/rapid"
)

func TestCursor(t *testing.T) {
	txs := test.ScenarioTransactions(t)

	position := func(t test.FailerT, index uint64) change.Position {
		t.Helper()
		tx, ok, err := txs.Last(context.Background(), change.Position{Index: index})
		if err != nil {
			t.Fatal(err)
		}
		if !ok {
			return change.Position{}
		}
		return tx.Position
	}

	afterInserts := func(t test.FailerT) *normalize.Snapshot {
		prices := test.ScenarioAfterInsertsPrices()
		return normalize.Exact(
			test.BooksSet(t, prices),
			position(t, test.ScenarioAfterInserts.Index),
			test.ScenarioInsertsAt.Add(6*time.Minute),
		)
	}

	final := func(t test.FailerT) *normalize.Snapshot {
		return normalize.Exact(
			test.BooksSet(t, test.ScenarioFinalPrices()),
			position(t, test.ScenarioFinal.Index),
			test.ScenarioNullsAt.Add(7*time.Minute),
		)
	}

	prices := func(t test.FailerT, c *Cursor) test.Prices {
		t.Helper()
		v, ok := c.View(test.Books)
		if !ok {
			t.Fatal("expected the books table to be present")
		}
		return test.PricesOf(t, v)
	}

	t.Run("it replays the price scenario from a normalized snapshot", func(t *testing.T) {
		ctx := test.ContextWithTimeout(t, 5*time.Second)

		n := &normalize.Normalizer{
			Window: time.Hour,
		}

		snap, err := n.Normalize(
			ctx,
			test.BooksSet(t, test.ScenarioSnapshot()),
			test.ScenarioSnapshotAt,
			txs,
		)
		if err != nil {
			t.Fatal(err)
		}

		test.Expect(t, "unexpected anchor", snap.Anchor.Index, test.ScenarioAnchor.Index)

		c := NewCursor(snap, txs)

		if err := c.StepTo(ctx, test.ScenarioAfterInserts); err != nil {
			t.Fatal(err)
		}
		test.Expect(t, "unexpected content after the inserts", prices(t, c), test.ScenarioAfterInsertsPrices())

		if err := c.StepTo(ctx, test.ScenarioFinal); err != nil {
			t.Fatal(err)
		}
		test.Expect(t, "unexpected content at the end of the log", prices(t, c), test.ScenarioFinalPrices())

		if err := c.StepTo(ctx, test.ScenarioAfterInserts); err != nil {
			t.Fatal(err)
		}
		test.Expect(t, "unexpected content after stepping back", prices(t, c), test.ScenarioAfterInsertsPrices())
	})

	t.Run("func NewCursor()", func(t *testing.T) {
		t.Run("it positions the cursor at the snapshot's anchor", func(t *testing.T) {
			snap := final(t)
			c := NewCursor(snap, txs)

			test.Expect(t, "unexpected position", c.Position(), snap.Anchor)
			test.Expect(t, "unexpected tables", c.Tables(), []change.TableID{test.Books})

			if c.Digest() != snap.Digest() {
				t.Fatal("expected the cursor to start with the snapshot's content")
			}
		})
	})

	t.Run("func StepTo()", func(t *testing.T) {
		t.Run("it applies transactions when moving forward", func(t *testing.T) {
			ctx := test.ContextWithTimeout(t, 5*time.Second)
			c := NewCursor(
				afterInserts(t),
				txs,
				WithTelemetry(test.NewTelemetryProvider(t)),
			)

			if err := c.StepTo(ctx, test.ScenarioFinal); err != nil {
				t.Fatal(err)
			}

			test.Expect(t, "unexpected position", c.Position().Index, test.ScenarioFinal.Index)
			test.Expect(t, "unexpected table content", prices(t, c), test.ScenarioFinalPrices())
		})

		t.Run("it reverts transactions when moving backward", func(t *testing.T) {
			ctx := test.ContextWithTimeout(t, 5*time.Second)
			c := NewCursor(final(t), txs)

			if err := c.StepTo(ctx, test.ScenarioAfterInserts); err != nil {
				t.Fatal(err)
			}

			test.Expect(t, "unexpected position", c.Position().Index, test.ScenarioAfterInserts.Index)
			test.Expect(t, "unexpected table content", prices(t, c), test.ScenarioAfterInsertsPrices())
		})

		t.Run("it moves to the start of the log", func(t *testing.T) {
			ctx := test.ContextWithTimeout(t, 5*time.Second)
			c := NewCursor(final(t), txs)

			if err := c.StepTo(ctx, change.Position{}); err != nil {
				t.Fatal(err)
			}

			test.Expect(t, "unexpected position", c.Position(), change.Position{})
			test.Expect(
				t,
				"unexpected table content",
				prices(t, c),
				test.Prices{
					1: test.Price(10),
					2: test.Price(20),
					3: test.Price(30),
					4: test.Price(40),
					5: test.Price(50),
				},
			)
		})

		t.Run("it moves to the last transaction at or before the target", func(t *testing.T) {
			ctx := test.ContextWithTimeout(t, 5*time.Second)
			c := NewCursor(final(t), txs)

			// #9 was rolled back, so the nearest preceding transaction is #8.
			if err := c.StepTo(ctx, change.Position{Index: 9}); err != nil {
				t.Fatal(err)
			}

			test.Expect(t, "unexpected position", c.Position(), position(t, 8))
		})

		t.Run("it does nothing when the target is the current position", func(t *testing.T) {
			ctx := test.ContextWithTimeout(t, 5*time.Second)
			c := NewCursor(final(t), txs)
			before := c.Digest()

			if err := c.StepTo(ctx, test.ScenarioFinal); err != nil {
				t.Fatal(err)
			}

			if c.Digest() != before {
				t.Fatal("expected the content to be unchanged")
			}
		})

		t.Run("it produces the same content regardless of the path taken", func(t *testing.T) {
			ctx := test.ContextWithTimeout(t, 10*time.Second)

			rapid.Check(t, func(t *rapid.T) {
				p := change.Position{Index: rapid.Uint64Range(0, 18).Draw(t, "p")}
				q := change.Position{Index: rapid.Uint64Range(0, 18).Draw(t, "q")}

				indirect := NewCursor(final(t), txs)
				if err := indirect.StepTo(ctx, p); err != nil {
					t.Fatal(err)
				}
				if err := indirect.StepTo(ctx, q); err != nil {
					t.Fatal(err)
				}

				direct := NewCursor(final(t), txs)
				if err := direct.StepTo(ctx, q); err != nil {
					t.Fatal(err)
				}

				test.Expect(t, "unexpected position", indirect.Position(), direct.Position())

				if indirect.Digest() != direct.Digest() {
					t.Fatalf("content differs after StepTo(%s); StepTo(%s)", p, q)
				}
			})
		})

		t.Run("it leaves the cursor unchanged if a transaction cannot be applied", func(t *testing.T) {
			ctx := test.ContextWithTimeout(t, 5*time.Second)

			// The snapshot claims to reflect the insert of book 9, but does
			// not contain it.
			p := test.ScenarioAfterInsertsPrices()
			delete(p, 9)

			snap := normalize.Exact(test.BooksSet(t, p), position(t, 8), test.ScenarioInsertsAt)
			c := NewCursor(snap, txs)
			before := c.Digest()

			err := c.StepTo(ctx, test.ScenarioFinal)

			test.ExpectErrorIs(t, err, table.ErrStaleUpdate)
			e := test.ExpectErrorAs[*ReplayError](t, err)
			test.Expect(t, "unexpected failed position", e.Position.Index, uint64(14))
			test.ExpectErrorAs[*table.ApplyError](t, err)

			test.Expect(t, "unexpected position", c.Position(), snap.Anchor)
			if c.Digest() != before {
				t.Fatal("expected the content to be unchanged")
			}
		})

		t.Run("it leaves the cursor unchanged if a transaction cannot be reverted", func(t *testing.T) {
			ctx := test.ContextWithTimeout(t, 5*time.Second)

			p := test.ScenarioFinalPrices()
			p[6] = test.Price(600)

			snap := normalize.Exact(test.BooksSet(t, p), position(t, 17), test.ScenarioNullsAt)
			c := NewCursor(snap, txs)
			before := c.Digest()

			err := c.StepTo(ctx, test.ScenarioAfterInserts)

			test.ExpectErrorIs(t, err, table.ErrStaleUpdate)
			e := test.ExpectErrorAs[*ReplayError](t, err)
			if !e.Backward {
				t.Fatal("expected the error to describe a backward step")
			}
			test.Expect(t, "unexpected failed position", e.Position.Index, uint64(11))

			test.Expect(t, "unexpected position", c.Position(), snap.Anchor)
			if c.Digest() != before {
				t.Fatal("expected the content to be unchanged")
			}
		})

		t.Run("it stops at the last complete transaction when the context is canceled", func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			src := &cancelingSource{txs, cancel}
			c := NewCursor(afterInserts(t), src)

			err := c.StepTo(ctx, test.ScenarioFinal)
			test.ExpectErrorIs(t, err, context.Canceled)

			test.Expect(t, "unexpected position", c.Position(), position(t, 10))

			want := test.ScenarioAfterInsertsPrices()
			want[1] = nil
			test.Expect(t, "unexpected table content", prices(t, c), want)
		})
	})

	t.Run("func StepForward()", func(t *testing.T) {
		t.Run("it applies the next transaction", func(t *testing.T) {
			ctx := test.ContextWithTimeout(t, 5*time.Second)
			c := NewCursor(afterInserts(t), txs)

			tx, ok, err := c.StepForward(ctx)
			if err != nil {
				t.Fatal(err)
			}
			if !ok {
				t.Fatal("expected a transaction")
			}

			test.Expect(t, "unexpected transaction", tx.Position.Index, uint64(10))
			test.Expect(t, "unexpected position", c.Position(), tx.Position)

			if p := prices(t, c); p[1] != nil {
				t.Fatal("expected the price of book 1 to be NULL")
			}
		})

		t.Run("it reports the end of the log", func(t *testing.T) {
			ctx := test.ContextWithTimeout(t, 5*time.Second)
			c := NewCursor(final(t), txs)

			_, ok, err := c.StepForward(ctx)
			if err != nil {
				t.Fatal(err)
			}
			if ok {
				t.Fatal("did not expect a transaction")
			}
		})
	})

	t.Run("func StepBackward()", func(t *testing.T) {
		t.Run("it reverts the current transaction", func(t *testing.T) {
			ctx := test.ContextWithTimeout(t, 5*time.Second)
			c := NewCursor(final(t), txs)

			tx, ok, err := c.StepBackward(ctx)
			if err != nil {
				t.Fatal(err)
			}
			if !ok {
				t.Fatal("expected a transaction")
			}

			test.Expect(t, "unexpected transaction", tx.Position.Index, uint64(17))
			test.Expect(t, "unexpected position", c.Position(), position(t, 16))
			test.Expect(t, "unexpected price", prices(t, c)[12], test.Price(120))
		})

		t.Run("it reports the start of the log", func(t *testing.T) {
			ctx := test.ContextWithTimeout(t, 5*time.Second)
			c := NewCursor(final(t), txs)

			if err := c.StepTo(ctx, change.Position{}); err != nil {
				t.Fatal(err)
			}

			_, ok, err := c.StepBackward(ctx)
			if err != nil {
				t.Fatal(err)
			}
			if ok {
				t.Fatal("did not expect a transaction")
			}
		})
	})

	t.Run("func StepForwardBy()", func(t *testing.T) {
		t.Run("it stops at the end of the log", func(t *testing.T) {
			ctx := test.ContextWithTimeout(t, 5*time.Second)
			c := NewCursor(afterInserts(t), txs)

			n, err := c.StepForwardBy(ctx, 3)
			if err != nil {
				t.Fatal(err)
			}
			test.Expect(t, "unexpected count", n, 3)
			test.Expect(t, "unexpected position", c.Position(), position(t, 12))

			n, err = c.StepForwardBy(ctx, 100)
			if err != nil {
				t.Fatal(err)
			}
			test.Expect(t, "unexpected count", n, 5)
			test.Expect(t, "unexpected position", c.Position(), position(t, 17))
		})
	})

	t.Run("func StepBackwardBy()", func(t *testing.T) {
		t.Run("it skips positions that are not transactions", func(t *testing.T) {
			ctx := test.ContextWithTimeout(t, 5*time.Second)
			c := NewCursor(final(t), txs)

			n, err := c.StepBackwardBy(ctx, 9)
			if err != nil {
				t.Fatal(err)
			}
			test.Expect(t, "unexpected count", n, 9)

			// #17 to #10 is eight transactions, and #9 was rolled back.
			test.Expect(t, "unexpected position", c.Position(), position(t, 7))
		})

		t.Run("it stops at the start of the log", func(t *testing.T) {
			ctx := test.ContextWithTimeout(t, 5*time.Second)
			c := NewCursor(final(t), txs)

			n, err := c.StepBackwardBy(ctx, 100)
			if err != nil {
				t.Fatal(err)
			}
			test.Expect(t, "unexpected count", n, len(txs))
			test.Expect(t, "unexpected position", c.Position(), change.Position{})
		})
	})

	t.Run("func StepToTime()", func(t *testing.T) {
		t.Run("it moves to the last transaction committed at or before the time", func(t *testing.T) {
			ctx := test.ContextWithTimeout(t, 5*time.Second)
			c := NewCursor(final(t), txs)

			if err := c.StepToTime(ctx, test.ScenarioInsertsAt.Add(150*time.Second)); err != nil {
				t.Fatal(err)
			}

			test.Expect(t, "unexpected position", c.Position(), position(t, 4))
		})

		t.Run("it moves to the start of the log if nothing was committed by the time", func(t *testing.T) {
			ctx := test.ContextWithTimeout(t, 5*time.Second)
			c := NewCursor(final(t), txs)

			if err := c.StepToTime(ctx, test.ScenarioInsertsAt.Add(-time.Hour)); err != nil {
				t.Fatal(err)
			}

			test.Expect(t, "unexpected position", c.Position(), change.Position{})
		})
	})
}

// cancelingSource is a [change.Source] that cancels a context when a range of
// transactions is requested, while still returning them.
type cancelingSource struct {
	change.Sequence
	cancel context.CancelFunc
}

func (s *cancelingSource) Between(ctx context.Context, after, upTo change.Position) ([]change.Transaction, error) {
	txs, err := s.Sequence.Between(context.Background(), after, upTo)
	s.cancel()
	return txs, err
}
