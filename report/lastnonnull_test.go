package report_test

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/dogmatiq/rewind/change"
	"github.com/dogmatiq/rewind/internal/test"
	"github.com/dogmatiq/rewind/normalize"
	"github.com/dogmatiq/rewind/replay"
	. "github.com/dogmatiq/rewind/report"
)

func TestLastNonNull(t *testing.T) {
	t.Run("func Run()", func(t *testing.T) {
		t.Run("it keeps the last non-null value of rows that were later set to NULL", func(t *testing.T) {
			ctx := test.ContextWithTimeout(t, 5*time.Second)
			txs := test.ScenarioTransactions(t)

			final, ok, err := txs.Last(ctx, test.ScenarioFinal)
			if err != nil {
				t.Fatal(err)
			}
			if !ok {
				t.Fatal("expected the final transaction to be present")
			}

			snap := normalize.Exact(
				test.BooksSet(t, test.ScenarioFinalPrices()),
				final.Position,
				final.CommittedAt,
			)
			c := replay.NewCursor(snap, txs)

			r := &LastNonNull{
				Table:     test.Books,
				Column:    "price",
				Telemetry: test.NewTelemetryProvider(t),
			}

			res, err := r.Run(ctx, c)
			if err != nil {
				t.Fatal(err)
			}

			var want []ResultRow
			for id := int64(1); id <= 12; id++ {
				want = append(want, ResultRow{
					Key:   []change.Value{change.Int(id)},
					Value: change.Int(id * 10),
				})
			}

			test.Expect(t, "unexpected key", res.Key, []string{"id"})
			test.Expect(t, "unexpected rows", res.Rows, want)
			test.Expect(t, "cursor is not at the end of the log", c.Position(), final.Position)
		})

		t.Run("it keeps the last non-null value of deleted rows", func(t *testing.T) {
			ctx := context.Background()
			at := time.Date(2025, 11, 8, 17, 0, 0, 0, time.UTC)

			txs, err := change.NewSequence([]change.Transaction{
				{
					Position:    change.Position{Index: 1},
					CommittedAt: at,
					Changes: []change.RowChange{
						{
							Table: test.Books,
							Op:    change.Insert,
							Key:   change.Image{"id": change.Int(3)},
							After: change.Image{"id": change.Int(3), "price": change.Int(30)},
						},
					},
				},
				{
					Position:    change.Position{Index: 2},
					CommittedAt: at.Add(time.Minute),
					Changes: []change.RowChange{
						{
							Table:  test.Books,
							Op:     change.Delete,
							Key:    change.Image{"id": change.Int(3)},
							Before: change.Image{"id": change.Int(3), "price": change.Int(30)},
						},
					},
				},
			})
			if err != nil {
				t.Fatal(err)
			}

			snap := normalize.Exact(
				test.BooksSet(t, test.Prices{1: nil}),
				change.Position{Index: 2},
				at.Add(time.Minute),
			)

			r := &LastNonNull{Table: test.Books, Column: "price"}
			res, err := r.Run(ctx, replay.NewCursor(snap, txs))
			if err != nil {
				t.Fatal(err)
			}

			test.Expect(
				t,
				"unexpected rows",
				res.Rows,
				[]ResultRow{
					{Key: []change.Value{change.Int(3)}, Value: change.Int(30)},
				},
			)
		})

		t.Run("it returns an error if the column does not exist", func(t *testing.T) {
			ctx := context.Background()
			txs := test.ScenarioTransactions(t)

			snap := normalize.Exact(
				test.BooksSet(t, test.ScenarioSnapshot()),
				change.Position{},
				time.Time{},
			)

			r := &LastNonNull{Table: test.Books, Column: "title"}
			if _, err := r.Run(ctx, replay.NewCursor(snap, txs)); err == nil {
				t.Fatal("expected an error")
			}
		})

		t.Run("it returns an error if the table is not in the snapshot", func(t *testing.T) {
			ctx := context.Background()
			txs := test.ScenarioTransactions(t)

			snap := normalize.Exact(
				test.BooksSet(t, test.ScenarioSnapshot()),
				change.Position{},
				time.Time{},
			)

			r := &LastNonNull{
				Table:  change.TableID{Name: "authors"},
				Column: "name",
			}
			if _, err := r.Run(ctx, replay.NewCursor(snap, txs)); err == nil {
				t.Fatal("expected an error")
			}
		})
	})

	t.Run("func WriteCSV()", func(t *testing.T) {
		t.Run("it writes a header followed by one record per row", func(t *testing.T) {
			res := Result{
				Key: []string{"id"},
				Rows: []ResultRow{
					{Key: []change.Value{change.Int(1)}, Value: change.MustDecimal("10.50")},
					{Key: []change.Value{change.Int(2)}, Value: change.Text("a, b")},
				},
			}

			var buf bytes.Buffer
			if err := res.WriteCSV(&buf); err != nil {
				t.Fatal(err)
			}

			test.Expect(
				t,
				"unexpected output",
				buf.String(),
				"id,last_non_null_value\n1,10.5\n2,\"a, b\"\n",
			)
		})
	})
}
