package binlog_test

import (
	"context"
	"testing"
	"time"

	. "github.com/dogmatiq/rewind/binlog"
	"github.com/dogmatiq/rewind/change"
	"github.com/dogmatiq/rewind/internal/test"
)

func TestDecode(t *testing.T) {
	catalog := change.Catalog{test.Books: test.BooksSchema()}

	decode := func(t *testing.T, b *test.LogBuilder) (change.Sequence, error) {
		t.Helper()

		return Decode(
			test.ContextWithTimeout(t, 5*time.Second),
			Bytes("<log>", b.Bytes()),
			catalog,
			WithTelemetry(test.NewTelemetryProvider(t)),
		)
	}

	t.Run("it decodes the transactions that change tables in the catalog", func(t *testing.T) {
		seq, err := decode(t, test.ScenarioLog())
		if err != nil {
			t.Fatal(err)
		}

		var indices []uint64
		for _, tx := range seq {
			indices = append(indices, tx.Position.Index)
		}

		test.Expect(
			t,
			"unexpected transactions",
			indices,
			[]uint64{2, 3, 4, 5, 6, 7, 8, 10, 11, 12, 13, 14, 15, 16, 17},
		)

		test.Expect(
			t,
			"unexpected first transaction",
			withoutLogPos(seq[0]),
			change.Transaction{
				Position: change.Position{
					Index: 2,
					GTID:  "3e11fa47-71ca-11e1-9e33-c80aa9429562:2",
				},
				CommittedAt: test.ScenarioInsertsAt,
				Changes: []change.RowChange{
					{
						Table: test.Books,
						Op:    change.Insert,
						Key:   change.Image{"id": change.Int(6)},
						After: change.Image{"id": change.Int(6), "price": change.Int(60)},
					},
				},
			},
		)

		test.Expect(
			t,
			"unexpected update transaction",
			withoutLogPos(seq[7]),
			change.Transaction{
				Position: change.Position{
					Index: 10,
					GTID:  "3e11fa47-71ca-11e1-9e33-c80aa9429562:10",
				},
				CommittedAt: test.ScenarioNullsAt,
				Changes: []change.RowChange{
					{
						Table:  test.Books,
						Op:     change.Update,
						Key:    change.Image{"id": change.Int(1)},
						Before: change.Image{"id": change.Int(1), "price": change.Int(10)},
						After:  change.Image{"id": change.Int(1), "price": change.Null()},
					},
				},
			},
		)

		for i, tx := range seq {
			if tx.Position.LogPos == 0 {
				t.Fatalf("transaction %s has no log position", tx.Position)
			}
			if i > 0 && tx.Position.LogPos <= seq[i-1].Position.LogPos {
				t.Fatalf("log positions are not increasing at %s", tx.Position)
			}
		}
	})

	t.Run("it produces a valid sequence", func(t *testing.T) {
		seq, err := decode(t, test.ScenarioLog())
		if err != nil {
			t.Fatal(err)
		}

		if _, err := change.NewSequence(seq); err != nil {
			t.Fatal(err)
		}
	})

	t.Run("it drops updates that change nothing", func(t *testing.T) {
		b := test.NewLogBuilder().
			Begin(test.ScenarioInsertsAt, "").
			Update("shop.books", []string{"1", "10"}, []string{"1", "10"}).
			Commit()

		seq, err := decode(t, b)
		if err != nil {
			t.Fatal(err)
		}

		if len(seq) != 0 {
			t.Fatalf("expected no transactions, got %d", len(seq))
		}
	})

	t.Run("it keeps the order of changes within a transaction", func(t *testing.T) {
		b := test.NewLogBuilder().
			Begin(test.ScenarioInsertsAt, "").
			Insert("shop.books", []string{"6", "60"}, []string{"7", "70"}).
			Insert("shop.authors", []string{"1", "'Frank Herbert'"}).
			Delete("shop.books", []string{"6", "60"}).
			Commit()

		seq, err := decode(t, b)
		if err != nil {
			t.Fatal(err)
		}

		var ops []string
		for _, c := range seq[0].Changes {
			ops = append(ops, c.String())
		}

		test.Expect(
			t,
			"unexpected changes",
			ops,
			[]string{
				"insert books {id=6}",
				"insert books {id=7}",
				"delete books {id=6}",
			},
		)
	})

	t.Run("it fails if the log ends inside a transaction", func(t *testing.T) {
		b := test.NewLogBuilder().
			Begin(test.ScenarioInsertsAt, "").
			Insert("shop.books", []string{"6", "60"})

		_, err := Decode(
			context.Background(),
			Bytes("<log>", b.Bytes()),
			catalog,
		)
		test.ExpectErrorIs(t, err, ErrUnterminatedTransaction)
	})

	t.Run("it fails if a value does not match its column type", func(t *testing.T) {
		b := test.NewLogBuilder().
			Begin(test.ScenarioInsertsAt, "").
			Insert("shop.books", []string{"6", "'sixty'"}).
			Commit()

		_, err := decode(t, b)
		test.ExpectErrorIs(t, err, ErrMalformedLog)
	})

	t.Run("it stops when the callback fails", func(t *testing.T) {
		calls := 0
		err := DecodeFunc(
			context.Background(),
			Bytes("<log>", test.ScenarioLog().Bytes()),
			catalog,
			func(context.Context, change.Transaction) error {
				calls++
				return context.Canceled
			},
		)

		test.ExpectErrorIs(t, err, context.Canceled)

		if calls != 1 {
			t.Fatalf("expected exactly one call, got %d", calls)
		}
	})
}

func withoutLogPos(tx change.Transaction) change.Transaction {
	tx.Position.LogPos = 0
	return tx
}
