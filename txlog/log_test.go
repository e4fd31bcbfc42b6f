package txlog_test

import (
	"testing"
	"time"

	"github.com/dogmatiq/rewind/binlog"
	"github.com/dogmatiq/rewind/change"
	"github.com/dogmatiq/rewind/internal/test"
	"github.com/dogmatiq/rewind/persistence/driver/memory"
	. "github.com/dogmatiq/rewind/txlog"
)

func TestLog(t *testing.T) {
	ctx := test.ContextWithTimeout(t, 5*time.Second)

	store := &Store{
		Journals:  &memory.JournalStore{},
		Keyspaces: &memory.KeyValueStore{},
	}

	l, err := store.Open(
		ctx,
		binlog.Bytes("scenario", test.ScenarioLog().Bytes()),
		change.Catalog{test.Books: test.BooksSchema()},
		time.UTC,
	)
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()

	seq := test.ScenarioTransactions(t)

	t.Run("it behaves the same as an in-memory sequence", func(t *testing.T) {
		for i := uint64(0); i <= 18; i++ {
			p := change.Position{Index: i}

			gotNext, gotOK, err := l.Next(ctx, p)
			if err != nil {
				t.Fatal(err)
			}
			wantNext, wantOK, _ := seq.Next(ctx, p)
			test.Expect(t, "unexpected Next() result", gotOK, wantOK)
			test.Expect(t, "unexpected Next() transaction", gotNext, wantNext)

			gotLast, gotOK, err := l.Last(ctx, p)
			if err != nil {
				t.Fatal(err)
			}
			wantLast, wantOK, _ := seq.Last(ctx, p)
			test.Expect(t, "unexpected Last() result", gotOK, wantOK)
			test.Expect(t, "unexpected Last() transaction", gotLast, wantLast)

			for j := uint64(0); j <= 18; j++ {
				q := change.Position{Index: j}

				got, err := l.Between(ctx, p, q)
				if err != nil {
					t.Fatal(err)
				}
				want, _ := seq.Between(ctx, p, q)
				test.Expect(t, "unexpected Between() transactions", got, want)
			}
		}
	})

	t.Run("func CommittedBetween()", func(t *testing.T) {
		lo := test.ScenarioInsertsAt.Add(2 * time.Minute)
		hi := test.ScenarioNullsAt

		got, err := l.CommittedBetween(ctx, lo, hi)
		if err != nil {
			t.Fatal(err)
		}

		want, _ := seq.CommittedBetween(ctx, lo, hi)
		test.Expect(t, "unexpected transactions", got, want)
	})
}
