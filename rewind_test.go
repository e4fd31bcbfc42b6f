package rewind_test

import (
	"testing"
	"time"

	. "github.com/dogmatiq/rewind"
	"github.com/dogmatiq/rewind/binlog"
	"github.com/dogmatiq/rewind/change"
	"github.com/dogmatiq/rewind/checkpoint"
	"github.com/dogmatiq/rewind/internal/test"
	"github.com/dogmatiq/rewind/internal/tlog"
	"github.com/dogmatiq/rewind/normalize"
	"github.com/dogmatiq/rewind/persistence/driver/memory"
	"github.com/dogmatiq/rewind/table"
)

func TestOpen(t *testing.T) {
	log := binlog.Bytes("scenario", test.ScenarioLog().Bytes())

	open := func(
		t *testing.T,
		raw table.Set,
		estimate time.Time,
		options ...Option,
	) *Timeline {
		t.Helper()

		tl, err := Open(
			test.ContextWithTimeout(t, 5*time.Second),
			raw,
			log,
			estimate,
			append(options, WithLogger(tlog.New(t)))...,
		)
		if err != nil {
			t.Fatal(err)
		}

		t.Cleanup(func() {
			if err := tl.Close(); err != nil {
				t.Error(err)
			}
		})

		return tl
	}

	prices := func(t *testing.T, tl *Timeline, p change.Position) test.Prices {
		t.Helper()

		c := tl.NewCursor()
		if err := c.StepTo(test.ContextWithTimeout(t, 5*time.Second), p); err != nil {
			t.Fatal(err)
		}

		v, ok := c.View(test.Books)
		if !ok {
			t.Fatal("expected the books table to be present")
		}

		return test.PricesOf(t, v)
	}

	t.Run("it normalizes the snapshot to the last transaction in the window", func(t *testing.T) {
		tl := open(
			t,
			test.BooksSet(t, test.ScenarioSnapshot()),
			test.ScenarioInsertsAt.Add(3*time.Minute),
		)

		test.Expect(t, "unexpected anchor", tl.Anchor().Index, test.ScenarioAfterInserts.Index)
		test.Expect(t, "unexpected window", tl.Snapshot().Window, time.Hour)
	})

	t.Run("it replays the log in both directions from the normalized snapshot", func(t *testing.T) {
		tl := open(
			t,
			test.BooksSet(t, test.ScenarioSnapshot()),
			test.ScenarioSnapshotAt,
		)

		test.Expect(t, "unexpected anchor", tl.Anchor().Index, test.ScenarioAnchor.Index)

		test.Expect(
			t,
			"unexpected prices after the inserts",
			prices(t, tl, test.ScenarioAfterInserts),
			test.ScenarioAfterInsertsPrices(),
		)

		test.Expect(
			t,
			"unexpected prices at the end of the log",
			prices(t, tl, test.ScenarioFinal),
			test.ScenarioFinalPrices(),
		)
	})

	t.Run("it reads transactions from the decoded log", func(t *testing.T) {
		ctx := test.ContextWithTimeout(t, 5*time.Second)
		tl := open(
			t,
			test.BooksSet(t, test.ScenarioSnapshot()),
			test.ScenarioSnapshotAt,
		)

		tx, ok, err := tl.Log().Next(ctx, tl.Anchor())
		if err != nil {
			t.Fatal(err)
		}
		if !ok {
			t.Fatal("expected a transaction after the anchor")
		}

		test.Expect(t, "unexpected position", tx.Position.Index, test.ScenarioAnchor.Index+1)
	})

	t.Run("it does not modify the raw snapshot", func(t *testing.T) {
		raw := test.BooksSet(t, test.ScenarioSnapshot())
		before := raw.Digest()

		open(t, raw, test.ScenarioSnapshotAt)

		if raw.Digest() != before {
			t.Fatal("the raw snapshot was modified")
		}
	})

	t.Run("it records a checkpoint", func(t *testing.T) {
		ctx := test.ContextWithTimeout(t, 5*time.Second)
		journals := &memory.JournalStore{}
		keyspaces := &memory.KeyValueStore{}

		openShared := func() *Timeline {
			return open(
				t,
				test.BooksSet(t, test.ScenarioSnapshot()),
				test.ScenarioInsertsAt.Add(3*time.Minute),
				WithJournalStore(journals),
				WithKeyValueStore(keyspaces),
			)
		}

		first := openShared()
		second := openShared()

		test.Expect(t, "checkpoints differ", second.Checkpoint(), first.Checkpoint())

		store := &checkpoint.Store{Keyspaces: keyspaces}
		checkpoints, err := store.List(ctx, first.Checkpoint().Log)
		if err != nil {
			t.Fatal(err)
		}

		test.Expect(t, "unexpected checkpoints", checkpoints, []checkpoint.Checkpoint{first.Checkpoint()})
	})

	t.Run("it retries with a wider window when enabled", func(t *testing.T) {
		ctx := test.ContextWithTimeout(t, 5*time.Second)
		estimate := test.ScenarioInsertsAt.Add(-50 * time.Minute)

		_, err := Open(
			ctx,
			test.BooksSet(t, test.ScenarioSnapshot()),
			log,
			estimate,
			WithWindow(30*time.Minute),
		)
		test.ExpectErrorIs(t, err, normalize.ErrNoTransactionsInWindow)

		tl := open(
			t,
			test.BooksSet(t, test.ScenarioSnapshot()),
			estimate,
			WithWindow(30*time.Minute),
			WithWiderWindowRetry(),
		)

		test.Expect(t, "unexpected window", tl.Snapshot().Window, time.Hour)
		test.Expect(t, "unexpected anchor", tl.Anchor().Index, test.ScenarioAfterInserts.Index)
	})

	t.Run("it interprets log timestamps in the configured location", func(t *testing.T) {
		loc := time.FixedZone("AEST", 10*60*60)

		tl := open(
			t,
			test.BooksSet(t, test.ScenarioSnapshot()),
			test.ScenarioInsertsAt.Add(3*time.Minute-10*time.Hour),
			WithLocation(loc),
		)

		test.Expect(t, "unexpected anchor", tl.Anchor().Index, test.ScenarioAfterInserts.Index)
	})

	t.Run("it restricts the transactions to the tables of interest", func(t *testing.T) {
		ctx := test.ContextWithTimeout(t, 5*time.Second)

		authors, err := table.New(&change.Schema{
			Table: change.TableID{Name: "authors"},
			Columns: []change.Column{
				{Name: "id", Type: change.TypeInteger},
				{Name: "name", Type: change.TypeText},
			},
			PrimaryKey: []string{"id"},
		})
		if err != nil {
			t.Fatal(err)
		}

		raw := test.BooksSet(t, test.ScenarioSnapshot())
		raw[authors.Schema().Table] = authors

		tl := open(
			t,
			raw,
			test.ScenarioInsertsAt.Add(3*time.Minute),
			WithTables(test.Books),
		)

		test.Expect(t, "unexpected tables", tl.Snapshot().Tables(), []change.TableID{test.Books})

		txs, err := tl.Log().Transactions(ctx)
		if err != nil {
			t.Fatal(err)
		}

		for _, tx := range txs {
			for _, c := range tx.Changes {
				if c.Table != test.Books {
					t.Fatalf("unexpected change to table %s", c.Table)
				}
			}
		}
	})

	t.Run("it returns an error if a table of interest is not in the snapshot", func(t *testing.T) {
		ctx := test.ContextWithTimeout(t, 5*time.Second)

		_, err := Open(
			ctx,
			test.BooksSet(t, test.ScenarioSnapshot()),
			log,
			test.ScenarioInsertsAt,
			WithTables(change.TableID{Name: "authors"}),
		)
		test.ExpectErrorIs(t, err, table.ErrUnknownTable)
	})
}
