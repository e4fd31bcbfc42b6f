package test

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/dogmatiq/rewind/binlog"
	"github.com/dogmatiq/rewind/change"
	"github.com/dogmatiq/rewind/table"
)

// Books is the identifier of the table used by the price scenario.
var Books = change.TableID{Name: "books"}

// BooksSchema returns the schema of the books table.
func BooksSchema() *change.Schema {
	return &change.Schema{
		Table: Books,
		Columns: []change.Column{
			{Name: "id", Type: change.TypeInteger},
			{Name: "price", Type: change.TypeInteger},
		},
		PrimaryKey: []string{"id"},
	}
}

// Prices describes the content of the books table as a map of id to price. A
// nil price is NULL.
type Prices map[int64]*int64

// Price returns a pointer to p, for use as a [Prices] value.
func Price(p int64) *int64 {
	return &p
}

// BooksTable returns a snapshot of the books table with the given prices.
func BooksTable(t FailerT, prices Prices) *table.Snapshot {
	t.Helper()

	snap, err := table.New(BooksSchema())
	if err != nil {
		t.Fatal(err)
	}

	for id, p := range prices {
		price := change.Null()
		if p != nil {
			price = change.Int(*p)
		}

		if err := snap.Put(change.Row{change.Int(id), price}); err != nil {
			t.Fatal(err)
		}
	}

	return snap
}

// BooksSet returns a table set containing only the books table.
func BooksSet(t FailerT, prices Prices) table.Set {
	t.Helper()
	return table.Set{Books: BooksTable(t, prices)}
}

// PricesOf returns the content of the books table in v.
func PricesOf(t FailerT, v table.View) Prices {
	t.Helper()

	prices := Prices{}
	v.Range(func(row change.Row) bool {
		id, ok := row[0].AsInt()
		if !ok {
			t.Fatalf("unexpected id: %s", row[0])
		}

		if p, ok := row[1].AsInt(); ok {
			prices[id] = Price(p)
		} else if row[1].IsNull() {
			prices[id] = nil
		} else {
			t.Fatalf("unexpected price: %s", row[1])
		}

		return true
	})

	return prices
}

// The price scenario is a replication log describing changes to a table of
// books. The snapshot of the books table was taken while the log was being
// written, so it reflects some of the log's transactions but not others.
var (
	// ScenarioInsertsAt is the commit time of the first insert.
	ScenarioInsertsAt = time.Date(2025, 11, 8, 17, 1, 0, 0, time.UTC)

	// ScenarioNullsAt is the commit time of the first update that sets a price
	// to NULL.
	ScenarioNullsAt = time.Date(2025, 11, 8, 18, 31, 0, 0, time.UTC)

	// ScenarioAfterInserts is the position of the last insert.
	ScenarioAfterInserts = change.Position{Index: 8}

	// ScenarioFinal is the position of the last transaction in the log.
	ScenarioFinal = change.Position{Index: 17}

	// ScenarioSnapshotAt is an estimate of the time the scenario's snapshot
	// was taken. Its one hour window holds the inserts and the update that
	// sets the price of book 1 to NULL, but none of the later updates.
	ScenarioSnapshotAt = ScenarioInsertsAt.Add(30*time.Minute + 30*time.Second)

	// ScenarioAnchor is the position of the update that sets the price of
	// book 1 to NULL, which is where the snapshot normalizes to when estimated
	// at [ScenarioSnapshotAt].
	ScenarioAnchor = change.Position{Index: 10}
)

// ScenarioSnapshot returns the snapshot used by the price scenario.
//
// Row 1's price has already been set to NULL, but rows 6 to 12 have not been
// inserted yet, even though the inserts were committed first. The snapshot
// only agrees with the log once it is normalized with a window that reaches
// the update of book 1, such as the one around [ScenarioSnapshotAt].
func ScenarioSnapshot() Prices {
	return Prices{
		1: nil,
		2: Price(20),
		3: Price(30),
		4: Price(40),
		5: Price(50),
	}
}

// ScenarioAfterInsertsPrices returns the content of the books table after all
// of the inserts in the price scenario, before any price is set to NULL.
func ScenarioAfterInsertsPrices() Prices {
	p := Prices{}
	for id := int64(1); id <= 12; id++ {
		p[id] = Price(id * 10)
	}
	return p
}

// ScenarioFinalPrices returns the content of the books table at the end of the
// price scenario.
func ScenarioFinalPrices() Prices {
	p := ScenarioAfterInsertsPrices()
	p[1] = nil
	for id := int64(6); id <= 12; id++ {
		p[id] = nil
	}
	return p
}

// ScenarioLog returns the replication log of the price scenario.
//
// Its transactions are, in order:
//
//	#1       an insert into an unrelated table
//	#2..#8   inserts of books 6 to 12 with prices 60 to 120, a minute apart
//	#9       a rolled-back update of book 2
//	#10      an update setting the price of book 1 to NULL
//	#11..#17 updates setting the prices of books 6 to 12 to NULL, a minute apart
func ScenarioLog() *LogBuilder {
	const server = "3e11fa47-71ca-11e1-9e33-c80aa9429562"
	gtid := func(n int) string {
		return fmt.Sprintf("%s:%d", server, n)
	}

	b := NewLogBuilder()

	b.Begin(ScenarioInsertsAt.Add(-time.Minute), gtid(1)).
		Insert("shop.authors", []string{"1", "'Ursula K. Le Guin'"}).
		Commit()

	for i := int64(0); i < 7; i++ {
		id := 6 + i
		b.Begin(ScenarioInsertsAt.Add(time.Duration(i)*time.Minute), gtid(int(2+i))).
			Insert("shop.books", []string{itoa(id), itoa(id * 10)}).
			Commit()
	}

	b.Begin(ScenarioInsertsAt.Add(9*time.Minute), gtid(9)).
		Update("shop.books", []string{"2", "20"}, []string{"2", "25"}).
		Rollback()

	b.Begin(ScenarioNullsAt, gtid(10)).
		Update("shop.books", []string{"1", "10"}, []string{"1", "NULL"}).
		Commit()

	for i := int64(0); i < 7; i++ {
		id := 6 + i
		b.Begin(ScenarioNullsAt.Add(time.Duration(i+1)*time.Minute), gtid(int(11+i))).
			Update("shop.books", []string{itoa(id), itoa(id * 10)}, []string{itoa(id), "NULL"}).
			Commit()
	}

	return b
}

// ScenarioTransactions returns the transactions decoded from [ScenarioLog].
func ScenarioTransactions(t FailerT) change.Sequence {
	t.Helper()

	seq, err := binlog.Decode(
		context.Background(),
		binlog.Bytes("scenario", ScenarioLog().Bytes()),
		change.Catalog{Books: BooksSchema()},
	)
	if err != nil {
		t.Fatal(err)
	}

	return seq
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}
