package sqlite_test

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	. "github.com/dogmatiq/rewind/persistence/driver/sqlite"
	"github.com/dogmatiq/rewind/persistence/journal"
	"github.com/dogmatiq/rewind/persistence/kv"
	_ "modernc.org/sqlite"
)

func TestJournalStore(t *testing.T) {
	journal.RunTests(
		t,
		func(t *testing.T) journal.Store {
			return &JournalStore{
				DB: openDB(t),
			}
		},
	)
}

func TestKeyValueStore(t *testing.T) {
	kv.RunTests(
		t,
		func(t *testing.T) kv.Store {
			return &KeyValueStore{
				DB: openDB(t),
			}
		},
	)
}

func TestDropSchema(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)

	if err := DropSchema(ctx, db); err != nil {
		t.Fatal(err)
	}

	// Dropping a schema that does not exist is not an error.
	if err := DropSchema(ctx, db); err != nil {
		t.Fatal(err)
	}

	if err := CreateSchema(ctx, db); err != nil {
		t.Fatal(err)
	}
}

func openDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "rewind.db"))
	if err != nil {
		t.Fatal(err)
	}

	db.SetMaxOpenConns(1)

	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Error(err)
		}
	})

	if err := CreateSchema(context.Background(), db); err != nil {
		t.Fatal(err)
	}

	return db
}
