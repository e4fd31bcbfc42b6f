package memory_test

import (
	"bytes"
	"context"
	"testing"

	. "github.com/dogmatiq/rewind/persistence/driver/memory"
	"github.com/dogmatiq/rewind/persistence/journal"
)

func TestJournal(t *testing.T) {
	journal.RunTests(
		t,
		func(t *testing.T) journal.Store {
			return &JournalStore{}
		},
	)
}

func TestFailBeforeJournalAppend(t *testing.T) {
	ctx := context.Background()
	store := &JournalStore{}

	FailBeforeJournalAppend(
		store,
		func(rec []byte) bool {
			return bytes.Equal(rec, []byte("<fail>"))
		},
		"<journal>",
	)

	j, err := store.Open(ctx, "<journal>")
	if err != nil {
		t.Fatal(err)
	}
	defer j.Close()

	if err := j.Append(ctx, 0, []byte("<ok>")); err != nil {
		t.Fatal(err)
	}

	if err := j.Append(ctx, 1, []byte("<fail>")); err == nil {
		t.Fatal("expected an error")
	}

	if _, ok, _ := j.Get(ctx, 1); ok {
		t.Fatal("did not expect the record to be appended")
	}

	if err := j.Append(ctx, 1, []byte("<fail>")); err != nil {
		t.Fatal("expected the failure to occur only once")
	}
}

func TestFailAfterJournalAppend(t *testing.T) {
	ctx := context.Background()
	store := &JournalStore{}

	FailAfterJournalAppend(
		store,
		func(rec []byte) bool { return true },
		"<journal>",
	)

	j, err := store.Open(ctx, "<journal>")
	if err != nil {
		t.Fatal(err)
	}
	defer j.Close()

	if err := j.Append(ctx, 0, []byte("<record>")); err == nil {
		t.Fatal("expected an error")
	}

	if _, ok, _ := j.Get(ctx, 0); !ok {
		t.Fatal("expected the record to be appended")
	}
}
