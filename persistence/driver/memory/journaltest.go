package memory

import (
	"context"
	"errors"
	"sync"
)

// FailBeforeJournalAppend configures the journal at the given path to return an
// error on the first call to Append() with a record that satisfies the given
// predicate function.
//
// The error is returned before the append is actually performed.
func FailBeforeJournalAppend(
	s *JournalStore,
	pred func(rec []byte) bool,
	path ...string,
) {
	h := openForFailure(s, path)

	h.state.Lock()
	defer h.state.Unlock()

	h.state.BeforeAppend = failAppendOnce(pred)
}

// FailAfterJournalAppend configures the journal at the given path to return an
// error on the first call to Append() with a record that satisfies the given
// predicate function.
//
// The error is returned after the append is actually performed.
func FailAfterJournalAppend(
	s *JournalStore,
	pred func(rec []byte) bool,
	path ...string,
) {
	h := openForFailure(s, path)

	h.state.Lock()
	defer h.state.Unlock()

	h.state.AfterAppend = failAppendOnce(pred)
}

func openForFailure(s *JournalStore, path []string) *journalHandle {
	j, err := s.Open(context.Background(), path...)
	if err != nil {
		panic(err)
	}

	return j.(*journalHandle)
}

func failAppendOnce(pred func([]byte) bool) func([]byte) error {
	var once sync.Once

	return func(rec []byte) (err error) {
		if pred(rec) {
			once.Do(func() {
				err = errors.New("<error>")
			})
		}
		return err
	}
}
