package rewind

import (
	"github.com/dogmatiq/rewind/internal/config"
	"github.com/dogmatiq/rewind/persistence/journal"
	"github.com/dogmatiq/rewind/persistence/kv"
)

// WithJournalStore is an [Option] that sets the journal store used to cache
// decoded transactions.
func WithJournalStore(s journal.Store) Option {
	if s == nil {
		panic("journal store must not be nil")
	}

	return func(c *config.Config) {
		c.Persistence.Journals = s
	}
}

// WithKeyValueStore is an [Option] that sets the key/value store used to
// record which logs have been decoded, and the positions that snapshots were
// normalized to.
func WithKeyValueStore(s kv.Store) Option {
	if s == nil {
		panic("key/value store must not be nil")
	}

	return func(c *config.Config) {
		c.Persistence.Keyspaces = s
	}
}
