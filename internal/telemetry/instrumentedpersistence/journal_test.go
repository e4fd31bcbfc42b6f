package instrumentedpersistence_test

import (
	"testing"

	. "github.com/dogmatiq/rewind/internal/telemetry/instrumentedpersistence"
	"github.com/dogmatiq/rewind/internal/test"
	"github.com/dogmatiq/rewind/persistence/driver/memory"
	"github.com/dogmatiq/rewind/persistence/journal"
)

func TestJournalStore(t *testing.T) {
	journal.RunTests(
		t,
		func(t *testing.T) journal.Store {
			return &JournalStore{
				Next:      &memory.JournalStore{},
				Telemetry: test.NewTelemetryProvider(t),
			}
		},
	)
}
