package instrumentedpersistence_test

import (
	"testing"

	. "github.com/dogmatiq/rewind/internal/telemetry/instrumentedpersistence"
	"github.com/dogmatiq/rewind/internal/test"
	"github.com/dogmatiq/rewind/persistence/driver/memory"
	"github.com/dogmatiq/rewind/persistence/kv"
)

func TestKeyValueStore(t *testing.T) {
	kv.RunTests(
		t,
		func(t *testing.T) kv.Store {
			return &KeyValueStore{
				Next:      &memory.KeyValueStore{},
				Telemetry: test.NewTelemetryProvider(t),
			}
		},
	)
}
