package config_test

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/dogmatiq/rewind/change"
	. "github.com/dogmatiq/rewind/internal/config"
	"github.com/dogmatiq/rewind/internal/telemetry/instrumentedpersistence"
	"github.com/dogmatiq/rewind/internal/test"
	"github.com/dogmatiq/rewind/persistence/driver/memory"
	"github.com/dogmatiq/rewind/persistence/driver/sqlite"
)

type option func(*Config)

func TestNew(t *testing.T) {
	t.Run("it applies defaults when no options are given", func(t *testing.T) {
		c, err := New[option](context.Background(), nil)
		if err != nil {
			t.Fatal(err)
		}
		defer c.Close()

		test.Expect(t, "unexpected window", c.Normalization.Window, time.Hour)
		test.Expect(t, "unexpected location", c.Normalization.Location.String(), "UTC")
		test.Expect(t, "unexpected retry setting", c.Normalization.RetryWiderWindow, false)

		j, ok := c.Persistence.Journals.(*instrumentedpersistence.JournalStore)
		if !ok {
			t.Fatalf("expected an instrumented journal store, got %T", c.Persistence.Journals)
		}
		if _, ok := j.Next.(*memory.JournalStore); !ok {
			t.Fatalf("expected a memory journal store, got %T", j.Next)
		}

		if c.Telemetry.Logger == nil {
			t.Fatal("expected a logger to be configured")
		}
	})

	t.Run("it keeps the values set by options", func(t *testing.T) {
		store := &memory.KeyValueStore{}
		tables := []change.TableID{{Database: "shop", Name: "books"}}

		c, err := New(
			context.Background(),
			[]option{
				func(c *Config) {
					c.Normalization.Window = 10 * time.Minute
					c.Persistence.Keyspaces = store
					c.Tables = tables
				},
			},
		)
		if err != nil {
			t.Fatal(err)
		}
		defer c.Close()

		test.Expect(t, "unexpected window", c.Normalization.Window, 10*time.Minute)
		test.Expect(t, "unexpected tables", c.Tables, tables)

		ks, ok := c.Persistence.Keyspaces.(*instrumentedpersistence.KeyValueStore)
		if !ok || ks.Next != store {
			t.Fatal("expected the key/value store to be instrumented")
		}
	})

	t.Run("it rejects a negative window", func(t *testing.T) {
		_, err := New(
			context.Background(),
			[]option{
				func(c *Config) {
					c.Normalization.Window = -time.Second
				},
			},
		)
		if err == nil {
			t.Fatal("expected an error")
		}
	})

	t.Run("it reads the environment when enabled", func(t *testing.T) {
		t.Setenv("REWIND_WINDOW", "30m")
		t.Setenv("REWIND_LOCATION", "Australia/Brisbane")
		t.Setenv("REWIND_RETRY_WIDER_WINDOW", "true")
		t.Setenv("REWIND_JOURNAL_SQLITE", filepath.Join(t.TempDir(), "cache.db"))
		t.Setenv("REWIND_DYNAMODB_TABLE", "")
		t.Setenv("REWIND_POSTGRES_DSN", "")

		c, err := New(
			test.ContextWithTimeout(t, 5*time.Second),
			[]option{
				func(c *Config) {
					c.UseEnv = true
				},
			},
		)
		if err != nil {
			t.Fatal(err)
		}
		defer c.Close()

		test.Expect(t, "unexpected window", c.Normalization.Window, 30*time.Minute)
		test.Expect(t, "unexpected location", c.Normalization.Location.String(), "Australia/Brisbane")
		test.Expect(t, "unexpected retry setting", c.Normalization.RetryWiderWindow, true)

		j := c.Persistence.Journals.(*instrumentedpersistence.JournalStore)
		if _, ok := j.Next.(*sqlite.JournalStore); !ok {
			t.Fatalf("expected an SQLite journal store, got %T", j.Next)
		}
	})

	t.Run("it prefers PostgreSQL to SQLite when both are configured", func(t *testing.T) {
		t.Setenv("REWIND_JOURNAL_SQLITE", filepath.Join(t.TempDir(), "cache.db"))
		t.Setenv("REWIND_DYNAMODB_TABLE", "")
		t.Setenv("REWIND_POSTGRES_DSN", "postgres://rewind@127.0.0.1:1/rewind?connect_timeout=1")

		_, err := New(
			test.ContextWithTimeout(t, 5*time.Second),
			[]option{
				func(c *Config) {
					c.UseEnv = true
				},
			},
		)
		if err == nil {
			t.Fatal("expected an error")
		}

		if !strings.Contains(err.Error(), "PostgreSQL") {
			t.Fatalf("unexpected error: %s", err)
		}
	})
}
