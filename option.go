package rewind

import (
	"time"

	"github.com/dogmatiq/rewind/change"
	"github.com/dogmatiq/rewind/internal/config"
)

// An Option configures the behavior of [Open].
type Option func(*config.Config)

// WithEnvironment is an [Option] that configures [Open] using environment
// variables, for any setting that is not configured by another option.
func WithEnvironment() Option {
	return func(c *config.Config) {
		c.UseEnv = true
	}
}

// WithWindow is an [Option] that sets the half-width of the window searched
// for the snapshot's position in the log.
func WithWindow(d time.Duration) Option {
	if d <= 0 {
		panic("window must be positive")
	}

	return func(c *config.Config) {
		c.Normalization.Window = d
	}
}

// WithWiderWindowRetry is an [Option] that retries a failed normalization
// once, with the window doubled.
func WithWiderWindowRetry() Option {
	return func(c *config.Config) {
		c.Normalization.RetryWiderWindow = true
	}
}

// WithLocation is an [Option] that sets the time zone of the timestamps in
// the replication log.
func WithLocation(loc *time.Location) Option {
	if loc == nil {
		panic("location must not be nil")
	}

	return func(c *config.Config) {
		c.Normalization.Location = loc
	}
}

// WithTables is an [Option] that restricts the tables of interest to those
// given. Changes to any other table are ignored.
func WithTables(ids ...change.TableID) Option {
	return func(c *config.Config) {
		c.Tables = append(c.Tables, ids...)
	}
}
