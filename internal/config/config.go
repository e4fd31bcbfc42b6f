// Package config builds the configuration used by [rewind.Open] from option
// functions and, optionally, environment variables.
package config

import (
	"context"
	"errors"
	"time"

	"github.com/dogmatiq/ferrite"
	"github.com/dogmatiq/rewind/change"
	"github.com/dogmatiq/rewind/internal/telemetry"
	"github.com/dogmatiq/rewind/persistence/journal"
	"github.com/dogmatiq/rewind/persistence/kv"
)

// FerriteRegistry is a registry of the environment variables used by Rewind.
var FerriteRegistry = ferrite.NewRegistry(
	"dogmatiq.rewind",
	"Rewind",
	ferrite.WithDocumentationURL("https://github.com/dogmatiq/rewind#readme"),
)

// Config encapsulates the configuration of a [rewind.Timeline], built by
// applying [rewind.Option] functions.
type Config struct {
	UseEnv    bool
	Telemetry *telemetry.Provider

	Normalization struct {
		Window           time.Duration
		Location         *time.Location
		RetryWiderWindow bool
	}

	// Tables is the set of tables of interest. If it is empty, every table in
	// the snapshot is of interest.
	Tables []change.TableID

	Persistence struct {
		Journals  journal.Store
		Keyspaces kv.Store
	}

	closers []func() error
}

// New returns a new configuration built by applying the given options.
//
// The returned configuration must be closed when it is no longer needed.
func New[Option ~func(*Config)](
	ctx context.Context,
	options []Option,
) (*Config, error) {
	c := &Config{
		Telemetry: &telemetry.Provider{},
	}

	for _, opt := range options {
		opt(c)
	}

	if err := c.finalize(ctx); err != nil {
		return nil, errors.Join(err, c.Close())
	}

	return c, nil
}

// Close releases any resources that were acquired while building the
// configuration.
func (c *Config) Close() error {
	var err error
	for i := len(c.closers) - 1; i >= 0; i-- {
		err = errors.Join(err, c.closers[i]())
	}
	c.closers = nil
	return err
}

func (c *Config) finalize(ctx context.Context) error {
	c.finalizeTelemetry()
	if err := c.finalizeNormalization(); err != nil {
		return err
	}
	return c.finalizePersistence(ctx)
}
