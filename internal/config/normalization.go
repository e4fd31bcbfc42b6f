package config

import (
	"fmt"
	"time"

	"github.com/dogmatiq/ferrite"
	"github.com/dogmatiq/rewind/normalize"
)

var window = ferrite.
	Duration("REWIND_WINDOW", "the half-width of the window searched for a snapshot's position in the log").
	WithDefault(normalize.DefaultWindow).
	Required(ferrite.WithRegistry(FerriteRegistry))

var location = ferrite.
	String("REWIND_LOCATION", "the time zone of the timestamps in the replication log").
	WithDefault("UTC").
	WithConstraint(
		"must be an IANA time zone name",
		func(v string) bool {
			_, err := time.LoadLocation(v)
			return err == nil
		},
	).
	Required(ferrite.WithRegistry(FerriteRegistry))

var retryWiderWindow = ferrite.
	Bool("REWIND_RETRY_WIDER_WINDOW", "retry a failed normalization once with the window doubled").
	WithDefault(false).
	Required(ferrite.WithRegistry(FerriteRegistry))

// Location returns the time zone named by the REWIND_LOCATION environment
// variable.
func Location() (*time.Location, error) {
	return time.LoadLocation(location.Value())
}

func (c *Config) finalizeNormalization() error {
	n := &c.Normalization

	if n.Window < 0 {
		return fmt.Errorf("window must not be negative, got %s", n.Window)
	}

	if c.UseEnv {
		if n.Window == 0 {
			n.Window = window.Value()
		}

		if n.Location == nil {
			loc, err := Location()
			if err != nil {
				return err
			}
			n.Location = loc
		}

		if !n.RetryWiderWindow {
			n.RetryWiderWindow = retryWiderWindow.Value()
		}
	}

	if n.Window == 0 {
		n.Window = normalize.DefaultWindow
	}

	if n.Location == nil {
		n.Location = time.UTC
	}

	return nil
}
