// Command rewind normalizes a table snapshot against a MySQL replication log,
// then exports the table at a chosen point in the log, or reports on the
// table's history.
//
// Usage:
//
//	rewind [normalize | export | last-non-null]
//
// It is configured with environment variables. Run it with
// FERRITE_MODE=usage/markdown for a description of each one.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dogmatiq/ferrite"
	"golang.org/x/exp/slog"
)

var dataDir = ferrite.
	String("REWIND_DATA_DIR", "the directory containing one sub-directory per table").
	WithDefault("db_data").
	Required()

var tableName = ferrite.
	String("REWIND_TABLE", "the table to operate on, required if the data directory has more than one").
	Optional()

var snapshotTime = ferrite.
	String("REWIND_SNAPSHOT_TIME", "the approximate time the snapshot was taken, as YYMMDD HH:MM:SS or RFC 3339").
	WithDefault("251111 01:45:00").
	Required()

var logLevel = ferrite.
	String("REWIND_LOG_LEVEL", "the minimum level of log messages").
	WithDefault("info").
	WithConstraint(
		"must be one of debug, info, warn or error",
		func(v string) bool {
			var l slog.Level
			return l.UnmarshalText([]byte(v)) == nil
		},
	).
	Required()

func main() {
	ferrite.Init()

	var level slog.Level
	if err := level.UnmarshalText([]byte(logLevel.Value())); err != nil {
		panic(err)
	}

	logger := slog.New(
		slog.NewJSONHandler(
			os.Stderr,
			&slog.HandlerOptions{
				Level: level,
			},
		),
	)

	ctx, cancel := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer cancel()

	command := "normalize"
	if len(os.Args) > 1 {
		command = os.Args[1]
	}

	if err := run(ctx, command, logger); err != nil {
		logger.Error("rewind failed", slog.String("command", command), slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, command string, logger *slog.Logger) error {
	cmd, ok := commands[command]
	if !ok {
		return fmt.Errorf("unrecognized command %q, expected one of normalize, export or last-non-null", command)
	}

	sets, err := discover(dataDir.Value())
	if err != nil {
		return err
	}

	name, _ := tableName.Value()
	ds, err := selectDataset(sets, name)
	if err != nil {
		return err
	}

	logger = logger.With(slog.String("table", ds.Table))
	logger.Info(
		"discovered dataset",
		slog.String("snapshot", ds.Snapshot),
		slog.String("log", ds.Log),
	)

	tl, err := open(ctx, ds, snapshotTime.Value(), logger)
	if err != nil {
		return err
	}

	return errors.Join(
		cmd(ctx, tl, ds, logger),
		tl.Close(),
	)
}
