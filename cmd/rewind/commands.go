package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"github.com/dogmatiq/ferrite"
	"github.com/dogmatiq/rewind"
	"github.com/dogmatiq/rewind/binlog"
	"github.com/dogmatiq/rewind/change"
	"github.com/dogmatiq/rewind/internal/config"
	"github.com/dogmatiq/rewind/internal/telemetry"
	"github.com/dogmatiq/rewind/report"
	snapshotsqlite "github.com/dogmatiq/rewind/snapshot/sqlite"
	"golang.org/x/exp/slog"
	_ "modernc.org/sqlite"
)

var exportPath = ferrite.
	String("REWIND_EXPORT", "the SQLite database that the export command writes to").
	WithDefault("rewind.sqlite").
	Required()

var exportAt = ferrite.
	String("REWIND_EXPORT_AT", "a time within the log to export the table at, instead of the snapshot's position").
	Optional()

var reportColumn = ferrite.
	String("REWIND_COLUMN", "the column reported on by the last-non-null command").
	WithDefault("price").
	Required()

var reportOutput = ferrite.
	String("REWIND_OUTPUT", "the CSV file that the last-non-null command writes to").
	WithDefault("results.csv").
	Required()

type command func(context.Context, *rewind.Timeline, dataset, *slog.Logger) error

var commands = map[string]command{
	"normalize":     normalize,
	"export":        export,
	"last-non-null": lastNonNull,
}

// open loads the dataset's snapshot and normalizes it against its log.
func open(
	ctx context.Context,
	ds dataset,
	estimate string,
	logger *slog.Logger,
) (*rewind.Timeline, error) {
	db, err := sql.Open("sqlite", ds.Snapshot)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	raw, err := snapshotsqlite.Load(ctx, db, ds.Table)
	if err != nil {
		return nil, fmt.Errorf("unable to load snapshot: %w", err)
	}

	loc, err := config.Location()
	if err != nil {
		return nil, err
	}

	at, err := binlog.ParseTimestamp(estimate, loc)
	if err != nil {
		return nil, err
	}

	return rewind.Open(
		ctx,
		raw,
		binlog.File(ds.Log),
		at,
		rewind.WithEnvironment(),
		rewind.WithTables(change.TableID{Name: ds.Table}),
		rewind.WithLogger(logger),
	)
}

func normalize(
	_ context.Context,
	tl *rewind.Timeline,
	_ dataset,
	logger *slog.Logger,
) error {
	snap := tl.Snapshot()

	logger.Info(
		"snapshot normalized",
		slog.String("anchor", snap.Anchor.String()),
		slog.Time("anchor_time", snap.AnchorTime),
		slog.Duration("window", snap.Window),
		slog.Int("applied", snap.Applied),
		slog.Int("reflected", snap.Reflected),
		slog.Int("transactions", tl.Log().Len()),
	)

	return nil
}

func export(
	ctx context.Context,
	tl *rewind.Timeline,
	ds dataset,
	logger *slog.Logger,
) error {
	c := tl.NewCursor()

	if s, ok := exportAt.Value(); ok {
		loc, err := config.Location()
		if err != nil {
			return err
		}

		at, err := binlog.ParseTimestamp(s, loc)
		if err != nil {
			return err
		}

		if err := c.StepToTime(ctx, at); err != nil {
			return err
		}
	}

	view, ok := c.View(change.TableID{Name: ds.Table})
	if !ok {
		return fmt.Errorf("table %s is not present in the snapshot", ds.Table)
	}

	asOf := snapshotsqlite.AsOf{
		Position: c.Position(),
	}

	tx, ok, err := tl.Log().Last(ctx, c.Position())
	if err != nil {
		return err
	}
	if ok {
		asOf.CommittedAt = tx.CommittedAt
	}

	db, err := sql.Open("sqlite", exportPath.Value())
	if err != nil {
		return err
	}
	defer db.Close()

	if err := snapshotsqlite.Export(ctx, db, ds.Table, view, asOf); err != nil {
		return err
	}

	logger.Info(
		"exported table",
		slog.String("path", exportPath.Value()),
		slog.String("position", asOf.Position.String()),
		slog.Time("committed_at", asOf.CommittedAt),
		slog.Int("rows", view.Len()),
	)

	return nil
}

func lastNonNull(
	ctx context.Context,
	tl *rewind.Timeline,
	ds dataset,
	logger *slog.Logger,
) error {
	r := &report.LastNonNull{
		Table:     change.TableID{Name: ds.Table},
		Column:    reportColumn.Value(),
		Telemetry: &telemetry.Provider{Logger: logger},
	}

	res, err := r.Run(ctx, tl.NewCursor())
	if err != nil {
		return err
	}

	f, err := os.Create(reportOutput.Value())
	if err != nil {
		return err
	}

	if err := res.WriteCSV(f); err != nil {
		f.Close()
		return err
	}

	if err := f.Close(); err != nil {
		return err
	}

	logger.Info(
		"wrote report",
		slog.String("path", reportOutput.Value()),
		slog.Int("rows", len(res.Rows)),
	)

	return nil
}
