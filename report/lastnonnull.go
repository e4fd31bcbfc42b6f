// Package report produces reports by replaying a replication log over a
// normalized snapshot.
package report

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"

	"github.com/dogmatiq/rewind/change"
	"github.com/dogmatiq/rewind/internal/telemetry"
	"github.com/dogmatiq/rewind/replay"
	"golang.org/x/exp/slices"
)

// ValueHeader is the header of the value column in a [Result].
const ValueHeader = "last_non_null_value"

// LastNonNull is a report of the last non-null value that a column held for
// each row of a table, over the entire replication log.
//
// Rows that are later deleted, or whose column is later set to NULL, retain
// the last non-null value they held.
type LastNonNull struct {
	Table     change.TableID
	Column    string
	Telemetry *telemetry.Provider
}

// Result is the output of a [LastNonNull] report.
type Result struct {
	// Key is the names of the primary key columns.
	Key []string

	// Rows contains one entry per row that ever held a non-null value, in
	// primary key order.
	Rows []ResultRow
}

// ResultRow is a row of a [Result].
type ResultRow struct {
	Key   []change.Value
	Value change.Value
}

// Run moves c to the start of the log, then steps forward through every
// transaction until the end of the log is reached.
//
// c is left at the end of the log.
func (r *LastNonNull) Run(ctx context.Context, c *replay.Cursor) (Result, error) {
	ctx, span := r.Telemetry.Recorder(
		"github.com/dogmatiq/rewind/report",
		"report",
	).StartSpan(
		ctx,
		"report.last_non_null",
		telemetry.Stringer("table", r.Table),
		telemetry.String("column", r.Column),
	)
	defer span.End()

	if err := c.StepTo(ctx, change.Position{}); err != nil {
		span.Error("could not move to the start of the log", err)
		return Result{}, err
	}

	view, ok := c.View(r.Table)
	if !ok {
		return Result{}, fmt.Errorf("table %s is not present in the snapshot", r.Table)
	}

	schema := view.Schema()
	col, ok := schema.Index(r.Column)
	if !ok {
		return Result{}, fmt.Errorf("table %s has no column %q", schema.Table, r.Column)
	}

	last := map[string]ResultRow{}

	observe := func(row change.Row) error {
		if row[col].IsNull() {
			return nil
		}

		key := schema.KeyOfRow(row)
		k, err := schema.EncodeKey(key)
		if err != nil {
			return err
		}

		last[k] = ResultRow{
			Key:   keyValues(schema, key),
			Value: row[col],
		}

		return nil
	}

	var err error
	view.Range(func(row change.Row) bool {
		err = observe(row)
		return err == nil
	})
	if err != nil {
		return Result{}, err
	}

	steps := 0
	for {
		tx, ok, err := c.StepForward(ctx)
		if err != nil {
			span.Error("could not step forward", err)
			return Result{}, err
		}
		if !ok {
			break
		}
		steps++

		for _, ch := range tx.Changes {
			if ch.Table != schema.Table || ch.Op == change.Delete {
				continue
			}

			key := ch.Key.Clone()
			for _, k := range schema.PrimaryKey {
				if v, ok := ch.After[k]; ok {
					key[k] = v
				}
			}

			if row, ok := view.Get(key); ok {
				if err := observe(row); err != nil {
					return Result{}, err
				}
			}
		}
	}

	res := Result{
		Key:  slices.Clone(schema.PrimaryKey),
		Rows: make([]ResultRow, 0, len(last)),
	}
	for _, row := range last {
		res.Rows = append(res.Rows, row)
	}

	slices.SortFunc(res.Rows, func(a, b ResultRow) int {
		for i := range a.Key {
			if n := a.Key[i].Compare(b.Key[i]); n != 0 {
				return n
			}
		}
		return 0
	})

	span.Info(
		"report complete",
		telemetry.Int("transactions", steps),
		telemetry.Int("rows", len(res.Rows)),
	)

	return res, nil
}

// WriteCSV writes the result to w as CSV, preceded by a header row.
func (r Result) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)

	header := append(slices.Clone(r.Key), ValueHeader)
	if err := cw.Write(header); err != nil {
		return err
	}

	record := make([]string, len(header))
	for _, row := range r.Rows {
		for i, v := range row.Key {
			record[i] = v.String()
		}
		record[len(record)-1] = row.Value.String()

		if err := cw.Write(record); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}

func keyValues(s *change.Schema, key change.Image) []change.Value {
	values := make([]change.Value, len(s.PrimaryKey))
	for i, k := range s.PrimaryKey {
		values[i] = key[k]
	}
	return values
}
