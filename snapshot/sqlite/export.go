package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/dogmatiq/rewind/change"
	"github.com/dogmatiq/rewind/normalize"
	"github.com/dogmatiq/rewind/table"
)

// asOfTable is the name of the table that records the log position that each
// exported table reflects.
const asOfTable = "rewind_as_of"

// AsOf identifies the point in the log that an exported table reflects.
type AsOf struct {
	Position    change.Position
	CommittedAt time.Time
}

// Export writes the content of v to a table with the given name, replacing
// any existing table of the same name.
//
// The position that the content reflects is recorded in the "rewind_as_of"
// table.
func Export(
	ctx context.Context,
	db *sql.DB,
	name string,
	v table.View,
	asOf AsOf,
) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() // nolint:errcheck

	if err := exportTable(ctx, tx, name, v); err != nil {
		return fmt.Errorf("unable to export table %s: %w", name, err)
	}

	if err := recordAsOf(ctx, tx, name, asOf); err != nil {
		return fmt.Errorf("unable to export table %s: %w", name, err)
	}

	return tx.Commit()
}

// ExportSnapshot writes every table in snap to db, using the table names of
// the snapshot.
func ExportSnapshot(ctx context.Context, db *sql.DB, snap *normalize.Snapshot) error {
	for _, id := range snap.Tables() {
		v, _ := snap.View(id)

		if err := Export(
			ctx,
			db,
			id.Name,
			v,
			AsOf{snap.Anchor, snap.AnchorTime},
		); err != nil {
			return err
		}
	}

	return nil
}

// ReadAsOf returns the position recorded for a table written by [Export].
func ReadAsOf(ctx context.Context, db *sql.DB, name string) (AsOf, bool, error) {
	row := db.QueryRowContext(
		ctx,
		`SELECT
			position_index,
			gtid,
			log_pos,
			committed_at
		FROM `+asOfTable+`
		WHERE table_name = ?`,
		name,
	)

	var (
		asOf AsOf
		at   string
	)

	err := row.Scan(
		&asOf.Position.Index,
		&asOf.Position.GTID,
		&asOf.Position.LogPos,
		&at,
	)
	if err == sql.ErrNoRows {
		return AsOf{}, false, nil
	}
	if err != nil {
		return AsOf{}, false, err
	}

	if at != "" {
		asOf.CommittedAt, err = time.Parse(time.RFC3339Nano, at)
		if err != nil {
			return AsOf{}, false, err
		}
	}

	return asOf, true, nil
}

func exportTable(ctx context.Context, tx *sql.Tx, name string, v table.View) error {
	schema := v.Schema()

	defs := make([]string, len(schema.Columns))
	columns := make([]string, len(schema.Columns))
	params := make([]string, len(schema.Columns))

	for i, c := range schema.Columns {
		defs[i] = strings.TrimSpace(quote(c.Name) + " " + declaredType(c.Type))
		columns[i] = quote(c.Name)
		params[i] = "?"
	}

	keys := make([]string, len(schema.PrimaryKey))
	for i, k := range schema.PrimaryKey {
		keys[i] = quote(k)
	}

	if _, err := tx.ExecContext(ctx, `DROP TABLE IF EXISTS `+quote(name)); err != nil {
		return err
	}

	if _, err := tx.ExecContext(
		ctx,
		`CREATE TABLE `+quote(name)+` (`+
			strings.Join(defs, ", ")+
			`, PRIMARY KEY (`+strings.Join(keys, ", ")+`))`,
	); err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(
		ctx,
		`INSERT INTO `+quote(name)+
			` (`+strings.Join(columns, ", ")+`)`+
			` VALUES (`+strings.Join(params, ", ")+`)`,
	)
	if err != nil {
		return err
	}
	defer stmt.Close()

	v.Range(func(row change.Row) bool {
		args := make([]any, len(row))
		for i, value := range row {
			args[i] = toArg(value)
		}

		_, err = stmt.ExecContext(ctx, args...)
		return err == nil
	})

	return err
}

func recordAsOf(ctx context.Context, tx *sql.Tx, name string, asOf AsOf) error {
	if _, err := tx.ExecContext(
		ctx,
		`CREATE TABLE IF NOT EXISTS `+asOfTable+` (
			table_name     TEXT NOT NULL PRIMARY KEY,
			position_index INTEGER NOT NULL,
			gtid           TEXT NOT NULL,
			log_pos        INTEGER NOT NULL,
			committed_at   TEXT NOT NULL
		)`,
	); err != nil {
		return err
	}

	at := ""
	if !asOf.CommittedAt.IsZero() {
		at = asOf.CommittedAt.UTC().Format(time.RFC3339Nano)
	}

	_, err := tx.ExecContext(
		ctx,
		`INSERT INTO `+asOfTable+` (
			table_name,
			position_index,
			gtid,
			log_pos,
			committed_at
		) VALUES (
			?, ?, ?, ?, ?
		) ON CONFLICT (table_name) DO UPDATE SET
			position_index = excluded.position_index,
			gtid = excluded.gtid,
			log_pos = excluded.log_pos,
			committed_at = excluded.committed_at`,
		name,
		int64(asOf.Position.Index),
		asOf.Position.GTID,
		int64(asOf.Position.LogPos),
		at,
	)

	return err
}

// declaredType returns the SQLite type declaration used for columns of type t.
func declaredType(t change.ColumnType) string {
	switch t {
	case change.TypeInteger:
		return "INTEGER"
	case change.TypeUnsigned:
		return "INTEGER UNSIGNED"
	case change.TypeFloat:
		return "REAL"
	case change.TypeDecimal:
		return "DECIMAL"
	case change.TypeText:
		return "TEXT"
	case change.TypeTemporal:
		return "DATETIME"
	default:
		return ""
	}
}

func toArg(v change.Value) any {
	switch v.Kind() {
	case change.KindInt:
		n, _ := v.AsInt()
		return n
	case change.KindFloat:
		f, _ := v.AsFloat()
		return f
	case change.KindDecimal, change.KindText:
		s, _ := v.AsText()
		return s
	default:
		return nil
	}
}
