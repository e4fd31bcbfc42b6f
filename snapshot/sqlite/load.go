// Package sqlite loads table snapshots from SQLite databases and exports
// reconstructed tables to them.
//
// The database/sql driver must be registered by the caller, typically by
// importing modernc.org/sqlite.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dogmatiq/rewind/change"
	"github.com/dogmatiq/rewind/table"
	"golang.org/x/exp/slices"
)

// fallbackKey is the name of the column used as the primary key of a table
// that does not declare one.
const fallbackKey = "id"

// timeLayout is the layout used to represent temporal values as text. It
// matches the representation used in decoded replication logs.
const timeLayout = "2006-01-02 15:04:05.999999"

// Load returns snapshots of the named tables in db.
//
// If no names are given, every table is loaded, except for SQLite's internal
// tables and those with a "rewind_" prefix.
func Load(ctx context.Context, db *sql.DB, names ...string) (table.Set, error) {
	if len(names) == 0 {
		var err error
		names, err = tableNames(ctx, db)
		if err != nil {
			return nil, err
		}
	}

	set := table.Set{}

	for _, name := range names {
		snap, err := LoadTable(ctx, db, name)
		if err != nil {
			return nil, err
		}
		set[snap.Schema().Table] = snap
	}

	return set, nil
}

// LoadTable returns a snapshot of a single table in db.
func LoadTable(ctx context.Context, db *sql.DB, name string) (*table.Snapshot, error) {
	schema, err := ReadSchema(ctx, db, name)
	if err != nil {
		return nil, err
	}

	snap, err := table.New(schema)
	if err != nil {
		return nil, err
	}

	columns := make([]string, len(schema.Columns))
	for i, c := range schema.Columns {
		columns[i] = quote(c.Name)
	}

	rows, err := db.QueryContext(
		ctx,
		`SELECT `+strings.Join(columns, ", ")+` FROM `+quote(name),
	)
	if err != nil {
		return nil, fmt.Errorf("unable to read table %s: %w", name, err)
	}
	defer rows.Close()

	raw := make([]any, len(columns))
	ptrs := make([]any, len(columns))
	for i := range raw {
		ptrs[i] = &raw[i]
	}

	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}

		row := make(change.Row, len(raw))
		for i, v := range raw {
			row[i], err = toValue(v, schema.Columns[i].Type)
			if err != nil {
				return nil, fmt.Errorf("table %s, column %q: %w", name, schema.Columns[i].Name, err)
			}
		}

		if err := snap.Put(row); err != nil {
			return nil, err
		}
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return snap, nil
}

// ReadSchema returns the schema of the named table.
//
// If the table does not declare a primary key, its "id" column is used
// instead.
func ReadSchema(ctx context.Context, db *sql.DB, name string) (*change.Schema, error) {
	rows, err := db.QueryContext(ctx, `PRAGMA table_info(`+quote(name)+`)`)
	if err != nil {
		return nil, fmt.Errorf("unable to read schema of table %s: %w", name, err)
	}
	defer rows.Close()

	schema := &change.Schema{
		Table: change.TableID{Name: name},
	}

	type keyColumn struct {
		Name  string
		Order int
	}
	var keys []keyColumn

	for rows.Next() {
		var (
			cid      int
			col      string
			decl     string
			notNull  bool
			defValue sql.NullString
			pk       int
		)

		if err := rows.Scan(&cid, &col, &decl, &notNull, &defValue, &pk); err != nil {
			return nil, err
		}

		schema.Columns = append(schema.Columns, change.Column{
			Name: col,
			Type: change.ParseColumnType(decl),
		})

		if pk > 0 {
			keys = append(keys, keyColumn{col, pk})
		}
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(schema.Columns) == 0 {
		return nil, fmt.Errorf("table %s does not exist", name)
	}

	slices.SortFunc(keys, func(a, b keyColumn) int {
		return a.Order - b.Order
	})

	for _, k := range keys {
		schema.PrimaryKey = append(schema.PrimaryKey, k.Name)
	}

	if len(schema.PrimaryKey) == 0 {
		if _, ok := schema.Index(fallbackKey); !ok {
			return nil, fmt.Errorf("table %s has no primary key and no %q column", name, fallbackKey)
		}
		schema.PrimaryKey = []string{fallbackKey}
	}

	return schema, schema.Validate()
}

func tableNames(ctx context.Context, db *sql.DB) ([]string, error) {
	rows, err := db.QueryContext(
		ctx,
		`SELECT name FROM sqlite_master
		WHERE type = 'table'
		AND name NOT LIKE 'sqlite\_%' ESCAPE '\'
		AND name NOT LIKE 'rewind\_%' ESCAPE '\'
		ORDER BY name`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		names = append(names, n)
	}

	return names, rows.Err()
}

// toValue converts a value read from SQLite into a [change.Value] according
// to the column's declared type.
func toValue(v any, t change.ColumnType) (change.Value, error) {
	switch v := v.(type) {
	case nil:
		return change.Null(), nil
	case []byte:
		return toValue(string(v), t)
	case time.Time:
		return change.Text(v.Format(timeLayout)), nil
	case bool:
		if v {
			return toValue(int64(1), t)
		}
		return toValue(int64(0), t)
	}

	switch t {
	case change.TypeInteger, change.TypeUnsigned:
		switch v := v.(type) {
		case int64:
			return change.Int(v), nil
		case float64:
			if v == float64(int64(v)) {
				return change.Int(int64(v)), nil
			}
			return change.Float(v), nil
		case string:
			if n, err := strconv.ParseInt(v, 10, 64); err == nil {
				return change.Int(n), nil
			}
			return change.Decimal(v)
		}

	case change.TypeDecimal:
		switch v := v.(type) {
		case int64:
			return change.Decimal(strconv.FormatInt(v, 10))
		case float64:
			return change.Decimal(strconv.FormatFloat(v, 'f', -1, 64))
		case string:
			return change.Decimal(v)
		}

	case change.TypeFloat:
		switch v := v.(type) {
		case int64:
			return change.Float(float64(v)), nil
		case float64:
			return change.Float(v), nil
		case string:
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return change.Value{}, err
			}
			return change.Float(f), nil
		}

	case change.TypeText, change.TypeTemporal:
		switch v := v.(type) {
		case int64:
			return change.Text(strconv.FormatInt(v, 10)), nil
		case float64:
			return change.Text(strconv.FormatFloat(v, 'g', -1, 64)), nil
		case string:
			return change.Text(v), nil
		}

	default:
		switch v := v.(type) {
		case int64:
			return change.Int(v), nil
		case float64:
			return change.Float(v), nil
		case string:
			return change.Text(v), nil
		}
	}

	return change.Value{}, fmt.Errorf("unsupported value of type %T", v)
}

// quote returns name as a quoted SQL identifier.
func quote(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
