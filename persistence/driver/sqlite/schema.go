// Package sqlite provides journal and key/value store implementations backed
// by an SQLite database.
//
// The database/sql driver must be registered by the caller, typically by
// importing modernc.org/sqlite.
package sqlite

import (
	"context"
	"database/sql"
)

// CreateSchema creates the tables used by [JournalStore] and [KeyValueStore],
// if they do not already exist.
func CreateSchema(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() // nolint:errcheck

	for _, q := range []string{
		`CREATE TABLE IF NOT EXISTS rewind_journal (
			path          TEXT NOT NULL,
			record_offset INTEGER NOT NULL,
			record        BLOB NOT NULL,

			PRIMARY KEY (path, record_offset)
		)`,
		`CREATE TABLE IF NOT EXISTS rewind_journal_bounds (
			path          TEXT NOT NULL PRIMARY KEY,
			record_offset INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS rewind_kv (
			keyspace TEXT NOT NULL,
			key      BLOB NOT NULL,
			value    BLOB NOT NULL,

			PRIMARY KEY (keyspace, key)
		)`,
	} {
		if _, err := tx.ExecContext(ctx, q); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// DropSchema removes the tables used by [JournalStore] and [KeyValueStore].
func DropSchema(ctx context.Context, db *sql.DB) error {
	for _, t := range []string{
		"rewind_journal",
		"rewind_journal_bounds",
		"rewind_kv",
	} {
		if _, err := db.ExecContext(ctx, `DROP TABLE IF EXISTS `+t); err != nil {
			return err
		}
	}
	return nil
}
