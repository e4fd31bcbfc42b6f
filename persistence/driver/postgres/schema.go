package postgres

import (
	"context"
	"database/sql"
)

// CreateSchema creates the PostgreSQL schema used by [JournalStore] and
// [KeyValueStore], if it does not already exist.
func CreateSchema(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() // nolint:errcheck

	for _, q := range []string{
		`CREATE SCHEMA IF NOT EXISTS rewind`,
		`CREATE TABLE IF NOT EXISTS rewind.journal (
			path          TEXT NOT NULL,
			record_offset BIGINT NOT NULL,
			record        BYTEA NOT NULL,

			PRIMARY KEY (path, record_offset)
		)`,
		`CREATE TABLE IF NOT EXISTS rewind.journal_begin (
			path          TEXT NOT NULL PRIMARY KEY,
			record_offset BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS rewind.kv (
			keyspace TEXT NOT NULL,
			key      BYTEA NOT NULL,
			value    BYTEA NOT NULL,

			PRIMARY KEY (keyspace, key)
		)`,
	} {
		if _, err := tx.ExecContext(ctx, q); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// DropSchema removes the PostgreSQL schema used by [JournalStore] and
// [KeyValueStore], and all of the data within it.
func DropSchema(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `DROP SCHEMA IF EXISTS rewind CASCADE`)
	return err
}
