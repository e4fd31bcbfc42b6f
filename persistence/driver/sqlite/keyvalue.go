package sqlite

import (
	"context"
	"database/sql"
	"errors"

	"github.com/dogmatiq/rewind/persistence/kv"
)

// KeyValueStore is an implementation of [kv.Store] that persists keyspaces in
// an SQLite table.
type KeyValueStore struct {
	DB *sql.DB
}

// Open returns the keyspace with the given name.
func (s *KeyValueStore) Open(ctx context.Context, name string) (kv.Keyspace, error) {
	if name == "" {
		return nil, errors.New("keyspace name must not be empty")
	}
	return &keyspace{name, s.DB}, ctx.Err()
}

type keyspace struct {
	name string
	db   *sql.DB
}

func (ks *keyspace) Get(ctx context.Context, k []byte) ([]byte, error) {
	row := ks.db.QueryRowContext(
		ctx,
		`SELECT value FROM rewind_kv WHERE keyspace = ? AND key = ?`,
		ks.name,
		k,
	)

	var v []byte
	if err := row.Scan(&v); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}

	return v, nil
}

func (ks *keyspace) Has(ctx context.Context, k []byte) (bool, error) {
	row := ks.db.QueryRowContext(
		ctx,
		`SELECT EXISTS (SELECT 1 FROM rewind_kv WHERE keyspace = ? AND key = ?)`,
		ks.name,
		k,
	)

	var ok bool
	err := row.Scan(&ok)
	return ok, err
}

func (ks *keyspace) Set(ctx context.Context, k, v []byte) error {
	if len(v) == 0 {
		_, err := ks.db.ExecContext(
			ctx,
			`DELETE FROM rewind_kv WHERE keyspace = ? AND key = ?`,
			ks.name,
			k,
		)
		return err
	}

	_, err := ks.db.ExecContext(
		ctx,
		`INSERT INTO rewind_kv (
			keyspace,
			key,
			value
		) VALUES (
			?, ?, ?
		) ON CONFLICT (keyspace, key) DO UPDATE SET
			value = excluded.value`,
		ks.name,
		k,
		v,
	)
	return err
}

func (ks *keyspace) Range(ctx context.Context, fn kv.RangeFunc) error {
	rows, err := ks.db.QueryContext(
		ctx,
		`SELECT key, value FROM rewind_kv WHERE keyspace = ?`,
		ks.name,
	)
	if err != nil {
		return err
	}

	var keys, values [][]byte
	for rows.Next() {
		var k, v []byte
		if err := rows.Scan(&k, &v); err != nil {
			rows.Close()
			return err
		}
		keys = append(keys, k)
		values = append(values, v)
	}

	if err := rows.Close(); err != nil {
		return err
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for i, k := range keys {
		ok, err := fn(ctx, k, values[i])
		if !ok || err != nil {
			return err
		}
	}

	return nil
}

func (ks *keyspace) Close() error {
	return nil
}
