package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/dogmatiq/rewind/persistence/kv"
)

// KeyValueStore is an implementation of [kv.Store] that persists keyspaces in
// a PostgreSQL table.
type KeyValueStore struct {
	// DB is the PostgreSQL database connection.
	DB *sql.DB
}

// Open returns the keyspace with the given name.
func (s *KeyValueStore) Open(ctx context.Context, name string) (kv.Keyspace, error) {
	if name == "" {
		return nil, errors.New("keyspace name must not be empty")
	}

	return &keyspace{
		Name: name,
		DB:   s.DB,
	}, ctx.Err()
}

type keyspace struct {
	Name string
	DB   *sql.DB
}

func (ks *keyspace) Get(ctx context.Context, k []byte) ([]byte, error) {
	row := ks.DB.QueryRowContext(
		ctx,
		`SELECT
			value
		FROM rewind.kv
		WHERE keyspace = $1
		AND key = $2`,
		ks.Name,
		k,
	)

	var v []byte
	err := row.Scan(&v)
	if err == sql.ErrNoRows {
		return nil, nil
	}

	return v, err
}

func (ks *keyspace) Has(ctx context.Context, k []byte) (bool, error) {
	row := ks.DB.QueryRowContext(
		ctx,
		`SELECT EXISTS (
			SELECT 1
			FROM rewind.kv
			WHERE keyspace = $1
			AND key = $2
		)`,
		ks.Name,
		k,
	)

	var ok bool
	err := row.Scan(&ok)
	return ok, err
}

func (ks *keyspace) Set(ctx context.Context, k, v []byte) error {
	if len(v) == 0 {
		_, err := ks.DB.ExecContext(
			ctx,
			`DELETE FROM rewind.kv
			WHERE keyspace = $1
			AND key = $2`,
			ks.Name,
			k,
		)
		return err
	}

	_, err := ks.DB.ExecContext(
		ctx,
		`INSERT INTO rewind.kv (
			keyspace,
			key,
			value
		) VALUES (
			$1, $2, $3
		) ON CONFLICT (keyspace, key) DO UPDATE SET
			value = excluded.value`,
		ks.Name,
		k,
		v,
	)

	return err
}

func (ks *keyspace) Range(ctx context.Context, fn kv.RangeFunc) error {
	rows, err := ks.DB.QueryContext(
		ctx,
		`SELECT
			key,
			value
		FROM rewind.kv
		WHERE keyspace = $1`,
		ks.Name,
	)
	if err != nil {
		return err
	}

	type pair struct{ K, V []byte }
	var pairs []pair

	for rows.Next() {
		var p pair
		if err := rows.Scan(&p.K, &p.V); err != nil {
			rows.Close()
			return err
		}
		pairs = append(pairs, p)
	}

	if err := rows.Close(); err != nil {
		return err
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for _, p := range pairs {
		ok, err := fn(ctx, p.K, p.V)
		if !ok || err != nil {
			return err
		}
	}

	return nil
}

func (ks *keyspace) Close() error {
	return nil
}
