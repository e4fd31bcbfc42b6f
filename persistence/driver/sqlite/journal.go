package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dogmatiq/rewind/persistence/internal/pathkey"
	"github.com/dogmatiq/rewind/persistence/journal"
)

// rangeBatchSize is the maximum number of records read by each query made
// while ranging over a journal.
const rangeBatchSize = 1000

// JournalStore is an implementation of [journal.Store] that persists journal
// records in an SQLite table.
type JournalStore struct {
	DB *sql.DB
}

// Open returns the journal at the given path.
func (s *JournalStore) Open(ctx context.Context, path ...string) (journal.Journal, error) {
	key, err := pathkey.New(path)
	if err != nil {
		return nil, err
	}

	return &journ{key, s.DB}, ctx.Err()
}

type journ struct {
	path string
	db   *sql.DB
}

func (j *journ) Bounds(ctx context.Context) (begin, end journal.Offset, err error) {
	row := j.db.QueryRowContext(
		ctx,
		`SELECT
			COALESCE((SELECT record_offset FROM rewind_journal_bounds WHERE path = ?1), 0),
			COALESCE((SELECT MAX(record_offset) + 1 FROM rewind_journal WHERE path = ?1), 0)`,
		j.path,
	)

	var b, e int64
	if err := row.Scan(&b, &e); err != nil {
		return 0, 0, err
	}

	if e < b {
		e = b
	}

	return journal.Offset(b), journal.Offset(e), nil
}

func (j *journ) Get(ctx context.Context, off journal.Offset) ([]byte, bool, error) {
	row := j.db.QueryRowContext(
		ctx,
		`SELECT record FROM rewind_journal WHERE path = ? AND record_offset = ?`,
		j.path,
		int64(off),
	)

	var rec []byte
	switch err := row.Scan(&rec); err {
	case nil:
		return rec, true, nil
	case sql.ErrNoRows:
		return nil, false, nil
	default:
		return nil, false, err
	}
}

func (j *journ) Range(
	ctx context.Context,
	begin journal.Offset,
	fn journal.RangeFunc,
) error {
	first, _, err := j.Bounds(ctx)
	if err != nil {
		return err
	}

	if begin < first {
		return fmt.Errorf("cannot range from offset %d, the oldest record is at offset %d", begin, first)
	}

	next := begin
	for {
		offsets, records, err := j.batch(ctx, next)
		if err != nil {
			return err
		}

		for i, off := range offsets {
			if off != next {
				return fmt.Errorf("journal is corrupt: expected record at offset %d, found offset %d", next, off)
			}
			next++

			ok, err := fn(ctx, off, records[i])
			if !ok || err != nil {
				return err
			}
		}

		if len(offsets) < rangeBatchSize {
			return nil
		}
	}
}

func (j *journ) batch(ctx context.Context, begin journal.Offset) ([]journal.Offset, [][]byte, error) {
	rows, err := j.db.QueryContext(
		ctx,
		`SELECT
			record_offset,
			record
		FROM rewind_journal
		WHERE path = ?
		AND record_offset >= ?
		ORDER BY record_offset
		LIMIT ?`,
		j.path,
		int64(begin),
		rangeBatchSize,
	)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	var (
		offsets []journal.Offset
		records [][]byte
	)

	for rows.Next() {
		var (
			off int64
			rec []byte
		)
		if err := rows.Scan(&off, &rec); err != nil {
			return nil, nil, err
		}
		offsets = append(offsets, journal.Offset(off))
		records = append(records, rec)
	}

	return offsets, records, rows.Err()
}

func (j *journ) RangeAll(ctx context.Context, fn journal.RangeFunc) error {
	begin, _, err := j.Bounds(ctx)
	if err != nil {
		return err
	}
	return j.Range(ctx, begin, fn)
}

func (j *journ) Append(ctx context.Context, end journal.Offset, rec []byte) error {
	res, err := j.db.ExecContext(
		ctx,
		`INSERT INTO rewind_journal (
			path,
			record_offset,
			record
		) VALUES (
			?, ?, ?
		) ON CONFLICT (path, record_offset) DO NOTHING`,
		j.path,
		int64(end),
		rec,
	)
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}

	if n == 0 {
		return journal.ErrConflict
	}

	return nil
}

func (j *journ) Truncate(ctx context.Context, end journal.Offset) error {
	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() // nolint:errcheck

	if _, err := tx.ExecContext(
		ctx,
		`INSERT INTO rewind_journal_bounds (
			path,
			record_offset
		) VALUES (
			?1, ?2
		) ON CONFLICT (path) DO UPDATE SET
			record_offset = MAX(record_offset, excluded.record_offset)`,
		j.path,
		int64(end),
	); err != nil {
		return err
	}

	if _, err := tx.ExecContext(
		ctx,
		`DELETE FROM rewind_journal WHERE path = ? AND record_offset < ?`,
		j.path,
		int64(end),
	); err != nil {
		return err
	}

	return tx.Commit()
}

func (j *journ) Close() error {
	return nil
}
