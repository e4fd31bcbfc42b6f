package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dogmatiq/rewind/persistence/internal/pathkey"
	"github.com/dogmatiq/rewind/persistence/journal"
)

// rangeBatchSize is the maximum number of records fetched by each query made
// while ranging over a journal.
const rangeBatchSize = 500

// JournalStore is an implementation of [journal.Store] that persists journal
// records in a PostgreSQL table.
type JournalStore struct {
	// DB is the PostgreSQL database connection.
	DB *sql.DB
}

// Open returns the journal at the given path.
func (s *JournalStore) Open(ctx context.Context, path ...string) (journal.Journal, error) {
	key, err := pathkey.New(path)
	if err != nil {
		return nil, err
	}

	return &journ{
		Path: key,
		DB:   s.DB,
	}, ctx.Err()
}

// journ is an implementation of [journal.Journal] that stores records in a
// PostgreSQL table.
type journ struct {
	Path string
	DB   *sql.DB
}

func (j *journ) Bounds(ctx context.Context) (begin, end journal.Offset, err error) {
	row := j.DB.QueryRowContext(
		ctx,
		`SELECT
			COALESCE((SELECT record_offset FROM rewind.journal_begin WHERE path = $1), 0),
			COALESCE((SELECT MAX(record_offset) + 1 FROM rewind.journal WHERE path = $1), 0)`,
		j.Path,
	)

	if err := row.Scan(&begin, &end); err != nil {
		return 0, 0, err
	}

	if end < begin {
		end = begin
	}

	return begin, end, nil
}

func (j *journ) Get(ctx context.Context, off journal.Offset) ([]byte, bool, error) {
	row := j.DB.QueryRowContext(
		ctx,
		`SELECT
			record
		FROM rewind.journal
		WHERE path = $1
		AND record_offset = $2`,
		j.Path,
		off,
	)

	var rec []byte
	err := row.Scan(&rec)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	return rec, true, nil
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
		records, err := j.batch(ctx, next)
		if err != nil {
			return err
		}

		for _, r := range records {
			if r.Offset != next {
				return fmt.Errorf("journal is corrupt: expected record at offset %d, found offset %d", next, r.Offset)
			}
			next++

			ok, err := fn(ctx, r.Offset, r.Data)
			if !ok || err != nil {
				return err
			}
		}

		if len(records) < rangeBatchSize {
			return nil
		}
	}
}

func (j *journ) RangeAll(ctx context.Context, fn journal.RangeFunc) error {
	begin, _, err := j.Bounds(ctx)
	if err != nil {
		return err
	}

	return j.Range(ctx, begin, fn)
}

type record struct {
	Offset journal.Offset
	Data   []byte
}

// batch returns up to rangeBatchSize records, starting at begin.
//
// The rows are read in full before ranging so that no connection is held
// while the range function is running.
func (j *journ) batch(ctx context.Context, begin journal.Offset) ([]record, error) {
	rows, err := j.DB.QueryContext(
		ctx,
		`SELECT
			record_offset,
			record
		FROM rewind.journal
		WHERE path = $1
		AND record_offset >= $2
		ORDER BY record_offset
		LIMIT $3`,
		j.Path,
		begin,
		rangeBatchSize,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []record
	for rows.Next() {
		var r record
		if err := rows.Scan(&r.Offset, &r.Data); err != nil {
			return nil, err
		}
		records = append(records, r)
	}

	return records, rows.Err()
}

func (j *journ) Append(ctx context.Context, end journal.Offset, rec []byte) error {
	res, err := j.DB.ExecContext(
		ctx,
		`INSERT INTO rewind.journal (
			path,
			record_offset,
			record
		) VALUES (
			$1, $2, $3
		) ON CONFLICT (path, record_offset) DO NOTHING`,
		j.Path,
		end,
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
	// The new beginning is recorded first so that the journal never appears
	// to have a gap, even if the delete fails.
	if _, err := j.DB.ExecContext(
		ctx,
		`INSERT INTO rewind.journal_begin AS b (
			path,
			record_offset
		) VALUES (
			$1, $2
		) ON CONFLICT (path) DO UPDATE SET
			record_offset = GREATEST(b.record_offset, excluded.record_offset)`,
		j.Path,
		end,
	); err != nil {
		return err
	}

	_, err := j.DB.ExecContext(
		ctx,
		`DELETE FROM rewind.journal
		WHERE path = $1
		AND record_offset < $2`,
		j.Path,
		end,
	)

	return err
}

func (j *journ) Close() error {
	return nil
}
