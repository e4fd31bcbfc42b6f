package journal

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
)

// RunTests runs tests that confirm a journal implementation behaves correctly.
func RunTests(
	t *testing.T,
	newStore func(t *testing.T) Store,
) {
	t.Run("type Store", func(t *testing.T) {
		t.Run("func Open()", func(t *testing.T) {
			t.Run("does not perform naive path concatenation", func(t *testing.T) {
				t.Parallel()

				ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
				defer cancel()

				store := newStore(t)
				prefix := uuid.NewString()

				paths := [][]string{
					{prefix, "foobar"},
					{prefix, "foo", "bar"},
					{prefix, "foob", "ar"},
					{prefix, "foo/bar"},
					{prefix, "foo/", "bar"},
					{prefix, "foo", "/bar"},
				}

				for i, path := range paths {
					func() {
						j, err := store.Open(ctx, path...)
						if err != nil {
							t.Fatal(err)
						}
						defer j.Close()

						expect := []byte(fmt.Sprintf("<record-%d>", i))
						if err := j.Append(ctx, 0, expect); err != nil {
							t.Fatal(err)
						}

						expectRecord(ctx, t, j, 0, expect)
					}()
				}
			})

			t.Run("allows journals to be opened multiple times", func(t *testing.T) {
				t.Parallel()

				ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
				defer cancel()

				store := newStore(t)
				name := uuid.NewString()

				j1, err := store.Open(ctx, name)
				if err != nil {
					t.Fatal(err)
				}
				defer j1.Close()

				j2, err := store.Open(ctx, name)
				if err != nil {
					t.Fatal(err)
				}
				defer j2.Close()

				expect := []byte("<record>")
				if err := j1.Append(ctx, 0, expect); err != nil {
					t.Fatal(err)
				}

				expectRecord(ctx, t, j2, 0, expect)
			})
		})
	})

	t.Run("type Journal", func(t *testing.T) {
		t.Run("func Bounds()", func(t *testing.T) {
			t.Run("it returns [0, 0) for an empty journal", func(t *testing.T) {
				t.Parallel()

				ctx, j := setup(t, newStore)
				expectBounds(ctx, t, j, 0, 0)
			})

			t.Run("it includes appended records", func(t *testing.T) {
				t.Parallel()

				ctx, j := setup(t, newStore)
				appendRecords(ctx, t, j, 3)
				expectBounds(ctx, t, j, 0, 3)
			})

			t.Run("it excludes truncated records", func(t *testing.T) {
				t.Parallel()

				ctx, j := setup(t, newStore)
				appendRecords(ctx, t, j, 5)

				if err := j.Truncate(ctx, 2); err != nil {
					t.Fatal(err)
				}

				expectBounds(ctx, t, j, 2, 5)
			})
		})

		t.Run("func Get()", func(t *testing.T) {
			t.Run("it returns false if the record does not exist", func(t *testing.T) {
				t.Parallel()

				ctx, j := setup(t, newStore)

				_, ok, err := j.Get(ctx, 1)
				if err != nil {
					t.Fatal(err)
				}
				if ok {
					t.Fatal("returned ok == true for non-existent record")
				}
			})

			t.Run("it returns the record if it exists", func(t *testing.T) {
				t.Parallel()

				ctx, j := setup(t, newStore)

				// Ensure we test with an offset that becomes 2 digits long.
				records := appendRecords(ctx, t, j, 15)

				for off, rec := range records {
					expectRecord(ctx, t, j, Offset(off), rec)
				}
			})

			t.Run("it returns false if the record has been truncated", func(t *testing.T) {
				t.Parallel()

				ctx, j := setup(t, newStore)
				appendRecords(ctx, t, j, 3)

				if err := j.Truncate(ctx, 2); err != nil {
					t.Fatal(err)
				}

				_, ok, err := j.Get(ctx, 1)
				if err != nil {
					t.Fatal(err)
				}
				if ok {
					t.Fatal("returned ok == true for truncated record")
				}
			})
		})

		t.Run("func Range()", func(t *testing.T) {
			t.Run("it calls the function for each record from the given offset", func(t *testing.T) {
				t.Parallel()

				ctx, j := setup(t, newStore)
				records := appendRecords(ctx, t, j, 5)

				var offsets []Offset
				if err := j.Range(
					ctx,
					2,
					func(ctx context.Context, off Offset, rec []byte) (bool, error) {
						if !bytes.Equal(rec, records[off]) {
							t.Fatalf("unexpected record at offset %d: %q", off, rec)
						}
						offsets = append(offsets, off)
						return true, nil
					},
				); err != nil {
					t.Fatal(err)
				}

				expectOffsets(t, offsets, 2, 3, 4)
			})

			t.Run("it stops ranging when the function returns false", func(t *testing.T) {
				t.Parallel()

				ctx, j := setup(t, newStore)
				appendRecords(ctx, t, j, 5)

				var offsets []Offset
				if err := j.Range(
					ctx,
					1,
					func(ctx context.Context, off Offset, rec []byte) (bool, error) {
						offsets = append(offsets, off)
						return off < 2, nil
					},
				); err != nil {
					t.Fatal(err)
				}

				expectOffsets(t, offsets, 1, 2)
			})

			t.Run("it propagates errors returned by the function", func(t *testing.T) {
				t.Parallel()

				ctx, j := setup(t, newStore)
				appendRecords(ctx, t, j, 3)

				want := errors.New("<error>")
				err := j.Range(
					ctx,
					0,
					func(ctx context.Context, off Offset, rec []byte) (bool, error) {
						return true, want
					},
				)
				if !errors.Is(err, want) {
					t.Fatalf("unexpected error: got %v, want %v", err, want)
				}
			})

			t.Run("it returns an error if the first record has been truncated", func(t *testing.T) {
				t.Parallel()

				ctx, j := setup(t, newStore)
				appendRecords(ctx, t, j, 3)

				if err := j.Truncate(ctx, 2); err != nil {
					t.Fatal(err)
				}

				err := j.Range(
					ctx,
					1,
					func(ctx context.Context, off Offset, rec []byte) (bool, error) {
						t.Fatal("unexpected call")
						return false, nil
					},
				)
				if err == nil {
					t.Fatal("expected an error")
				}
			})
		})

		t.Run("func RangeAll()", func(t *testing.T) {
			t.Run("it starts at the oldest record that has not been truncated", func(t *testing.T) {
				t.Parallel()

				ctx, j := setup(t, newStore)
				appendRecords(ctx, t, j, 5)

				if err := j.Truncate(ctx, 3); err != nil {
					t.Fatal(err)
				}

				var offsets []Offset
				if err := j.RangeAll(
					ctx,
					func(ctx context.Context, off Offset, rec []byte) (bool, error) {
						offsets = append(offsets, off)
						return true, nil
					},
				); err != nil {
					t.Fatal(err)
				}

				expectOffsets(t, offsets, 3, 4)
			})

			t.Run("it does not call the function for an empty journal", func(t *testing.T) {
				t.Parallel()

				ctx, j := setup(t, newStore)

				if err := j.RangeAll(
					ctx,
					func(ctx context.Context, off Offset, rec []byte) (bool, error) {
						t.Fatal("unexpected call")
						return false, nil
					},
				); err != nil {
					t.Fatal(err)
				}
			})
		})

		t.Run("func Append()", func(t *testing.T) {
			t.Run("it returns ErrConflict if there is already a record at the offset", func(t *testing.T) {
				t.Parallel()

				ctx, j := setup(t, newStore)

				if err := j.Append(ctx, 0, []byte("<prior>")); err != nil {
					t.Fatal(err)
				}

				expect := []byte("<original>")
				if err := j.Append(ctx, 1, expect); err != nil {
					t.Fatal(err)
				}

				err := j.Append(ctx, 1, []byte("<modified>"))
				if !errors.Is(err, ErrConflict) {
					t.Fatalf("unexpected error: got %v, want %v", err, ErrConflict)
				}

				expectRecord(ctx, t, j, 1, expect)
			})
		})

		t.Run("func Truncate()", func(t *testing.T) {
			t.Run("it allows appending after truncation", func(t *testing.T) {
				t.Parallel()

				ctx, j := setup(t, newStore)
				appendRecords(ctx, t, j, 3)

				if err := j.Truncate(ctx, 3); err != nil {
					t.Fatal(err)
				}

				expectBounds(ctx, t, j, 3, 3)

				expect := []byte("<record>")
				if err := j.Append(ctx, 3, expect); err != nil {
					t.Fatal(err)
				}

				expectRecord(ctx, t, j, 3, expect)
			})
		})
	})
}

func setup(
	t *testing.T,
	newStore func(t *testing.T) Store,
) (context.Context, Journal) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	t.Cleanup(cancel)

	store := newStore(t)

	j, err := store.Open(ctx, uuid.NewString())
	if err != nil {
		t.Fatal(err)
	}

	t.Cleanup(func() {
		if err := j.Close(); err != nil {
			t.Fatal(err)
		}
	})

	return ctx, j
}

func appendRecords(
	ctx context.Context,
	t *testing.T,
	j Journal,
	n int,
) [][]byte {
	t.Helper()

	var records [][]byte

	for i := 0; i < n; i++ {
		rec := []byte(fmt.Sprintf("<record-%d>", i))
		if err := j.Append(ctx, Offset(i), rec); err != nil {
			t.Fatal(err)
		}
		records = append(records, rec)
	}

	return records
}

func expectRecord(
	ctx context.Context,
	t *testing.T,
	j Journal,
	off Offset,
	expect []byte,
) {
	t.Helper()

	actual, ok, err := j.Get(ctx, off)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatalf("expected record at offset %d to exist", off)
	}

	if !bytes.Equal(expect, actual) {
		t.Fatalf(
			"unexpected record at offset %d, want %q, got %q",
			off,
			string(expect),
			string(actual),
		)
	}
}

func expectBounds(
	ctx context.Context,
	t *testing.T,
	j Journal,
	begin, end Offset,
) {
	t.Helper()

	b, e, err := j.Bounds(ctx)
	if err != nil {
		t.Fatal(err)
	}

	if b != begin || e != end {
		t.Fatalf("unexpected bounds, want [%d, %d), got [%d, %d)", begin, end, b, e)
	}
}

func expectOffsets(t *testing.T, actual []Offset, expect ...Offset) {
	t.Helper()

	if len(actual) != len(expect) {
		t.Fatalf("unexpected offsets, want %v, got %v", expect, actual)
	}

	for i := range expect {
		if actual[i] != expect[i] {
			t.Fatalf("unexpected offsets, want %v, got %v", expect, actual)
		}
	}
}
