package table_test

import (
	"testing"

	"github.com/dogmatiq/rewind/change"
	"github.com/dogmatiq/rewind/internal/test"
	. "github.com/dogmatiq/rewind/table"
	"pgregory.net/rapid"
)

func TestSnapshot_Apply(t *testing.T) {
	id := func(n int64) change.Image {
		return change.Image{"id": change.Int(n)}
	}

	row := func(n int64, price change.Value) change.Image {
		return change.Image{"id": change.Int(n), "price": price}
	}

	t.Run("when the change is an insert", func(t *testing.T) {
		t.Run("it adds the row", func(t *testing.T) {
			snap := test.BooksTable(t, test.Prices{1: test.Price(10)})

			if err := snap.Apply(
				change.RowChange{
					Table: test.Books,
					Op:    change.Insert,
					Key:   id(2),
					After: row(2, change.Int(20)),
				},
				nil,
			); err != nil {
				t.Fatal(err)
			}

			test.Expect(
				t,
				"unexpected content",
				test.PricesOf(t, ReadOnly(snap)),
				test.Prices{1: test.Price(10), 2: test.Price(20)},
			)
		})

		t.Run("it fails if the key is already present", func(t *testing.T) {
			snap := test.BooksTable(t, test.Prices{1: test.Price(10)})

			err := snap.Apply(
				change.RowChange{
					Table: test.Books,
					Op:    change.Insert,
					Key:   id(1),
					After: row(1, change.Int(99)),
				},
				nil,
			)

			test.ExpectErrorIs(t, err, ErrKeyConflict)
			e := test.ExpectErrorAs[*ApplyError](t, err)
			test.Expect(t, "unexpected actual image", e.Actual, row(1, change.Int(10)))
		})
	})

	t.Run("when the change is a delete", func(t *testing.T) {
		t.Run("it removes the row", func(t *testing.T) {
			snap := test.BooksTable(t, test.Prices{1: test.Price(10)})

			if err := snap.Apply(
				change.RowChange{
					Table:  test.Books,
					Op:     change.Delete,
					Key:    id(1),
					Before: row(1, change.Int(10)),
				},
				nil,
			); err != nil {
				t.Fatal(err)
			}

			if snap.Len() != 0 {
				t.Fatal("expected the table to be empty")
			}
		})

		t.Run("it fails if the row is absent", func(t *testing.T) {
			snap := test.BooksTable(t, test.Prices{})

			err := snap.Apply(
				change.RowChange{
					Table:  test.Books,
					Op:     change.Delete,
					Key:    id(1),
					Before: row(1, change.Int(10)),
				},
				nil,
			)

			test.ExpectErrorIs(t, err, ErrStaleDelete)
		})

		t.Run("it fails if the row does not match the before image", func(t *testing.T) {
			snap := test.BooksTable(t, test.Prices{1: nil})

			err := snap.Apply(
				change.RowChange{
					Table:  test.Books,
					Op:     change.Delete,
					Key:    id(1),
					Before: row(1, change.Int(10)),
				},
				nil,
			)

			test.ExpectErrorIs(t, err, ErrStaleDelete)
			test.Expect(t, "unexpected content", test.PricesOf(t, ReadOnly(snap)), test.Prices{1: nil})
		})
	})

	t.Run("when the change is an update", func(t *testing.T) {
		t.Run("it modifies only the columns in the after image", func(t *testing.T) {
			snap := test.BooksTable(t, test.Prices{1: test.Price(10)})

			if err := snap.Apply(
				change.RowChange{
					Table:  test.Books,
					Op:     change.Update,
					Key:    id(1),
					Before: change.Image{"id": change.Int(1)},
					After:  change.Image{"price": change.Null()},
				},
				nil,
			); err != nil {
				t.Fatal(err)
			}

			test.Expect(t, "unexpected content", test.PricesOf(t, ReadOnly(snap)), test.Prices{1: nil})
		})

		t.Run("it fails if the row does not match the before image", func(t *testing.T) {
			snap := test.BooksTable(t, test.Prices{1: test.Price(15)})

			err := snap.Apply(
				change.RowChange{
					Table:  test.Books,
					Op:     change.Update,
					Key:    id(1),
					Before: row(1, change.Int(10)),
					After:  row(1, change.Null()),
				},
				nil,
			)

			test.ExpectErrorIs(t, err, ErrStaleUpdate)
			e := test.ExpectErrorAs[*ApplyError](t, err)
			test.Expect(t, "unexpected expected image", e.Expected, row(1, change.Int(10)))
			test.Expect(t, "unexpected actual image", e.Actual, row(1, change.Int(15)))
		})

		t.Run("it moves the row when the key changes", func(t *testing.T) {
			snap := test.BooksTable(t, test.Prices{1: test.Price(10)})

			if err := snap.Apply(
				change.RowChange{
					Table:  test.Books,
					Op:     change.Update,
					Key:    id(1),
					Before: row(1, change.Int(10)),
					After:  id(100),
				},
				nil,
			); err != nil {
				t.Fatal(err)
			}

			test.Expect(t, "unexpected content", test.PricesOf(t, ReadOnly(snap)), test.Prices{100: test.Price(10)})
		})

		t.Run("it fails if the new key is already present", func(t *testing.T) {
			snap := test.BooksTable(t, test.Prices{1: test.Price(10), 2: test.Price(20)})

			err := snap.Apply(
				change.RowChange{
					Table:  test.Books,
					Op:     change.Update,
					Key:    id(1),
					Before: id(1),
					After:  id(2),
				},
				nil,
			)

			test.ExpectErrorIs(t, err, ErrKeyConflict)
		})
	})
}

func TestUndo(t *testing.T) {
	t.Run("func Rollback()", func(t *testing.T) {
		t.Run("it reverts every recorded modification", func(t *testing.T) {
			initial := test.Prices{1: test.Price(10), 2: test.Price(20)}
			snap := test.BooksTable(t, initial)
			before := snap.Digest()

			u := &Undo{}

			changes := []change.RowChange{
				{
					Table: test.Books,
					Op:    change.Insert,
					Key:   change.Image{"id": change.Int(3)},
					After: change.Image{"id": change.Int(3), "price": change.Int(30)},
				},
				{
					Table:  test.Books,
					Op:     change.Delete,
					Key:    change.Image{"id": change.Int(2)},
					Before: change.Image{"id": change.Int(2)},
				},
				{
					Table:  test.Books,
					Op:     change.Update,
					Key:    change.Image{"id": change.Int(1)},
					Before: change.Image{"id": change.Int(1)},
					After:  change.Image{"id": change.Int(2), "price": change.Null()},
				},
			}

			for _, c := range changes {
				if err := snap.Apply(c, u); err != nil {
					t.Fatal(err)
				}
			}

			u.Rollback()

			if snap.Digest() != before {
				t.Fatal("rollback did not restore the original content")
			}
			test.Expect(t, "unexpected content", test.PricesOf(t, ReadOnly(snap)), initial)

			if u.Len() != 0 {
				t.Fatal("expected the undo log to be empty")
			}
		})
	})

	t.Run("func RollbackTo()", func(t *testing.T) {
		t.Run("it reverts only the modifications after the mark", func(t *testing.T) {
			snap := test.BooksTable(t, test.Prices{})
			u := &Undo{}

			insert := func(n int64) {
				if err := snap.Apply(
					change.RowChange{
						Table: test.Books,
						Op:    change.Insert,
						Key:   change.Image{"id": change.Int(n)},
						After: change.Image{"id": change.Int(n), "price": change.Int(n)},
					},
					u,
				); err != nil {
					t.Fatal(err)
				}
			}

			insert(1)
			mark := u.Len()
			insert(2)
			insert(3)

			u.RollbackTo(mark)

			test.Expect(t, "unexpected content", test.PricesOf(t, ReadOnly(snap)), test.Prices{1: test.Price(1)})
		})
	})
}

func TestSet_ApplyTransaction(t *testing.T) {
	t.Run("it is atomic", func(t *testing.T) {
		set := test.BooksSet(t, test.Prices{1: test.Price(10)})
		before := set.Digest()

		err := set.ApplyTransaction(
			change.Transaction{
				Position: change.Position{Index: 1},
				Changes: []change.RowChange{
					{
						Table: test.Books,
						Op:    change.Insert,
						Key:   change.Image{"id": change.Int(2)},
						After: change.Image{"id": change.Int(2), "price": change.Int(20)},
					},
					{
						Table: test.Books,
						Op:    change.Insert,
						Key:   change.Image{"id": change.Int(1)},
						After: change.Image{"id": change.Int(1), "price": change.Int(10)},
					},
				},
			},
			nil,
		)

		test.ExpectErrorIs(t, err, ErrKeyConflict)

		if set.Digest() != before {
			t.Fatal("failed transaction modified the tables")
		}
	})

	t.Run("it fails for changes to unknown tables", func(t *testing.T) {
		set := test.BooksSet(t, test.Prices{})

		err := set.ApplyTransaction(
			change.Transaction{
				Changes: []change.RowChange{
					{
						Table: change.TableID{Database: "shop", Name: "authors"},
						Op:    change.Insert,
						Key:   change.Image{"id": change.Int(1)},
						After: change.Image{"id": change.Int(1)},
					},
				},
			},
			nil,
		)

		test.ExpectErrorIs(t, err, ErrUnknownTable)
	})

	t.Run("applying a transaction then its inverse restores the content", func(t *testing.T) {
		rapid.Check(t, func(t *rapid.T) {
			initial := genPrices().Draw(t, "initial")
			set := test.BooksSet(t, initial)
			before := set.Digest()

			tx := genTransaction(set).Draw(t, "transaction")

			if err := set.ApplyTransaction(tx, nil); err != nil {
				t.Fatal(err)
			}

			if err := set.ApplyTransaction(tx.Invert(), nil); err != nil {
				t.Fatal(err)
			}

			if set.Digest() != before {
				t.Fatalf("inverse did not restore the content of %v", initial)
			}
		})
	})
}

func genPrices() *rapid.Generator[test.Prices] {
	return rapid.Custom(func(t *rapid.T) test.Prices {
		p := test.Prices{}
		n := rapid.IntRange(0, 8).Draw(t, "rows")
		for i := 0; i < n; i++ {
			id := rapid.Int64Range(1, 20).Draw(t, "id")
			if rapid.Bool().Draw(t, "null") {
				p[id] = nil
			} else {
				p[id] = test.Price(rapid.Int64Range(0, 1000).Draw(t, "price"))
			}
		}
		return p
	})
}

// genTransaction generates a transaction that can be applied to the books
// table in set, applying each generated change to a scratch copy of the set to
// keep the sequence valid.
func genTransaction(set Set) *rapid.Generator[change.Transaction] {
	return rapid.Custom(func(t *rapid.T) change.Transaction {
		scratch := set.Clone()
		snap := scratch[test.Books]

		var changes []change.RowChange
		n := rapid.IntRange(1, 10).Draw(t, "changes")

		for i := 0; i < n; i++ {
			id := rapid.Int64Range(1, 20).Draw(t, "id")
			key := change.Image{"id": change.Int(id)}
			price := change.Int(rapid.Int64Range(0, 1000).Draw(t, "price"))
			if rapid.Bool().Draw(t, "null") {
				price = change.Null()
			}

			var c change.RowChange

			if row, ok := snap.Get(key); !ok {
				c = change.RowChange{
					Table: test.Books,
					Op:    change.Insert,
					Key:   key,
					After: change.Image{"id": change.Int(id), "price": price},
				}
			} else if rapid.Bool().Draw(t, "delete") {
				c = change.RowChange{
					Table:  test.Books,
					Op:     change.Delete,
					Key:    key,
					Before: snap.Schema().ImageOf(row),
				}
			} else {
				before := snap.Schema().ImageOf(row)
				after := before.Clone()
				after["price"] = price

				var ok bool
				c, ok = change.NewUpdate(snap.Schema(), before, after)
				if !ok {
					continue
				}
			}

			if err := snap.Apply(c, nil); err != nil {
				t.Fatal(err)
			}
			changes = append(changes, c)
		}

		return change.Transaction{
			Position: change.Position{Index: 1},
			Changes:  changes,
		}
	})
}
