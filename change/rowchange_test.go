package change_test

import (
	"testing"

	. "github.com/dogmatiq/rewind/change"
	"github.com/dogmatiq/rewind/internal/test"
	"pgregory.net/rapid"
)

func TestRowChange(t *testing.T) {
	table := TableID{Database: "shop", Name: "books"}

	t.Run("func Invert()", func(t *testing.T) {
		t.Run("it converts an insert into a delete", func(t *testing.T) {
			c := RowChange{
				Table: table,
				Op:    Insert,
				Key:   Image{"id": Int(6)},
				After: Image{"id": Int(6), "price": Int(60)},
			}

			test.Expect(
				t,
				"unexpected inverse",
				c.Invert(),
				RowChange{
					Table:  table,
					Op:     Delete,
					Key:    Image{"id": Int(6)},
					Before: Image{"id": Int(6), "price": Int(60)},
				},
			)
		})

		t.Run("it converts a delete into an insert", func(t *testing.T) {
			c := RowChange{
				Table:  table,
				Op:     Delete,
				Key:    Image{"id": Int(6)},
				Before: Image{"id": Int(6), "price": Int(60)},
			}

			test.Expect(
				t,
				"unexpected inverse",
				c.Invert(),
				RowChange{
					Table: table,
					Op:    Insert,
					Key:   Image{"id": Int(6)},
					After: Image{"id": Int(6), "price": Int(60)},
				},
			)
		})

		t.Run("it swaps the images of an update", func(t *testing.T) {
			c := RowChange{
				Table:  table,
				Op:     Update,
				Key:    Image{"id": Int(1)},
				Before: Image{"id": Int(1), "price": Int(10)},
				After:  Image{"id": Int(1), "price": Null()},
			}

			test.Expect(
				t,
				"unexpected inverse",
				c.Invert(),
				RowChange{
					Table:  table,
					Op:     Update,
					Key:    Image{"id": Int(1)},
					Before: Image{"id": Int(1), "price": Null()},
					After:  Image{"id": Int(1), "price": Int(10)},
				},
			)
		})

		t.Run("it addresses the new key when inverting a key-changing update", func(t *testing.T) {
			c := RowChange{
				Table:  table,
				Op:     Update,
				Key:    Image{"id": Int(1)},
				Before: Image{"id": Int(1)},
				After:  Image{"id": Int(100)},
			}

			test.Expect(
				t,
				"unexpected key",
				c.Invert().Key,
				Image{"id": Int(100)},
			)
		})

		t.Run("it is its own inverse", func(t *testing.T) {
			rapid.Check(t, func(t *rapid.T) {
				c := genRowChange(table).Draw(t, "change")

				test.Expect(
					t,
					"double inversion produced a different change",
					c.Invert().Invert(),
					c,
				)
			})
		})

		t.Run("it is its own inverse for any change that passes validation", func(t *testing.T) {
			rapid.Check(t, func(t *rapid.T) {
				c := genLooseUpdate(table).Draw(t, "change")
				if c.Validate() != nil {
					t.Skip("change is not valid")
				}

				test.Expect(
					t,
					"double inversion produced a different change",
					c.Invert().Invert(),
					c,
				)
			})
		})
	})

	t.Run("func Validate()", func(t *testing.T) {
		t.Run("it accepts changes produced by inversion", func(t *testing.T) {
			rapid.Check(t, func(t *rapid.T) {
				c := genRowChange(table).Draw(t, "change")

				if err := c.Validate(); err != nil {
					t.Fatal(err)
				}
				if err := c.Invert().Validate(); err != nil {
					t.Fatal(err)
				}
			})
		})

		t.Run("it rejects an update whose before image is missing a key column", func(t *testing.T) {
			c := RowChange{
				Table:  table,
				Op:     Update,
				Key:    Image{"id": Int(1)},
				Before: Image{"price": Int(10)},
				After:  Image{"id": Int(2), "price": Int(20)},
			}

			if err := c.Validate(); err == nil {
				t.Fatal("expected an error")
			}
		})

		t.Run("it rejects an update whose before image disagrees with the key", func(t *testing.T) {
			c := RowChange{
				Table:  table,
				Op:     Update,
				Key:    Image{"id": Int(1)},
				Before: Image{"id": Int(3), "price": Int(10)},
				After:  Image{"id": Int(3), "price": Int(20)},
			}

			if err := c.Validate(); err == nil {
				t.Fatal("expected an error")
			}
		})

		t.Run("it rejects an update whose after image is missing a key column", func(t *testing.T) {
			c := RowChange{
				Table:  table,
				Op:     Update,
				Key:    Image{"id": Int(1)},
				Before: Image{"id": Int(1), "price": Int(10)},
				After:  Image{"price": Int(20)},
			}

			if err := c.Validate(); err == nil {
				t.Fatal("expected an error")
			}
		})

		t.Run("it rejects an insert with a before image", func(t *testing.T) {
			c := RowChange{
				Table:  table,
				Op:     Insert,
				Key:    Image{"id": Int(1)},
				Before: Image{"id": Int(1)},
				After:  Image{"id": Int(1)},
			}

			if err := c.Validate(); err == nil {
				t.Fatal("expected an error")
			}
		})
	})
}

func TestNewUpdate(t *testing.T) {
	schema := &Schema{
		Table: TableID{Name: "books"},
		Columns: []Column{
			{Name: "id", Type: TypeInteger},
			{Name: "title", Type: TypeText},
			{Name: "price", Type: TypeInteger},
		},
		PrimaryKey: []string{"id"},
	}

	t.Run("it keeps only the changed columns and the key", func(t *testing.T) {
		c, ok := NewUpdate(
			schema,
			Image{"id": Int(1), "title": Text("Dune"), "price": Int(10)},
			Image{"id": Int(1), "title": Text("Dune"), "price": Null()},
		)
		if !ok {
			t.Fatal("expected a change")
		}

		test.Expect(
			t,
			"unexpected update",
			c,
			RowChange{
				Table:  schema.Table,
				Op:     Update,
				Key:    Image{"id": Int(1)},
				Before: Image{"id": Int(1), "price": Int(10)},
				After:  Image{"id": Int(1), "price": Null()},
			},
		)
	})

	t.Run("it reports no change when the images are identical", func(t *testing.T) {
		img := Image{"id": Int(1), "title": Text("Dune"), "price": Int(10)}

		if _, ok := NewUpdate(schema, img, img.Clone()); ok {
			t.Fatal("expected no change")
		}
	})
}

func genValue() *rapid.Generator[Value] {
	return rapid.OneOf(
		rapid.Just(Null()),
		rapid.Map(rapid.Int64(), Int),
		rapid.Map(rapid.Float64(), Float),
		rapid.Map(rapid.String(), Text),
		rapid.Map(
			rapid.StringMatching(`-?[0-9]{1,6}\.[0-9]{1,4}`),
			MustDecimal,
		),
	)
}

func genImage(t *rapid.T, label string, key Image) Image {
	img := Image(
		rapid.MapOfN(
			rapid.StringMatching(`[a-z]{1,8}`),
			genValue(),
			1, 4,
		).Draw(t, label),
	)

	for k, v := range key {
		img[k] = v
	}

	return img
}

func genRowChange(table TableID) *rapid.Generator[RowChange] {
	return rapid.Custom(func(t *rapid.T) RowChange {
		key := Image{"id": Int(rapid.Int64().Draw(t, "id"))}

		switch rapid.SampledFrom([]Op{Insert, Update, Delete}).Draw(t, "op") {
		case Insert:
			return RowChange{
				Table: table,
				Op:    Insert,
				Key:   key,
				After: genImage(t, "after", key),
			}
		case Delete:
			return RowChange{
				Table:  table,
				Op:     Delete,
				Key:    key,
				Before: genImage(t, "before", key),
			}
		default:
			newKey := key
			if rapid.Bool().Draw(t, "rekey") {
				newKey = Image{"id": Int(rapid.Int64().Draw(t, "new id"))}
			}

			return RowChange{
				Table:  table,
				Op:     Update,
				Key:    key,
				Before: genImage(t, "before", key),
				After:  genImage(t, "after", newKey),
			}
		}
	})
}

// genLooseUpdate generates updates whose images may omit or disagree with
// the key columns.
func genLooseUpdate(table TableID) *rapid.Generator[RowChange] {
	return rapid.Custom(func(t *rapid.T) RowChange {
		id := rapid.Int64Range(1, 3).Draw(t, "id")
		key := Image{"id": Int(id)}

		before := Image{"price": genValue().Draw(t, "before price")}
		switch rapid.SampledFrom([]string{"key", "key", "other", "absent"}).Draw(t, "before id") {
		case "key":
			before["id"] = Int(id)
		case "other":
			before["id"] = Int(id + 1)
		}

		after := Image{"price": genValue().Draw(t, "after price")}
		if rapid.IntRange(0, 2).Draw(t, "after id") > 0 {
			after["id"] = Int(rapid.Int64Range(1, 3).Draw(t, "new id"))
		}

		return RowChange{
			Table:  table,
			Op:     Update,
			Key:    key,
			Before: before,
			After:  after,
		}
	})
}
