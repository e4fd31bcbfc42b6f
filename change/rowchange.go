package change

import (
	"errors"
	"fmt"
)

// Op is the kind of operation performed by a [RowChange].
type Op uint8

const (
	// Insert is an operation that adds a new row.
	Insert Op = iota + 1

	// Update is an operation that modifies an existing row.
	Update

	// Delete is an operation that removes an existing row.
	Delete
)

func (o Op) String() string {
	switch o {
	case Insert:
		return "insert"
	case Update:
		return "update"
	case Delete:
		return "delete"
	default:
		return fmt.Sprintf("Op(%d)", o)
	}
}

// RowChange is a change to a single row of a single table.
type RowChange struct {
	// Table is the table containing the row.
	Table TableID

	// Op is the operation performed on the row.
	Op Op

	// Key contains the primary key columns of the row that the change
	// addresses. For an insert, this is the inserted row; otherwise it is the
	// row as it was before the change.
	Key Image

	// Before is the image of the row before the change. It is nil for inserts.
	//
	// For updates it contains only the changed columns and the primary key.
	Before Image

	// After is the image of the row after the change. It is nil for deletes.
	//
	// For updates it contains only the changed columns and the primary key.
	After Image
}

// Invert returns the change that undoes c.
//
// c.Invert().Invert() is always equal to c.
func (c RowChange) Invert() RowChange {
	switch c.Op {
	case Insert:
		return RowChange{
			Table:  c.Table,
			Op:     Delete,
			Key:    c.Key,
			Before: c.After,
		}
	case Delete:
		return RowChange{
			Table: c.Table,
			Op:    Insert,
			Key:   c.Key,
			After: c.Before,
		}
	case Update:
		return RowChange{
			Table:  c.Table,
			Op:     Update,
			Key:    rekey(c.Key, c.After),
			Before: c.After,
			After:  c.Before,
		}
	default:
		panic(fmt.Sprintf("cannot invert %s", c.Op))
	}
}

// Validate returns an error if c does not have the images required by its
// operation.
//
// Both images of an update must contain every key column, and the before image
// must agree with the key. These are the updates for which Invert is its own
// inverse.
func (c RowChange) Validate() error {
	if len(c.Key) == 0 {
		return errors.New("row change has no key")
	}

	switch c.Op {
	case Insert:
		if c.Before != nil || c.After == nil {
			return errors.New("insert must have an after image and no before image")
		}
	case Delete:
		if c.After != nil || c.Before == nil {
			return errors.New("delete must have a before image and no after image")
		}
	case Update:
		if len(c.Before) == 0 || len(c.After) == 0 {
			return errors.New("update must have non-empty before and after images")
		}

		for k, v := range c.Key {
			b, ok := c.Before[k]
			if !ok {
				return fmt.Errorf("update before image is missing key column %q", k)
			}
			if !b.Equal(v) {
				return fmt.Errorf("update before image disagrees with the key on column %q", k)
			}
			if _, ok := c.After[k]; !ok {
				return fmt.Errorf("update after image is missing key column %q", k)
			}
		}
	default:
		return fmt.Errorf("unrecognized operation (%d)", c.Op)
	}

	return nil
}

func (c RowChange) String() string {
	return fmt.Sprintf("%s %s %s", c.Op, c.Table, c.Key)
}

// NewUpdate returns an update of the row with the given key, reducing the full
// row images before and after to the columns that differ plus the primary key.
//
// ok is false if before and after are identical.
func NewUpdate(s *Schema, before, after Image) (c RowChange, ok bool) {
	key, _ := s.KeyOf(before)

	c = RowChange{
		Table:  s.Table,
		Op:     Update,
		Key:    key,
		Before: Image{},
		After:  Image{},
	}

	for name, b := range before {
		a, present := after[name]
		if present && a.Equal(b) && !s.IsKey(name) {
			continue
		}

		c.Before[name] = b
		if present {
			c.After[name] = a
		}

		if !s.IsKey(name) || !a.Equal(b) {
			ok = true
		}
	}

	for name, a := range after {
		if _, present := before[name]; !present {
			c.After[name] = a
			ok = true
		}
	}

	return c, ok
}

// rekey returns the key obtained by replacing the columns of key with the
// corresponding columns of img.
func rekey(key, img Image) Image {
	changed := false
	for k, v := range key {
		if w, ok := img[k]; ok && !w.Equal(v) {
			changed = true
			break
		}
	}

	if !changed {
		return key
	}

	r := make(Image, len(key))
	for k, v := range key {
		if w, ok := img[k]; ok {
			v = w
		}
		r[k] = v
	}

	return r
}
