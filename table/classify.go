package table

import (
	"github.com/dogmatiq/rewind/change"
)

// Classification describes how a row change relates to the current content of
// a table.
type Classification int

const (
	// Pending means the table matches the change's "before" state. The change
	// has not been reflected in the table and can be applied.
	Pending Classification = iota

	// Reflected means the table already matches the change's "after" state.
	Reflected

	// Conflicting means the table matches neither the "before" nor the
	// "after" state of the change.
	Conflicting
)

func (c Classification) String() string {
	switch c {
	case Pending:
		return "pending"
	case Reflected:
		return "reflected"
	default:
		return "conflicting"
	}
}

// Classify reports whether c is pending, already reflected or in conflict with
// the table's current content. The "before" state is checked first.
//
// actual is the current image of the row addressed by c, or nil if the row is
// absent.
func (s *Snapshot) Classify(c change.RowChange) (_ Classification, actual change.Image, _ error) {
	key, err := s.schema.EncodeKey(c.Key)
	if err != nil {
		return Conflicting, nil, err
	}

	current, exists := s.rows[key]
	actual = s.imageOf(current, exists)

	switch c.Op {
	case change.Insert:
		if !exists {
			return Pending, nil, nil
		}
		if s.matches(current, c.After) {
			return Reflected, actual, nil
		}

	case change.Delete:
		if exists && s.matches(current, c.Before) {
			return Pending, actual, nil
		}
		if !exists {
			return Reflected, nil, nil
		}

	case change.Update:
		afterKey, err := s.keyAfter(c)
		if err != nil {
			return Conflicting, actual, err
		}

		if exists && s.matches(current, c.Before) {
			if _, taken := s.rows[afterKey]; afterKey == key || !taken {
				return Pending, actual, nil
			}
		}

		if row, ok := s.rows[afterKey]; ok && s.matches(row, c.After) {
			if afterKey == key || !exists {
				return Reflected, actual, nil
			}
		}
	}

	return Conflicting, actual, nil
}

// keyAfter returns the encoded primary key of the row addressed by c once c
// has been applied.
func (s *Snapshot) keyAfter(c change.RowChange) (string, error) {
	key := make(change.Image, len(c.Key))
	for k, v := range c.Key {
		if w, ok := c.After[k]; ok {
			v = w
		}
		key[k] = v
	}
	return s.schema.EncodeKey(key)
}
