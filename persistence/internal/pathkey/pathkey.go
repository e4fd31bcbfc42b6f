// Package pathkey encodes multi-element journal paths as single string keys.
package pathkey

import (
	"errors"
	"strings"
)

// New returns a string key derived from a path.
//
// Distinct paths always produce distinct keys. Separators and escape
// characters within an element are escaped, so ["foo/", "bar"] and
// ["foo", "/bar"] do not collide.
func New(path []string) (string, error) {
	if len(path) == 0 {
		return "", errors.New("path must not be empty")
	}

	var w strings.Builder

	for i, elem := range path {
		if elem == "" {
			return "", errors.New("path element must not be empty")
		}

		if i > 0 {
			w.WriteByte('/')
		}

		for _, r := range elem {
			switch r {
			case '/', '\\':
				w.WriteByte('\\')
			}
			w.WriteRune(r)
		}
	}

	return w.String(), nil
}
