package change

import (
	"strings"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// Image is a mapping of column name to value, describing some or all of the
// columns of a single row.
//
// A nil image means "no image", such as the "before" image of an insert.
type Image map[string]Value

// Clone returns a copy of img.
func (img Image) Clone() Image {
	if img == nil {
		return nil
	}
	return maps.Clone(img)
}

// Equal returns true if img and x contain the same columns with equal values.
func (img Image) Equal(x Image) bool {
	if len(img) != len(x) {
		return false
	}

	for k, v := range img {
		w, ok := x[k]
		if !ok || !v.Equal(w) {
			return false
		}
	}

	return true
}

// Columns returns the names of the columns in img, in lexical order.
func (img Image) Columns() []string {
	names := make([]string, 0, len(img))
	for n := range img {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

func (img Image) String() string {
	if img == nil {
		return "(none)"
	}

	var w strings.Builder
	w.WriteByte('{')

	for i, k := range img.Columns() {
		if i > 0 {
			w.WriteString(", ")
		}
		w.WriteString(k)
		w.WriteByte('=')
		w.WriteString(img[k].Literal())
	}

	w.WriteByte('}')
	return w.String()
}
