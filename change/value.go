package change

import (
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"
)

// Kind is the kind of a [Value].
type Kind uint8

const (
	// KindNull is the kind of the SQL NULL value.
	KindNull Kind = iota

	// KindInt is the kind of a signed 64-bit integer value.
	KindInt

	// KindFloat is the kind of a 64-bit floating-point value.
	KindFloat

	// KindDecimal is the kind of an exact decimal value.
	KindDecimal

	// KindText is the kind of a string value, including temporal values and
	// binary strings.
	KindText
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindDecimal:
		return "decimal"
	case KindText:
		return "text"
	default:
		return fmt.Sprintf("Kind(%d)", k)
	}
}

// Value is a single column value.
//
// The zero value is NULL.
type Value struct {
	kind Kind
	i    int64
	f    float64
	s    string
}

// Null returns the NULL value.
func Null() Value {
	return Value{}
}

// Int returns an integer value.
func Int(v int64) Value {
	return Value{kind: KindInt, i: v}
}

// Float returns a floating-point value.
func Float(v float64) Value {
	return Value{kind: KindFloat, f: v}
}

// Text returns a string value.
func Text(v string) Value {
	return Value{kind: KindText, s: v}
}

// Decimal returns an exact decimal value parsed from s.
//
// s must be a plain decimal literal, such as "-12.50". The value is stored in
// canonical form, without leading zeros in the integer part or trailing zeros
// in the fractional part, so that "12.50" and "12.5" are equal.
func Decimal(s string) (Value, error) {
	c, ok := canonicalDecimal(s)
	if !ok {
		return Value{}, fmt.Errorf("%q is not a decimal literal", s)
	}
	return Value{kind: KindDecimal, s: c}, nil
}

// MustDecimal returns an exact decimal value parsed from s. It panics if s is
// not a decimal literal.
func MustDecimal(s string) Value {
	v, err := Decimal(s)
	if err != nil {
		panic(err)
	}
	return v
}

// Kind returns the kind of the value.
func (v Value) Kind() Kind {
	return v.kind
}

// IsNull returns true if v is NULL.
func (v Value) IsNull() bool {
	return v.kind == KindNull
}

// AsInt returns the integer payload of v.
func (v Value) AsInt() (int64, bool) {
	return v.i, v.kind == KindInt
}

// AsFloat returns the floating-point payload of v.
func (v Value) AsFloat() (float64, bool) {
	return v.f, v.kind == KindFloat
}

// AsText returns the string payload of v. Decimal values are returned in their
// canonical form.
func (v Value) AsText() (string, bool) {
	return v.s, v.kind == KindText || v.kind == KindDecimal
}

// Equal returns true if v and x have the same kind and payload.
func (v Value) Equal(x Value) bool {
	if v.kind != x.kind {
		return false
	}

	switch v.kind {
	case KindInt:
		return v.i == x.i
	case KindFloat:
		return v.f == x.f || (math.IsNaN(v.f) && math.IsNaN(x.f))
	case KindDecimal, KindText:
		return v.s == x.s
	default:
		return true
	}
}

// Compare returns -1, 0 or +1 depending on whether v sorts before, equal to or
// after x.
//
// Values of different kinds sort by kind, with NULL first. Numeric values of
// the same kind compare numerically.
func (v Value) Compare(x Value) int {
	if v.kind != x.kind {
		if v.kind < x.kind {
			return -1
		}
		return +1
	}

	switch v.kind {
	case KindInt:
		return compareOrdered(v.i, x.i)
	case KindFloat:
		return compareOrdered(v.f, x.f)
	case KindDecimal:
		a, _ := new(big.Rat).SetString(v.s)
		b, _ := new(big.Rat).SetString(x.s)
		return a.Cmp(b)
	case KindText:
		return strings.Compare(v.s, x.s)
	default:
		return 0
	}
}

// String returns a human-readable representation of v. Strings are returned
// verbatim.
func (v Value) String() string {
	switch v.kind {
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindFloat:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case KindDecimal, KindText:
		return v.s
	default:
		return "NULL"
	}
}

// Literal returns v as an SQL literal. Strings are single-quoted.
func (v Value) Literal() string {
	if v.kind == KindText {
		return "'" + strings.ReplaceAll(v.s, "'", "''") + "'"
	}
	return v.String()
}

func compareOrdered[T int64 | float64](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return +1
	default:
		return 0
	}
}

func canonicalDecimal(s string) (string, bool) {
	neg := false
	switch {
	case strings.HasPrefix(s, "-"):
		neg = true
		s = s[1:]
	case strings.HasPrefix(s, "+"):
		s = s[1:]
	}

	whole, frac, _ := strings.Cut(s, ".")
	if whole == "" && frac == "" {
		return "", false
	}
	if !isDigits(whole) || !isDigits(frac) {
		return "", false
	}

	whole = strings.TrimLeft(whole, "0")
	frac = strings.TrimRight(frac, "0")

	if whole == "" {
		whole = "0"
	}

	c := whole
	if frac != "" {
		c += "." + frac
	}

	if neg && c != "0" {
		c = "-" + c
	}

	return c, true
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
