package change

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"golang.org/x/exp/slices"
	"google.golang.org/protobuf/encoding/protowire"
)

// ColumnType is the declared type of a column.
type ColumnType uint8

const (
	// TypeUnknown is the type of a column whose declared type is not known.
	// Values are decoded according to their literal form.
	TypeUnknown ColumnType = iota

	// TypeInteger is the type of a signed integer column.
	TypeInteger

	// TypeUnsigned is the type of an unsigned integer column.
	TypeUnsigned

	// TypeFloat is the type of a floating-point column.
	TypeFloat

	// TypeDecimal is the type of a fixed-point column.
	TypeDecimal

	// TypeText is the type of a character or binary string column.
	TypeText

	// TypeTemporal is the type of a date, time, datetime or timestamp column.
	TypeTemporal
)

func (t ColumnType) String() string {
	switch t {
	case TypeInteger:
		return "INTEGER"
	case TypeUnsigned:
		return "INTEGER UNSIGNED"
	case TypeFloat:
		return "DOUBLE"
	case TypeDecimal:
		return "DECIMAL"
	case TypeText:
		return "TEXT"
	case TypeTemporal:
		return "DATETIME"
	default:
		return ""
	}
}

// ParseColumnType returns the column type described by an SQL type
// declaration, such as "DECIMAL(10,2)" or "int unsigned".
func ParseColumnType(decl string) ColumnType {
	decl = strings.ToUpper(strings.TrimSpace(decl))
	name, _, _ := strings.Cut(decl, "(")
	name = strings.TrimSpace(name)
	if i := strings.IndexByte(name, ' '); i != -1 {
		name = name[:i]
	}

	switch name {
	case "INT", "INTEGER", "TINYINT", "SMALLINT", "MEDIUMINT", "BIGINT",
		"BOOL", "BOOLEAN", "BIT", "YEAR", "SERIAL", "BIGSERIAL":
		if strings.Contains(decl, "UNSIGNED") {
			return TypeUnsigned
		}
		return TypeInteger
	case "FLOAT", "DOUBLE", "REAL":
		return TypeFloat
	case "DECIMAL", "NUMERIC", "DEC", "FIXED":
		return TypeDecimal
	case "CHAR", "VARCHAR", "NCHAR", "NVARCHAR", "TEXT", "TINYTEXT",
		"MEDIUMTEXT", "LONGTEXT", "ENUM", "SET", "JSON", "BLOB", "TINYBLOB",
		"MEDIUMBLOB", "LONGBLOB", "BINARY", "VARBINARY", "CLOB", "STRING":
		return TypeText
	case "DATE", "DATETIME", "TIMESTAMP", "TIME":
		return TypeTemporal
	default:
		return TypeUnknown
	}
}

// TableID identifies a table.
//
// An empty Database matches a table of the same name in any database.
type TableID struct {
	Database string
	Name     string
}

// ParseTableID parses a table identifier of the form "db.table" or "table".
func ParseTableID(s string) TableID {
	if db, name, ok := strings.Cut(s, "."); ok {
		return TableID{db, name}
	}
	return TableID{Name: s}
}

func (id TableID) String() string {
	if id.Database == "" {
		return id.Name
	}
	return id.Database + "." + id.Name
}

// Column describes a single column of a table.
type Column struct {
	Name string
	Type ColumnType
}

// Row is the complete set of values of a table row, in column order.
type Row []Value

// Schema describes the columns and primary key of a table.
type Schema struct {
	Table      TableID
	Columns    []Column
	PrimaryKey []string
}

// Validate returns an error if the schema is not well-formed.
func (s *Schema) Validate() error {
	if s.Table.Name == "" {
		return errors.New("schema has no table name")
	}

	if len(s.PrimaryKey) == 0 {
		return fmt.Errorf("table %s has no primary key", s.Table)
	}

	seen := map[string]struct{}{}
	for _, c := range s.Columns {
		if _, ok := seen[c.Name]; ok {
			return fmt.Errorf("table %s has duplicate column %q", s.Table, c.Name)
		}
		seen[c.Name] = struct{}{}
	}

	for _, k := range s.PrimaryKey {
		if _, ok := seen[k]; !ok {
			return fmt.Errorf("table %s has unknown primary key column %q", s.Table, k)
		}
	}

	return nil
}

// Index returns the position of the named column.
func (s *Schema) Index(name string) (int, bool) {
	i := slices.IndexFunc(s.Columns, func(c Column) bool {
		return c.Name == name
	})
	return i, i != -1
}

// IsKey returns true if the named column is part of the primary key.
func (s *Schema) IsKey(name string) bool {
	return slices.Contains(s.PrimaryKey, name)
}

// ImageOf returns the image containing every column of row.
func (s *Schema) ImageOf(row Row) Image {
	img := make(Image, len(s.Columns))
	for i, c := range s.Columns {
		img[c.Name] = row[i]
	}
	return img
}

// RowOf returns the row described by img. Columns that are absent from img are
// NULL.
func (s *Schema) RowOf(img Image) Row {
	row := make(Row, len(s.Columns))
	for i, c := range s.Columns {
		row[i] = img[c.Name]
	}
	return row
}

// KeyOf returns the primary key columns of img. ok is false if any key column
// is absent.
func (s *Schema) KeyOf(img Image) (key Image, ok bool) {
	key = make(Image, len(s.PrimaryKey))
	for _, k := range s.PrimaryKey {
		v, ok := img[k]
		if !ok {
			return nil, false
		}
		key[k] = v
	}
	return key, true
}

// KeyOfRow returns the primary key columns of row.
func (s *Schema) KeyOfRow(row Row) Image {
	key := make(Image, len(s.PrimaryKey))
	for _, k := range s.PrimaryKey {
		i, _ := s.Index(k)
		key[k] = row[i]
	}
	return key
}

// EncodeKey returns a binary encoding of the primary key values in key,
// suitable for use as a map key.
//
// Two keys are equal if and only if their encodings are equal.
func (s *Schema) EncodeKey(key Image) (string, error) {
	var buf []byte

	for _, k := range s.PrimaryKey {
		v, ok := key[k]
		if !ok {
			return "", fmt.Errorf("key of table %s is missing column %q", s.Table, k)
		}
		buf = AppendValue(buf, v)
	}

	return string(buf), nil
}

// AppendValue appends a binary encoding of v to buf.
func AppendValue(buf []byte, v Value) []byte {
	buf = protowire.AppendVarint(buf, uint64(v.kind))

	switch v.kind {
	case KindInt:
		buf = protowire.AppendVarint(buf, protowire.EncodeZigZag(v.i))
	case KindFloat:
		buf = protowire.AppendFixed64(buf, math.Float64bits(v.f))
	case KindDecimal, KindText:
		buf = protowire.AppendString(buf, v.s)
	}

	return buf
}

// ConsumeValue parses a value encoded by [AppendValue]. It returns the number
// of bytes consumed.
func ConsumeValue(buf []byte) (Value, int, error) {
	k, n := protowire.ConsumeVarint(buf)
	if n < 0 {
		return Value{}, 0, protowire.ParseError(n)
	}

	v := Value{kind: Kind(k)}
	total := n
	buf = buf[n:]

	switch v.kind {
	case KindNull:
		return v, total, nil
	case KindInt:
		x, n := protowire.ConsumeVarint(buf)
		if n < 0 {
			return Value{}, 0, protowire.ParseError(n)
		}
		v.i = protowire.DecodeZigZag(x)
		total += n
	case KindFloat:
		x, n := protowire.ConsumeFixed64(buf)
		if n < 0 {
			return Value{}, 0, protowire.ParseError(n)
		}
		v.f = math.Float64frombits(x)
		total += n
	case KindDecimal, KindText:
		x, n := protowire.ConsumeString(buf)
		if n < 0 {
			return Value{}, 0, protowire.ParseError(n)
		}
		v.s = x
		total += n
	default:
		return Value{}, 0, fmt.Errorf("unrecognized value kind (%d)", k)
	}

	return v, total, nil
}

// Catalog is a collection of table schemas.
type Catalog map[TableID]*Schema

// Lookup returns the schema for the given table, along with the canonical
// identifier of the table within the catalog.
//
// An exact match is preferred. Otherwise, a catalog entry with no database
// matches a table of the same name in any database, and a lookup with no
// database matches a single catalog entry of the same name.
func (c Catalog) Lookup(id TableID) (*Schema, TableID, bool) {
	if s, ok := c[id]; ok {
		return s, id, true
	}

	wildcard := TableID{Name: id.Name}
	if s, ok := c[wildcard]; ok {
		return s, wildcard, true
	}

	if id.Database != "" {
		return nil, TableID{}, false
	}

	var (
		match   *Schema
		matchID TableID
	)

	for candidate, s := range c {
		if candidate.Name == id.Name {
			if match != nil {
				return nil, TableID{}, false
			}
			match, matchID = s, candidate
		}
	}

	return match, matchID, match != nil
}
