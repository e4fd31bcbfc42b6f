package binlog

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/dogmatiq/rewind/change"
)

var (
	headerPattern   = regexp.MustCompile(`^#([0-9]{6})\s+([0-9]{1,2}:[0-9]{2}:[0-9]{2})\s+server id\s+[0-9]+\s+end_log_pos\s+([0-9]+)`)
	tableMapPattern = regexp.MustCompile("Table_map: (`(?:[^`]|``)*`(?:\\.`(?:[^`]|``)*`)?) mapped to number ([0-9]+)")
	rowsPattern     = regexp.MustCompile(`(?:Write|Update|Delete)_rows(?:_v1)?: table id ([0-9]+)`)
	xidPattern      = regexp.MustCompile(`\bXid = [0-9]+`)
	gtidPattern     = regexp.MustCompile(`^SET @@SESSION\.GTID_NEXT\s*=\s*'([^']*)'`)
	commentPattern  = regexp.MustCompile(`/\*.*?\*/`)
	columnPattern   = regexp.MustCompile(`^(?:@([0-9]+)|([^=\s]+))=(.*)$`)
)

// Scanner reads log text and produces a sequence of [Event] values.
type Scanner struct {
	r       *bufio.Reader
	catalog change.Catalog
	loc     *time.Location

	line   int
	err    error
	queue  []Event
	header header

	index uint64
	gtid  string
	open  bool

	tables map[uint64]TableMap
	names  map[change.TableID]uint64
	row    *rowState
}

// header is the parsed content of the most recent event header line.
type header struct {
	At     time.Time
	EndPos uint64
}

// rowState is a row operation that is being accumulated from "###" lines.
type rowState struct {
	Line    int
	Op      change.Op
	Table   TableMap
	Before  change.Image
	After   change.Image
	Section *change.Image
}

// NewScanner returns a scanner that reads log text from r.
//
// The catalog supplies the column names and types of the tables of interest.
// Event header timestamps are interpreted in loc, or UTC if loc is nil.
func NewScanner(r io.Reader, catalog change.Catalog, loc *time.Location) *Scanner {
	if loc == nil {
		loc = time.UTC
	}

	return &Scanner{
		r:       bufio.NewReaderSize(r, 64*1024),
		catalog: catalog,
		loc:     loc,
		tables:  map[uint64]TableMap{},
		names:   map[change.TableID]uint64{},
	}
}

// Line returns the number of lines read so far.
func (s *Scanner) Line() int {
	return s.line
}

// Next returns the next event in the log. It returns [io.EOF] at the end of the
// log.
func (s *Scanner) Next() (Event, error) {
	for len(s.queue) == 0 {
		if s.err != nil {
			return nil, s.err
		}

		line, err := s.readLine()
		if err == io.EOF {
			s.err = io.EOF
			if err := s.flushRow(); err != nil {
				s.err = err
			}
			continue
		} else if err != nil {
			s.err = err
			return nil, err
		}

		if err := s.scanLine(line); err != nil {
			s.err = err
			return nil, err
		}
	}

	ev := s.queue[0]
	s.queue = s.queue[1:]

	return ev, nil
}

func (s *Scanner) readLine() (string, error) {
	line, err := s.r.ReadString('\n')
	if err == io.EOF && line != "" {
		err = nil
	}
	if err != nil {
		return "", err
	}

	s.line++

	return strings.TrimRight(line, "\r\n"), nil
}

func (s *Scanner) scanLine(line string) error {
	if strings.HasPrefix(line, "###") {
		return s.scanRowLine(strings.TrimSpace(line[3:]))
	}

	if err := s.flushRow(); err != nil {
		return err
	}

	if strings.HasPrefix(line, "#") {
		return s.scanHeader(line)
	}

	return s.scanStatement(line)
}

func (s *Scanner) scanHeader(line string) error {
	m := headerPattern.FindStringSubmatch(line)
	if m == nil {
		// "# at N", "# End of log file" and similar comments.
		return nil
	}

	at, err := ParseTimestamp(m[1]+" "+m[2], s.loc)
	if err != nil {
		return s.malformed("%s", err)
	}

	pos, err := strconv.ParseUint(m[3], 10, 64)
	if err != nil {
		return s.malformed("invalid end_log_pos: %s", err)
	}

	s.header = header{at, pos}
	desc := line[len(m[0]):]

	if m := tableMapPattern.FindStringSubmatch(desc); m != nil {
		return s.mapTable(m[1], m[2])
	}

	if m := rowsPattern.FindStringSubmatch(desc); m != nil {
		n, _ := strconv.ParseUint(m[1], 10, 64)
		if _, ok := s.tables[n]; !ok {
			return s.malformed("rows event refers to unmapped table number %d", n)
		}
		return nil
	}

	if xidPattern.MatchString(desc) {
		s.end(false)
	}

	return nil
}

func (s *Scanner) mapTable(name, number string) error {
	n, err := strconv.ParseUint(number, 10, 64)
	if err != nil {
		return s.malformed("invalid table number: %s", err)
	}

	id, err := parseTableName(name)
	if err != nil {
		return s.malformed("%s", err)
	}

	m := TableMap{
		TableNumber: n,
		Table:       id,
	}

	if schema, canonical, ok := s.catalog.Lookup(id); ok {
		m.Table = canonical
		m.Columns = schema.Columns
	}

	if prev, ok := s.tables[n]; ok {
		delete(s.names, prev.Table)
	}

	s.tables[n] = m
	s.names[m.Table] = n
	s.queue = append(s.queue, m)

	return nil
}

func (s *Scanner) scanStatement(line string) error {
	if m := gtidPattern.FindStringSubmatch(line); m != nil {
		s.gtid = m[1]
		if strings.EqualFold(s.gtid, "AUTOMATIC") {
			s.gtid = ""
		}
		return nil
	}

	stmt := commentPattern.ReplaceAllString(line, "")
	stmt = strings.TrimSpace(stmt)
	stmt = strings.TrimSpace(strings.TrimSuffix(stmt, ";"))

	switch strings.ToUpper(stmt) {
	case "BEGIN":
		if s.open {
			return s.malformed("transaction started while another transaction is open")
		}

		s.index++
		s.open = true
		s.queue = append(s.queue, TransactionStart{
			Position: change.Position{
				Index:  s.index,
				GTID:   s.gtid,
				LogPos: s.header.EndPos,
			},
			Timestamp: s.header.At,
		})
		s.gtid = ""

	case "COMMIT":
		s.end(false)

	case "ROLLBACK":
		s.end(true)
	}

	return nil
}

// end closes the open transaction, if any. mysqlbinlog writes a ROLLBACK at
// the start of its output, so a marker outside a transaction is ignored.
func (s *Scanner) end(rollback bool) {
	if !s.open {
		return
	}

	s.open = false
	s.queue = append(s.queue, TransactionEnd{
		Position: change.Position{
			Index:  s.index,
			LogPos: s.header.EndPos,
		},
		Timestamp: s.header.At,
		Rollback:  rollback,
	})
}

func (s *Scanner) scanRowLine(text string) error {
	switch {
	case strings.HasPrefix(text, "INSERT INTO "):
		return s.startRow(change.Insert, text[len("INSERT INTO "):])
	case strings.HasPrefix(text, "UPDATE "):
		return s.startRow(change.Update, text[len("UPDATE "):])
	case strings.HasPrefix(text, "DELETE FROM "):
		return s.startRow(change.Delete, text[len("DELETE FROM "):])
	}

	if s.row == nil {
		return s.malformed("row data outside of a row operation")
	}

	switch text {
	case "WHERE":
		s.row.Section = &s.row.Before
		return nil
	case "SET":
		s.row.Section = &s.row.After
		return nil
	}

	if s.row.Section == nil {
		return s.malformed("column value before WHERE or SET")
	}

	m := columnPattern.FindStringSubmatch(text)
	if m == nil {
		return s.malformed("unrecognized row data: %q", text)
	}

	name := m[2]
	typ := change.TypeUnknown

	if m[1] != "" {
		n, _ := strconv.Atoi(m[1])
		name = "@" + m[1]

		if cols := s.row.Table.Columns; cols != nil {
			if n < 1 || n > len(cols) {
				return s.malformed("column @%d is out of range for table %s", n, s.row.Table.Table)
			}
			name = cols[n-1].Name
			typ = cols[n-1].Type
		}
	} else {
		for _, c := range s.row.Table.Columns {
			if c.Name == name {
				typ = c.Type
				break
			}
		}
	}

	lit, unsigned, err := splitValue(m[3])
	if err != nil {
		return s.malformed("column %s: %s", name, err)
	}

	if typ == change.TypeUnsigned && unsigned != "" {
		lit = unsigned
	}

	v, err := decodeValue(lit, typ)
	if err != nil {
		return s.malformed("column %s: %s", name, err)
	}

	if *s.row.Section == nil {
		*s.row.Section = change.Image{}
	}
	(*s.row.Section)[name] = v

	return nil
}

func (s *Scanner) startRow(op change.Op, table string) error {
	if err := s.flushRow(); err != nil {
		return err
	}

	if !s.open {
		return s.malformed("%s outside of a transaction", op)
	}

	id, err := parseTableName(table)
	if err != nil {
		return s.malformed("%s", err)
	}

	if _, canonical, ok := s.catalog.Lookup(id); ok {
		id = canonical
	}

	n, ok := s.names[id]
	if !ok {
		return s.malformed("%s refers to table %s, which has not been mapped", op, id)
	}

	s.row = &rowState{
		Line:  s.line,
		Op:    op,
		Table: s.tables[n],
	}

	switch op {
	case change.Insert:
		s.row.Section = &s.row.After
	case change.Delete:
		s.row.Section = &s.row.Before
	}

	return nil
}

// flushRow emits the row operation that is being accumulated, if any.
func (s *Scanner) flushRow() error {
	r := s.row
	if r == nil {
		return nil
	}
	s.row = nil

	ev := RowOp{
		Op:     r.Op,
		Table:  r.Table.Table,
		Before: r.Before,
		After:  r.After,
	}

	img := r.Before
	switch r.Op {
	case change.Insert:
		img = r.After
		if img == nil || r.Before != nil {
			return s.malformedAt(r.Line, "insert must have only a SET image")
		}
	case change.Update:
		if img == nil || r.After == nil {
			return s.malformedAt(r.Line, "update must have both WHERE and SET images")
		}
	case change.Delete:
		if img == nil || r.After != nil {
			return s.malformedAt(r.Line, "delete must have only a WHERE image")
		}
	}

	if schema, _, ok := s.catalog.Lookup(r.Table.Table); ok && r.Table.Columns != nil {
		key, ok := schema.KeyOf(img)
		if !ok {
			return s.malformedAt(r.Line, "row image of table %s is missing a primary key column", r.Table.Table)
		}
		ev.Key = key
	}

	s.queue = append(s.queue, ev)

	return nil
}

func (s *Scanner) malformed(format string, args ...any) error {
	return s.malformedAt(s.line, format, args...)
}

func (s *Scanner) malformedAt(line int, format string, args ...any) error {
	return &MalformedLogError{
		Line:   line,
		Reason: fmt.Sprintf(format, args...),
	}
}

// parseTableName parses a table name of the form `db`.`table` or `table`.
func parseTableName(s string) (change.TableID, error) {
	s = strings.TrimSpace(s)

	var parts []string
	for s != "" {
		if s[0] != '`' {
			return change.TableID{}, fmt.Errorf("table name %q is not quoted", s)
		}

		var w strings.Builder
		i := 1
		for {
			if i >= len(s) {
				return change.TableID{}, fmt.Errorf("table name %q is not terminated", s)
			}
			if s[i] == '`' {
				if i+1 < len(s) && s[i+1] == '`' {
					w.WriteByte('`')
					i += 2
					continue
				}
				break
			}
			w.WriteByte(s[i])
			i++
		}

		parts = append(parts, w.String())
		s = s[i+1:]

		if s == "" {
			break
		}
		if s[0] != '.' {
			return change.TableID{}, fmt.Errorf("unexpected %q after table name", s)
		}
		s = s[1:]
	}

	switch len(parts) {
	case 1:
		return change.TableID{Name: parts[0]}, nil
	case 2:
		return change.TableID{Database: parts[0], Name: parts[1]}, nil
	default:
		return change.TableID{}, fmt.Errorf("invalid table name")
	}
}
