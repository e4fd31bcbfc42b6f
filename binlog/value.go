package binlog

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/dogmatiq/rewind/change"
)

var (
	intPattern     = regexp.MustCompile(`^[-+]?[0-9]+$`)
	decimalPattern = regexp.MustCompile(`^[-+]?(?:[0-9]+(?:\.[0-9]*)?|\.[0-9]+)$`)
	epochPattern   = regexp.MustCompile(`^([0-9]+)(?:\.([0-9]{1,9}))?$`)
)

// splitValue splits the text following "@N=" into the value literal and the
// optional parenthesized unsigned interpretation that mysqlbinlog prints
// after negative values of unsigned columns. Any trailing comment is
// discarded.
func splitValue(s string) (lit, unsigned string, err error) {
	s = strings.TrimSpace(s)

	if strings.HasPrefix(s, "'") {
		for i := 1; i < len(s); i++ {
			switch s[i] {
			case '\\':
				i++
			case '\'':
				return s[:i+1], "", nil
			}
		}
		return "", "", errors.New("unterminated string literal")
	}

	lit, rest, _ := strings.Cut(s, " ")
	rest = strings.TrimSpace(rest)

	if strings.HasPrefix(rest, "(") {
		if end := strings.IndexByte(rest, ')'); end > 0 {
			unsigned = rest[1:end]
		}
	}

	if lit == "" {
		return "", "", errors.New("missing value")
	}

	return lit, unsigned, nil
}

// decodeValue converts a value literal to a [change.Value] according to the
// declared type of its column.
func decodeValue(lit string, t change.ColumnType) (change.Value, error) {
	if lit == "NULL" {
		return change.Null(), nil
	}

	quoted := strings.HasPrefix(lit, "'")

	switch t {
	case change.TypeInteger, change.TypeUnsigned:
		if quoted || !intPattern.MatchString(lit) {
			return change.Value{}, fmt.Errorf("%s is not a valid integer", lit)
		}
		return decodeInt(lit)

	case change.TypeDecimal:
		if quoted || !decimalPattern.MatchString(lit) {
			return change.Value{}, fmt.Errorf("%s is not a valid decimal", lit)
		}
		return change.Decimal(lit)

	case change.TypeFloat:
		if quoted {
			return change.Value{}, fmt.Errorf("%s is not a valid number", lit)
		}
		f, err := strconv.ParseFloat(lit, 64)
		if err != nil {
			return change.Value{}, fmt.Errorf("%s is not a valid number", lit)
		}
		return change.Float(f), nil

	case change.TypeText:
		if !quoted {
			return change.Value{}, fmt.Errorf("%s is not a quoted string", lit)
		}
		s, err := unquote(lit)
		if err != nil {
			return change.Value{}, err
		}
		return change.Text(s), nil

	case change.TypeTemporal:
		if quoted {
			s, err := unquote(lit)
			if err != nil {
				return change.Value{}, err
			}
			return change.Text(s), nil
		}
		return decodeEpoch(lit)

	default:
		return inferValue(lit)
	}
}

// inferValue converts a literal whose column type is unknown.
func inferValue(lit string) (change.Value, error) {
	switch {
	case strings.HasPrefix(lit, "'"):
		s, err := unquote(lit)
		if err != nil {
			return change.Value{}, err
		}
		return change.Text(s), nil
	case intPattern.MatchString(lit):
		return decodeInt(lit)
	case decimalPattern.MatchString(lit):
		return change.Decimal(lit)
	}

	if f, err := strconv.ParseFloat(lit, 64); err == nil {
		return change.Float(f), nil
	}

	return change.Value{}, fmt.Errorf("%s is not a recognized value", lit)
}

// decodeInt parses an integer literal. Values that do not fit in an int64,
// such as large BIGINT UNSIGNED values, are represented as decimals.
func decodeInt(lit string) (change.Value, error) {
	if n, err := strconv.ParseInt(lit, 10, 64); err == nil {
		return change.Int(n), nil
	}
	return change.Decimal(lit)
}

// decodeEpoch converts the Unix timestamp that mysqlbinlog prints for
// TIMESTAMP columns to the "YYYY-MM-DD HH:MM:SS" form, in UTC.
func decodeEpoch(lit string) (change.Value, error) {
	m := epochPattern.FindStringSubmatch(lit)
	if m == nil {
		return change.Value{}, fmt.Errorf("%s is not a valid timestamp", lit)
	}

	sec, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return change.Value{}, fmt.Errorf("%s is not a valid timestamp", lit)
	}

	s := time.Unix(sec, 0).UTC().Format("2006-01-02 15:04:05")
	if m[2] != "" {
		s += "." + m[2]
	}

	return change.Text(s), nil
}

// unquote removes the quotes from a string literal and replaces its escape
// sequences.
func unquote(lit string) (string, error) {
	if len(lit) < 2 || lit[0] != '\'' || lit[len(lit)-1] != '\'' {
		return "", fmt.Errorf("%s is not a quoted string", lit)
	}

	body := lit[1 : len(lit)-1]
	if !strings.Contains(body, `\`) {
		return body, nil
	}

	var w strings.Builder
	w.Grow(len(body))

	for i := 0; i < len(body); i++ {
		c := body[i]
		if c != '\\' {
			w.WriteByte(c)
			continue
		}

		i++
		if i == len(body) {
			return "", fmt.Errorf("%s ends with an incomplete escape sequence", lit)
		}

		switch body[i] {
		case '\\', '\'', '"':
			w.WriteByte(body[i])
		case 'n':
			w.WriteByte('\n')
		case 'r':
			w.WriteByte('\r')
		case 't':
			w.WriteByte('\t')
		case '0':
			w.WriteByte(0)
		case 'x':
			if i+3 > len(body) {
				return "", fmt.Errorf("%s contains an incomplete \\x escape sequence", lit)
			}
			b, err := strconv.ParseUint(body[i+1:i+3], 16, 8)
			if err != nil {
				return "", fmt.Errorf("%s contains an invalid \\x escape sequence", lit)
			}
			w.WriteByte(byte(b))
			i += 2
		default:
			return "", fmt.Errorf("%s contains an unrecognized escape sequence \\%c", lit, body[i])
		}
	}

	return w.String(), nil
}
