package binlog

import (
	"fmt"
	"strings"
	"time"
)

// TimestampLayout is the layout of the timestamps in the log's event headers,
// in the format understood by [time.Parse].
const TimestampLayout = "060102 15:04:05"

// ParseTimestamp parses a timestamp in the log's "YYMMDD HH:MM:SS" format,
// interpreting it in the given location.
//
// For convenience it also accepts [time.RFC3339] timestamps, which carry their
// own offset.
func ParseTimestamp(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)

	if loc == nil {
		loc = time.UTC
	}

	if t, err := time.ParseInLocation(TimestampLayout, s, loc); err == nil {
		return t, nil
	}

	// The hour is not zero-padded in event headers.
	if date, clock, ok := strings.Cut(s, " "); ok && len(clock) == 7 {
		if t, err := time.ParseInLocation(TimestampLayout, date+" 0"+clock, loc); err == nil {
			return t, nil
		}
	}

	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}

	return time.Time{}, fmt.Errorf("%q is not a valid timestamp, expected YYMMDD HH:MM:SS", s)
}

// FormatTimestamp formats t in the log's "YYMMDD HH:MM:SS" format.
func FormatTimestamp(t time.Time) string {
	return t.Format(TimestampLayout)
}
