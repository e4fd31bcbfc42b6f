package binlog

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedLog indicates that the log text could not be interpreted.
	ErrMalformedLog = errors.New("malformed log")

	// ErrUnterminatedTransaction indicates that the log ended while a
	// transaction was still open.
	ErrUnterminatedTransaction = errors.New("unterminated transaction")
)

// MalformedLogError describes a problem with a specific line of the log.
//
// It wraps [ErrMalformedLog].
type MalformedLogError struct {
	Line   int
	Reason string
}

func (e *MalformedLogError) Error() string {
	return fmt.Sprintf("%s: line %d: %s", ErrMalformedLog, e.Line, e.Reason)
}

func (e *MalformedLogError) Unwrap() error {
	return ErrMalformedLog
}
