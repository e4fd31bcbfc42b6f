package replay

import (
	"fmt"

	"github.com/dogmatiq/rewind/change"
)

// ReplayError is returned when a transaction cannot be applied during a step.
//
// Err is typically a [*table.ApplyError].
type ReplayError struct {
	Position change.Position
	Backward bool
	Err      error
}

func (e *ReplayError) Error() string {
	verb := "apply"
	if e.Backward {
		verb = "revert"
	}
	return fmt.Sprintf("cannot %s transaction %s: %s", verb, e.Position, e.Err)
}

func (e *ReplayError) Unwrap() error {
	return e.Err
}
