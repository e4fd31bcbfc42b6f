package normalize

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dogmatiq/rewind/change"
)

var (
	// ErrNoTransactionsInWindow indicates that no transaction was committed
	// within the search window, so the snapshot's position cannot be
	// determined.
	ErrNoTransactionsInWindow = errors.New("no transactions in window")

	// ErrReconciliationConflict indicates that the snapshot is inconsistent
	// with the transactions in the search window.
	ErrReconciliationConflict = errors.New("reconciliation conflict")
)

// Conflict describes a row change that the snapshot reflects neither the
// "before" nor the "after" state of.
type Conflict struct {
	Position change.Position
	Table    change.TableID
	Op       change.Op
	Key      change.Image

	// Expected is the image the change expected to find. It is nil if the
	// change expected the row to be absent.
	Expected change.Image

	// Actual is the current image of the row in the snapshot. It is nil if
	// the row is absent.
	Actual change.Image
}

func (c Conflict) String() string {
	return fmt.Sprintf(
		"%s: %s %s %s: expected %s, actual %s",
		c.Position,
		c.Op,
		c.Table,
		c.Key,
		describe(c.Expected),
		describe(c.Actual),
	)
}

func describe(img change.Image) string {
	if img == nil {
		return "(absent)"
	}
	return img.String()
}

// ReconciliationError is returned when the transactions in the search window
// cannot be reconciled with the snapshot. It wraps
// [ErrReconciliationConflict].
type ReconciliationError struct {
	Estimate  time.Time
	Window    time.Duration
	Conflicts []Conflict
}

func (e *ReconciliationError) Error() string {
	var w strings.Builder

	fmt.Fprintf(
		&w,
		"%s: %d conflicting change(s) within %s of %s",
		ErrReconciliationConflict,
		len(e.Conflicts),
		e.Window,
		e.Estimate.Format(time.RFC3339),
	)

	for _, c := range e.Conflicts {
		w.WriteString("\n  ")
		w.WriteString(c.String())
	}

	return w.String()
}

func (e *ReconciliationError) Unwrap() error {
	return ErrReconciliationConflict
}
