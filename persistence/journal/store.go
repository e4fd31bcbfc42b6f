package journal

import (
	"context"
)

// Store is a collection of journals.
type Store interface {
	// Open returns the journal at the given path.
	//
	// The path uniquely identifies the journal. It must not be empty, and
	// none of its elements may be empty.
	Open(ctx context.Context, path ...string) (Journal, error)
}
