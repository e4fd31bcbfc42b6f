package kv

import "context"

// A RangeFunc is a function used to range over the key/value pairs in a
// [Keyspace].
//
// If err is non-nil, ranging stops and err is propagated up the stack.
// Otherwise, if ok is false, ranging stops without any error being propagated.
type RangeFunc func(ctx context.Context, k, v []byte) (ok bool, err error)

// A Keyspace is an isolated collection of key/value pairs.
//
// Keys and values are opaque binary data. A key with an empty value is
// indistinguishable from a key that is not present.
type Keyspace interface {
	// Get returns the value associated with k, or an empty value if k is not
	// present.
	Get(ctx context.Context, k []byte) (v []byte, err error)

	// Has returns true if k is present in the keyspace.
	Has(ctx context.Context, k []byte) (ok bool, err error)

	// Set associates v with k, replacing any existing value. If v is empty, k
	// is removed from the keyspace.
	Set(ctx context.Context, k, v []byte) error

	// Range invokes fn for each key in the keyspace, in an undefined order.
	Range(ctx context.Context, fn RangeFunc) error

	// Close closes the keyspace.
	Close() error
}
