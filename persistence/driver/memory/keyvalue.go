package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dogmatiq/rewind/persistence/kv"
	"golang.org/x/exp/slices"
)

// KeyValueStore is an in-memory [kv.Store].
//
// It holds log seal records and normalization checkpoints when no persistent
// backend is configured, so its content lasts only as long as the process.
type KeyValueStore struct {
	m         sync.Mutex
	keyspaces map[string]*keyspace
}

// Open returns the keyspace with the given name, creating it if necessary.
func (s *KeyValueStore) Open(ctx context.Context, name string) (kv.Keyspace, error) {
	if name == "" {
		return nil, errors.New("keyspace name must not be empty")
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return &keyspaceHandle{
		name:     name,
		keyspace: s.get(name),
	}, nil
}

func (s *KeyValueStore) get(name string) *keyspace {
	s.m.Lock()
	defer s.m.Unlock()

	ks, ok := s.keyspaces[name]
	if !ok {
		ks = &keyspace{}
		if s.keyspaces == nil {
			s.keyspaces = map[string]*keyspace{}
		}
		s.keyspaces[name] = ks
	}

	return ks
}

// keyspace is the content of a named keyspace, shared by every handle that
// has it open.
type keyspace struct {
	m      sync.RWMutex
	values map[string][]byte

	// failSet, if non-nil, is called before each value is written. The write
	// is abandoned if it returns an error.
	failSet func(k, v []byte) error
}

type keyspaceHandle struct {
	name     string
	keyspace *keyspace
}

func (h *keyspaceHandle) open() (*keyspace, error) {
	if h.keyspace == nil {
		return nil, fmt.Errorf("keyspace %q is closed", h.name)
	}
	return h.keyspace, nil
}

func (h *keyspaceHandle) Get(ctx context.Context, k []byte) ([]byte, error) {
	ks, err := h.open()
	if err != nil {
		return nil, err
	}

	ks.m.RLock()
	defer ks.m.RUnlock()

	return slices.Clone(ks.values[string(k)]), ctx.Err()
}

func (h *keyspaceHandle) Has(ctx context.Context, k []byte) (bool, error) {
	ks, err := h.open()
	if err != nil {
		return false, err
	}

	ks.m.RLock()
	defer ks.m.RUnlock()

	_, ok := ks.values[string(k)]
	return ok, ctx.Err()
}

func (h *keyspaceHandle) Set(ctx context.Context, k, v []byte) error {
	ks, err := h.open()
	if err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	ks.m.Lock()
	defer ks.m.Unlock()

	if ks.failSet != nil {
		if err := ks.failSet(k, v); err != nil {
			return err
		}
	}

	if len(v) == 0 {
		delete(ks.values, string(k))
		return nil
	}

	if ks.values == nil {
		ks.values = map[string][]byte{}
	}
	ks.values[string(k)] = slices.Clone(v)

	return nil
}

// Range calls fn for each key in the keyspace, in lexical order.
//
// fn sees the content of the keyspace as it was when Range was called.
func (h *keyspaceHandle) Range(ctx context.Context, fn kv.RangeFunc) error {
	ks, err := h.open()
	if err != nil {
		return err
	}

	ks.m.RLock()
	keys := make([]string, 0, len(ks.values))
	values := make(map[string][]byte, len(ks.values))
	for k, v := range ks.values {
		keys = append(keys, k)
		values[k] = v
	}
	ks.m.RUnlock()

	slices.Sort(keys)

	for _, k := range keys {
		ok, err := fn(ctx, []byte(k), slices.Clone(values[k]))
		if !ok || err != nil {
			return err
		}
	}

	return ctx.Err()
}

func (h *keyspaceHandle) Close() error {
	if _, err := h.open(); err != nil {
		return err
	}

	h.keyspace = nil
	return nil
}
