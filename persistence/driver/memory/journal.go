package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dogmatiq/rewind/persistence/internal/pathkey"
	"github.com/dogmatiq/rewind/persistence/journal"
	"golang.org/x/exp/slices"
)

// JournalStore is an implementation of [journal.Store] that stores journals in
// memory.
type JournalStore struct {
	journals sync.Map // map[string]*journalState
}

// Open returns the journal at the given path.
func (s *JournalStore) Open(ctx context.Context, path ...string) (journal.Journal, error) {
	key, err := pathkey.New(path)
	if err != nil {
		return nil, err
	}

	state, ok := s.journals.Load(key)
	if !ok {
		state, _ = s.journals.LoadOrStore(key, &journalState{})
	}

	return &journalHandle{
		state: state.(*journalState),
	}, ctx.Err()
}

// journalState is the underlying state of a journal, shared by every handle
// that refers to it.
type journalState struct {
	sync.RWMutex

	Begin   journal.Offset
	Records [][]byte

	BeforeAppend func([]byte) error
	AfterAppend  func([]byte) error
}

func (s *journalState) end() journal.Offset {
	return s.Begin + journal.Offset(len(s.Records))
}

// journalHandle is an implementation of [journal.Journal] that accesses
// journal state.
type journalHandle struct {
	state *journalState
}

func (h *journalHandle) Bounds(ctx context.Context) (begin, end journal.Offset, err error) {
	if h.state == nil {
		panic("journal is closed")
	}

	h.state.RLock()
	defer h.state.RUnlock()

	return h.state.Begin, h.state.end(), ctx.Err()
}

func (h *journalHandle) Get(ctx context.Context, off journal.Offset) ([]byte, bool, error) {
	if h.state == nil {
		panic("journal is closed")
	}

	h.state.RLock()
	defer h.state.RUnlock()

	if off < h.state.Begin || off >= h.state.end() {
		return nil, false, ctx.Err()
	}

	return slices.Clone(h.state.Records[off-h.state.Begin]), true, ctx.Err()
}

func (h *journalHandle) Range(
	ctx context.Context,
	begin journal.Offset,
	fn journal.RangeFunc,
) error {
	if h.state == nil {
		panic("journal is closed")
	}

	h.state.RLock()
	if begin < h.state.Begin {
		h.state.RUnlock()
		return fmt.Errorf("cannot range from offset %d, the oldest record is at offset %d", begin, h.state.Begin)
	}
	h.state.RUnlock()

	for off := begin; ; off++ {
		rec, ok, err := h.Get(ctx, off)
		if !ok || err != nil {
			return err
		}

		ok, err = fn(ctx, off, rec)
		if !ok || err != nil {
			return err
		}
	}
}

func (h *journalHandle) RangeAll(ctx context.Context, fn journal.RangeFunc) error {
	begin, _, err := h.Bounds(ctx)
	if err != nil {
		return err
	}

	return h.Range(ctx, begin, fn)
}

func (h *journalHandle) Append(ctx context.Context, end journal.Offset, rec []byte) error {
	if h.state == nil {
		panic("journal is closed")
	}

	h.state.Lock()
	defer h.state.Unlock()

	if h.state.BeforeAppend != nil {
		if err := h.state.BeforeAppend(rec); err != nil {
			return err
		}
	}

	switch next := h.state.end(); {
	case end < next:
		return journal.ErrConflict
	case end == next:
		h.state.Records = append(h.state.Records, slices.Clone(rec))
	default:
		panic("offset out of range, this behavior would be undefined in a real journal implementation")
	}

	if h.state.AfterAppend != nil {
		if err := h.state.AfterAppend(rec); err != nil {
			return err
		}
	}

	return ctx.Err()
}

func (h *journalHandle) Truncate(ctx context.Context, end journal.Offset) error {
	if h.state == nil {
		panic("journal is closed")
	}

	h.state.Lock()
	defer h.state.Unlock()

	if end > h.state.end() {
		panic("offset out of range, this behavior would be undefined in a real journal implementation")
	}

	if end > h.state.Begin {
		h.state.Records = h.state.Records[end-h.state.Begin:]
		h.state.Begin = end
	}

	return ctx.Err()
}

func (h *journalHandle) Close() error {
	if h.state == nil {
		return errors.New("journal is already closed")
	}

	h.state = nil

	return nil
}
