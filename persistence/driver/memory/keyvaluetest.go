package memory

import (
	"errors"
	"sync"
)

// FailKeyspaceSet causes the next write to the named keyspace of a key/value
// pair that satisfies pred to fail without being stored.
//
// Only one write fails, after which the keyspace behaves normally.
func FailKeyspaceSet(
	s *KeyValueStore,
	name string,
	pred func(k, v []byte) bool,
) {
	ks := s.get(name)

	var once sync.Once

	ks.m.Lock()
	defer ks.m.Unlock()

	ks.failSet = func(k, v []byte) (err error) {
		if pred(k, v) {
			once.Do(func() {
				err = errors.New("<error>")
			})
		}
		return err
	}
}
