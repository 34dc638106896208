// Package mem implements in-memory stores.
//
// The Store is a flat key/value store safe for concurrent use, typically
// holding the state of the world before a block. The Overlay stages writes on
// top of any readable store without touching it, which is how the sequential
// validation service accumulates the updates of a block.
package mem

import "sync"

// Store is an in-memory key/value store. It is safe for concurrent use.
//
// - implements store.Snapshot
type Store struct {
	sync.RWMutex

	values map[string][]byte
}

// NewStore creates a new empty in-memory store.
func NewStore() *Store {
	return &Store{
		values: make(map[string][]byte),
	}
}

// Get implements store.Readable. It returns the value of the key, or nil if
// it is not set.
func (s *Store) Get(key []byte) ([]byte, error) {
	s.RLock()
	defer s.RUnlock()

	return s.values[string(key)], nil
}

// Set implements store.Writable. It assigns the value to the key.
func (s *Store) Set(key, value []byte) error {
	s.Lock()
	s.values[string(key)] = value
	s.Unlock()

	return nil
}

// Delete implements store.Writable. It removes the key from the store.
func (s *Store) Delete(key []byte) error {
	s.Lock()
	delete(s.values, string(key))
	s.Unlock()

	return nil
}

// Len returns the number of keys currently set.
func (s *Store) Len() int {
	s.RLock()
	defer s.RUnlock()

	return len(s.values)
}
