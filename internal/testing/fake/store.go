package fake

import (
	"sync"

	"go.dedis.ch/parex/core/delta"
	"go.dedis.ch/parex/core/execution"
)

// InMemorySnapshot is a fake implementation of an execution snapshot. Deltas
// are applied eagerly to the stored value.
//
// - implements execution.Snapshot
type InMemorySnapshot struct {
	sync.Mutex

	values    map[string][]byte
	events    []execution.Event
	ErrRead   error
	ErrWrite  error
	ErrDelete error
	ErrDelta  error
}

// NewSnapshot creates a new empty snapshot.
func NewSnapshot() *InMemorySnapshot {
	return &InMemorySnapshot{
		values: make(map[string][]byte),
	}
}

// NewBadSnapshot creates a new empty snapshot that will always return an
// error.
func NewBadSnapshot() *InMemorySnapshot {
	snap := NewSnapshot()
	snap.ErrRead = fakeErr
	snap.ErrWrite = fakeErr
	snap.ErrDelete = fakeErr
	snap.ErrDelta = fakeErr

	return snap
}

// Get implements store.Readable.
func (snap *InMemorySnapshot) Get(key []byte) ([]byte, error) {
	snap.Lock()
	defer snap.Unlock()

	return snap.values[string(key)], snap.ErrRead
}

// Set implements store.Writable.
func (snap *InMemorySnapshot) Set(key, value []byte) error {
	snap.Lock()
	snap.values[string(key)] = value
	snap.Unlock()

	return snap.ErrWrite
}

// Delete implements store.Writable.
func (snap *InMemorySnapshot) Delete(key []byte) error {
	snap.Lock()
	delete(snap.values, string(key))
	snap.Unlock()

	return snap.ErrDelete
}

// AddDelta implements execution.Snapshot. It resolves the operation against
// the current value right away.
func (snap *InMemorySnapshot) AddDelta(key []byte, op delta.Op) error {
	if snap.ErrDelta != nil {
		return snap.ErrDelta
	}

	snap.Lock()
	defer snap.Unlock()

	value, err := op.ApplyTo(delta.FromBytes(snap.values[string(key)]))
	if err != nil {
		return err
	}

	snap.values[string(key)] = delta.Bytes(value)

	return nil
}

// EmitEvent implements execution.Snapshot.
func (snap *InMemorySnapshot) EmitEvent(event execution.Event) {
	snap.Lock()
	snap.events = append(snap.events, event)
	snap.Unlock()
}

// GetEvents returns the events emitted so far.
func (snap *InMemorySnapshot) GetEvents() []execution.Event {
	snap.Lock()
	defer snap.Unlock()

	return append([]execution.Event{}, snap.events...)
}
