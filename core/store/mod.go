// Package store defines the primitives of the key/value stores the engine
// reads and writes.
//
// A missing key is not an error: a read returns a nil value, and the engine
// relies on that convention to distinguish an absent aggregator from a zero
// one.
package store

// Readable is the interface for a readable store. It returns a nil value and
// no error when the key does not exist.
type Readable interface {
	Get(key []byte) ([]byte, error)
}

// Writable is the interface for a writable store.
type Writable interface {
	Set(key []byte, value []byte) error

	Delete(key []byte) error
}

// Snapshot is a view of the state at a given point that can be read and
// written independently of its source.
type Snapshot interface {
	Readable
	Writable
}
