package mem

import "go.dedis.ch/parex/core/store"

type item struct {
	value   []byte
	deleted bool
}

// Overlay stages updates on top of a readable store. A read looks up the
// local updates first and falls back to the parent, so that a deleted key
// hides the parent value.
//
// - implements store.Snapshot
type Overlay struct {
	parent store.Readable
	store  map[string]item
}

// NewOverlay creates a new overlay on top of the parent.
func NewOverlay(parent store.Readable) *Overlay {
	return &Overlay{
		parent: parent,
		store:  make(map[string]item),
	}
}

// Get implements store.Readable. It returns the staged value of the key if it
// exists, otherwise the value from the parent.
func (o *Overlay) Get(key []byte) ([]byte, error) {
	it, found := o.store[string(key)]
	if found {
		if it.deleted {
			return nil, nil
		}

		return it.value, nil
	}

	return o.parent.Get(key)
}

// Set implements store.Writable. It stages the value for the key.
func (o *Overlay) Set(key, value []byte) error {
	o.store[string(key)] = item{value: value}

	return nil
}

// Delete implements store.Writable. It stages a tombstone for the key.
func (o *Overlay) Delete(key []byte) error {
	o.store[string(key)] = item{deleted: true}

	return nil
}
