// Package kv defines the abstraction for a key/value database.
//
// The package also implements a default database implementation that is using
// bbolt as the engine (https://github.com/etcd-io/bbolt).
//
// A database bucket can be exposed as a read-only base state view for the
// validation services, and the writes committed by a block can be persisted
// back to the bucket in a single database transaction.
package kv

import (
	"go.dedis.ch/parex/core/store"
	"golang.org/x/xerrors"
)

// Bucket is a general interface to operate on a database bucket.
type Bucket interface {
	// Get reads the key from the bucket and returns the value, or nil if the
	// key does not exist.
	Get(key []byte) []byte

	// Set assigns the value to the provided key.
	Set(key, value []byte) error

	// Delete deletes the key from the bucket.
	Delete(key []byte) error

	// ForEach iterates over all the items in the bucket in an unspecified
	// order. The iteration stops when the callback returns an error.
	ForEach(func(k, v []byte) error) error
}

// DB is a general interface to operate over a key/value database.
type DB interface {
	// View executes the provided read-only transaction on the bucket.
	View(bucket []byte, fn func(Bucket) error) error

	// Update executes the provided writable transaction on the bucket, which
	// is created if it does not exist yet.
	Update(bucket []byte, fn func(Bucket) error) error

	// Close closes the database and frees the resources.
	Close() error
}

// Reader exposes a bucket of a database as a readable store. Every read opens
// its own read-only transaction so it is safe for concurrent use.
//
// - implements store.Readable
type Reader struct {
	db     DB
	bucket []byte
}

// NewReader creates a base state view over the bucket of the database.
func NewReader(db DB, bucket []byte) Reader {
	return Reader{
		db:     db,
		bucket: bucket,
	}
}

// Get implements store.Readable. It returns the value of the key in the
// bucket, or nil if either the bucket or the key does not exist.
func (r Reader) Get(key []byte) ([]byte, error) {
	var value []byte

	err := r.db.View(r.bucket, func(b Bucket) error {
		found := b.Get(key)
		if found != nil {
			value = append([]byte{}, found...)
		}

		return nil
	})
	if err != nil {
		if xerrors.Is(err, errBucketNotFound) {
			return nil, nil
		}

		return nil, xerrors.Errorf("failed to read key: %v", err)
	}

	return value, nil
}

// KeyValue is a single update to persist to a bucket. A nil value deletes the
// key.
type KeyValue struct {
	Key   []byte
	Value []byte
}

// Save persists the updates to the bucket in a single transaction.
func Save(db DB, bucket []byte, updates []KeyValue) error {
	err := db.Update(bucket, func(b Bucket) error {
		for _, kv := range updates {
			if kv.Value == nil {
				err := b.Delete(kv.Key)
				if err != nil {
					return xerrors.Errorf("failed to delete key: %v", err)
				}

				continue
			}

			err := b.Set(kv.Key, kv.Value)
			if err != nil {
				return xerrors.Errorf("failed to set key: %v", err)
			}
		}

		return nil
	})
	if err != nil {
		return xerrors.Errorf("failed to save updates: %v", err)
	}

	return nil
}

// make sure the adapter is usable where a base view is expected.
var _ store.Readable = Reader{}
