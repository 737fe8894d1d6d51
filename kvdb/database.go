// Copyright 2023 The batchdb Authors
// This file is part of the batchdb library.
//
// The batchdb library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The batchdb library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the batchdb library. If not, see <http://www.gnu.org/licenses/>.

// Package kvdb defines the interfaces for the ordered key-value engines
// backing the typed map layer.
package kvdb

import "errors"

// ErrNotFound is returned by point reads against a missing key. Backends
// wrap their native not-found errors so callers can test with errors.Is.
var ErrNotFound = errors.New("kvdb: not found")

// KeyValueReader wraps the Has and Get methods of a backing store.
type KeyValueReader interface {
	// Has retrieves if a key is present in the store.
	Has(key []byte) (bool, error)

	// Get retrieves the value of the given key if it is present.
	Get(key []byte) ([]byte, error)
}

// KeyValueWriter wraps the Put and Delete methods of a backing store.
type KeyValueWriter interface {
	// Put inserts the given value into the store.
	Put(key []byte, value []byte) error

	// Delete removes the key from the store. Deleting a missing key is
	// not an error.
	Delete(key []byte) error
}

// Batch is a write-only store that buffers changes until Write is
// called, at which point they are applied atomically.
type Batch interface {
	KeyValueWriter

	// ValueSize retrieves the amount of data queued up for writing.
	ValueSize() int

	// Write flushes any accumulated data to the backing store atomically.
	Write() error

	// Reset discards the contents of the batch.
	Reset()

	// Replay replays the batch contents into the given writer.
	Replay(w KeyValueWriter) error
}

// Iterator walks a (sub)range of keys in binary-ascending order. An
// iterator must be released after use; a released iterator is invalid.
type Iterator interface {
	// Next moves the iterator to the next key-value pair. It returns
	// true if such a pair exists and false once the iterator is
	// exhausted.
	Next() bool

	// Error returns any accumulated error. Exhausting all the key-value
	// pairs is not considered to be an error.
	Error() error

	// Key returns the key of the current pair, or nil if done. The
	// slice is only valid until the next call to Next.
	Key() []byte

	// Value returns the value of the current pair, or nil if done. The
	// slice is only valid until the next call to Next.
	Value() []byte

	// Release releases associated resources. Release should always
	// succeed and can be called multiple times.
	Release()
}

// Iteratee wraps the NewIterator method of a backing store.
type Iteratee interface {
	// NewIterator creates a binary-alphabetical iterator over a subset
	// of the store's content with a particular key prefix, starting at
	// a particular initial key (or after, if it does not exist).
	NewIterator(prefix []byte, start []byte) Iterator
}

// Batcher wraps the NewBatch method of a backing store.
type Batcher interface {
	// NewBatch creates a write-only batch that buffers changes until a
	// final write is called.
	NewBatch() Batch
}

// Compacter wraps the Compact method of a backing store.
type Compacter interface {
	// Compact flattens the underlying store for the given key range.
	// A nil start is treated as a key before all keys; a nil limit as
	// a key after all keys.
	Compact(start []byte, limit []byte) error
}

// Database is the complete contract the typed map layer consumes: point
// reads and writes, ordered prefix iteration and atomic batched writes.
type Database interface {
	KeyValueReader
	KeyValueWriter
	Batcher
	Iteratee
	Compacter

	// Path returns the filesystem location of the store, or the empty
	// string for purely in-memory backends.
	Path() string

	// Close releases all held resources. No methods may be called on a
	// closed database.
	Close() error
}
