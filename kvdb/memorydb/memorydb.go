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

// Package memorydb implements the kvdb interfaces on a plain in-memory
// map, for tests and ephemeral stores.
package memorydb

import (
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/miazn/batchdb/kvdb"
)

var (
	// errClosed is returned for operations against an already closed store.
	errClosed = errors.New("memorydb: closed")
)

// Database is an ephemeral key-value store backed by a mutex-guarded map.
// Apart from the missing durability it fulfils the same contract as the
// leveldb backend.
type Database struct {
	db   map[string][]byte
	lock sync.RWMutex
}

// New returns an empty in-memory database.
func New() *Database {
	return &Database{db: make(map[string][]byte)}
}

// Close deallocates the internal map and marks the store unusable.
func (db *Database) Close() error {
	db.lock.Lock()
	defer db.lock.Unlock()

	db.db = nil
	return nil
}

// Has retrieves if a key is present in the store.
func (db *Database) Has(key []byte) (bool, error) {
	db.lock.RLock()
	defer db.lock.RUnlock()

	if db.db == nil {
		return false, errClosed
	}
	_, ok := db.db[string(key)]
	return ok, nil
}

// Get retrieves the value of the given key if it is present.
func (db *Database) Get(key []byte) ([]byte, error) {
	db.lock.RLock()
	defer db.lock.RUnlock()

	if db.db == nil {
		return nil, errClosed
	}
	if entry, ok := db.db[string(key)]; ok {
		return append([]byte(nil), entry...), nil
	}
	return nil, kvdb.ErrNotFound
}

// Put inserts the given value into the store.
func (db *Database) Put(key []byte, value []byte) error {
	db.lock.Lock()
	defer db.lock.Unlock()

	if db.db == nil {
		return errClosed
	}
	db.db[string(key)] = append([]byte(nil), value...)
	return nil
}

// Delete removes the key from the store.
func (db *Database) Delete(key []byte) error {
	db.lock.Lock()
	defer db.lock.Unlock()

	if db.db == nil {
		return errClosed
	}
	delete(db.db, string(key))
	return nil
}

// NewBatch creates a write-only batch that buffers changes until a
// final write is called.
func (db *Database) NewBatch() kvdb.Batch {
	return &batch{db: db}
}

// NewIterator creates a binary-alphabetical iterator over a subset of
// the store's content with a particular key prefix, starting at a
// particular initial key. The iterator operates on a snapshot taken at
// creation time, so concurrent mutations are not observed.
func (db *Database) NewIterator(prefix []byte, start []byte) kvdb.Iterator {
	db.lock.RLock()
	defer db.lock.RUnlock()

	var (
		pr    = string(prefix)
		first = pr + string(start)
		keys  = make([]string, 0, len(db.db))
		vals  = make([][]byte, 0, len(db.db))
	)
	for key := range db.db {
		if strings.HasPrefix(key, pr) && key >= first {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	for _, key := range keys {
		vals = append(vals, append([]byte(nil), db.db[key]...))
	}
	return &iterator{index: -1, keys: keys, values: vals}
}

// Compact is a no-op for the memory backend.
func (db *Database) Compact(start []byte, limit []byte) error {
	return nil
}

// Path returns the empty string: there is no on-disk state.
func (db *Database) Path() string {
	return ""
}

// Len returns the number of entries currently held. Test helper.
func (db *Database) Len() int {
	db.lock.RLock()
	defer db.lock.RUnlock()

	return len(db.db)
}

// keyvalue is a single queued batch operation.
type keyvalue struct {
	key    []byte
	value  []byte
	delete bool
}

// batch is a write-only store that commits changes to the host database
// when Write is called.
type batch struct {
	db     *Database
	writes []keyvalue
	size   int
}

func (b *batch) Put(key, value []byte) error {
	b.writes = append(b.writes, keyvalue{append([]byte(nil), key...), append([]byte(nil), value...), false})
	b.size += len(key) + len(value)
	return nil
}

func (b *batch) Delete(key []byte) error {
	b.writes = append(b.writes, keyvalue{append([]byte(nil), key...), nil, true})
	b.size += len(key)
	return nil
}

func (b *batch) ValueSize() int {
	return b.size
}

// Write applies all queued operations under a single lock acquisition.
func (b *batch) Write() error {
	b.db.lock.Lock()
	defer b.db.lock.Unlock()

	if b.db.db == nil {
		return errClosed
	}
	for _, kv := range b.writes {
		if kv.delete {
			delete(b.db.db, string(kv.key))
			continue
		}
		b.db.db[string(kv.key)] = kv.value
	}
	return nil
}

func (b *batch) Reset() {
	b.writes = b.writes[:0]
	b.size = 0
}

func (b *batch) Replay(w kvdb.KeyValueWriter) error {
	for _, kv := range b.writes {
		if kv.delete {
			if err := w.Delete(kv.key); err != nil {
				return err
			}
			continue
		}
		if err := w.Put(kv.key, kv.value); err != nil {
			return err
		}
	}
	return nil
}

// iterator walks a snapshotted, sorted copy of the selected entries.
type iterator struct {
	index  int
	keys   []string
	values [][]byte
}

func (it *iterator) Next() bool {
	if it.index >= len(it.keys) {
		return false
	}
	it.index++
	return it.index < len(it.keys)
}

// Error always returns nil: a memory iterator cannot fail.
func (it *iterator) Error() error {
	return nil
}

func (it *iterator) Key() []byte {
	if it.index < 0 || it.index >= len(it.keys) {
		return nil
	}
	return []byte(it.keys[it.index])
}

func (it *iterator) Value() []byte {
	if it.index < 0 || it.index >= len(it.values) {
		return nil
	}
	return it.values[it.index]
}

func (it *iterator) Release() {
	it.index, it.keys, it.values = -1, nil, nil
}
