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

// Package leveldb implements the kvdb interfaces on a goleveldb store,
// the persistent engine used in production.
package leveldb

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"
	"github.com/syndtr/goleveldb/leveldb"
	ldberrors "github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/filter"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/miazn/batchdb/kvdb"
)

const (
	// minCache is the minimum amount of memory in megabytes to allocate
	// to leveldb read and write caching, split half and half.
	minCache = 16

	// minHandles is the minimum number of file handles to allocate to
	// the open database files.
	minHandles = 16
)

var (
	readMeter = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "batchdb", Subsystem: "leveldb", Name: "reads_total",
		Help: "Point reads issued against the engine.",
	})
	writeMeter = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "batchdb", Subsystem: "leveldb", Name: "writes_total",
		Help: "Standalone writes issued against the engine.",
	})
	batchWriteMeter = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "batchdb", Subsystem: "leveldb", Name: "batch_writes_total",
		Help: "Atomic batch writes issued against the engine.",
	})
)

// Database wraps a goleveldb instance behind the kvdb contract.
type Database struct {
	fn  string
	db  *leveldb.DB
	log *logrus.Entry

	quitLock sync.Mutex
	closed   bool
}

// New opens (or creates) a leveldb store at the given path. The cache
// and handles arguments are clamped to sane minimums so callers may
// pass zero for the defaults.
func New(file string, cache int, handles int) (*Database, error) {
	if cache < minCache {
		cache = minCache
	}
	if handles < minHandles {
		handles = minHandles
	}
	logger := logrus.WithField("database", file)
	logger.WithFields(logrus.Fields{"cache": cache, "handles": handles}).Info("Allocated cache and file handles")

	db, err := leveldb.OpenFile(file, &opt.Options{
		OpenFilesCacheCapacity: handles,
		BlockCacheCapacity:     cache / 2 * opt.MiB,
		WriteBuffer:            cache / 4 * opt.MiB, // Two of these are used internally
		Filter:                 filter.NewBloomFilter(10),
	})
	if _, corrupted := err.(*ldberrors.ErrCorrupted); corrupted {
		db, err = leveldb.RecoverFile(file, nil)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "leveldb: open %s", file)
	}
	return &Database{fn: file, db: db, log: logger}, nil
}

// Close flushes any pending writes to disk and closes the store.
func (db *Database) Close() error {
	db.quitLock.Lock()
	defer db.quitLock.Unlock()

	if db.closed {
		return nil
	}
	db.closed = true
	return db.db.Close()
}

// Has retrieves if a key is present in the store.
func (db *Database) Has(key []byte) (bool, error) {
	ok, err := db.db.Has(key, nil)
	if err != nil {
		return false, errors.Wrap(err, "leveldb: has")
	}
	return ok, nil
}

// Get retrieves the value of the given key if it is present.
func (db *Database) Get(key []byte) ([]byte, error) {
	readMeter.Inc()
	val, err := db.db.Get(key, nil)
	if err != nil {
		if err == leveldb.ErrNotFound {
			return nil, kvdb.ErrNotFound
		}
		return nil, errors.Wrap(err, "leveldb: get")
	}
	return val, nil
}

// Put inserts the given value into the store.
func (db *Database) Put(key []byte, value []byte) error {
	writeMeter.Inc()
	return errors.Wrap(db.db.Put(key, value, nil), "leveldb: put")
}

// Delete removes the key from the store.
func (db *Database) Delete(key []byte) error {
	writeMeter.Inc()
	return errors.Wrap(db.db.Delete(key, nil), "leveldb: delete")
}

// NewBatch creates a write-only batch that buffers changes until a
// final write is called.
func (db *Database) NewBatch() kvdb.Batch {
	return &batch{db: db.db, b: new(leveldb.Batch)}
}

// NewIterator creates a binary-alphabetical iterator over a subset of
// the store's content with a particular key prefix, starting at a
// particular initial key.
func (db *Database) NewIterator(prefix []byte, start []byte) kvdb.Iterator {
	r := util.BytesPrefix(prefix)
	r.Start = append(r.Start, start...)
	return db.db.NewIterator(r, nil)
}

// Compact flattens the underlying store for the given key range.
func (db *Database) Compact(start []byte, limit []byte) error {
	return errors.Wrap(db.db.CompactRange(util.Range{Start: start, Limit: limit}), "leveldb: compact")
}

// Path returns the filesystem location of the store.
func (db *Database) Path() string {
	return db.fn
}

// batch wraps a goleveldb batch, tracking the accumulated size.
type batch struct {
	db   *leveldb.DB
	b    *leveldb.Batch
	size int
}

func (b *batch) Put(key, value []byte) error {
	b.b.Put(key, value)
	b.size += len(key) + len(value)
	return nil
}

func (b *batch) Delete(key []byte) error {
	b.b.Delete(key)
	b.size += len(key)
	return nil
}

func (b *batch) ValueSize() int {
	return b.size
}

// Write flushes the batch to disk in a single atomic engine write.
func (b *batch) Write() error {
	batchWriteMeter.Inc()
	return errors.Wrap(b.db.Write(b.b, nil), "leveldb: batch write")
}

func (b *batch) Reset() {
	b.b.Reset()
	b.size = 0
}

func (b *batch) Replay(w kvdb.KeyValueWriter) error {
	r := &replayer{writer: w}
	if err := b.b.Replay(r); err != nil {
		return err
	}
	return r.failure
}

// replayer adapts a kvdb writer to goleveldb's error-less replay
// callbacks, remembering the first failure.
type replayer struct {
	writer  kvdb.KeyValueWriter
	failure error
}

func (r *replayer) Put(key, value []byte) {
	if r.failure != nil {
		return
	}
	r.failure = r.writer.Put(key, value)
}

func (r *replayer) Delete(key []byte) {
	if r.failure != nil {
		return
	}
	r.failure = r.writer.Delete(key)
}
