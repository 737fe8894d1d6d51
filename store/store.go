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

// Package store implements prefix-scoped typed maps over an ordered
// key-value engine, with nested checkpointable atomic write batches
// spanning any number of sibling maps on the same store.
package store

import (
	"encoding/hex"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/miazn/batchdb/emitter"
	"github.com/miazn/batchdb/kvdb"
	"github.com/miazn/batchdb/kvdb/leveldb"
	"github.com/miazn/batchdb/kvdb/memorydb"
)

// DefaultTopic is the broker topic committed mutations are mirrored to.
const DefaultTopic = "node-data"

// Store owns an engine handle plus the batch state shared by every map
// opened on it. All sibling maps accumulate into the one physical batch
// and commit with a single atomic engine write.
type Store struct {
	db    kvdb.Database
	state *batchState
	log   *logrus.Entry

	emitter *emitter.Emitter
	topic   string
}

// Option configures a Store at open time.
type Option func(*Store)

// WithEmitter mirrors every committed mutation to the given emitter.
// Preferred over any process-global producer so tests can inject one.
func WithEmitter(em *emitter.Emitter) Option {
	return func(s *Store) { s.emitter = em }
}

// WithTopic overrides the mirror topic. Only meaningful together with
// WithEmitter.
func WithTopic(topic string) Option {
	return func(s *Store) { s.topic = topic }
}

// WithLogger overrides the store's logger entry.
func WithLogger(log *logrus.Entry) Option {
	return func(s *Store) { s.log = log }
}

// Open opens a persistent store backed by leveldb at the given path.
func Open(path string, opts ...Option) (*Store, error) {
	db, err := leveldb.New(path, 0, 0)
	if err != nil {
		return nil, err
	}
	return wrap(db, opts...), nil
}

// NewMemory opens an ephemeral in-memory store.
func NewMemory(opts ...Option) *Store {
	return wrap(memorydb.New(), opts...)
}

// Wrap builds a store around an already opened engine.
func Wrap(db kvdb.Database, opts ...Option) *Store {
	return wrap(db, opts...)
}

func wrap(db kvdb.Database, opts ...Option) *Store {
	s := &Store{
		db:    db,
		state: &batchState{},
		log:   logrus.WithField("database", db.Path()),
		topic: DefaultTopic,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Close closes the underlying engine. Any batch still in progress is
// lost; callers should finish or abort first.
func (s *Store) Close() error {
	return s.db.Close()
}

// Database exposes the raw engine handle, bypassing the batch layer.
func (s *Store) Database() kvdb.Database {
	return s.db
}

// batchState is the cross-map shared state: the physical write batch
// accumulated by finishing maps and the count of active atomic starts.
type batchState struct {
	mu    sync.Mutex
	batch kvdb.Batch   // lazily created, nil when empty
	depth atomic.Int64 // active StartAtomic calls across all maps
}

// pending returns the shared physical batch, creating it on first use.
// Callers must hold bs.mu.
func (bs *batchState) pending(db kvdb.Database) kvdb.Batch {
	if bs.batch == nil {
		bs.batch = db.NewBatch()
	}
	return bs.batch
}

// isEmpty reports whether no operations have been accumulated yet.
func (bs *batchState) isEmpty() bool {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	return bs.batch == nil || bs.batch.ValueSize() == 0
}

// discard drops any accumulated physical batch and zeroes the depth.
func (bs *batchState) discard() {
	bs.mu.Lock()
	bs.batch = nil
	bs.mu.Unlock()
	bs.depth.Store(0)
}

// take detaches the accumulated batch, leaving the state empty.
func (bs *batchState) take() kvdb.Batch {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	b := bs.batch
	bs.batch = nil
	return b
}

// commit flushes the accumulated physical batch with a single atomic
// engine write and, on success, mirrors the committed operations to the
// store's emitter. Called by the outermost FinishAtomic only; the batch
// state lock is never held across the engine write.
func (s *Store) commit() error {
	batch := s.state.take()
	if batch == nil {
		commitMeter.Inc()
		return nil
	}
	if err := batch.Write(); err != nil {
		commitFailureMeter.Inc()
		// The buffer is considered discarded: pending work was already
		// consumed and the commit is reported failed.
		return errors.Wrap(err, "store: atomic write")
	}
	commitMeter.Inc()
	if !s.state.isEmpty() {
		panic("batchdb: physical batch not empty after commit")
	}
	if s.emitter != nil {
		if err := batch.Replay(&mirrorWriter{emitter: s.emitter, topic: s.topic}); err != nil {
			// Mirroring is best effort and never fails a commit.
			s.log.WithError(err).Warn("Failed to mirror committed batch")
		}
	}
	return nil
}

// mirrorWriter forwards replayed batch operations to the emitter, hex
// encoded, with deletes carrying an empty value.
type mirrorWriter struct {
	emitter *emitter.Emitter
	topic   string
}

func (m *mirrorWriter) Put(key, value []byte) error {
	m.emitter.Enqueue(hex.EncodeToString(key), hex.EncodeToString(value), m.topic)
	return nil
}

func (m *mirrorWriter) Delete(key []byte) error {
	m.emitter.Enqueue(hex.EncodeToString(key), "", m.topic)
	return nil
}
