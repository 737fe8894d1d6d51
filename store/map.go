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

package store

import (
	"encoding/binary"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/miazn/batchdb/kvdb"
)

// pendingOp is a single queued mutation: a nil value schedules a delete.
type pendingOp[K comparable, V any] struct {
	key   K
	value *V
}

// PendingEntry is one deduplicated entry of the active batch, as
// returned by IterPending. A nil Value is a scheduled delete.
type PendingEntry[K comparable, V any] struct {
	Key   K
	Value *V
}

// DataMap is a typed map scoped to a 4-byte key prefix on a shared
// store. Outside an atomic batch, writes go straight to the engine;
// inside one they accumulate in an append-only pending log that is
// deduplicated, encoded and folded into the store-wide physical batch
// at finish.
//
// Confirmed reads consult the engine only. Speculative reads layer the
// pending log over confirmed state, returning exactly what a commit of
// the current batch would make visible.
type DataMap[K comparable, V any] struct {
	store   *Store
	context []byte
	kc      Codec[K]
	vc      Codec[V]

	mu          sync.Mutex
	pending     []pendingOp[K, V]
	checkpoints []int
	inProgress  atomic.Bool
}

// OpenMap opens the typed map identified by (networkID, mapID) on the
// given store. Every physical key is context-prefixed with both ids in
// little-endian order, so distinct pairs can never collide.
func OpenMap[K comparable, V any](s *Store, networkID, mapID uint16, kc Codec[K], vc Codec[V]) *DataMap[K, V] {
	context := make([]byte, 4)
	binary.LittleEndian.PutUint16(context[0:2], networkID)
	binary.LittleEndian.PutUint16(context[2:4], mapID)
	return &DataMap[K, V]{store: s, context: context, kc: kc, vc: vc}
}

// Context returns the map's immutable key prefix.
func (m *DataMap[K, V]) Context() []byte {
	return append([]byte(nil), m.context...)
}

func (m *DataMap[K, V]) prefixedKey(key K) ([]byte, error) {
	raw, err := m.kc.Encode(key)
	if err != nil {
		return nil, errors.Wrap(err, "store: encode key")
	}
	return append(append(make([]byte, 0, len(m.context)+len(raw)), m.context...), raw...), nil
}

func (m *DataMap[K, V]) getRaw(key K) ([]byte, error) {
	rawKey, err := m.prefixedKey(key)
	if err != nil {
		return nil, err
	}
	return m.store.db.Get(rawKey)
}

// Insert inserts the given key-value pair. With an atomic batch in
// progress the pair is queued in the pending log; otherwise it is
// encoded and written to the engine directly.
func (m *DataMap[K, V]) Insert(key K, value V) error {
	if m.IsAtomicInProgress() {
		v := value
		m.mu.Lock()
		m.pending = append(m.pending, pendingOp[K, V]{key: key, value: &v})
		m.mu.Unlock()
		return nil
	}
	rawKey, err := m.prefixedKey(key)
	if err != nil {
		return err
	}
	rawValue, err := m.vc.Encode(value)
	if err != nil {
		return errors.Wrap(err, "store: encode value")
	}
	return m.store.db.Put(rawKey, rawValue)
}

// Remove removes the key-value pair for the given key. With an atomic
// batch in progress the delete is queued; otherwise it hits the engine
// directly. Removing a missing key is not an error.
func (m *DataMap[K, V]) Remove(key K) error {
	if m.IsAtomicInProgress() {
		m.mu.Lock()
		m.pending = append(m.pending, pendingOp[K, V]{key: key})
		m.mu.Unlock()
		return nil
	}
	rawKey, err := m.prefixedKey(key)
	if err != nil {
		return err
	}
	return m.store.db.Delete(rawKey)
}

// ContainsConfirmed reports whether the key exists in committed state,
// ignoring any batch in progress.
func (m *DataMap[K, V]) ContainsConfirmed(key K) (bool, error) {
	_, err := m.getRaw(key)
	if err != nil {
		if errors.Is(err, kvdb.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// ContainsSpeculative reports whether the key would exist if the batch
// in progress committed now. The pending log is scanned from the back
// so the latest queued operation for the key wins.
func (m *DataMap[K, V]) ContainsSpeculative(key K) (bool, error) {
	if m.IsAtomicInProgress() {
		if op, ok := m.lastPending(key); ok {
			return op != nil, nil
		}
	}
	return m.ContainsConfirmed(key)
}

// GetConfirmed returns the committed value for the key, if any.
func (m *DataMap[K, V]) GetConfirmed(key K) (V, bool, error) {
	var zero V
	raw, err := m.getRaw(key)
	if err != nil {
		if errors.Is(err, kvdb.ErrNotFound) {
			return zero, false, nil
		}
		return zero, false, err
	}
	value, err := m.vc.Decode(raw)
	if err != nil {
		return zero, false, errors.Wrap(err, "store: decode value")
	}
	return value, true, nil
}

// GetSpeculative returns the value the key would have if the batch in
// progress committed now: the latest pending operation for the key, or
// the confirmed value when the batch does not touch it.
func (m *DataMap[K, V]) GetSpeculative(key K) (V, bool, error) {
	if m.IsAtomicInProgress() {
		if op, ok := m.lastPending(key); ok {
			if op == nil {
				var zero V
				return zero, false, nil
			}
			return *op, true, nil
		}
	}
	return m.GetConfirmed(key)
}

// GetPending returns the latest queued operation for the key within the
// active batch: (value, true) for a pending insert, (nil, true) for a
// pending delete, (nil, false) when the batch does not touch the key or
// no batch is in progress.
func (m *DataMap[K, V]) GetPending(key K) (*V, bool) {
	if !m.IsAtomicInProgress() {
		return nil, false
	}
	op, ok := m.lastPending(key)
	if !ok {
		return nil, false
	}
	if op == nil {
		return nil, true
	}
	v := *op
	return &v, true
}

// lastPending scans the pending log from the back for the latest entry
// matching the key.
func (m *DataMap[K, V]) lastPending(key K) (*V, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := len(m.pending) - 1; i >= 0; i-- {
		if m.pending[i].key == key {
			return m.pending[i].value, true
		}
	}
	return nil, false
}

// IterPending returns the current pending log after last-write-wins
// deduplication, in first-occurrence order.
func (m *DataMap[K, V]) IterPending() []PendingEntry[K, V] {
	m.mu.Lock()
	defer m.mu.Unlock()
	return dedup(m.pending)
}

// dedup folds an ordered operation log into one entry per key, later
// operations overwriting earlier ones in place.
func dedup[K comparable, V any](ops []pendingOp[K, V]) []PendingEntry[K, V] {
	index := make(map[K]int, len(ops))
	out := make([]PendingEntry[K, V], 0, len(ops))
	for _, op := range ops {
		if at, ok := index[op.key]; ok {
			out[at].Value = op.value
			continue
		}
		index[op.key] = len(out)
		out = append(out, PendingEntry[K, V]{Key: op.key, Value: op.value})
	}
	return out
}

// IterConfirmed returns a lazy iterator over the committed key-value
// pairs of the map, in engine key order. The iterator must be released.
func (m *DataMap[K, V]) IterConfirmed() *MapIterator[K, V] {
	return &MapIterator[K, V]{
		inner:  m.store.db.NewIterator(m.context, nil),
		kc:     m.kc,
		vc:     m.vc,
		prefix: len(m.context),
	}
}

// KeysConfirmed returns a lazy iterator over the committed keys.
func (m *DataMap[K, V]) KeysConfirmed() *KeyIterator[K] {
	return &KeyIterator[K]{
		inner:  m.store.db.NewIterator(m.context, nil),
		kc:     m.kc,
		prefix: len(m.context),
	}
}

// ValuesConfirmed returns a lazy iterator over the committed values.
func (m *DataMap[K, V]) ValuesConfirmed() *ValueIterator[V] {
	return &ValueIterator[V]{
		inner: m.store.db.NewIterator(m.context, nil),
		vc:    m.vc,
	}
}

// StartAtomic begins an atomic batch: further Insert and Remove calls
// queue in the pending log until FinishAtomic or AbortAtomic.
//
// StartAtomic is idempotent per map. Only the outermost call on a map
// transitions its state and increments the shared depth; a call on a
// map already in progress (a nested scope on the same map, possibly via
// a composite) returns immediately.
func (m *DataMap[K, V]) StartAtomic() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.inProgress.Load() {
		return
	}
	m.inProgress.Store(true)
	prev := m.store.state.depth.Add(1) - 1

	if len(m.pending) != 0 {
		panic("batchdb: pending operations present at atomic start")
	}
	if prev == 0 && !m.store.state.isEmpty() {
		panic("batchdb: physical batch not empty at atomic start")
	}
}

// IsAtomicInProgress reports whether an atomic batch is in progress on
// this map. Lower-level operations use it to avoid starting and
// finishing their own batch when already part of a larger one.
func (m *DataMap[K, V]) IsAtomicInProgress() bool {
	return m.inProgress.Load()
}

// AtomicCheckpoint records the current pending length, so a later
// AtomicRewind rolls back everything queued after this point.
func (m *DataMap[K, V]) AtomicCheckpoint() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.checkpoints = append(m.checkpoints, len(m.pending))
}

// ClearLatestCheckpoint removes the latest checkpoint, keeping the
// operations queued since. No-op without checkpoints.
func (m *DataMap[K, V]) ClearLatestCheckpoint() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if n := len(m.checkpoints); n > 0 {
		m.checkpoints = m.checkpoints[:n-1]
	}
}

// AtomicRewind discards all operations queued after the latest
// checkpoint, or after StartAtomic if none remain.
func (m *DataMap[K, V]) AtomicRewind() {
	m.mu.Lock()
	defer m.mu.Unlock()

	checkpoint := 0
	if n := len(m.checkpoints); n > 0 {
		checkpoint = m.checkpoints[n-1]
		m.checkpoints = m.checkpoints[:n-1]
	}
	m.pending = m.pending[:checkpoint]
}

// AbortAtomic abandons the batch entirely: the pending log, the
// checkpoint stack, the shared physical batch and the depth counter are
// all reset, leaving the store idle.
func (m *DataMap[K, V]) AbortAtomic() {
	m.mu.Lock()
	m.pending = nil
	m.checkpoints = m.checkpoints[:0]
	m.inProgress.Store(false)
	m.mu.Unlock()

	m.store.state.discard()
}

// FinishAtomic ends this map's participation in the batch: the pending
// log is deduplicated last-write-wins, encoded, and appended to the
// shared physical batch. When this is the outermost finish across all
// participating maps, the accumulated batch is flushed to the engine in
// one atomic write.
//
// Encoding is deferred until here so rewound operations never pay
// serialization cost.
func (m *DataMap[K, V]) FinishAtomic() error {
	m.mu.Lock()
	ops := m.pending
	m.pending = nil
	m.checkpoints = m.checkpoints[:0]
	m.inProgress.Store(false)
	m.mu.Unlock()

	var ferr error
	if len(ops) > 0 {
		type rawOp struct {
			key, value []byte
			del        bool
		}
		entries := dedup(ops)
		prepared := make([]rawOp, 0, len(entries))
		for _, e := range entries {
			rawKey, err := m.prefixedKey(e.Key)
			if err != nil {
				ferr = err
				break
			}
			if e.Value == nil {
				prepared = append(prepared, rawOp{key: rawKey, del: true})
				continue
			}
			rawValue, err := m.vc.Encode(*e.Value)
			if err != nil {
				ferr = errors.Wrap(err, "store: encode value")
				break
			}
			prepared = append(prepared, rawOp{key: rawKey, value: rawValue})
		}
		if ferr == nil {
			bs := m.store.state
			bs.mu.Lock()
			batch := bs.pending(m.store.db)
			for _, op := range prepared {
				if op.del {
					ferr = batch.Delete(op.key)
				} else {
					ferr = batch.Put(op.key, op.value)
				}
				if ferr != nil {
					break
				}
			}
			bs.mu.Unlock()
			commitOpsMeter.Add(float64(len(prepared)))
		}
	}

	prev := m.store.state.depth.Add(-1) + 1
	if prev <= 0 {
		panic("batchdb: unpaired atomic finish")
	}
	if prev == 1 {
		if ferr != nil {
			// The cross-map batch can no longer represent the requested
			// commit; drop it so nothing partial reaches the engine.
			m.store.state.discard()
			return ferr
		}
		return m.store.commit()
	}
	return ferr
}
