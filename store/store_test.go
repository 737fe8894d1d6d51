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
	"encoding/hex"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/miazn/batchdb/emitter"
)

func TestDirectWritesBypassBatchLayer(t *testing.T) {
	m := newTestMap(t)

	// Without a batch in progress, writes hit the engine immediately.
	require.NoError(t, m.Insert(1, "one"))

	v, ok, err := m.GetConfirmed(1)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "one", v)

	has, err := m.ContainsConfirmed(1)
	require.NoError(t, err)
	require.True(t, has)

	require.NoError(t, m.Remove(1))
	has, err = m.ContainsConfirmed(1)
	require.NoError(t, err)
	require.False(t, has)
}

func TestMapPrefixesAreDisjoint(t *testing.T) {
	s := NewMemory()
	a := OpenMap[uint64, string](s, 0, 1, Uint64Codec{}, StringCodec{})
	b := OpenMap[uint64, string](s, 0, 2, Uint64Codec{}, StringCodec{})
	c := OpenMap[uint64, string](s, 1, 1, Uint64Codec{}, StringCodec{})

	require.NoError(t, a.Insert(0, "a"))
	require.NoError(t, b.Insert(0, "b"))
	require.NoError(t, c.Insert(0, "c"))

	for _, tc := range []struct {
		m    *DataMap[uint64, string]
		want string
	}{
		{a, "a"}, {b, "b"}, {c, "c"},
	} {
		v, ok, err := tc.m.GetConfirmed(0)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, tc.want, v)

		n, err := tc.m.IterConfirmed().Count()
		require.NoError(t, err)
		require.Equal(t, 1, n)
	}
}

func TestContextLayout(t *testing.T) {
	s := NewMemory()
	m := OpenMap[uint64, string](s, 0x0102, 0x0304, Uint64Codec{}, StringCodec{})

	// network id then map id, both little-endian.
	require.Equal(t, []byte{0x02, 0x01, 0x04, 0x03}, m.Context())
}

// recordingProducer captures sends for assertions.
type recordingProducer struct {
	mu    sync.Mutex
	sends []emitter.Message
}

func (p *recordingProducer) Send(topic, key, value string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sends = append(p.sends, emitter.Message{Key: key, Value: value, Topic: topic})
	return nil
}

func (p *recordingProducer) Flush(time.Duration) error { return nil }

func (p *recordingProducer) messages() []emitter.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]emitter.Message(nil), p.sends...)
}

func TestCommittedMutationsAreMirrored(t *testing.T) {
	producer := &recordingProducer{}
	em := emitter.New(producer, emitter.WithDrainInterval(10*time.Millisecond))
	defer em.Close()

	s := NewMemory(WithEmitter(em), WithTopic("node-data"))
	m := OpenMap[uint64, string](s, 0, 1, Uint64Codec{}, StringCodec{})

	require.NoError(t, AtomicBatchScope(m, func() error {
		if err := m.Insert(7, "seven"); err != nil {
			return err
		}
		return m.Remove(8)
	}))

	require.Eventually(t, func() bool {
		return len(producer.messages()) == 2
	}, time.Second, 10*time.Millisecond)

	msgs := producer.messages()
	for _, msg := range msgs {
		require.Equal(t, "node-data", msg.Topic)
	}

	rawKey, err := m.prefixedKey(7)
	require.NoError(t, err)
	require.Equal(t, hex.EncodeToString(rawKey), msgs[0].Key)
	require.Equal(t, hex.EncodeToString([]byte("seven")), msgs[0].Value)

	// The delete mirrors with an empty value.
	require.Equal(t, "", msgs[1].Value)
}

func TestAbortedBatchIsNotMirrored(t *testing.T) {
	producer := &recordingProducer{}
	em := emitter.New(producer, emitter.WithDrainInterval(10*time.Millisecond))
	defer em.Close()

	s := NewMemory(WithEmitter(em))
	m := OpenMap[uint64, string](s, 0, 1, Uint64Codec{}, StringCodec{})

	m.StartAtomic()
	require.NoError(t, m.Insert(1, "doomed"))
	m.AbortAtomic()

	time.Sleep(50 * time.Millisecond)
	require.Empty(t, producer.messages())
}
