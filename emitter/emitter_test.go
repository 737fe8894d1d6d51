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

package emitter

import (
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// mockProducer records sends and flushes, optionally failing chosen keys.
type mockProducer struct {
	mu      sync.Mutex
	sends   []Message
	flushes int
	failKey string
}

func (p *mockProducer) Send(topic, key, value string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failKey != "" && key == p.failKey {
		return errors.New("mock send failure")
	}
	p.sends = append(p.sends, Message{Key: key, Value: value, Topic: topic})
	return nil
}

func (p *mockProducer) Flush(time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.flushes++
	return nil
}

func (p *mockProducer) messages() []Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Message(nil), p.sends...)
}

func (p *mockProducer) flushCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.flushes
}

func TestEmitterDrainsOnInterval(t *testing.T) {
	producer := &mockProducer{}
	e := New(producer, WithDrainInterval(10*time.Millisecond))
	defer e.Close()

	e.Enqueue("k1", "v1", "topic-a")
	e.Enqueue("k2", "v2", "topic-b")

	require.Eventually(t, func() bool {
		return len(producer.messages()) == 2
	}, time.Second, 5*time.Millisecond)

	msgs := producer.messages()
	assert.Equal(t, Message{Key: "k1", Value: "v1", Topic: "topic-a"}, msgs[0])
	assert.Equal(t, Message{Key: "k2", Value: "v2", Topic: "topic-b"}, msgs[1])

	// Each drain ends with one bounded flush.
	assert.GreaterOrEqual(t, producer.flushCount(), 1)
	assert.Zero(t, e.Len())
}

func TestEmitterKicksOnQueueThreshold(t *testing.T) {
	producer := &mockProducer{}
	// An hour-long interval: only the threshold kick can drain.
	e := New(producer, WithDrainInterval(time.Hour), WithMaxQueueSize(3))
	defer e.Close()

	e.Enqueue("k1", "v1", "t")
	e.Enqueue("k2", "v2", "t")
	time.Sleep(20 * time.Millisecond)
	require.Empty(t, producer.messages())

	e.Enqueue("k3", "v3", "t")
	require.Eventually(t, func() bool {
		return len(producer.messages()) == 3
	}, time.Second, 5*time.Millisecond)
}

func TestEmitterSendFailureDropsOnlyThatMessage(t *testing.T) {
	producer := &mockProducer{failKey: "bad"}
	e := New(producer, WithDrainInterval(10*time.Millisecond))
	defer e.Close()

	e.Enqueue("good-1", "v", "t")
	e.Enqueue("bad", "v", "t")
	e.Enqueue("good-2", "v", "t")

	require.Eventually(t, func() bool {
		return len(producer.messages()) == 2
	}, time.Second, 5*time.Millisecond)

	for _, msg := range producer.messages() {
		assert.NotEqual(t, "bad", msg.Key)
	}
}

func TestEmitterCloseDrainsRemaining(t *testing.T) {
	producer := &mockProducer{}
	e := New(producer, WithDrainInterval(time.Hour))

	e.Enqueue("k1", "v1", "t")
	e.Enqueue("k2", "v2", "t")
	require.NoError(t, e.Close())

	require.Len(t, producer.messages(), 2)

	// Messages enqueued after close are dropped, not sent.
	e.Enqueue("late", "v", "t")
	assert.Len(t, producer.messages(), 2)
}
