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

// Package emitter mirrors committed mutations to an external message
// broker through a background-buffered queue. Emission is best effort
// and deliberately outside the store's atomic commit: a crash between
// the engine write and the drain loses messages, nothing more.
package emitter

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultDrainInterval is how often the background worker wakes to
	// drain a non-empty queue.
	DefaultDrainInterval = 10 * time.Second

	// DefaultMaxQueueSize is the soft queue bound: reaching it kicks the
	// worker immediately rather than waiting for the next tick. The
	// queue itself is unbounded, so callers must keep enqueue rates
	// sane.
	DefaultMaxQueueSize = 1000

	// flushTimeout bounds the producer flush ending every drain.
	flushTimeout = 10 * time.Second
)

var (
	enqueuedMeter = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "batchdb", Subsystem: "emitter", Name: "enqueued_total",
		Help: "Messages accepted into the emitter queue.",
	})
	emittedMeter = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "batchdb", Subsystem: "emitter", Name: "emitted_total",
		Help: "Messages successfully handed to the producer.",
	})
	failedMeter = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "batchdb", Subsystem: "emitter", Name: "failed_total",
		Help: "Messages dropped after a producer send failure.",
	})
	queueGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "batchdb", Subsystem: "emitter", Name: "queue_length",
		Help: "Messages currently buffered.",
	})
)

// Producer is the broker capability the emitter consumes. Production
// code wires a Kafka producer; tests inject a recording fake.
type Producer interface {
	Send(topic, key, value string) error
	Flush(timeout time.Duration) error
}

// Message is one queued (key, value, topic) tuple.
type Message struct {
	Key   string
	Value string
	Topic string
}

// Emitter buffers messages in memory and drains them to a producer from
// one dedicated background goroutine, either on a timer or immediately
// once the soft queue bound is hit.
type Emitter struct {
	producer Producer
	interval time.Duration
	maxQueue int
	log      *logrus.Entry

	mu    sync.Mutex
	queue []Message

	kick chan struct{}
	quit chan struct{}
	done chan struct{}
}

// EmitterOption configures an Emitter at construction.
type EmitterOption func(*Emitter)

// WithDrainInterval overrides the drain timer period.
func WithDrainInterval(d time.Duration) EmitterOption {
	return func(e *Emitter) { e.interval = d }
}

// WithMaxQueueSize overrides the soft queue bound.
func WithMaxQueueSize(n int) EmitterOption {
	return func(e *Emitter) { e.maxQueue = n }
}

// New creates an emitter around the given producer and starts its
// background worker. The emitter must be closed to stop the worker.
func New(producer Producer, opts ...EmitterOption) *Emitter {
	e := &Emitter{
		producer: producer,
		interval: DefaultDrainInterval,
		maxQueue: DefaultMaxQueueSize,
		log:      logrus.WithField("component", "emitter"),
		kick:     make(chan struct{}, 1),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	go e.loop()
	return e
}

// Enqueue appends a message to the queue. It never blocks beyond the
// short critical section and never fails; an emitter that was already
// closed logs and drops the message.
func (e *Emitter) Enqueue(key, value, topic string) {
	select {
	case <-e.quit:
		e.log.WithField("topic", topic).Warn("Dropping message enqueued after close")
		return
	default:
	}

	e.mu.Lock()
	e.queue = append(e.queue, Message{Key: key, Value: value, Topic: topic})
	full := len(e.queue) >= e.maxQueue
	queueGauge.Set(float64(len(e.queue)))
	e.mu.Unlock()

	enqueuedMeter.Inc()
	if full {
		select {
		case e.kick <- struct{}{}:
		default:
		}
	}
}

// Len returns the number of currently buffered messages.
func (e *Emitter) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.queue)
}

// Close drains whatever is still queued and stops the background
// worker. It is safe to call once.
func (e *Emitter) Close() error {
	close(e.quit)
	<-e.done
	return nil
}

func (e *Emitter) loop() {
	defer close(e.done)

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			e.drain()
		case <-e.kick:
			e.drain()
		case <-e.quit:
			e.drain()
			return
		}
	}
}

// drain moves the queue into a local buffer under the lock, releases
// the lock, and sends each message. A failed send is fatal only to that
// message.
func (e *Emitter) drain() {
	e.mu.Lock()
	if len(e.queue) == 0 {
		e.mu.Unlock()
		return
	}
	buffered := e.queue
	e.queue = nil
	queueGauge.Set(0)
	e.mu.Unlock()

	for _, msg := range buffered {
		if err := e.producer.Send(msg.Topic, msg.Key, msg.Value); err != nil {
			failedMeter.Inc()
			e.log.WithError(err).WithFields(logrus.Fields{
				"topic": msg.Topic,
				"key":   msg.Key,
			}).Error("Failed to send message")
			continue
		}
		emittedMeter.Inc()
	}
	if err := e.producer.Flush(flushTimeout); err != nil {
		e.log.WithError(err).Error("Failed to flush producer")
	}
}
