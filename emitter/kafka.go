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
	"time"

	"github.com/Shopify/sarama"
	"github.com/pkg/errors"
)

// DefaultBrokers is the broker list used when none is configured.
var DefaultBrokers = []string{"localhost:9092"}

// KafkaProducer implements Producer over a sarama synchronous producer.
// Sends are acknowledged by the broker before returning, so Flush has
// nothing left to wait for.
type KafkaProducer struct {
	producer sarama.SyncProducer
}

// NewKafkaProducer connects to the given brokers. An empty broker list
// falls back to DefaultBrokers.
func NewKafkaProducer(brokers []string) (*KafkaProducer, error) {
	if len(brokers) == 0 {
		brokers = DefaultBrokers
	}
	cfg := sarama.NewConfig()
	cfg.Producer.RequiredAcks = sarama.WaitForLocal
	cfg.Producer.Retry.Max = 3
	cfg.Producer.Return.Successes = true // required by the sync producer

	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "emitter: create producer")
	}
	return &KafkaProducer{producer: producer}, nil
}

// Send publishes one message and waits for the broker ack.
func (p *KafkaProducer) Send(topic, key, value string) error {
	_, _, err := p.producer.SendMessage(&sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.StringEncoder(value),
	})
	return errors.Wrap(err, "emitter: send")
}

// Flush is a no-op: the synchronous producer acks on send.
func (p *KafkaProducer) Flush(timeout time.Duration) error {
	return nil
}

// Close shuts the underlying producer down.
func (p *KafkaProducer) Close() error {
	return p.producer.Close()
}

var (
	defaultMu      sync.Mutex
	defaultEmitter *Emitter
	defaultKafka   *KafkaProducer
)

// Default returns the process-wide emitter, lazily connecting to the
// default brokers on first use. Stores should prefer an injected
// emitter; this exists for callers that want the original global
// behavior.
func Default() (*Emitter, error) {
	defaultMu.Lock()
	defer defaultMu.Unlock()

	if defaultEmitter != nil {
		return defaultEmitter, nil
	}
	producer, err := NewKafkaProducer(nil)
	if err != nil {
		return nil, err
	}
	defaultKafka = producer
	defaultEmitter = New(producer)
	return defaultEmitter, nil
}

// CloseDefault tears the process-wide emitter down, draining the queue
// first. Intended for process exit.
func CloseDefault() error {
	defaultMu.Lock()
	defer defaultMu.Unlock()

	if defaultEmitter == nil {
		return nil
	}
	err := defaultEmitter.Close()
	if cerr := defaultKafka.Close(); err == nil {
		err = cerr
	}
	defaultEmitter, defaultKafka = nil, nil
	return err
}
