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

// Package config holds the file-based configuration read by the CLI.
// The process-wide emitter.Default does not read it; it uses the
// emitter package's own built-in defaults.
package config

import (
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
)

// Config is the TOML-decoded configuration.
type Config struct {
	// DBPath is the leveldb directory.
	DBPath string `toml:"db_path"`

	// Brokers is the Kafka bootstrap list.
	Brokers []string `toml:"brokers"`

	// Topic is the mutation mirror topic.
	Topic string `toml:"topic"`

	// DrainInterval is the emitter drain period.
	DrainInterval duration `toml:"drain_interval"`

	// MaxQueueSize is the emitter's soft queue bound.
	MaxQueueSize int `toml:"max_queue_size"`
}

// Default returns the built-in defaults: a local broker, the node-data
// topic and a 10 second drain.
func Default() Config {
	return Config{
		DBPath:        "batchdb",
		Brokers:       []string{"localhost:9092"},
		Topic:         "node-data",
		DrainInterval: duration(10 * time.Second),
		MaxQueueSize:  1000,
	}
}

// Load reads a TOML file over the defaults, so partial files work.
func Load(path string) (Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, errors.Wrapf(err, "config: load %s", path)
	}
	return cfg, nil
}

// Drain returns the drain interval as a time.Duration.
func (c Config) Drain() time.Duration {
	return time.Duration(c.DrainInterval)
}

// duration lets TOML files spell intervals as "10s" or "2m".
type duration time.Duration

func (d *duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return errors.Wrap(err, "config: parse duration")
	}
	*d = duration(parsed)
	return nil
}
