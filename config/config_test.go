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

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	require.Equal(t, []string{"localhost:9092"}, cfg.Brokers)
	require.Equal(t, "node-data", cfg.Topic)
	require.Equal(t, 10*time.Second, cfg.Drain())
	require.Equal(t, 1000, cfg.MaxQueueSize)
}

func TestLoadPartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "batchdb.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
db_path = "/tmp/custom"
brokers = ["kafka-1:9092", "kafka-2:9092"]
drain_interval = "2s"
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "/tmp/custom", cfg.DBPath)
	require.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Brokers)
	require.Equal(t, 2*time.Second, cfg.Drain())

	// Unset keys keep their defaults.
	require.Equal(t, "node-data", cfg.Topic)
	require.Equal(t, 1000, cfg.MaxQueueSize)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.Error(t, err)
}
