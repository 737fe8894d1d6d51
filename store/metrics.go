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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	commitMeter = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "batchdb", Subsystem: "store", Name: "commits_total",
		Help: "Outermost atomic batches committed.",
	})
	commitFailureMeter = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "batchdb", Subsystem: "store", Name: "commit_failures_total",
		Help: "Outermost atomic batches that failed the engine write.",
	})
	commitOpsMeter = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "batchdb", Subsystem: "store", Name: "committed_ops_total",
		Help: "Deduplicated operations folded into physical batches.",
	})
)
