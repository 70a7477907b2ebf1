// Copyright 2024 The Mtsum Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package builder

import (
	m "github.com/mtsum/mtsum/pkg/metrics"
)

type metrics struct {
	BlocksHashed      m.Counter
	InternalNodes     m.Counter
	BytesRead         m.Counter
	BufferWaitSeconds m.Histogram
}

func newMetrics() metrics {
	subsystem := "builder"

	return metrics{
		BlocksHashed: m.NewCounter(m.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "blocks_hashed",
			Help:      "Total leaf blocks read and hashed.",
		}),
		InternalNodes: m.NewCounter(m.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "internal_nodes",
			Help:      "Total internal nodes folded from children.",
		}),
		BytesRead: m.NewCounter(m.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "bytes_read",
			Help:      "Total bytes read from the input file.",
		}),
		BufferWaitSeconds: m.NewHistogram(m.HistogramOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "buffer_wait_seconds",
			Help:      "Histogram of time leaf tasks wait for a free block buffer.",
			Buckets:   []float64{0.001, 0.01, 0.1, 0.5, 1, 2.5, 5, 10},
		}),
	}
}

// Metrics returns the builder's prometheus collectors.
func (b *Builder) Metrics() []m.Collector {
	return m.PrometheusCollectorsFromFields(b.metrics)
}
