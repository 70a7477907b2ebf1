// Copyright 2024 The Mtsum Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package cluster

import (
	m "github.com/mtsum/mtsum/pkg/metrics"
)

type metrics struct {
	RunsCompleted     m.Counter
	LocalBuildSeconds m.Histogram
}

func newMetrics() metrics {
	subsystem := "cluster"

	return metrics{
		RunsCompleted: m.NewCounter(m.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "runs_completed",
			Help:      "Total distributed runs folded to a global root on this rank.",
		}),
		LocalBuildSeconds: m.NewHistogram(m.HistogramOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "local_build_seconds",
			Help:      "Histogram of time spent building the rank-local tree.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300},
		}),
	}
}

// Metrics returns the driver's prometheus collectors.
func (d *Driver) Metrics() []m.Collector {
	return m.PrometheusCollectorsFromFields(d.metrics)
}
