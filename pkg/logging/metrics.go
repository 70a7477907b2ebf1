// Copyright 2024 The Mtsum Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package logging

import (
	"github.com/sirupsen/logrus"

	m "github.com/mtsum/mtsum/pkg/metrics"
)

// metrics counts emitted log lines per level as a logrus hook.
type metrics struct {
	ErrorCount m.Counter
	WarnCount  m.Counter
	InfoCount  m.Counter
	DebugCount m.Counter
	TraceCount m.Counter
}

func newMetrics() metrics {
	const subsystem = "log"

	return metrics{
		ErrorCount: m.NewCounter(m.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "error_count",
			Help:      "Number of ERROR log messages.",
		}),
		WarnCount: m.NewCounter(m.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "warn_count",
			Help:      "Number of WARN log messages.",
		}),
		InfoCount: m.NewCounter(m.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "info_count",
			Help:      "Number of INFO log messages.",
		}),
		DebugCount: m.NewCounter(m.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "debug_count",
			Help:      "Number of DEBUG log messages.",
		}),
		TraceCount: m.NewCounter(m.CounterOpts{
			Namespace: m.Namespace,
			Subsystem: subsystem,
			Name:      "trace_count",
			Help:      "Number of TRACE log messages.",
		}),
	}
}

// Levels implements logrus.Hook.
func (metrics) Levels() []logrus.Level {
	return logrus.AllLevels
}

// Fire implements logrus.Hook.
func (c metrics) Fire(entry *logrus.Entry) error {
	switch entry.Level {
	case logrus.PanicLevel, logrus.FatalLevel, logrus.ErrorLevel:
		c.ErrorCount.Inc()
	case logrus.WarnLevel:
		c.WarnCount.Inc()
	case logrus.InfoLevel:
		c.InfoCount.Inc()
	case logrus.DebugLevel:
		c.DebugCount.Inc()
	default:
		c.TraceCount.Inc()
	}
	return nil
}

// Metrics returns the hook's prometheus collectors.
func (l *logger) Metrics() []m.Collector {
	return m.PrometheusCollectorsFromFields(l.metrics)
}
