// Copyright 2024 The Mtsum Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package metrics provides the prometheus plumbing shared by the
// components that export collectors.
package metrics

import (
	"reflect"

	"github.com/prometheus/client_golang/prometheus"
)

// Namespace is prefixed before every metric. If it is changed, it must
// be done before any metrics collector is registered.
const Namespace = "mtsum"

// Prometheus type aliases, so component metrics files do not import the
// client library directly.
type (
	Collector     = prometheus.Collector
	Counter       = prometheus.Counter
	CounterOpts   = prometheus.CounterOpts
	Gauge         = prometheus.Gauge
	GaugeOpts     = prometheus.GaugeOpts
	Histogram     = prometheus.Histogram
	HistogramOpts = prometheus.HistogramOpts
	Registry      = prometheus.Registry
)

// Collection is implemented by components that export prometheus
// collectors.
type Collection interface {
	Metrics() []Collector
}

func NewCounter(opts CounterOpts) Counter {
	return prometheus.NewCounter(opts)
}

func NewGauge(opts GaugeOpts) Gauge {
	return prometheus.NewGauge(opts)
}

func NewHistogram(opts HistogramOpts) Histogram {
	return prometheus.NewHistogram(opts)
}

func NewRegistry() *Registry {
	return prometheus.NewRegistry()
}

// PrometheusCollectorsFromFields returns the prometheus collectors found
// among the exported fields of i, so that component metrics structs can
// be registered wholesale.
func PrometheusCollectorsFromFields(i interface{}) (cs []prometheus.Collector) {
	v := reflect.Indirect(reflect.ValueOf(i))
	for n := 0; n < v.NumField(); n++ {
		if !v.Field(n).CanInterface() {
			continue
		}
		if u, ok := v.Field(n).Interface().(prometheus.Collector); ok {
			cs = append(cs, u)
		}
	}
	return cs
}
