// Package prometheus provides Prometheus-backed implementations of the
// component metrics interfaces. All constructors return nil when metrics
// are not enabled, and every method tolerates a nil receiver, so callers
// never need to special-case disabled metrics.
package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/tilevault/tilevault/pkg/cache"
	"github.com/tilevault/tilevault/pkg/metrics"
)

// cacheMetrics is the Prometheus implementation of cache.Metrics.
type cacheMetrics struct {
	ambientSize  prometheus.Gauge
	evictions    prometheus.Counter
	evictedBytes prometheus.Counter
	clears       prometheus.Counter
	clearedBytes prometheus.Counter
}

// NewCacheMetrics creates a new Prometheus-backed cache.Metrics instance.
//
// Returns nil if metrics are not enabled (InitRegistry not called).
func NewCacheMetrics() cache.Metrics {
	if !metrics.IsEnabled() {
		return nil
	}
	return newCacheMetrics(metrics.GetRegistry())
}

func newCacheMetrics(reg prometheus.Registerer) *cacheMetrics {
	return &cacheMetrics{
		ambientSize: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "tilevault_cache_ambient_size_bytes",
				Help: "Total size in bytes of ambient (unlinked) resources",
			},
		),
		evictions: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "tilevault_cache_evictions_total",
				Help: "Total number of resources evicted from the ambient cache",
			},
		),
		evictedBytes: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "tilevault_cache_evicted_bytes_total",
				Help: "Total bytes reclaimed by ambient cache eviction",
			},
		),
		clears: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "tilevault_cache_clears_total",
				Help: "Total number of explicit ambient cache clears",
			},
		),
		clearedBytes: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "tilevault_cache_cleared_bytes_total",
				Help: "Total bytes removed by explicit ambient cache clears",
			},
		),
	}
}

func (m *cacheMetrics) RecordAmbientSize(bytes int64) {
	if m == nil {
		return
	}
	m.ambientSize.Set(float64(bytes))
}

func (m *cacheMetrics) RecordEviction(freedBytes int64) {
	if m == nil {
		return
	}
	m.evictions.Inc()
	m.evictedBytes.Add(float64(freedBytes))
}

func (m *cacheMetrics) RecordClear(freedBytes int64) {
	if m == nil {
		return
	}
	m.clears.Inc()
	m.clearedBytes.Add(float64(freedBytes))
}
