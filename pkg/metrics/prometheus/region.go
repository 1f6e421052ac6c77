package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/tilevault/tilevault/pkg/metrics"
	"github.com/tilevault/tilevault/pkg/region"
)

// regionMetrics is the Prometheus implementation of region.Metrics.
type regionMetrics struct {
	activations     prometheus.Counter
	passes          *prometheus.CounterVec
	activeDownloads prometheus.Gauge
}

// NewRegionMetrics creates a new Prometheus-backed region.Metrics instance.
//
// Returns nil if metrics are not enabled (InitRegistry not called).
func NewRegionMetrics() region.Metrics {
	if !metrics.IsEnabled() {
		return nil
	}
	return newRegionMetrics(metrics.GetRegistry())
}

func newRegionMetrics(reg prometheus.Registerer) *regionMetrics {
	return &regionMetrics{
		activations: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "tilevault_region_activations_total",
				Help: "Total number of region download passes started",
			},
		),
		passes: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "tilevault_region_passes_total",
				Help: "Total number of region download passes finished, by terminal phase",
			},
			[]string{"phase"}, // "complete", "complete_with_errors", "quota_exceeded", "inactive"
		),
		activeDownloads: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "tilevault_region_active_downloads",
				Help: "Current number of regions with a running download pass",
			},
		),
	}
}

func (m *regionMetrics) RecordActivation() {
	if m == nil {
		return
	}
	m.activations.Inc()
}

func (m *regionMetrics) RecordTerminal(phase string) {
	if m == nil {
		return
	}
	m.passes.WithLabelValues(phase).Inc()
}

func (m *regionMetrics) RecordActiveDownloads(count int) {
	if m == nil {
		return
	}
	m.activeDownloads.Set(float64(count))
}
