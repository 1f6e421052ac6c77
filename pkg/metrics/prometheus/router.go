package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/tilevault/tilevault/pkg/metrics"
	"github.com/tilevault/tilevault/pkg/router"
)

// routerMetrics is the Prometheus implementation of router.Metrics.
type routerMetrics struct {
	resolves      *prometheus.CounterVec
	revalidations *prometheus.CounterVec
}

// NewRouterMetrics creates a new Prometheus-backed router.Metrics instance.
//
// Returns nil if metrics are not enabled (InitRegistry not called).
func NewRouterMetrics() router.Metrics {
	if !metrics.IsEnabled() {
		return nil
	}
	return newRouterMetrics(metrics.GetRegistry())
}

func newRouterMetrics(reg prometheus.Registerer) *routerMetrics {
	return &routerMetrics{
		resolves: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "tilevault_router_resolves_total",
				Help: "Total number of resource resolutions by outcome",
			},
			[]string{"outcome"}, // "hot", "hit", "stale", "miss", "fail_open"
		),
		revalidations: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "tilevault_router_revalidations_total",
				Help: "Total number of background revalidations by outcome",
			},
			[]string{"outcome"}, // "refreshed", "replaced", "failed"
		),
	}
}

func (m *routerMetrics) RecordResolve(outcome string) {
	if m == nil {
		return
	}
	m.resolves.WithLabelValues(outcome).Inc()
}

func (m *routerMetrics) RecordRevalidation(outcome string) {
	if m == nil {
		return
	}
	m.revalidations.WithLabelValues(outcome).Inc()
}
