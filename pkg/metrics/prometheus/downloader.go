package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/tilevault/tilevault/pkg/downloader"
	"github.com/tilevault/tilevault/pkg/metrics"
)

// downloaderMetrics is the Prometheus implementation of downloader.Metrics.
type downloaderMetrics struct {
	fetches       *prometheus.CounterVec
	fetchDuration *prometheus.HistogramVec
	retries       prometheus.Counter
	shared        prometheus.Counter
	queueDepth    *prometheus.GaugeVec
	inFlight      prometheus.Gauge
}

// NewDownloaderMetrics creates a new Prometheus-backed downloader.Metrics
// instance.
//
// Returns nil if metrics are not enabled (InitRegistry not called).
func NewDownloaderMetrics() downloader.Metrics {
	if !metrics.IsEnabled() {
		return nil
	}
	return newDownloaderMetrics(metrics.GetRegistry())
}

func newDownloaderMetrics(reg prometheus.Registerer) *downloaderMetrics {
	return &downloaderMetrics{
		fetches: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "tilevault_downloader_fetches_total",
				Help: "Total number of completed fetches by result",
			},
			[]string{"result"}, // "success", "not_modified", "errored", "canceled"
		),
		fetchDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "tilevault_downloader_fetch_duration_milliseconds",
				Help: "Duration of fetches in milliseconds, including retries and the store commit",
				Buckets: []float64{
					1,     // 1ms - local test origins
					5,     // 5ms
					10,    // 10ms
					50,    // 50ms - nearby CDN edge
					100,   // 100ms
					250,   // 250ms
					500,   // 500ms
					1000,  // 1s
					5000,  // 5s - retried transfers
					30000, // 30s
				},
			},
			[]string{"result"},
		),
		retries: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "tilevault_downloader_retries_total",
				Help: "Total number of retries of transient fetch failures",
			},
		),
		shared: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "tilevault_downloader_shared_total",
				Help: "Total number of requests that attached to an in-flight fetch",
			},
		),
		queueDepth: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tilevault_downloader_queue_depth",
				Help: "Current number of queued fetches per priority",
			},
			[]string{"priority"}, // "region", "ambient"
		),
		inFlight: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "tilevault_downloader_in_flight",
				Help: "Current number of registered fetches, queued and transferring",
			},
		),
	}
}

func (m *downloaderMetrics) RecordFetch(result string, duration time.Duration) {
	if m == nil {
		return
	}
	m.fetches.WithLabelValues(result).Inc()
	m.fetchDuration.WithLabelValues(result).Observe(duration.Seconds() * 1000)
}

func (m *downloaderMetrics) RecordRetry() {
	if m == nil {
		return
	}
	m.retries.Inc()
}

func (m *downloaderMetrics) RecordShared() {
	if m == nil {
		return
	}
	m.shared.Inc()
}

func (m *downloaderMetrics) RecordQueueDepth(region, ambient int) {
	if m == nil {
		return
	}
	m.queueDepth.WithLabelValues("region").Set(float64(region))
	m.queueDepth.WithLabelValues("ambient").Set(float64(ambient))
}

func (m *downloaderMetrics) RecordInFlight(count int) {
	if m == nil {
		return
	}
	m.inFlight.Set(float64(count))
}
