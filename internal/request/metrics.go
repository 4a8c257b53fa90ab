package request

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metric names as constants for consistency.
const (
	MetricRequestsTotal   = "request_coordinator_requests_total"
	MetricCacheHitsTotal  = "request_coordinator_cache_hits_total"
	MetricDedupHitsTotal  = "request_coordinator_dedup_hits_total"
	MetricRequestDuration = "request_coordinator_duration_seconds"
)

// Request outcome label values.
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
	OutcomeQueued  = "queued"
)

// Metrics contains Prometheus metrics for the request coordinator.
// All operations are thread-safe.
type Metrics struct {
	requestsTotal  *prometheus.CounterVec
	cacheHitsTotal prometheus.Counter
	dedupHitsTotal prometheus.Counter
	duration       prometheus.Histogram
}

// NewMetrics creates and returns a new Metrics instance with all collectors
// initialized. The metrics are not registered; call Register to register
// them with a registry.
func NewMetrics() *Metrics {
	return &Metrics{
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricRequestsTotal,
			Help: "Total number of coordinated requests by outcome",
		}, []string{"outcome"}),
		cacheHitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricCacheHitsTotal,
			Help: "Total number of requests served from the response cache",
		}),
		dedupHitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricDedupHitsTotal,
			Help: "Total number of reads collapsed into an in-flight identical request",
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    MetricRequestDuration,
			Help:    "Histogram of coordinated request duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
		}),
	}
}

// Register registers all metrics with the given registry.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		m.requestsTotal,
		m.cacheHitsTotal,
		m.dedupHitsTotal,
		m.duration,
	}

	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// IncRequests increments the requests counter for an outcome.
func (m *Metrics) IncRequests(outcome string) {
	m.requestsTotal.WithLabelValues(outcome).Inc()
}

// IncCacheHits increments the cache hit counter.
func (m *Metrics) IncCacheHits() {
	m.cacheHitsTotal.Inc()
}

// IncDedupHits increments the dedup hit counter.
func (m *Metrics) IncDedupHits() {
	m.dedupHitsTotal.Inc()
}

// ObserveDuration records a request duration sample.
func (m *Metrics) ObserveDuration(seconds float64) {
	m.duration.Observe(seconds)
}
