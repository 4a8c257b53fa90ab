package queue

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metric names as constants for consistency.
const (
	MetricQueueDepth          = "offline_queue_depth"
	MetricQueueReplayedTotal  = "offline_queue_replayed_total"
	MetricQueueReplayFailures = "offline_queue_replay_failures_total"
)

// Metrics contains Prometheus metrics for the offline mutation queue.
// All operations are thread-safe.
type Metrics struct {
	depth          prometheus.Gauge
	replayedTotal  prometheus.Counter
	replayFailures prometheus.Counter
}

// NewMetrics creates and returns a new Metrics instance with all collectors
// initialized. The metrics are not registered; call Register to register
// them with a registry.
func NewMetrics() *Metrics {
	return &Metrics{
		depth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: MetricQueueDepth,
			Help: "Number of mutations waiting for replay",
		}),
		replayedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricQueueReplayedTotal,
			Help: "Total number of queued mutations successfully replayed",
		}),
		replayFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricQueueReplayFailures,
			Help: "Total number of queued mutation replay attempts that failed",
		}),
	}
}

// Register registers all metrics with the given registry.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		m.depth,
		m.replayedTotal,
		m.replayFailures,
	}

	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// SetDepth sets the queue depth gauge.
func (m *Metrics) SetDepth(depth float64) {
	m.depth.Set(depth)
}

// IncReplayed increments the replayed counter.
func (m *Metrics) IncReplayed() {
	m.replayedTotal.Inc()
}

// IncReplayFailures increments the replay failures counter.
func (m *Metrics) IncReplayFailures() {
	m.replayFailures.Inc()
}
