package audit

import "github.com/prometheus/client_golang/prometheus"

// Metrics tracks audit ledger activity.
type Metrics struct {
	entriesLogged *prometheus.CounterVec
	totalEntries  prometheus.Gauge
	pendingSync   prometheus.Gauge
	syncBatches   prometheus.Counter
	syncFailures  prometheus.Counter
}

// NewMetrics creates the audit metric set.
func NewMetrics() *Metrics {
	return &Metrics{
		entriesLogged: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "audit_entries_logged_total",
			Help: "Total audit entries appended, by action.",
		}, []string{"action"}),
		totalEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "audit_ledger_entries",
			Help: "Current number of entries held in the ledger.",
		}),
		pendingSync: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "audit_pending_sync_entries",
			Help: "Entries not yet confirmed by the remote compliance endpoint.",
		}),
		syncBatches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "audit_sync_batches_total",
			Help: "Successful sync batches sent to the compliance endpoint.",
		}),
		syncFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "audit_sync_failures_total",
			Help: "Failed attempts to sync entries to the compliance endpoint.",
		}),
	}
}

// Register registers all audit metrics with the given registerer.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		m.entriesLogged,
		m.totalEntries,
		m.pendingSync,
		m.syncBatches,
		m.syncFailures,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// IncLogged counts one appended entry.
func (m *Metrics) IncLogged(action string) {
	m.entriesLogged.WithLabelValues(action).Inc()
}

// SetTotalEntries records the current ledger size.
func (m *Metrics) SetTotalEntries(n float64) {
	m.totalEntries.Set(n)
}

// SetPendingSync records the current unsynced backlog.
func (m *Metrics) SetPendingSync(n float64) {
	m.pendingSync.Set(n)
}

// IncSyncBatch counts one successfully delivered sync batch.
func (m *Metrics) IncSyncBatch() {
	m.syncBatches.Inc()
}

// IncSyncFailure counts one failed sync attempt.
func (m *Metrics) IncSyncFailure() {
	m.syncFailures.Inc()
}
