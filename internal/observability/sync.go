package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SyncMetrics instruments the reconciler and the catalog pull. A nil
// *SyncMetrics is valid and records nothing.
type SyncMetrics struct {
	outcomes      *prometheus.CounterVec
	sweeps        *prometheus.CounterVec
	sweepDuration prometheus.Histogram
	backlog       *prometheus.GaugeVec
	catalogPulls  *prometheus.CounterVec
}

func NewSyncMetrics(registerer prometheus.Registerer) *SyncMetrics {
	outcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "kasirinaja_sync_records_total",
		Help: "Record submissions by kind and result (synced, failed, skipped).",
	}, []string{"kind", "result"})
	sweeps := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "kasirinaja_sync_sweeps_total",
		Help: "Sync sweeps by trigger source.",
	}, []string{"source"})
	duration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "kasirinaja_sync_sweep_duration_seconds",
		Help:    "Duration of a full sync sweep.",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
	})
	backlog := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "kasirinaja_sync_backlog",
		Help: "Records not yet confirmed by the server, by sync status.",
	}, []string{"status"})
	pulls := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "kasirinaja_catalog_pulls_total",
		Help: "Catalog mirror pulls by result.",
	}, []string{"result"})
	registerer.MustRegister(outcomes, sweeps, duration, backlog, pulls)
	return &SyncMetrics{
		outcomes:      outcomes,
		sweeps:        sweeps,
		sweepDuration: duration,
		backlog:       backlog,
		catalogPulls:  pulls,
	}
}

func (m *SyncMetrics) RecordOutcome(kind string, result string) {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues(kind, result).Inc()
}

// SweepTimer is started before a sweep and stopped with its backlog.
type SweepTimer struct {
	metrics *SyncMetrics
	start   time.Time
}

func (m *SyncMetrics) StartSweep(source string) *SweepTimer {
	if m != nil {
		m.sweeps.WithLabelValues(source).Inc()
	}
	return &SweepTimer{metrics: m, start: time.Now()}
}

func (t *SweepTimer) End(pending int, failed int) {
	if t == nil || t.metrics == nil {
		return
	}
	t.metrics.sweepDuration.Observe(time.Since(t.start).Seconds())
	t.metrics.SetBacklog(pending, failed)
}

func (m *SyncMetrics) SetBacklog(pending int, failed int) {
	if m == nil {
		return
	}
	m.backlog.WithLabelValues("pending").Set(float64(pending))
	m.backlog.WithLabelValues("failed").Set(float64(failed))
}

func (m *SyncMetrics) RecordCatalogPull(success bool) {
	if m == nil {
		return
	}
	result := "success"
	if !success {
		result = "failure"
	}
	m.catalogPulls.WithLabelValues(result).Inc()
}
