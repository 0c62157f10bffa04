// Package metrics holds the Prometheus instruments for the Bridge server.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Summary outcomes.
const (
	OutcomeSuccess             = "success"
	OutcomeRateLimited         = "rate_limited"
	OutcomeUpstreamRejected    = "upstream_rejected"
	OutcomeUpstreamUnavailable = "upstream_unavailable"
	OutcomeInvalid             = "invalid"
	OutcomeError               = "error"
)

// Metrics holds all custom Prometheus metrics for the application.
type Metrics struct {
	registry *prometheus.Registry

	SummaryRequests     *prometheus.CounterVec
	SummaryLatency      prometheus.Histogram
	IndexRebuilds       *prometheus.CounterVec
	IndexRebuildLatency prometheus.Histogram
	SymptomsLogged      prometheus.Counter
	Backups             *prometheus.CounterVec
	IndexedUsers        prometheus.GaugeFunc
}

// New registers the Bridge metrics on a dedicated registry. indexedUsers,
// when non-nil, backs the bridge_indexed_users gauge.
func New(indexedUsers func() float64) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	m := &Metrics{
		registry: reg,

		SummaryRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bridge_summary_requests_total",
			Help: "Summary requests by outcome",
		}, []string{"outcome"}),

		// Upstream LLM calls are bounded by the summary timeout.
		SummaryLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "bridge_summary_duration_seconds",
			Help:    "Summary composition latency in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 20, 30, 60},
		}),

		IndexRebuilds: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bridge_index_rebuilds_total",
			Help: "Per-user symptom index rebuilds by result",
		}, []string{"result"}),

		IndexRebuildLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "bridge_index_rebuild_duration_seconds",
			Help:    "Per-user symptom index rebuild latency in seconds",
			Buckets: prometheus.DefBuckets,
		}),

		SymptomsLogged: factory.NewCounter(prometheus.CounterOpts{
			Name: "bridge_symptoms_logged_total",
			Help: "Symptom entries appended to the ledger",
		}),

		Backups: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bridge_backups_total",
			Help: "Database backups by result",
		}, []string{"result"}),
	}

	if indexedUsers != nil {
		m.IndexedUsers = factory.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "bridge_indexed_users",
			Help: "Users with an in-memory symptom index",
		}, indexedUsers)
	}

	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveSummary records one summary request.
func (m *Metrics) ObserveSummary(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.SummaryRequests.WithLabelValues(outcome).Inc()
	m.SummaryLatency.Observe(d.Seconds())
}

// ObserveRebuild records one index rebuild.
func (m *Metrics) ObserveRebuild(err error, d time.Duration) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.IndexRebuilds.WithLabelValues(result).Inc()
	m.IndexRebuildLatency.Observe(d.Seconds())
}

// SymptomLogged counts one ledger append.
func (m *Metrics) SymptomLogged() {
	if m == nil {
		return
	}
	m.SymptomsLogged.Inc()
}

// ObserveBackup records one backup run.
func (m *Metrics) ObserveBackup(err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.Backups.WithLabelValues(result).Inc()
}
