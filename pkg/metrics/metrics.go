// Package metrics holds the Prometheus instruments of the populator.
//
// A nil *Metrics is valid and records nothing, so components can be built
// without a registry in tests.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "populator"

// Upstream request outcomes
const (
	OutcomeOK      = "ok"
	OutcomeError   = "error"
	OutcomeAbsent  = "absent"
	OutcomeSkipped = "skipped"
)

// Metrics groups the collectors registered for one process.
type Metrics struct {
	RecordsUpserted  *prometheus.CounterVec
	RecordsSkipped   *prometheus.CounterVec
	UpstreamRequests *prometheus.CounterVec
	RewardFallbacks  *prometheus.CounterVec
	RunDuration      *prometheus.HistogramVec
	LastSuccess      prometheus.Gauge
}

// New registers all collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		RecordsUpserted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "records_upserted_total",
			Help:      "Total records written by the reconciliation engine",
		}, []string{"family"}),

		RecordsSkipped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "normalizer",
			Name:      "records_skipped_total",
			Help:      "Total records skipped as malformed or unwritable",
		}, []string{"family"}),

		UpstreamRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "requests_total",
			Help:      "Total upstream requests by source and outcome",
		}, []string{"source", "outcome"}),

		RewardFallbacks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rewards",
			Name:      "placeholder_total",
			Help:      "Total wallets served with placeholder rewards",
		}, []string{"reason"}),

		RunDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "run",
			Name:      "duration_seconds",
			Help:      "Population run duration by final state",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		}, []string{"state"}),

		LastSuccess: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "run",
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last completed population run",
		}),
	}
}

// Upserted counts one written record of family.
func (m *Metrics) Upserted(family string) {
	if m == nil {
		return
	}
	m.RecordsUpserted.WithLabelValues(family).Inc()
}

// Skipped counts one skipped record of family.
func (m *Metrics) Skipped(family string) {
	if m == nil {
		return
	}
	m.RecordsSkipped.WithLabelValues(family).Inc()
}

// Upstream counts one request against source with the given outcome.
func (m *Metrics) Upstream(source, outcome string) {
	if m == nil {
		return
	}
	m.UpstreamRequests.WithLabelValues(source, outcome).Inc()
}

// Fallback counts one wallet served by the placeholder generator.
func (m *Metrics) Fallback(reason string) {
	if m == nil {
		return
	}
	m.RewardFallbacks.WithLabelValues(reason).Inc()
}

// RunFinished observes a run of the given final state.
func (m *Metrics) RunFinished(state string, took time.Duration, finishedAt time.Time, succeeded bool) {
	if m == nil {
		return
	}
	m.RunDuration.WithLabelValues(state).Observe(took.Seconds())
	if succeeded {
		m.LastSuccess.Set(float64(finishedAt.Unix()))
	}
}
