// Package metrics exposes Prometheus collectors for the workflow engine.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Mutation outcomes.
const (
	OutcomeApplied   = "applied"
	OutcomeRejected  = "rejected"
	OutcomeUnchanged = "unchanged"
	OutcomeFailed    = "failed"
)

// Bulk item results.
const (
	ResultApplied = "applied"
	ResultSkipped = "skipped"
)

// Metrics holds the engine's collectors. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	mutations      *prometheus.CounterVec
	bulkItems      *prometheus.CounterVec
	commitDuration prometheus.Histogram
	cacheEvents    *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		mutations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "aforo",
				Name:      "mutations_total",
				Help:      "Single-case mutations by field and outcome.",
			},
			[]string{"field", "outcome"},
		),
		bulkItems: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "aforo",
				Name:      "bulk_items_total",
				Help:      "Cases processed by bulk mutations by field and result.",
			},
			[]string{"field", "result"},
		),
		commitDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "aforo",
				Name:      "commit_duration_seconds",
				Help:      "Time spent committing a unit of work.",
				Buckets:   prometheus.DefBuckets,
			},
		),
		cacheEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "aforo",
				Name:      "readmodel_cache_events_total",
				Help:      "Read-model cache hits, misses and invalidations.",
			},
			[]string{"kind"},
		),
	}
	reg.MustRegister(m.mutations, m.bulkItems, m.commitDuration, m.cacheEvents)
	return m
}

// Mutation counts one single-case mutation.
func (m *Metrics) Mutation(field, outcome string) {
	if m == nil {
		return
	}
	m.mutations.WithLabelValues(field, outcome).Inc()
}

// BulkItems counts n cases of a bulk mutation.
func (m *Metrics) BulkItems(field, result string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.bulkItems.WithLabelValues(field, result).Add(float64(n))
}

// CommitDuration records the time since start.
func (m *Metrics) CommitDuration(start time.Time) {
	if m == nil {
		return
	}
	m.commitDuration.Observe(time.Since(start).Seconds())
}

// CacheEvent counts a read-model cache event.
func (m *Metrics) CacheEvent(kind string) {
	if m == nil {
		return
	}
	m.cacheEvents.WithLabelValues(kind).Inc()
}
