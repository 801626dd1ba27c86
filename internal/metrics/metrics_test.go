package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.Mutation("revisorStatus", OutcomeApplied)
	m.Mutation("revisorStatus", OutcomeApplied)
	m.Mutation("revisorStatus", OutcomeRejected)
	m.BulkItems("revisorStatus", ResultSkipped, 2)
	m.BulkItems("revisorStatus", ResultApplied, 0)
	m.CacheEvent("hit")
	m.CommitDuration(time.Now())

	assert.Equal(t, 2.0, testutil.ToFloat64(m.mutations.WithLabelValues("revisorStatus", OutcomeApplied)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.mutations.WithLabelValues("revisorStatus", OutcomeRejected)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.bulkItems.WithLabelValues("revisorStatus", ResultSkipped)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.cacheEvents.WithLabelValues("hit")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.commitDuration))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Mutation("x", OutcomeApplied)
		m.BulkItems("x", ResultApplied, 3)
		m.CacheEvent("miss")
		m.CommitDuration(time.Now())
	})
}
