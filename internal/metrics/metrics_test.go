package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.BatchItem("posting", "Succeeded")
	m.BatchItem("posting", "Succeeded")
	m.BatchItem("posting", "Failed")
	m.Posting("Allocation", "posted")
	m.Allocation("Lease", true)
	m.BatchDuration("posting", 0.25)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.batchItems.WithLabelValues("posting", "Succeeded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.batchItems.WithLabelValues("posting", "Failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.postings.WithLabelValues("Allocation", "posted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.allocations.WithLabelValues("Lease", "true")))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.BatchItem("association", "Skipped")
		m.Posting("Installment", "duplicate")
		m.Allocation("Repair", false)
		m.BatchDuration("association", 1)
	})
}
