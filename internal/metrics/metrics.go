package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the engine's Prometheus collectors. A nil *Metrics records nothing.
type Metrics struct {
	batchItems  *prometheus.CounterVec
	postings    *prometheus.CounterVec
	allocations *prometheus.CounterVec
	batchTime   *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		batchItems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fleet_billing",
			Name:      "batch_items_total",
			Help:      "Batch items processed, by batch and outcome.",
		}, []string{"batch", "status"}),
		postings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fleet_billing",
			Name:      "ledger_postings_total",
			Help:      "Ledger posting attempts, by source type and result.",
		}, []string{"source_type", "result"}),
		allocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fleet_billing",
			Name:      "allocations_total",
			Help:      "Payment allocation lines written, by target category.",
		}, []string{"category", "overflow"}),
		batchTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "fleet_billing",
			Name:      "batch_duration_seconds",
			Help:      "Wall time of batch runs.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"batch"}),
	}

	reg.MustRegister(m.batchItems, m.postings, m.allocations, m.batchTime)
	return m
}

func (m *Metrics) BatchItem(batch, status string) {
	if m == nil {
		return
	}
	m.batchItems.WithLabelValues(batch, status).Inc()
}

func (m *Metrics) Posting(sourceType, result string) {
	if m == nil {
		return
	}
	m.postings.WithLabelValues(sourceType, result).Inc()
}

func (m *Metrics) Allocation(category string, overflow bool) {
	if m == nil {
		return
	}
	label := "false"
	if overflow {
		label = "true"
	}
	m.allocations.WithLabelValues(category, label).Inc()
}

func (m *Metrics) BatchDuration(batch string, seconds float64) {
	if m == nil {
		return
	}
	m.batchTime.WithLabelValues(batch).Observe(seconds)
}
