package ledger

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for ledger writes.
type Metrics struct {
	Appended       *prometheus.CounterVec
	AppendFailures *prometheus.CounterVec
}

// NewMetrics registers ledger metrics with the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Appended: f.NewCounterVec(prometheus.CounterOpts{
			Name: "attendguard_ledger_entries_total",
			Help: "Ledger entries appended by category and severity",
		}, []string{"category", "severity"}),
		AppendFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "attendguard_ledger_append_failures_total",
			Help: "Ledger appends that failed to persist",
		}, []string{"category"}),
	}
}

func (m *Metrics) IncAppended(category Category, severity Severity) {
	if m != nil {
		m.Appended.WithLabelValues(string(category), string(severity)).Inc()
	}
}

func (m *Metrics) IncAppendFailure(category Category) {
	if m != nil {
		m.AppendFailures.WithLabelValues(string(category)).Inc()
	}
}
