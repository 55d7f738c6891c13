package forwarder

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Sent    prometheus.Counter
	Failed  prometheus.Counter
	Dropped prometheus.Counter
	Queued  prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Sent: f.NewCounter(prometheus.CounterOpts{
			Name: "attendguard_ledger_forwarded_total",
			Help: "Ledger entries delivered to the sink",
		}),
		Failed: f.NewCounter(prometheus.CounterOpts{
			Name: "attendguard_ledger_forward_failures_total",
			Help: "Ledger entries lost to sink errors",
		}),
		Dropped: f.NewCounter(prometheus.CounterOpts{
			Name: "attendguard_ledger_forward_dropped_total",
			Help: "Ledger entries dropped because the buffer was full",
		}),
		Queued: f.NewGauge(prometheus.GaugeOpts{
			Name: "attendguard_ledger_forward_queue_length",
			Help: "Ledger entries waiting to be forwarded",
		}),
	}
}

func (m *Metrics) AddSent(n int) {
	if m != nil {
		m.Sent.Add(float64(n))
	}
}

func (m *Metrics) AddFailed(n int) {
	if m != nil {
		m.Failed.Add(float64(n))
	}
}

func (m *Metrics) IncDropped() {
	if m != nil {
		m.Dropped.Inc()
	}
}

func (m *Metrics) SetQueued(n int) {
	if m != nil {
		m.Queued.Set(float64(n))
	}
}
