package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for check-in evaluation.
type Metrics struct {
	// Decision outcomes by outcome and reason
	Outcomes *prometheus.CounterVec

	// Per-stage latency (resolve, time, geofence, device, biometric, record)
	StageLatency *prometheus.HistogramVec

	EvaluateLatency prometheus.Histogram

	// Inserts retried after losing a sequence race
	SequenceConflicts prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Outcomes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "attendguard_attendance_decisions_total",
			Help: "Attendance decisions by outcome and reason",
		}, []string{"outcome", "reason"}),
		StageLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "attendguard_attendance_stage_duration_seconds",
			Help:    "Duration of each verification stage",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"stage"}),
		EvaluateLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "attendguard_attendance_evaluate_duration_seconds",
			Help:    "Duration of a full check-in evaluation",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}),
		SequenceConflicts: f.NewCounter(prometheus.CounterOpts{
			Name: "attendguard_attendance_sequence_conflicts_total",
			Help: "Attendance inserts that lost a concurrent sequence race",
		}),
	}
}

func (m *Metrics) IncOutcome(outcome, reason string) {
	if m != nil {
		if reason == "" {
			reason = "none"
		}
		m.Outcomes.WithLabelValues(outcome, reason).Inc()
	}
}

func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m != nil {
		m.StageLatency.WithLabelValues(stage).Observe(d.Seconds())
	}
}

func (m *Metrics) ObserveEvaluate(d time.Duration) {
	if m != nil {
		m.EvaluateLatency.Observe(d.Seconds())
	}
}

func (m *Metrics) IncSequenceConflict() {
	if m != nil {
		m.SequenceConflicts.Inc()
	}
}
