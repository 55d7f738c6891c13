package biometric

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks the challenge-response protocol.
type Metrics struct {
	ChallengesIssued prometheus.Counter
	Verifications    *prometheus.CounterVec
	Lockouts         prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ChallengesIssued: f.NewCounter(prometheus.CounterOpts{
			Name: "attendguard_biometric_challenges_issued_total",
			Help: "Biometric challenges issued",
		}),
		Verifications: f.NewCounterVec(prometheus.CounterOpts{
			Name: "attendguard_biometric_verifications_total",
			Help: "Biometric verification attempts by result",
		}, []string{"result"}),
		Lockouts: f.NewCounter(prometheus.CounterOpts{
			Name: "attendguard_biometric_lockouts_total",
			Help: "Lockouts started after repeated biometric failures",
		}),
	}
}

func (m *Metrics) IncChallengesIssued() {
	if m != nil {
		m.ChallengesIssued.Inc()
	}
}

func (m *Metrics) IncVerification(code Code) {
	if m != nil {
		m.Verifications.WithLabelValues(string(code)).Inc()
	}
}

func (m *Metrics) IncLockouts() {
	if m != nil {
		m.Lockouts.Inc()
	}
}
