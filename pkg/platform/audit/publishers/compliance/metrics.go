package compliance

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks compliance audit persistence per action.
type Metrics struct {
	EventsEmitted   *prometheus.CounterVec
	PersistFailures *prometheus.CounterVec
	PersistDuration prometheus.Histogram
}

func NewMetrics() *Metrics {
	return &Metrics{
		EventsEmitted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "hycredit_compliance_audit_events_total",
			Help: "Compliance audit events persisted, by action",
		}, []string{"action"}),
		PersistFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "hycredit_compliance_audit_failures_total",
			Help: "Compliance audit events that failed to persist, by action",
		}, []string{"action"}),
		PersistDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "hycredit_compliance_audit_persist_duration_seconds",
			Help:    "Duration of synchronous compliance audit writes",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),
	}
}

func (m *Metrics) IncEventsEmitted(action string) {
	if m != nil {
		m.EventsEmitted.WithLabelValues(action).Inc()
	}
}

func (m *Metrics) IncPersistFailures(action string) {
	if m != nil {
		m.PersistFailures.WithLabelValues(action).Inc()
	}
}

func (m *Metrics) ObservePersistDuration(seconds float64) {
	if m != nil {
		m.PersistDuration.Observe(seconds)
	}
}
