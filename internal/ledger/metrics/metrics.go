package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the credit ledger.
type Metrics struct {
	Operations        *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec
	PublishFailures   prometheus.Counter
}

func New() *Metrics {
	return &Metrics{
		Operations: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "hycredit_ledger_operations_total",
			Help: "Ledger mutations by operation and outcome code",
		}, []string{"operation", "outcome"}),
		OperationDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "hycredit_ledger_operation_duration_seconds",
			Help:    "Duration of ledger mutations including the atomic check-and-write",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}, []string{"operation"}),
		PublishFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "hycredit_ledger_event_publish_failures_total",
			Help: "Ledger events that could not be handed to the event stream",
		}),
	}
}

func (m *Metrics) ObserveOperation(operation, outcome string, start time.Time) {
	if m == nil {
		return
	}
	m.Operations.WithLabelValues(operation, outcome).Inc()
	m.OperationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

func (m *Metrics) IncPublishFailures() {
	if m != nil {
		m.PublishFailures.Inc()
	}
}
