package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for the request workflow.
type Metrics struct {
	Submissions      *prometheus.CounterVec
	Transitions      *prometheus.CounterVec
	DecisionLatency  prometheus.Histogram
	EndToEndLatency  *prometheus.HistogramVec
	PendingCommits   prometheus.Gauge
	DeniedOperations *prometheus.CounterVec
}

func New() *Metrics {
	return &Metrics{
		Submissions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "hycredit_workflow_submissions_total",
			Help: "Request submissions by kind and resulting status",
		}, []string{"kind", "status"}),
		Transitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "hycredit_workflow_transitions_total",
			Help: "Persisted request state transitions",
		}, []string{"from", "to"}),
		DecisionLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "hycredit_workflow_decision_latency_seconds",
			Help:    "Time requests spend in pending_review before an auditor decides",
			Buckets: []float64{60, 300, 900, 3600, 4 * 3600, 24 * 3600, 7 * 24 * 3600},
		}),
		EndToEndLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "hycredit_workflow_request_duration_seconds",
			Help:    "Time from submission to terminal status",
			Buckets: []float64{1, 60, 3600, 24 * 3600, 7 * 24 * 3600},
		}, []string{"kind", "status"}),
		PendingCommits: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "hycredit_workflow_commits_pending",
			Help: "Approved requests whose ledger commit has not resolved",
		}),
		DeniedOperations: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "hycredit_workflow_denied_total",
			Help: "Submissions and decisions refused for authorization reasons",
		}, []string{"operation", "code"}),
	}
}

func (m *Metrics) IncSubmission(kind, status string) {
	if m != nil {
		m.Submissions.WithLabelValues(kind, status).Inc()
	}
}

func (m *Metrics) IncTransition(from, to string) {
	if m != nil {
		m.Transitions.WithLabelValues(from, to).Inc()
	}
}

func (m *Metrics) ObserveDecisionLatency(d time.Duration) {
	if m != nil {
		m.DecisionLatency.Observe(d.Seconds())
	}
}

func (m *Metrics) ObserveCompletion(kind, status string, d time.Duration) {
	if m != nil {
		m.EndToEndLatency.WithLabelValues(kind, status).Observe(d.Seconds())
	}
}

func (m *Metrics) AddPendingCommits(delta float64) {
	if m != nil {
		m.PendingCommits.Add(delta)
	}
}

func (m *Metrics) IncDenied(operation, code string) {
	if m != nil {
		m.DeniedOperations.WithLabelValues(operation, code).Inc()
	}
}
