package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics covers the commit path from lock acquisition to confirmation.
type Metrics struct {
	Commits        *prometheus.CounterVec
	CommitDuration *prometheus.HistogramVec
	LockWait       prometheus.Histogram
	SubmitRetries  prometheus.Counter
	InFlight       prometheus.Gauge
	BreakerChanges *prometheus.CounterVec
	ReceiptPolls   prometheus.Counter
	Settling       prometheus.Gauge
}

func New() *Metrics {
	return &Metrics{
		Commits: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "hycredit_ledgersync_commits_total",
			Help: "Ledger commits by operation, outcome status and failure code",
		}, []string{"operation", "status", "code"}),
		CommitDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "hycredit_ledgersync_commit_duration_seconds",
			Help:    "Time from commit start to resolved outcome",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"operation", "status"}),
		LockWait: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "hycredit_ledgersync_lock_wait_seconds",
			Help:    "Time spent waiting for the per-credit lock",
			Buckets: []float64{0.0001, 0.001, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}),
		SubmitRetries: promauto.NewCounter(prometheus.CounterOpts{
			Name: "hycredit_ledgersync_submit_retries_total",
			Help: "Chain submissions retried after a transient failure",
		}),
		InFlight: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "hycredit_ledgersync_commits_in_flight",
			Help: "Commits currently running",
		}),
		BreakerChanges: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "hycredit_ledgersync_breaker_transitions_total",
			Help: "Chain circuit breaker state transitions",
		}, []string{"to"}),
		ReceiptPolls: promauto.NewCounter(prometheus.CounterOpts{
			Name: "hycredit_ledgersync_receipt_polls_total",
			Help: "Receipt queries issued while awaiting confirmation",
		}),
		Settling: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "hycredit_ledgersync_credits_settling",
			Help: "Credits kept locked until an unconfirmed transaction is final",
		}),
	}
}

func (m *Metrics) ObserveCommit(operation, status, code string, start time.Time) {
	if m == nil {
		return
	}
	m.Commits.WithLabelValues(operation, status, code).Inc()
	m.CommitDuration.WithLabelValues(operation, status).Observe(time.Since(start).Seconds())
}

func (m *Metrics) ObserveLockWait(d time.Duration) {
	if m != nil {
		m.LockWait.Observe(d.Seconds())
	}
}

func (m *Metrics) IncSubmitRetries() {
	if m != nil {
		m.SubmitRetries.Inc()
	}
}

func (m *Metrics) IncReceiptPolls() {
	if m != nil {
		m.ReceiptPolls.Inc()
	}
}

func (m *Metrics) AddInFlight(delta float64) {
	if m != nil {
		m.InFlight.Add(delta)
	}
}

func (m *Metrics) IncBreakerTransition(to string) {
	if m != nil {
		m.BreakerChanges.WithLabelValues(to).Inc()
	}
}

func (m *Metrics) AddSettling(delta float64) {
	if m != nil {
		m.Settling.Add(delta)
	}
}
