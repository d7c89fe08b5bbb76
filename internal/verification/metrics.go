package verification

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Verdicts       *prometheus.CounterVec
	SourceLatency  *prometheus.HistogramVec
	SourceFailures *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	return &Metrics{
		Verdicts: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "hycredit_verification_verdicts_total",
			Help: "Verification verdicts by measurement kind",
		}, []string{"kind", "verdict"}),
		SourceLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "hycredit_verification_source_duration_seconds",
			Help:    "Latency of measurement source lookups",
			Buckets: prometheus.DefBuckets,
		}, []string{"source"}),
		SourceFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "hycredit_verification_source_failures_total",
			Help: "Measurement source lookups that returned an error",
		}, []string{"source"}),
	}
}

func (m *Metrics) ObserveVerdict(kind string, verdict Verdict) {
	if m != nil {
		m.Verdicts.WithLabelValues(kind, string(verdict)).Inc()
	}
}

func (m *Metrics) ObserveSource(name string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.SourceLatency.WithLabelValues(name).Observe(d.Seconds())
	if err != nil {
		m.SourceFailures.WithLabelValues(name).Inc()
	}
}
