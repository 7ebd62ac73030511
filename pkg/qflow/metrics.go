package qflow

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/quatton/apsflow/pkg/qrunner"
)

// Metrics are the workflow counters exported on /metrics.
type Metrics struct {
	submitted   *prometheus.CounterVec
	finished    *prometheus.CounterVec
	duration    prometheus.Histogram
	transferred *prometheus.CounterVec
}

// NewMetrics creates and registers the collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		submitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "apsflow",
			Subsystem: "workflow",
			Name:      "jobs_submitted_total",
			Help:      "Work items submitted, by activity.",
		}, []string{"activity"}),
		finished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "apsflow",
			Subsystem: "workflow",
			Name:      "jobs_finished_total",
			Help:      "Work items observed in a terminal status.",
		}, []string{"status"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "apsflow",
			Subsystem: "workflow",
			Name:      "job_wait_seconds",
			Help:      "Time from the start of the wait to a terminal status as seen by the poller.",
			Buckets:   []float64{10, 30, 60, 120, 300, 600, 1200, 3600},
		}),
		transferred: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "apsflow",
			Subsystem: "workflow",
			Name:      "transferred_bytes_total",
			Help:      "Bytes moved through signed URLs, by direction.",
		}, []string{"direction"}),
	}
	reg.MustRegister(m.submitted, m.finished, m.duration, m.transferred)
	return m
}

func (m *Metrics) jobSubmitted(activity string) {
	if m == nil {
		return
	}
	m.submitted.WithLabelValues(activity).Inc()
}

func (m *Metrics) jobFinished(status qrunner.Status, seconds float64) {
	if m == nil {
		return
	}
	m.finished.WithLabelValues(string(status)).Inc()
	m.duration.Observe(seconds)
}

func (m *Metrics) bytes(direction string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.transferred.WithLabelValues(direction).Add(float64(n))
}
