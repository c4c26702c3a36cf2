package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "match"

// Metrics counts match lifecycle and submission outcomes.
type Metrics struct {
	created     prometheus.Counter
	active      prometheus.Gauge
	completed   *prometheus.CounterVec
	submissions *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		created: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_created_total",
			Help:      "Match sessions created.",
		}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Match sessions not yet completed.",
		}),
		completed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_completed_total",
			Help:      "Match sessions completed, by reason.",
		}, []string{"reason"}),
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submissions_total",
			Help:      "Answer submissions, by outcome.",
		}, []string{"outcome"}),
	}
	reg.MustRegister(m.created, m.active, m.completed, m.submissions)
	return m
}

func (m *Metrics) SessionCreated() {
	if m == nil {
		return
	}
	m.created.Inc()
	m.active.Inc()
}

// SessionCompleted records a completion; reason is "finished" or "cancelled".
func (m *Metrics) SessionCompleted(reason string) {
	if m == nil {
		return
	}
	m.active.Dec()
	m.completed.WithLabelValues(reason).Inc()
}

// Submission records an outcome such as "accepted", "duplicate" or "window_closed".
func (m *Metrics) Submission(outcome string) {
	if m == nil {
		return
	}
	m.submissions.WithLabelValues(outcome).Inc()
}
