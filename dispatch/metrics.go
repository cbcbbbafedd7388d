package dispatch

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics records dispatch outcomes.
// Labels are bounded: trigger kinds and outcome names only.
type Metrics struct {
	total    *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewMetrics creates the dispatch metrics and registers them with reg.
// A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		total: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sipnotify",
			Subsystem: "dispatch",
			Name:      "total",
			Help:      "Total number of dispatched triggers, by trigger and outcome.",
		}, []string{"trigger", "outcome"}),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "sipnotify",
			Subsystem: "dispatch",
			Name:      "duration_seconds",
			Help:      "Time from trigger to result, by trigger.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"trigger"}),
	}
}

func (m *Metrics) observe(trigger, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.total.WithLabelValues(trigger, outcome).Inc()
	m.duration.WithLabelValues(trigger).Observe(d.Seconds())
}
