package builder

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts builder work. A nil *Metrics records nothing.
type Metrics struct {
	passes   *prometheus.CounterVec
	splits   *prometheus.CounterVec
	computed *prometheus.CounterVec
	phase    *prometheus.HistogramVec
}

// NewMetrics registers the builder metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		// Labels: op (build, clean)
		passes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mwtree",
			Subsystem: "builder",
			Name:      "passes_total",
			Help:      "Completed split/compute passes",
		}, []string{"op"}),
		splits: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mwtree",
			Subsystem: "builder",
			Name:      "splits_total",
			Help:      "Nodes split by the adaptor",
		}, []string{"op"}),
		computed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mwtree",
			Subsystem: "builder",
			Name:      "computed_nodes_total",
			Help:      "Nodes handed to the calculator",
		}, []string{"op"}),
		// Labels: phase (split, compute)
		phase: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "mwtree",
			Subsystem: "builder",
			Name:      "phase_duration_seconds",
			Help:      "Duration of one builder phase",
			Buckets:   prometheus.ExponentialBuckets(1e-5, 4, 10),
		}, []string{"phase"}),
	}
}

func (m *Metrics) pass(op string, splits, computed int) {
	if m == nil {
		return
	}
	m.passes.WithLabelValues(op).Inc()
	m.splits.WithLabelValues(op).Add(float64(splits))
	m.computed.WithLabelValues(op).Add(float64(computed))
}

func (m *Metrics) observe(phase string, d time.Duration) {
	if m == nil {
		return
	}
	m.phase.WithLabelValues(phase).Observe(d.Seconds())
}
