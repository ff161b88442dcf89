package harness

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the per-scenario collectors a Runner updates.
type Metrics struct {
	Ops            *prometheus.CounterVec
	VerifyFailures *prometheus.CounterVec
	Duration       *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Ops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mpsync",
			Name:      "ops_total",
			Help:      "Operations completed by all workers of a scenario.",
		}, []string{"scenario"}),
		VerifyFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mpsync",
			Name:      "verify_failures_total",
			Help:      "Scenario runs whose final state failed verification.",
		}, []string{"scenario"}),
		Duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "mpsync",
			Name:      "scenario_seconds",
			Help:      "Wall time of a scenario run.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"scenario"}),
	}
	reg.MustRegister(m.Ops, m.VerifyFailures, m.Duration)
	return m
}

// Observe records one finished run.
func (m *Metrics) Observe(res Result) {
	m.Ops.WithLabelValues(res.Scenario).Add(float64(res.Ops))
	m.Duration.WithLabelValues(res.Scenario).Observe(res.Elapsed.Seconds())
	if res.Failure != nil {
		m.VerifyFailures.WithLabelValues(res.Scenario).Inc()
	} else {
		// materialize the series so a clean run exports 0
		m.VerifyFailures.WithLabelValues(res.Scenario)
	}
}
