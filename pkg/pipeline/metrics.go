package pipeline

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics records per-stage timings and failures.
type Metrics struct {
	duration *prometheus.HistogramVec
	failures *prometheus.CounterVec
}

// NewMetrics creates the pipeline collectors and registers them on reg. A
// nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "zkpay_pipeline_stage_duration_seconds",
			Help:    "Time spent in each pipeline stage.",
			Buckets: []float64{.01, .05, .1, .5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"stage"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "zkpay_pipeline_failures_total",
			Help: "Pipeline runs that failed, by stage.",
		}, []string{"stage"}),
	}
	if reg == nil {
		return m, nil
	}
	for _, c := range []prometheus.Collector{m.duration, m.failures} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) observe(stage Stage, start time.Time) {
	m.duration.WithLabelValues(stage.String()).Observe(time.Since(start).Seconds())
}

func (m *Metrics) fail(stage Stage) {
	m.failures.WithLabelValues(stage.String()).Inc()
}
