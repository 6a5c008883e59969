package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"curvefit/domain/fit"
)

const namespace = "curvefit"

// Prometheus holds the fit counters. A nil *Prometheus records nothing, so
// callers never need to check whether metrics are enabled.
type Prometheus struct {
	Fits       *prometheus.CounterVec
	Duration   *prometheus.HistogramVec
	Iterations prometheus.Histogram
}

// NewPrometheusMetrics creates the collectors and registers them with reg.
func NewPrometheusMetrics(reg prometheus.Registerer) (*Prometheus, error) {
	m := &Prometheus{
		Fits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fits_total",
				Help:      "Fit requests by workflow mode and terminal state.",
			}, []string{"mode", "state"}),
		Duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "fit_duration_seconds",
				Help:      "Wall time of one fit pipeline.",
				Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 10),
			}, []string{"mode"}),
		Iterations: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "optimizer_iterations",
				Help:      "Optimizer iterations per fit.",
				Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
			}),
	}
	for _, c := range []prometheus.Collector{m.Fits, m.Duration, m.Iterations} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// ObserveFit records one finished pipeline.
func (m *Prometheus) ObserveFit(mode string, state fit.State, iterations int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.Fits.WithLabelValues(mode, string(state)).Inc()
	m.Duration.WithLabelValues(mode).Observe(elapsed.Seconds())
	if iterations > 0 {
		m.Iterations.Observe(float64(iterations))
	}
}
