package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain repository.Metrics using Prometheus.
type Recorder struct {
	forecasts     *prometheus.CounterVec
	latency       *prometheus.HistogramVec
	errorsTotal   *prometheus.CounterVec
	steps         *prometheus.HistogramVec
	artifactLoads *prometheus.CounterVec
	artifactTime  *prometheus.HistogramVec
	sinkErrors    *prometheus.CounterVec
}

// New registers the collectors on the default registry.
func New() *Recorder {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

// NewWithRegisterer registers the collectors on reg.
func NewWithRegisterer(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		forecasts: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pricecast_forecasts_total",
				Help: "Forecast requests by instrument and result",
			},
			[]string{"instrument", "result"},
		),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pricecast_forecast_duration_seconds",
				Help:    "End-to-end forecast duration",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"instrument"},
		),
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pricecast_errors_total",
				Help: "Errors by taxonomy kind",
			},
			[]string{"kind"},
		),
		steps: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pricecast_forecast_horizon_steps",
				Help:    "Autoregressive steps per forecast",
				Buckets: []float64{1, 7, 30, 90, 180, 365},
			},
			[]string{"instrument"},
		),
		artifactLoads: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pricecast_artifact_loads_total",
				Help: "Artifact loads by instrument and result",
			},
			[]string{"instrument", "result"},
		),
		artifactTime: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pricecast_artifact_load_seconds",
				Help:    "Artifact load duration",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"instrument"},
		),
		sinkErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pricecast_sink_errors_total",
				Help: "Failed forecast event writes by backend",
			},
			[]string{"backend"},
		),
	}
}

func (r *Recorder) RecordForecast(instrument, result string, seconds float64) {
	r.forecasts.WithLabelValues(instrument, result).Inc()
	r.latency.WithLabelValues(instrument).Observe(seconds)
}

func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

func (r *Recorder) RecordSteps(instrument string, steps int) {
	r.steps.WithLabelValues(instrument).Observe(float64(steps))
}

func (r *Recorder) RecordArtifactLoad(instrument, result string, seconds float64) {
	r.artifactLoads.WithLabelValues(instrument, result).Inc()
	r.artifactTime.WithLabelValues(instrument).Observe(seconds)
}

func (r *Recorder) RecordSinkError(backend string) {
	r.sinkErrors.WithLabelValues(backend).Inc()
}
