package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecorder(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewWithRegisterer(reg)

	r.RecordForecast("gold", "ok", 0.2)
	r.RecordForecast("gold", "ok", 0.3)
	r.RecordError("PredictionDiverged")
	r.RecordSinkError("kafka")

	if got := testutil.ToFloat64(r.forecasts.WithLabelValues("gold", "ok")); got != 2 {
		t.Fatalf("expected 2 forecasts, got %v", got)
	}
	if got := testutil.ToFloat64(r.errorsTotal.WithLabelValues("PredictionDiverged")); got != 1 {
		t.Fatalf("expected 1 error, got %v", got)
	}
	if got := testutil.ToFloat64(r.sinkErrors.WithLabelValues("kafka")); got != 1 {
		t.Fatalf("expected 1 sink error, got %v", got)
	}
}
