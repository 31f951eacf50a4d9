package forecast

import (
	"context"
	"errors"
	"math"
	"testing"

	"PriceCast/internal/domain/models"
	domsvc "PriceCast/internal/domain/service"
)

// scaleBy divides technical columns by k and counts calls.
type scaleBy struct {
	k             float64
	n             int
	transforms    int
	inverses      int
	inverseRows   []int
	corruptInvert bool
}

func (s *scaleBy) InputFeatureCount() int { return s.n }

func (s *scaleBy) Transform(x models.Matrix) (models.Matrix, error) {
	s.transforms++
	out := x.Clone()
	for _, row := range out {
		for j := range row {
			row[j] /= s.k
		}
	}
	return out, nil
}

func (s *scaleBy) InverseTransform(x models.Matrix) (models.Matrix, error) {
	s.inverses++
	s.inverseRows = append(s.inverseRows, len(x))
	out := x.Clone()
	for _, row := range out {
		for j := range row {
			row[j] *= s.k
			if s.corruptInvert {
				row[j] = math.NaN()
			}
		}
	}
	return out, nil
}

type source struct {
	single domsvc.Normalizer
	assets map[string]domsvc.Normalizer
}

func (s source) NormalizerFor(asset string) (domsvc.Normalizer, error) {
	if s.assets == nil {
		return s.single, nil
	}
	n, ok := s.assets[asset]
	if !ok {
		return nil, models.ErrUnknownAsset
	}
	return n, nil
}

func (s source) Assets() []string { return nil }

// scripted returns the last window row with each column increased by step,
// and records the windows it saw.
type scripted struct {
	calls   int
	nanAt   int
	windows []models.Matrix
	emit    func(call int, window models.Matrix) []float64
}

func (p *scripted) Predict(_ context.Context, window models.Matrix) ([]float64, error) {
	p.calls++
	p.windows = append(p.windows, window.Clone())
	if p.nanAt == p.calls {
		out := make([]float64, len(window[0]))
		out[0] = math.NaN()
		return out, nil
	}
	if p.emit != nil {
		return p.emit(p.calls, window), nil
	}
	last := window[len(window)-1]
	out := make([]float64, len(last))
	for j, v := range last {
		out[j] = v + 0.01
	}
	return out, nil
}

func history(rows, cols int, start float64) models.Matrix {
	m := make(models.Matrix, rows)
	for i := range m {
		m[i] = make([]float64, cols)
		for j := range m[i] {
			m[i][j] = start + float64(i)
		}
	}
	return m
}

func goldLayout(t *testing.T) models.FeatureLayout {
	t.Helper()
	l, err := models.NewFeatureLayout([]string{"open", "high", "low", "close"}, nil, "close")
	if err != nil {
		t.Fatalf("layout: %v", err)
	}
	return l
}

func equityLayout(t *testing.T) models.FeatureLayout {
	t.Helper()
	l, err := models.NewFeatureLayout([]string{"open", "high", "low", "close"}, []string{"is_AAPL", "is_MSFT"}, "close")
	if err != nil {
		t.Fatalf("layout: %v", err)
	}
	return l
}

func TestForecastShapeAndWindowLength(t *testing.T) {
	eng := NewEngine(30)
	norm := &scaleBy{k: 100, n: 4}
	pred := &scripted{}
	req := models.ForecastRequest{Kind: models.SingleAsset, Horizon: 45, History: history(40, 4, 1000)}

	res, err := eng.Forecast(context.Background(), pred, source{single: norm}, req, goldLayout(t))
	if err != nil {
		t.Fatalf("forecast: %v", err)
	}
	if res.Horizon() != 45 || !res.Rows.Rectangular(4) {
		t.Fatalf("unexpected result shape %dx%d", res.Rows.Rows(), res.Rows.Cols())
	}
	if pred.calls != 45 {
		t.Fatalf("expected 45 predictor calls, got %d", pred.calls)
	}
	for i, w := range pred.windows {
		if w.Rows() != 30 {
			t.Fatalf("call %d: window has %d rows", i+1, w.Rows())
		}
	}
	if norm.inverses != 1 || norm.inverseRows[0] != 45 {
		t.Fatalf("expected one batched inverse call over 45 rows, got %v", norm.inverseRows)
	}
}

func TestForecastUsesMostRecentHistory(t *testing.T) {
	eng := NewEngine(30)
	norm := &scaleBy{k: 1, n: 4}
	pred := &scripted{}
	req := models.ForecastRequest{Kind: models.SingleAsset, Horizon: 1, History: history(35, 4, 0)}

	if _, err := eng.Forecast(context.Background(), pred, source{single: norm}, req, goldLayout(t)); err != nil {
		t.Fatalf("forecast: %v", err)
	}
	if first := pred.windows[0][0][0]; first != 5 {
		t.Fatalf("expected window to start at row 5, got %v", first)
	}
}

func TestForecastFeedsPredictionBack(t *testing.T) {
	eng := NewEngine(3)
	norm := &scaleBy{k: 10, n: 4}
	pred := &scripted{emit: func(call int, _ models.Matrix) []float64 {
		v := float64(call)
		return []float64{v, v, v, v}
	}}
	req := models.ForecastRequest{Kind: models.SingleAsset, Horizon: 3, History: history(3, 4, 10)}

	res, err := eng.Forecast(context.Background(), pred, source{single: norm}, req, goldLayout(t))
	if err != nil {
		t.Fatalf("forecast: %v", err)
	}
	// Third call: last seed row scaled (12/10), then predictions 1 and 2 as emitted.
	w := pred.windows[2]
	if w[0][0] != 1.2 || w[1][0] != 1 || w[2][0] != 2 {
		t.Fatalf("unexpected third window %v", w)
	}
	closes := res.Close()
	if closes[0] != 10 || closes[1] != 20 || closes[2] != 30 {
		t.Fatalf("unexpected denormalized closes %v", closes)
	}
}

func TestForecastScaledSeedIsNotTransformed(t *testing.T) {
	eng := NewEngine(2)
	norm := &scaleBy{k: 10, n: 4}
	pred := &scripted{}
	req := models.ForecastRequest{Kind: models.SingleAsset, Horizon: 2, History: history(2, 4, 0.5), Scaled: true}

	if _, err := eng.Forecast(context.Background(), pred, source{single: norm}, req, goldLayout(t)); err != nil {
		t.Fatalf("forecast: %v", err)
	}
	if norm.transforms != 0 {
		t.Fatalf("expected no transform calls, got %d", norm.transforms)
	}
	if pred.windows[0][0][0] != 0.5 {
		t.Fatalf("scaled seed altered: %v", pred.windows[0])
	}
}

func TestForecastNaNStopsLoop(t *testing.T) {
	eng := NewEngine(30)
	norm := &scaleBy{k: 1, n: 4}
	pred := &scripted{nanAt: 3}
	req := models.ForecastRequest{Kind: models.SingleAsset, Horizon: 10, History: history(30, 4, 1)}

	res, err := eng.Forecast(context.Background(), pred, source{single: norm}, req, goldLayout(t))
	if !errors.Is(err, models.ErrPredictionDiverged) {
		t.Fatalf("expected ErrPredictionDiverged, got %v", err)
	}
	if res != nil {
		t.Fatalf("expected no partial result")
	}
	if pred.calls != 3 {
		t.Fatalf("expected loop to stop at step 3, got %d calls", pred.calls)
	}
	if norm.inverses != 0 {
		t.Fatalf("inverse transform must not run after divergence")
	}
}

func TestForecastNaNAfterDenormalization(t *testing.T) {
	eng := NewEngine(30)
	norm := &scaleBy{k: 1, n: 4, corruptInvert: true}
	req := models.ForecastRequest{Kind: models.SingleAsset, Horizon: 2, History: history(30, 4, 1)}

	_, err := eng.Forecast(context.Background(), &scripted{}, source{single: norm}, req, goldLayout(t))
	if !errors.Is(err, models.ErrInvalidForecast) {
		t.Fatalf("expected ErrInvalidForecast, got %v", err)
	}
}

func TestForecastPassthroughKeepsModelValue(t *testing.T) {
	eng := NewEngine(30)
	norm := &scaleBy{k: 2, n: 4}
	seed := history(30, 6, 100)
	for _, row := range seed {
		row[4], row[5] = 1, 0
	}
	pred := &scripted{emit: func(_ int, _ models.Matrix) []float64 {
		return []float64{1, 1, 1, 1, 0.7, 0.2}
	}}
	req := models.ForecastRequest{Kind: models.MultiAsset, AssetID: "AAPL", Horizon: 5, History: seed}
	src := source{assets: map[string]domsvc.Normalizer{"AAPL": norm}}

	res, err := eng.Forecast(context.Background(), pred, src, req, equityLayout(t))
	if err != nil {
		t.Fatalf("forecast: %v", err)
	}
	if pred.windows[0][0][4] != 1 || pred.windows[0][0][0] != 50 {
		t.Fatalf("passthrough must be copied and technical scaled: %v", pred.windows[0][0])
	}
	for i, row := range res.Rows {
		if row[4] != 0.7 || row[5] != 0.2 {
			t.Fatalf("row %d passthrough replaced: %v", i, row)
		}
		if row[0] != 2 {
			t.Fatalf("row %d technical not denormalized: %v", i, row)
		}
	}
}

func TestForecastSingleEqualsMultiWithOneAsset(t *testing.T) {
	eng := NewEngine(30)
	seed := history(30, 4, 50)
	emit := func(call int, w models.Matrix) []float64 {
		last := w[len(w)-1]
		return []float64{last[0] * 1.01, last[1], last[2], last[3] + 0.1}
	}

	single, err := eng.Forecast(context.Background(), &scripted{emit: emit},
		source{single: &scaleBy{k: 7, n: 4}},
		models.ForecastRequest{Kind: models.SingleAsset, Horizon: 12, History: seed}, goldLayout(t))
	if err != nil {
		t.Fatalf("single: %v", err)
	}
	multi, err := eng.Forecast(context.Background(), &scripted{emit: emit},
		source{assets: map[string]domsvc.Normalizer{"X": &scaleBy{k: 7, n: 4}}},
		models.ForecastRequest{Kind: models.MultiAsset, AssetID: "X", Horizon: 12, History: seed}, goldLayout(t))
	if err != nil {
		t.Fatalf("multi: %v", err)
	}
	for i := range single.Rows {
		for j := range single.Rows[i] {
			if single.Rows[i][j] != multi.Rows[i][j] {
				t.Fatalf("row %d col %d differs: %v vs %v", i, j, single.Rows[i][j], multi.Rows[i][j])
			}
		}
	}
}

func TestForecastHorizonOne(t *testing.T) {
	eng := NewEngine(30)
	norm := &scaleBy{k: 1, n: 4}
	pred := &scripted{}
	req := models.ForecastRequest{Kind: models.SingleAsset, Horizon: 1, History: history(30, 4, 1)}

	res, err := eng.Forecast(context.Background(), pred, source{single: norm}, req, goldLayout(t))
	if err != nil {
		t.Fatalf("forecast: %v", err)
	}
	if res.Horizon() != 1 || pred.calls != 1 || norm.inverses != 1 || norm.inverseRows[0] != 1 {
		t.Fatalf("horizon=1: rows=%d calls=%d inverses=%v", res.Horizon(), pred.calls, norm.inverseRows)
	}
}

func TestForecastPreconditions(t *testing.T) {
	eng := NewEngine(30)
	norm := &scaleBy{k: 1, n: 4}
	multi := source{assets: map[string]domsvc.Normalizer{"AAPL": norm}}

	tests := []struct {
		name string
		src  source
		req  models.ForecastRequest
		want error
	}{
		{"zero horizon", source{single: norm}, models.ForecastRequest{Kind: models.SingleAsset, Horizon: 0, History: history(30, 4, 1)}, models.ErrInvalidHorizon},
		{"negative horizon", source{single: norm}, models.ForecastRequest{Kind: models.SingleAsset, Horizon: -3, History: history(30, 4, 1)}, models.ErrInvalidHorizon},
		{"short history", source{single: norm}, models.ForecastRequest{Kind: models.SingleAsset, Horizon: 5, History: history(29, 4, 1)}, models.ErrInsufficientHistory},
		{"unknown asset", multi, models.ForecastRequest{Kind: models.MultiAsset, AssetID: "TSLA", Horizon: 5, History: history(30, 4, 1)}, models.ErrUnknownAsset},
		{"ragged history", source{single: norm}, models.ForecastRequest{Kind: models.SingleAsset, Horizon: 5, History: history(30, 3, 1)}, models.ErrInvalidLayout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pred := &scripted{}
			_, err := eng.Forecast(context.Background(), pred, tt.src, tt.req, goldLayout(t))
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			if pred.calls != 0 {
				t.Fatalf("predictor invoked before precondition check")
			}
		})
	}
}

func TestForecastDoesNotMutateSeed(t *testing.T) {
	eng := NewEngine(30)
	seed := history(30, 4, 1)
	before := seed.Clone()
	req := models.ForecastRequest{Kind: models.SingleAsset, Horizon: 10, History: seed}

	if _, err := eng.Forecast(context.Background(), &scripted{}, source{single: &scaleBy{k: 3, n: 4}}, req, goldLayout(t)); err != nil {
		t.Fatalf("forecast: %v", err)
	}
	for i := range seed {
		for j := range seed[i] {
			if seed[i][j] != before[i][j] {
				t.Fatalf("seed mutated at %d,%d", i, j)
			}
		}
	}
}
