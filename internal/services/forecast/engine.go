package forecast

import (
	"context"
	"fmt"

	"PriceCast/internal/domain/models"
	domsvc "PriceCast/internal/domain/service"
)

// Engine runs the autoregressive multi-step forecast loop.
type Engine struct {
	windowLength int
}

// NewEngine creates an engine for models trained on windowLength timesteps.
func NewEngine(windowLength int) *Engine {
	if windowLength <= 0 {
		windowLength = models.DefaultWindowLength
	}
	return &Engine{windowLength: windowLength}
}

// WindowLength returns L.
func (e *Engine) WindowLength() int { return e.windowLength }

// Forecast predicts req.Horizon future timesteps. Each prediction is fed back
// into the window; the emitted series is denormalized once at the end.
// No partial result is returned on failure.
func (e *Engine) Forecast(
	ctx context.Context,
	predictor domsvc.SequencePredictor,
	source domsvc.NormalizerSource,
	req models.ForecastRequest,
	layout models.FeatureLayout,
) (*models.ForecastResult, error) {
	if req.Horizon <= 0 {
		return nil, fmt.Errorf("%w: %d", models.ErrInvalidHorizon, req.Horizon)
	}
	if err := layout.Validate(); err != nil {
		return nil, err
	}
	window, err := models.NewFeatureWindow(req.History, e.windowLength, req.Scaled)
	if err != nil {
		return nil, err
	}
	f, t := layout.Features(), layout.Technical
	if !req.History.Rectangular(f) {
		return nil, fmt.Errorf("%w: seed rows must have %d columns", models.ErrInvalidLayout, f)
	}

	asset := req.AssetID
	if req.Kind == models.SingleAsset {
		asset = ""
	}
	norm, err := source.NormalizerFor(asset)
	if err != nil {
		return nil, err
	}
	if n := norm.InputFeatureCount(); n != t {
		return nil, fmt.Errorf("%w: normalizer expects %d features, layout has %d technical columns", models.ErrInvalidLayout, n, t)
	}

	raw := make(models.Matrix, 0, req.Horizon)
	for step := 1; step <= req.Horizon; step++ {
		input, err := e.normalizedInput(window, norm, t)
		if err != nil {
			return nil, fmt.Errorf("normalize step %d: %w", step, err)
		}

		pred, err := predictor.Predict(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("predict step %d: %w", step, err)
		}
		if len(pred) != f {
			return nil, fmt.Errorf("predict step %d: model emitted %d features, layout has %d", step, len(pred), f)
		}
		if models.RowHasNaN(pred) {
			return nil, fmt.Errorf("%w: NaN at step %d", models.ErrPredictionDiverged, step)
		}

		raw = append(raw, append([]float64(nil), pred...))
		window.Slide(pred)
	}

	return denormalize(raw, norm, layout)
}

// normalizedInput builds the L x F model input. Rows still in original units
// get their technical columns transformed; passthrough columns are copied
// untouched. Rows produced by the model are already normalized.
func (e *Engine) normalizedInput(w *models.FeatureWindow, norm domsvc.Normalizer, t int) (models.Matrix, error) {
	input := make(models.Matrix, 0, w.Len())
	if rawRows := w.Raw(); len(rawRows) > 0 {
		scaled, err := norm.Transform(rawRows.Columns(0, t))
		if err != nil {
			return nil, err
		}
		if len(scaled) != len(rawRows) {
			return nil, fmt.Errorf("transform returned %d rows, want %d", len(scaled), len(rawRows))
		}
		for i, row := range rawRows {
			input = append(input, joinColumns(scaled[i], row[t:]))
		}
	}
	input = append(input, w.Scaled()...)
	if len(input) != e.windowLength {
		return nil, fmt.Errorf("%w: window holds %d timesteps, want %d", models.ErrInsufficientHistory, len(input), e.windowLength)
	}
	return input, nil
}

// denormalize inverse-transforms the technical columns of all steps in one
// batch. Passthrough columns are kept as the model produced them.
func denormalize(raw models.Matrix, norm domsvc.Normalizer, layout models.FeatureLayout) (*models.ForecastResult, error) {
	t := layout.Technical
	tech, err := norm.InverseTransform(raw.Columns(0, t))
	if err != nil {
		return nil, fmt.Errorf("%w: inverse transform: %v", models.ErrInvalidForecast, err)
	}
	if len(tech) != len(raw) || !tech.Rectangular(t) {
		return nil, fmt.Errorf("%w: inverse transform returned a %dx%d matrix, want %dx%d",
			models.ErrInvalidForecast, len(tech), tech.Cols(), len(raw), t)
	}

	rows := make(models.Matrix, len(raw))
	for i := range raw {
		rows[i] = joinColumns(tech[i], raw[i][t:])
	}
	if rows.HasNaN() {
		return nil, fmt.Errorf("%w: NaN after denormalization", models.ErrInvalidForecast)
	}
	return &models.ForecastResult{Rows: rows, Layout: layout}, nil
}

func joinColumns(technical, passthrough []float64) []float64 {
	out := make([]float64, 0, len(technical)+len(passthrough))
	out = append(out, technical...)
	return append(out, passthrough...)
}
