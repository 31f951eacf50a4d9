package predictor

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"PriceCast/internal/domain/models"
	domsvc "PriceCast/internal/domain/service"
)

// Linear is an autoregressive linear model over a fixed window:
// y[j] = Bias[j] + sum_t sum_i x[t][i] * Weights[t][i][j].
type Linear struct {
	Weights [][][]float64 `json:"weights"`
	Bias    []float64     `json:"bias"`
}

// NewLinear validates the weight tensor shape L x F x F against the bias.
func NewLinear(weights [][][]float64, bias []float64) (*Linear, error) {
	f := len(bias)
	if len(weights) == 0 || f == 0 {
		return nil, fmt.Errorf("linear model: empty weights or bias")
	}
	for t, step := range weights {
		if len(step) != f {
			return nil, fmt.Errorf("linear model: timestep %d has %d input rows, want %d", t, len(step), f)
		}
		for i, row := range step {
			if len(row) != f {
				return nil, fmt.Errorf("linear model: weights[%d][%d] has %d outputs, want %d", t, i, len(row), f)
			}
		}
	}
	return &Linear{Weights: weights, Bias: bias}, nil
}

// LoadLinear reads a {"weights": [...], "bias": [...]} model file.
func LoadLinear(path string) (*Linear, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read model %s: %w", path, err)
	}
	var m Linear
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("parse model %s: %w", path, err)
	}
	return NewLinear(m.Weights, m.Bias)
}

// WindowLength returns the number of timesteps the model was fitted on.
func (m *Linear) WindowLength() int { return len(m.Weights) }

// Features returns F.
func (m *Linear) Features() int { return len(m.Bias) }

func (m *Linear) Predict(_ context.Context, window models.Matrix) ([]float64, error) {
	if len(window) != len(m.Weights) {
		return nil, fmt.Errorf("linear model: window has %d timesteps, want %d", len(window), len(m.Weights))
	}
	f := len(m.Bias)
	out := append([]float64(nil), m.Bias...)
	for t, row := range window {
		if len(row) != f {
			return nil, fmt.Errorf("linear model: timestep %d has %d features, want %d", t, len(row), f)
		}
		for i, x := range row {
			w := m.Weights[t][i]
			for j := range out {
				out[j] += x * w[j]
			}
		}
	}
	return out, nil
}

var _ domsvc.SequencePredictor = (*Linear)(nil)
