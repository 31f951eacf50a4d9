package normalizer

import (
	"fmt"

	"PriceCast/internal/domain/models"
	domsvc "PriceCast/internal/domain/service"
)

// StandardScaler standardizes features as (x - mean) / scale.
type StandardScaler struct {
	Mean  []float64
	Scale []float64
}

// NewStandardScaler validates the fitted parameters.
func NewStandardScaler(mean, scale []float64) (*StandardScaler, error) {
	if len(mean) == 0 || len(mean) != len(scale) {
		return nil, fmt.Errorf("standard scaler: mean has %d entries, scale has %d", len(mean), len(scale))
	}
	return &StandardScaler{Mean: mean, Scale: fixZeroScale(scale)}, nil
}

func (s *StandardScaler) InputFeatureCount() int { return len(s.Mean) }

func (s *StandardScaler) Transform(x models.Matrix) (models.Matrix, error) {
	return apply(x, len(s.Mean), func(j int, v float64) float64 { return (v - s.Mean[j]) / s.Scale[j] })
}

func (s *StandardScaler) InverseTransform(x models.Matrix) (models.Matrix, error) {
	return apply(x, len(s.Mean), func(j int, v float64) float64 { return v*s.Scale[j] + s.Mean[j] })
}

// MinMaxScaler maps features into a fixed range as x*scale + min.
type MinMaxScaler struct {
	Min   []float64
	Scale []float64
}

// NewMinMaxScaler validates the fitted parameters.
func NewMinMaxScaler(min, scale []float64) (*MinMaxScaler, error) {
	if len(min) == 0 || len(min) != len(scale) {
		return nil, fmt.Errorf("minmax scaler: min has %d entries, scale has %d", len(min), len(scale))
	}
	for j, s := range scale {
		if s == 0 {
			return nil, fmt.Errorf("minmax scaler: zero scale at feature %d", j)
		}
	}
	return &MinMaxScaler{Min: min, Scale: scale}, nil
}

// NewMinMaxFromRange fits scale and min from the observed data range and the
// target feature range.
func NewMinMaxFromRange(dataMin, dataMax []float64, lo, hi float64) (*MinMaxScaler, error) {
	if len(dataMin) == 0 || len(dataMin) != len(dataMax) {
		return nil, fmt.Errorf("minmax scaler: data_min has %d entries, data_max has %d", len(dataMin), len(dataMax))
	}
	if hi <= lo {
		return nil, fmt.Errorf("minmax scaler: invalid feature range [%v, %v]", lo, hi)
	}
	span := make([]float64, len(dataMin))
	for j := range dataMin {
		span[j] = dataMax[j] - dataMin[j]
	}
	span = fixZeroScale(span)
	scale := make([]float64, len(span))
	min := make([]float64, len(span))
	for j := range span {
		scale[j] = (hi - lo) / span[j]
		min[j] = lo - dataMin[j]*scale[j]
	}
	return NewMinMaxScaler(min, scale)
}

func (s *MinMaxScaler) InputFeatureCount() int { return len(s.Min) }

func (s *MinMaxScaler) Transform(x models.Matrix) (models.Matrix, error) {
	return apply(x, len(s.Min), func(j int, v float64) float64 { return v*s.Scale[j] + s.Min[j] })
}

func (s *MinMaxScaler) InverseTransform(x models.Matrix) (models.Matrix, error) {
	return apply(x, len(s.Min), func(j int, v float64) float64 { return (v - s.Min[j]) / s.Scale[j] })
}

func apply(x models.Matrix, width int, fn func(j int, v float64) float64) (models.Matrix, error) {
	out := make(models.Matrix, len(x))
	for i, row := range x {
		if len(row) != width {
			return nil, fmt.Errorf("row %d has %d features, normalizer expects %d", i, len(row), width)
		}
		r := make([]float64, width)
		for j, v := range row {
			r[j] = fn(j, v)
		}
		out[i] = r
	}
	return out, nil
}

// fixZeroScale replaces zero entries with 1 so constant features pass through.
func fixZeroScale(scale []float64) []float64 {
	out := make([]float64, len(scale))
	for j, s := range scale {
		if s == 0 {
			s = 1
		}
		out[j] = s
	}
	return out
}

var (
	_ domsvc.Normalizer = (*StandardScaler)(nil)
	_ domsvc.Normalizer = (*MinMaxScaler)(nil)
)
