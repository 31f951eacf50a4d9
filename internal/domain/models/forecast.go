package models

import (
	"fmt"
	"math"
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

// InstrumentKind distinguishes the single commodity series from per-ticker equities.
type InstrumentKind string

const (
	SingleAsset InstrumentKind = "single-asset"
	MultiAsset  InstrumentKind = "multi-asset"
)

// Valid reports whether k is a known instrument kind.
func (k InstrumentKind) Valid() bool {
	return k == SingleAsset || k == MultiAsset
}

// DefaultWindowLength is the number of timesteps the sequence models consume.
const DefaultWindowLength = 30

// Matrix is a row-major timesteps x features matrix.
type Matrix [][]float64

// Rows returns the number of timesteps.
func (m Matrix) Rows() int { return len(m) }

// Cols returns the width of the first row, or 0 for an empty matrix.
func (m Matrix) Cols() int {
	if len(m) == 0 {
		return 0
	}
	return len(m[0])
}

// Clone deep-copies the matrix.
func (m Matrix) Clone() Matrix {
	out := make(Matrix, len(m))
	for i, row := range m {
		out[i] = append([]float64(nil), row...)
	}
	return out
}

// Columns copies columns [from, to) of every row.
func (m Matrix) Columns(from, to int) Matrix {
	out := make(Matrix, len(m))
	for i, row := range m {
		out[i] = append([]float64(nil), row[from:to]...)
	}
	return out
}

// HasNaN reports whether any element is NaN.
func (m Matrix) HasNaN() bool {
	for _, row := range m {
		if RowHasNaN(row) {
			return true
		}
	}
	return false
}

// Rectangular reports whether every row has width cols.
func (m Matrix) Rectangular(cols int) bool {
	for _, row := range m {
		if len(row) != cols {
			return false
		}
	}
	return true
}

// RowHasNaN reports whether any component of v is NaN.
func RowHasNaN(v []float64) bool {
	return lo.SomeBy(v, math.IsNaN)
}

// FeatureLayout describes how the F columns of a timestep split into
// technical columns [0, Technical) and passthrough columns [Technical, F).
type FeatureLayout struct {
	Columns     []string `json:"columns"`
	Technical   int      `json:"technical"`
	CloseColumn int      `json:"close_column"`
}

// NewFeatureLayout builds a layout from the technical column names and the
// passthrough column names, resolving the close column by name.
func NewFeatureLayout(technical, passthrough []string, closeName string) (FeatureLayout, error) {
	cols := make([]string, 0, len(technical)+len(passthrough))
	cols = append(cols, technical...)
	cols = append(cols, passthrough...)
	idx := lo.IndexOf(technical, closeName)
	if idx < 0 {
		return FeatureLayout{}, fmt.Errorf("%w: close column %q is not a technical column", ErrInvalidLayout, closeName)
	}
	l := FeatureLayout{Columns: cols, Technical: len(technical), CloseColumn: idx}
	return l, l.Validate()
}

// Features returns F.
func (l FeatureLayout) Features() int { return len(l.Columns) }

// HasPassthrough reports whether T < F.
func (l FeatureLayout) HasPassthrough() bool { return l.Technical < l.Features() }

// Validate checks the column bookkeeping.
func (l FeatureLayout) Validate() error {
	switch {
	case l.Features() == 0:
		return fmt.Errorf("%w: no columns", ErrInvalidLayout)
	case l.Technical < 1 || l.Technical > l.Features():
		return fmt.Errorf("%w: technical count %d out of range [1,%d]", ErrInvalidLayout, l.Technical, l.Features())
	case l.CloseColumn < 0 || l.CloseColumn >= l.Technical:
		return fmt.Errorf("%w: close column %d must be a technical column", ErrInvalidLayout, l.CloseColumn)
	}
	if dups := lo.FindDuplicates(l.Columns); len(dups) > 0 {
		return fmt.Errorf("%w: duplicate column %q", ErrInvalidLayout, dups[0])
	}
	return nil
}

// FeatureWindow is a fixed-length sliding window of timesteps. Leading rows
// are still in original units; rows appended by Slide are model outputs and
// already live in normalized space.
type FeatureWindow struct {
	rows Matrix
	raw  int
}

// NewFeatureWindow copies the most recent length rows of history. A history
// shorter than length fails with ErrInsufficientHistory. When scaled is true
// the history is already in normalized space.
func NewFeatureWindow(history Matrix, length int, scaled bool) (*FeatureWindow, error) {
	if length < 1 {
		return nil, fmt.Errorf("%w: window length %d", ErrInsufficientHistory, length)
	}
	if len(history) < length {
		return nil, fmt.Errorf("%w: have %d timesteps, need %d", ErrInsufficientHistory, len(history), length)
	}
	w := &FeatureWindow{rows: history[len(history)-length:].Clone()}
	if !scaled {
		w.raw = length
	}
	return w, nil
}

// Len returns the number of timesteps held.
func (w *FeatureWindow) Len() int { return len(w.rows) }

// Raw returns the leading rows that are still in original units.
func (w *FeatureWindow) Raw() Matrix { return w.rows[:w.raw] }

// Scaled returns the trailing rows that are already in normalized space.
func (w *FeatureWindow) Scaled() Matrix { return w.rows[w.raw:] }

// Slide drops the oldest timestep and appends next. The length never changes.
func (w *FeatureWindow) Slide(next []float64) {
	rows := make(Matrix, 0, len(w.rows))
	rows = append(rows, w.rows[1:]...)
	rows = append(rows, append([]float64(nil), next...))
	w.rows = rows
	if w.raw > 0 {
		w.raw--
	}
}

// ForecastRequest is the engine input for one forecast call.
type ForecastRequest struct {
	Kind    InstrumentKind
	AssetID string
	Horizon int
	History Matrix
	// Scaled marks History as already normalized.
	Scaled bool
}

// ForecastResult holds Horizon denormalized rows in original units.
type ForecastResult struct {
	Rows   Matrix
	Layout FeatureLayout
}

// Horizon returns the number of forecasted timesteps.
func (r *ForecastResult) Horizon() int { return len(r.Rows) }

// Column extracts one column across all horizon steps.
func (r *ForecastResult) Column(idx int) []float64 {
	return lo.Map(r.Rows, func(row []float64, _ int) float64 { return row[idx] })
}

// Close extracts the layout's close-price column.
func (r *ForecastResult) Close() []float64 { return r.Column(r.Layout.CloseColumn) }

// ReturnSummary is the financial evaluation of a forecasted price series.
type ReturnSummary struct {
	InitialPrice  float64
	FinalPrice    float64
	ReturnPct     decimal.Decimal
	NominalReturn decimal.Decimal
	Total         decimal.Decimal
	MeetsTarget   bool
}

// Recommendation labels for ReturnSummary.MeetsTarget.
const (
	RecommendationMeetsTarget = "meets-target"
	RecommendationBelowTarget = "below-target"
)

// Recommendation returns the label for the pass/fail decision.
func (s ReturnSummary) Recommendation() string {
	if s.MeetsTarget {
		return RecommendationMeetsTarget
	}
	return RecommendationBelowTarget
}

// ForecastEvent is the record emitted for every completed forecast run.
type ForecastEvent struct {
	RunID        string    `json:"run_id"`
	Instrument   string    `json:"instrument"`
	AssetID      string    `json:"asset_id,omitempty"`
	Horizon      int       `json:"horizon"`
	InitialPrice float64   `json:"initial_price"`
	FinalPrice   float64   `json:"final_price"`
	ReturnPct    float64   `json:"return_pct"`
	MeetsTarget  bool      `json:"meets_target"`
	CloseSeries  []float64 `json:"close_series"`
	GeneratedAt  time.Time `json:"generated_at"`
}
