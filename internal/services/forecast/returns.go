package forecast

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"PriceCast/internal/domain/models"
)

var hundred = decimal.NewFromInt(100)

// Evaluate converts a forecast into a return summary against a target.
// initial and final are the first and last values of the close column.
func Evaluate(result *models.ForecastResult, closeColumn int, principal, targetReturnPct float64) (models.ReturnSummary, error) {
	if result == nil || len(result.Rows) == 0 {
		return models.ReturnSummary{}, fmt.Errorf("%w: empty forecast", models.ErrInvalidPriceSeries)
	}
	if closeColumn < 0 || closeColumn >= result.Rows.Cols() {
		return models.ReturnSummary{}, fmt.Errorf("%w: close column %d out of range", models.ErrInvalidLayout, closeColumn)
	}
	closes := result.Column(closeColumn)
	return EvaluateSeries(closes, principal, targetReturnPct)
}

// EvaluateSeries is Evaluate over an already extracted close series.
func EvaluateSeries(closes []float64, principal, targetReturnPct float64) (models.ReturnSummary, error) {
	if len(closes) == 0 {
		return models.ReturnSummary{}, fmt.Errorf("%w: empty series", models.ErrInvalidPriceSeries)
	}
	initial, final := closes[0], closes[len(closes)-1]
	if initial == 0 || math.IsNaN(initial) || math.IsNaN(final) || math.IsInf(initial, 0) || math.IsInf(final, 0) {
		return models.ReturnSummary{}, fmt.Errorf("%w: initial=%v final=%v", models.ErrInvalidPriceSeries, initial, final)
	}

	i, f := decimal.NewFromFloat(initial), decimal.NewFromFloat(final)
	p := decimal.NewFromFloat(principal)
	pct := f.Sub(i).Div(i).Mul(hundred)
	nominal := p.Mul(pct).Div(hundred)

	return models.ReturnSummary{
		InitialPrice:  initial,
		FinalPrice:    final,
		ReturnPct:     pct,
		NominalReturn: nominal,
		Total:         p.Add(nominal),
		MeetsTarget:   pct.GreaterThanOrEqual(decimal.NewFromFloat(targetReturnPct)),
	}, nil
}
