package export

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"PriceCast/internal/domain/models"
	"PriceCast/internal/usecase"
)

func sampleOutcome(t *testing.T) *usecase.ForecastOutcome {
	t.Helper()
	layout, err := models.NewFeatureLayout([]string{"open", "close"}, []string{"AAPL", "MSFT"}, "close")
	if err != nil {
		t.Fatalf("layout: %v", err)
	}
	return &usecase.ForecastOutcome{
		RunID:      "run-1",
		Instrument: "equity",
		Kind:       models.MultiAsset,
		AssetID:    "AAPL",
		Horizon:    2,
		Summary: models.ReturnSummary{
			InitialPrice:  100,
			FinalPrice:    110,
			ReturnPct:     decimal.NewFromInt(10),
			NominalReturn: decimal.NewFromInt(1000),
			Total:         decimal.NewFromInt(11000),
			MeetsTarget:   true,
		},
		Result: &models.ForecastResult{
			Rows:   models.Matrix{{99, 105, 1, 0}, {104, 110, 1, 0}},
			Layout: layout,
		},
		GeneratedAt: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestWorkbook(t *testing.T) {
	f, err := Workbook(sampleOutcome(t), usecase.ForecastCommand{Instrument: "equity", AssetID: "AAPL", Principal: 10000, TargetReturnPct: 5, Horizon: 2})
	if err != nil {
		t.Fatalf("workbook: %v", err)
	}
	defer f.Close()

	tests := []struct {
		sheet, cell, want string
	}{
		{SummarySheet, "A1", "run_id"},
		{SummarySheet, "B2", "equity"},
		{SummarySheet, "B12", "11000.00"},
		{SummarySheet, "B13", models.RecommendationMeetsTarget},
		{ForecastSheet, "A1", "step"},
		{ForecastSheet, "C1", "close"},
		{ForecastSheet, "D1", "AAPL"},
		{ForecastSheet, "A3", "2"},
		{ForecastSheet, "C3", "110"},
	}
	for _, tt := range tests {
		got, err := f.GetCellValue(tt.sheet, tt.cell)
		if err != nil {
			t.Fatalf("%s!%s: %v", tt.sheet, tt.cell, err)
		}
		if got != tt.want {
			t.Errorf("%s!%s = %q, want %q", tt.sheet, tt.cell, got, tt.want)
		}
	}
}
