package export

import (
	"fmt"

	"github.com/samber/lo"
	"github.com/xuri/excelize/v2"

	"PriceCast/internal/usecase"
)

// Sheet names in the forecast workbook.
const (
	SummarySheet  = "Summary"
	ForecastSheet = "Forecast"
)

// Workbook renders a forecast run as a two-sheet workbook: the return
// summary, and every forecasted feature row in original units.
func Workbook(out *usecase.ForecastOutcome, cmd usecase.ForecastCommand) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", SummarySheet); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(ForecastSheet); err != nil {
		return nil, err
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, err
	}

	s := out.Summary
	summary := [][]interface{}{
		{"run_id", out.RunID},
		{"instrument", out.Instrument},
		{"asset_id", out.AssetID},
		{"horizon", out.Horizon},
		{"generated_at", out.GeneratedAt.Format("2006-01-02 15:04:05")},
		{"principal", cmd.Principal},
		{"target_return_pct", cmd.TargetReturnPct},
		{"initial_price", s.InitialPrice},
		{"final_price", s.FinalPrice},
		{"return_pct", s.ReturnPct.Round(4).InexactFloat64()},
		{"nominal_return", s.NominalReturn.StringFixed(2)},
		{"total", s.Total.StringFixed(2)},
		{"recommendation", s.Recommendation()},
	}
	for i, row := range summary {
		if err := setRow(f, SummarySheet, 1, i+1, row); err != nil {
			return nil, err
		}
	}
	if err := f.SetCellStyle(SummarySheet, "A1", fmt.Sprintf("A%d", len(summary)), bold); err != nil {
		return nil, err
	}

	header := append([]interface{}{"step"}, lo.ToAnySlice(out.Result.Layout.Columns)...)
	if err := setRow(f, ForecastSheet, 1, 1, header); err != nil {
		return nil, err
	}
	last, err := excelize.CoordinatesToCellName(len(header), 1)
	if err != nil {
		return nil, err
	}
	if err := f.SetCellStyle(ForecastSheet, "A1", last, bold); err != nil {
		return nil, err
	}
	for i, row := range out.Result.Rows {
		cells := append([]interface{}{i + 1}, lo.ToAnySlice(row)...)
		if err := setRow(f, ForecastSheet, 1, i+2, cells); err != nil {
			return nil, err
		}
	}
	return f, nil
}

// Save writes the workbook for out to path.
func Save(path string, out *usecase.ForecastOutcome, cmd usecase.ForecastCommand) error {
	f, err := Workbook(out, cmd)
	if err != nil {
		return fmt.Errorf("build workbook: %w", err)
	}
	defer f.Close()
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("save workbook: %w", err)
	}
	return nil
}

func setRow(f *excelize.File, sheet string, col, row int, values []interface{}) error {
	cell, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return err
	}
	return f.SetSheetRow(sheet, cell, &values)
}
