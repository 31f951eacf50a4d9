package models

import "time"

// Requests and responses for the forecast HTTP endpoints.

type ForecastHTTPRequest struct {
	Instrument      string  `json:"instrument" validate:"required"`
	AssetID         string  `json:"asset_id"`
	Principal       float64 `json:"principal" validate:"gt=0"`
	TargetReturnPct float64 `json:"target_return_pct" validate:"gt=0"`
	Horizon         *int    `json:"horizon" validate:"omitempty,gte=1"`
}

type ReloadHTTPRequest struct {
	Instrument string `json:"instrument" query:"instrument" default:"*" validate:"required"`
}

type ForecastHTTPResponse struct {
	RunID          string    `json:"run_id"`
	Instrument     string    `json:"instrument"`
	AssetID        string    `json:"asset_id,omitempty"`
	Horizon        int       `json:"horizon"`
	InitialPrice   float64   `json:"initial_price"`
	FinalPrice     float64   `json:"final_price"`
	ReturnPct      float64   `json:"return_pct"`
	NominalReturn  float64   `json:"nominal_return"`
	Total          float64   `json:"total"`
	Recommendation string    `json:"recommendation"`
	ForecastSeries []float64 `json:"forecast_series"`
	GeneratedAt    time.Time `json:"generated_at"`
}

type InstrumentInfo struct {
	Name        string         `json:"name"`
	Kind        InstrumentKind `json:"kind"`
	Assets      []string       `json:"assets,omitempty"`
	Columns     []string       `json:"columns"`
	Technical   int            `json:"technical"`
	CloseColumn string         `json:"close_column"`
	Loaded      bool           `json:"loaded"`
	LoadedAt    *time.Time     `json:"loaded_at,omitempty"`
}

type ReloadHTTPResponse struct {
	Reloaded []string `json:"reloaded"`
}
