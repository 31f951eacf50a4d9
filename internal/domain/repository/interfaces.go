package repository

import (
	"context"

	"PriceCast/internal/domain/models"
)

// SeedSource reads the most recent feature rows (full F-wide vectors, oldest
// first) for an instrument and, for multi-asset instruments, an asset.
type SeedSource interface {
	LatestWindow(ctx context.Context, instrument, asset string, n int) (models.Matrix, error)
}

// ForecastSink records completed forecast runs.
type ForecastSink interface {
	Record(ctx context.Context, ev *models.ForecastEvent) error
	Close() error
}

// ForecastStore persists and queries forecast history.
type ForecastStore interface {
	ForecastSink
	Recent(ctx context.Context, instrument string, limit int) ([]models.ForecastEvent, error)
	Health(ctx context.Context) error
}

// Metrics records forecast service measurements.
type Metrics interface {
	RecordForecast(instrument, result string, seconds float64)
	RecordError(kind string)
	RecordSteps(instrument string, steps int)
	RecordArtifactLoad(instrument, result string, seconds float64)
	RecordSinkError(backend string)
}
