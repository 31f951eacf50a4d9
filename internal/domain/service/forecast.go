package service

import (
	"context"
	"time"

	"PriceCast/internal/domain/models"
)

// SequencePredictor maps a fixed-length window of normalized feature vectors
// to the normalized feature vector of the next timestep.
type SequencePredictor interface {
	Predict(ctx context.Context, window models.Matrix) ([]float64, error)
}

// Normalizer is a fitted reversible transform over the technical columns.
type Normalizer interface {
	InputFeatureCount() int
	Transform(x models.Matrix) (models.Matrix, error)
	InverseTransform(x models.Matrix) (models.Matrix, error)
}

// NormalizerSource resolves the normalizer for an asset. Single-asset
// sources ignore the asset identifier.
type NormalizerSource interface {
	NormalizerFor(asset string) (Normalizer, error)
	Assets() []string
}

// SeedProvider yields the history that seeds a forecast for an asset.
type SeedProvider interface {
	Seed(ctx context.Context, asset string) (models.Matrix, error)
}

// ArtifactSet is everything the engine needs for one instrument. It is
// read-only once loaded and shared across concurrent forecasts.
type ArtifactSet struct {
	Instrument  string
	Kind        models.InstrumentKind
	Predictor   SequencePredictor
	Normalizers NormalizerSource
	Layout      models.FeatureLayout
	Seeds       SeedProvider
	// SeedScaled marks seed windows that are stored already normalized.
	SeedScaled bool
	LoadedAt   time.Time
}

// ArtifactLoader builds the artifact set for a configured instrument.
type ArtifactLoader interface {
	Load(ctx context.Context, instrument string) (*ArtifactSet, error)
}
