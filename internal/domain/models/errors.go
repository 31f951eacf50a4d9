package models

import (
	"errors"
	"fmt"
)

var (
	ErrInsufficientHistory = errors.New("insufficient history")
	ErrInvalidHorizon      = errors.New("invalid horizon")
	ErrUnknownAsset        = errors.New("unknown asset")
	ErrUnknownInstrument   = errors.New("unknown instrument")
	ErrPredictionDiverged  = errors.New("prediction diverged")
	ErrInvalidForecast     = errors.New("invalid forecast")
	ErrInvalidPriceSeries  = errors.New("invalid price series")
	ErrArtifactUnavailable = errors.New("artifact unavailable")
	ErrInvalidLayout       = errors.New("invalid feature layout")
	ErrInvalidRequest      = errors.New("invalid request")
	ErrStoreUnavailable    = errors.New("forecast store unavailable")
)

// ArtifactError reports a missing or unreadable model, normalizer or seed
// window for an instrument. It matches ErrArtifactUnavailable.
type ArtifactError struct {
	Instrument string
	Asset      string
	Err        error
}

func (e *ArtifactError) Error() string {
	if e.Asset != "" {
		return fmt.Sprintf("artifact unavailable for %s/%s: %v", e.Instrument, e.Asset, e.Err)
	}
	return fmt.Sprintf("artifact unavailable for %s: %v", e.Instrument, e.Err)
}

// Unwrap returns the underlying cause.
func (e *ArtifactError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrArtifactUnavailable) match.
func (e *ArtifactError) Is(target error) bool { return target == ErrArtifactUnavailable }

// NewArtifactError wraps cause for instrument.
func NewArtifactError(instrument, asset string, cause error) *ArtifactError {
	return &ArtifactError{Instrument: instrument, Asset: asset, Err: cause}
}

// Error kind labels used in logs, metrics and API responses.
const (
	KindArtifactUnavailable = "ArtifactUnavailable"
	KindInsufficientHistory = "InsufficientHistory"
	KindInvalidHorizon      = "InvalidHorizon"
	KindUnknownAsset        = "UnknownAsset"
	KindUnknownInstrument   = "UnknownInstrument"
	KindPredictionDiverged  = "PredictionDiverged"
	KindInvalidForecast     = "InvalidForecast"
	KindInvalidPriceSeries  = "InvalidPriceSeries"
	KindInvalidLayout       = "InvalidLayout"
	KindInvalidRequest      = "InvalidRequest"
	KindStoreUnavailable    = "StoreUnavailable"
	KindInternal            = "Internal"
)

// ErrorKind maps err to its taxonomy label. Artifact failures win over
// whatever cause they wrap.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrArtifactUnavailable):
		return KindArtifactUnavailable
	case errors.Is(err, ErrInsufficientHistory):
		return KindInsufficientHistory
	case errors.Is(err, ErrInvalidHorizon):
		return KindInvalidHorizon
	case errors.Is(err, ErrUnknownAsset):
		return KindUnknownAsset
	case errors.Is(err, ErrUnknownInstrument):
		return KindUnknownInstrument
	case errors.Is(err, ErrPredictionDiverged):
		return KindPredictionDiverged
	case errors.Is(err, ErrInvalidForecast):
		return KindInvalidForecast
	case errors.Is(err, ErrInvalidPriceSeries):
		return KindInvalidPriceSeries
	case errors.Is(err, ErrInvalidLayout):
		return KindInvalidLayout
	case errors.Is(err, ErrInvalidRequest):
		return KindInvalidRequest
	case errors.Is(err, ErrStoreUnavailable):
		return KindStoreUnavailable
	default:
		return KindInternal
	}
}
