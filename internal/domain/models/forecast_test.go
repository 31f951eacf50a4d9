package models

import (
	"errors"
	"fmt"
	"testing"
)

func TestFeatureWindowSlideKeepsLength(t *testing.T) {
	hist := Matrix{{1}, {2}, {3}, {4}}
	w, err := NewFeatureWindow(hist, 3, false)
	if err != nil {
		t.Fatalf("new window: %v", err)
	}
	if w.Len() != 3 || w.Raw()[0][0] != 2 {
		t.Fatalf("expected most recent 3 rows, got %v", w.Raw())
	}
	hist[3][0] = -1
	if w.Raw()[2][0] != 4 {
		t.Fatalf("window aliases history")
	}
	w.Slide([]float64{9})
	if w.Len() != 3 || len(w.Raw()) != 2 || len(w.Scaled()) != 1 || w.Scaled()[0][0] != 9 {
		t.Fatalf("unexpected window after slide raw=%v scaled=%v", w.Raw(), w.Scaled())
	}
	for i := 0; i < 5; i++ {
		w.Slide([]float64{float64(10 + i)})
	}
	if w.Len() != 3 || len(w.Raw()) != 0 {
		t.Fatalf("expected only model rows, raw=%v", w.Raw())
	}
}

func TestFeatureWindowInsufficient(t *testing.T) {
	_, err := NewFeatureWindow(Matrix{{1}}, 2, false)
	if !errors.Is(err, ErrInsufficientHistory) {
		t.Fatalf("expected ErrInsufficientHistory, got %v", err)
	}
}

func TestNewFeatureLayout(t *testing.T) {
	l, err := NewFeatureLayout([]string{"open", "high", "low", "close", "volume"}, []string{"is_A", "is_B"}, "close")
	if err != nil {
		t.Fatalf("layout: %v", err)
	}
	if l.Features() != 7 || l.Technical != 5 || l.CloseColumn != 3 || !l.HasPassthrough() {
		t.Fatalf("unexpected layout %+v", l)
	}
	if _, err := NewFeatureLayout([]string{"open"}, []string{"close"}, "close"); !errors.Is(err, ErrInvalidLayout) {
		t.Fatalf("close in passthrough must be rejected, got %v", err)
	}
	if _, err := NewFeatureLayout([]string{"close", "close"}, nil, "close"); !errors.Is(err, ErrInvalidLayout) {
		t.Fatalf("duplicate columns must be rejected, got %v", err)
	}
}

func TestErrorKind(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{fmt.Errorf("step 3: %w", ErrPredictionDiverged), KindPredictionDiverged},
		{NewArtifactError("gold", "", ErrInsufficientHistory), KindArtifactUnavailable},
		{fmt.Errorf("x: %w", ErrUnknownAsset), KindUnknownAsset},
		{errors.New("boom"), KindInternal},
		{nil, ""},
	}
	for _, tt := range tests {
		if got := ErrorKind(tt.err); got != tt.want {
			t.Fatalf("ErrorKind(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
	var ae *ArtifactError
	if err := fmt.Errorf("load: %w", NewArtifactError("equity", "AAPL", errors.New("missing"))); !errors.As(err, &ae) || ae.Asset != "AAPL" {
		t.Fatalf("expected ArtifactError with asset, got %v", err)
	}
}
