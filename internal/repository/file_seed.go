package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"PriceCast/internal/domain/models"
	domrepo "PriceCast/internal/domain/repository"
)

// AssetPlaceholder is replaced by the asset identifier in seed paths.
const AssetPlaceholder = "{asset}"

// FileSeedSource reads seed windows from JSON files written by the training
// pipeline. A file holds either a bare matrix or {"rows": [[...], ...]}.
type FileSeedSource struct {
	path string
}

// NewFileSeedSource creates a source for path, which may contain {asset}.
func NewFileSeedSource(path string) *FileSeedSource {
	return &FileSeedSource{path: path}
}

// PathFor resolves the file holding the window for asset.
func (s *FileSeedSource) PathFor(asset string) string {
	return strings.ReplaceAll(s.path, AssetPlaceholder, asset)
}

// LatestWindow returns at most n trailing rows, oldest first.
func (s *FileSeedSource) LatestWindow(_ context.Context, _, asset string, n int) (models.Matrix, error) {
	path := s.PathFor(asset)
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed %s: %w", path, err)
	}
	rows, err := DecodeSeed(b)
	if err != nil {
		return nil, fmt.Errorf("seed %s: %w", path, err)
	}
	return tail(rows, n), nil
}

// DecodeSeed parses a seed document in either accepted shape.
func DecodeSeed(b []byte) (models.Matrix, error) {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '{' {
		var doc struct {
			Rows models.Matrix `json:"rows"`
		}
		if err := json.Unmarshal(b, &doc); err != nil {
			return nil, fmt.Errorf("decode seed: %w", err)
		}
		return doc.Rows, nil
	}
	var rows models.Matrix
	if err := json.Unmarshal(b, &rows); err != nil {
		return nil, fmt.Errorf("decode seed: %w", err)
	}
	return rows, nil
}

func tail(m models.Matrix, n int) models.Matrix {
	if n > 0 && len(m) > n {
		return m[len(m)-n:]
	}
	return m
}

var _ domrepo.SeedSource = (*FileSeedSource)(nil)
