package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"PriceCast/internal/domain/models"
	domrepo "PriceCast/internal/domain/repository"
	"PriceCast/pkg/cache"
)

// RedisSeedSource reads seed windows pushed by the data pipeline under
// seed:<instrument>[:<asset>].
type RedisSeedSource struct {
	cache cache.Service
	ttl   time.Duration
}

func NewRedisSeedSource(c cache.Service, ttl time.Duration) *RedisSeedSource {
	return &RedisSeedSource{cache: c, ttl: ttl}
}

// SeedKey returns the cache key for an instrument window.
func SeedKey(instrument, asset string) string {
	return cache.GenerateKey("seed", instrument, asset)
}

func (s *RedisSeedSource) LatestWindow(ctx context.Context, instrument, asset string, n int) (models.Matrix, error) {
	key := SeedKey(instrument, asset)
	var rows models.Matrix
	if err := s.cache.Get(ctx, key, &rows); err != nil {
		if errors.Is(err, cache.ErrCacheMiss) {
			return nil, fmt.Errorf("seed %s not found: %w", key, err)
		}
		return nil, fmt.Errorf("get seed %s: %w", key, err)
	}
	return tail(rows, n), nil
}

// Push stores a window, replacing any previous one.
func (s *RedisSeedSource) Push(ctx context.Context, instrument, asset string, rows models.Matrix) error {
	if len(rows) == 0 {
		return fmt.Errorf("push seed: empty window")
	}
	key := SeedKey(instrument, asset)
	if err := s.cache.Set(ctx, key, rows, s.ttl); err != nil {
		return fmt.Errorf("set seed %s: %w", key, err)
	}
	return nil
}

var _ domrepo.SeedSource = (*RedisSeedSource)(nil)
