package repository

import (
	"context"
	"strconv"
	"time"

	"PriceCast/internal/domain/models"
	domrepo "PriceCast/internal/domain/repository"
	"PriceCast/pkg/cache"
	applogger "PriceCast/pkg/logger"
)

// CachedSeedSource serves windows from a cache for ttl before asking the
// wrapped source again. Cache failures fall through to the source.
type CachedSeedSource struct {
	src   domrepo.SeedSource
	cache cache.Service
	ttl   time.Duration
	l     *applogger.Logger
}

func NewCachedSeedSource(src domrepo.SeedSource, c cache.Service, ttl time.Duration, l *applogger.Logger) *CachedSeedSource {
	if l == nil {
		l = applogger.Nop()
	}
	return &CachedSeedSource{src: src, cache: c, ttl: ttl, l: l}
}

func (s *CachedSeedSource) LatestWindow(ctx context.Context, instrument, asset string, n int) (models.Matrix, error) {
	key := cache.GenerateKey("window", instrument, asset, strconv.Itoa(n))
	var rows models.Matrix
	if err := s.cache.Get(ctx, key, &rows); err == nil {
		return rows, nil
	}

	rows, err := s.src.LatestWindow(ctx, instrument, asset, n)
	if err != nil {
		return nil, err
	}
	if err := s.cache.Set(ctx, key, rows, s.ttl); err != nil {
		s.l.Warn("seed window cache set failed", applogger.String("key", key), applogger.Error(err))
	}
	return rows, nil
}

var _ domrepo.SeedSource = (*CachedSeedSource)(nil)
