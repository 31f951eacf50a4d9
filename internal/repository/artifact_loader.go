package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"PriceCast/internal/domain/models"
	domrepo "PriceCast/internal/domain/repository"
	domsvc "PriceCast/internal/domain/service"
	"PriceCast/internal/services/normalizer"
	"PriceCast/internal/services/predictor"
	"PriceCast/pkg/cache"
	pkgch "PriceCast/pkg/clickhouse"
	"PriceCast/pkg/config"
	applogger "PriceCast/pkg/logger"
)

// ArtifactLoader builds artifact sets from instrument configuration.
type ArtifactLoader struct {
	instruments   map[string]config.InstrumentConfig
	windowLength  int
	featuresTable string
	ch            *pkgch.Client
	cache         cache.Service
	cacheTTL      time.Duration
	windowCache   cache.Service
	windowTTL     time.Duration
	l             *applogger.Logger
}

// LoaderOption configures ArtifactLoader.
type LoaderOption func(*ArtifactLoader)

// WithClickHouseSeeds enables seed.source=clickhouse.
func WithClickHouseSeeds(ch *pkgch.Client, featuresTable string) LoaderOption {
	return func(a *ArtifactLoader) {
		a.ch = ch
		a.featuresTable = featuresTable
	}
}

// WithRedisSeeds enables seed.source=redis.
func WithRedisSeeds(c cache.Service, ttl time.Duration) LoaderOption {
	return func(a *ArtifactLoader) {
		a.cache = c
		a.cacheTTL = ttl
	}
}

// WithSeedWindowCache caches ClickHouse seed windows in c for ttl.
func WithSeedWindowCache(c cache.Service, ttl time.Duration) LoaderOption {
	return func(a *ArtifactLoader) {
		a.windowCache = c
		a.windowTTL = ttl
	}
}

// WithLoaderLogger sets the logger used by the seed sources.
func WithLoaderLogger(l *applogger.Logger) LoaderOption {
	return func(a *ArtifactLoader) { a.l = l }
}

func NewArtifactLoader(instruments map[string]config.InstrumentConfig, windowLength int, opts ...LoaderOption) *ArtifactLoader {
	a := &ArtifactLoader{
		instruments:  instruments,
		windowLength: windowLength,
		l:            applogger.Nop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Load reads every artifact of instrument. Any failure is an ArtifactError.
func (a *ArtifactLoader) Load(ctx context.Context, instrument string) (*domsvc.ArtifactSet, error) {
	ic, ok := a.instruments[instrument]
	if !ok {
		return nil, fmt.Errorf("%w: %q", models.ErrUnknownInstrument, instrument)
	}
	fail := func(err error) (*domsvc.ArtifactSet, error) {
		return nil, models.NewArtifactError(instrument, "", err)
	}

	layout, err := LayoutFor(ic)
	if err != nil {
		return fail(err)
	}
	norms, err := a.loadNormalizers(ic)
	if err != nil {
		return fail(err)
	}
	pred, err := a.loadPredictor(ic, layout)
	if err != nil {
		return fail(err)
	}
	src, err := a.seedSource(ic, layout)
	if err != nil {
		return fail(err)
	}
	seeds, err := a.seedProvider(ctx, instrument, ic, src)
	if err != nil {
		return nil, err
	}

	return &domsvc.ArtifactSet{
		Instrument:  instrument,
		Kind:        models.InstrumentKind(ic.Kind),
		Predictor:   pred,
		Normalizers: norms,
		Layout:      layout,
		Seeds:       seeds,
		SeedScaled:  ic.Seed.Scaled,
		LoadedAt:    time.Now().UTC(),
	}, nil
}

// LayoutFor derives the feature layout: configured technical columns, then
// one passthrough column per multi-asset identifier.
func LayoutFor(ic config.InstrumentConfig) (models.FeatureLayout, error) {
	var passthrough []string
	if models.InstrumentKind(ic.Kind) == models.MultiAsset {
		passthrough = ic.Assets
	}
	return models.NewFeatureLayout(ic.Layout.Columns, passthrough, ic.Layout.CloseColumn)
}

func (a *ArtifactLoader) loadNormalizers(ic config.InstrumentConfig) (domsvc.NormalizerSource, error) {
	if !ic.Normalizer.PerAsset {
		return normalizer.LoadSingle(ic.Normalizer.Path)
	}
	per, err := normalizer.LoadPerAsset(ic.Normalizer.Path)
	if err != nil {
		return nil, err
	}
	for _, asset := range ic.Assets {
		if _, err := per.NormalizerFor(asset); err != nil {
			return nil, fmt.Errorf("normalizers %s: %w", ic.Normalizer.Path, err)
		}
	}
	return per, nil
}

func (a *ArtifactLoader) loadPredictor(ic config.InstrumentConfig, layout models.FeatureLayout) (domsvc.SequencePredictor, error) {
	switch ic.Predictor.Type {
	case "tfserving":
		return predictor.NewTFServing(ic.Predictor.URL, ic.Predictor.Model, ic.Predictor.Timeout)
	default:
		m, err := predictor.LoadLinear(ic.Predictor.Path)
		if err != nil {
			return nil, err
		}
		if m.WindowLength() != a.windowLength || m.Features() != layout.Features() {
			return nil, fmt.Errorf("%w: model is %dx%d, want %dx%d", models.ErrInvalidLayout,
				m.WindowLength(), m.Features(), a.windowLength, layout.Features())
		}
		return m, nil
	}
}

func (a *ArtifactLoader) seedSource(ic config.InstrumentConfig, layout models.FeatureLayout) (domrepo.SeedSource, error) {
	switch ic.Seed.Source {
	case "clickhouse":
		if a.ch == nil {
			return nil, errors.New("clickhouse seed source is not configured")
		}
		table := ic.Seed.Table
		if table == "" {
			table = a.ch.Table(a.featuresTable)
		}
		var assets []string
		if layout.HasPassthrough() {
			assets = ic.Assets
		}
		src, err := NewCHSeedSource(a.ch.DB(), table, layout.Columns[:layout.Technical], assets)
		if err != nil {
			return nil, err
		}
		src.SetLogger(a.l)
		if a.windowCache != nil && a.windowTTL > 0 {
			return NewCachedSeedSource(src, a.windowCache, a.windowTTL, a.l), nil
		}
		return src, nil
	case "redis":
		if a.cache == nil {
			return nil, errors.New("redis seed source is not configured")
		}
		return NewRedisSeedSource(a.cache, a.cacheTTL), nil
	default:
		return NewFileSeedSource(ic.Seed.Path), nil
	}
}

// seedProvider snapshots file seeds at load time; remote sources are read
// per request so fresh feature rows are picked up.
func (a *ArtifactLoader) seedProvider(ctx context.Context, instrument string, ic config.InstrumentConfig, src domrepo.SeedSource) (domsvc.SeedProvider, error) {
	p := &seedProvider{
		src:        src,
		instrument: instrument,
		n:          a.windowLength,
		single:     models.InstrumentKind(ic.Kind) == models.SingleAsset,
	}
	if ic.Seed.Source != "file" {
		return p, nil
	}

	assets := ic.Assets
	if p.single {
		assets = []string{""}
	}
	p.snapshot = make(map[string]models.Matrix, len(assets))
	for _, asset := range assets {
		rows, err := p.fetch(ctx, asset)
		if err != nil {
			return nil, models.NewArtifactError(instrument, asset, err)
		}
		p.snapshot[asset] = rows
	}
	return p, nil
}

type seedProvider struct {
	src        domrepo.SeedSource
	instrument string
	n          int
	single     bool
	snapshot   map[string]models.Matrix
}

// Seed returns a private copy of the window for asset.
func (p *seedProvider) Seed(ctx context.Context, asset string) (models.Matrix, error) {
	if p.single {
		asset = ""
	}
	if p.snapshot != nil {
		rows, ok := p.snapshot[asset]
		if !ok {
			return nil, fmt.Errorf("%w: %q", models.ErrUnknownAsset, asset)
		}
		return rows.Clone(), nil
	}
	rows, err := p.fetch(ctx, asset)
	if err != nil {
		if errors.Is(err, models.ErrInsufficientHistory) || errors.Is(err, models.ErrUnknownAsset) {
			return nil, err
		}
		return nil, models.NewArtifactError(p.instrument, asset, err)
	}
	return rows, nil
}

func (p *seedProvider) fetch(ctx context.Context, asset string) (models.Matrix, error) {
	rows, err := p.src.LatestWindow(ctx, p.instrument, asset, p.n)
	if err != nil {
		return nil, err
	}
	if len(rows) < p.n {
		return nil, fmt.Errorf("%w: seed has %d timesteps, need %d", models.ErrInsufficientHistory, len(rows), p.n)
	}
	return tail(rows, p.n), nil
}

var _ domsvc.ArtifactLoader = (*ArtifactLoader)(nil)
