package repository

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"PriceCast/internal/domain/models"
	"PriceCast/pkg/cache"
	"PriceCast/pkg/config"
)

func writeJSON(t *testing.T, dir, name string, v interface{}) string {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal %s: %v", name, err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, b, 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func zeros(l, f int) [][][]float64 {
	w := make([][][]float64, l)
	for t := range w {
		w[t] = make([][]float64, f)
		for i := range w[t] {
			w[t][i] = make([]float64, f)
		}
	}
	return w
}

func rows(n, cols int) models.Matrix {
	m := make(models.Matrix, n)
	for i := range m {
		m[i] = make([]float64, cols)
		for j := range m[i] {
			m[i][j] = float64(i*10 + j)
		}
	}
	return m
}

func standardSpec(n int) map[string]interface{} {
	mean := make([]float64, n)
	scale := make([]float64, n)
	for i := range scale {
		scale[i] = 1
	}
	return map[string]interface{}{"type": "standard", "n_features_in": n, "mean": mean, "scale": scale}
}

func goldConfig(t *testing.T, seedRows int) config.InstrumentConfig {
	dir := t.TempDir()
	return config.InstrumentConfig{
		Kind: "single-asset",
		Predictor: config.PredictorConfig{
			Type: "linear",
			Path: writeJSON(t, dir, "model.json", map[string]interface{}{"weights": zeros(3, 2), "bias": []float64{0, 0}}),
		},
		Normalizer: config.NormalizerConfig{Path: writeJSON(t, dir, "scaler.json", standardSpec(2))},
		Seed:       config.SeedConfig{Source: "file", Path: writeJSON(t, dir, "seed.json", rows(seedRows, 2))},
		Layout:     config.LayoutConfig{Columns: []string{"open", "close"}, CloseColumn: "close"},
	}
}

func TestFileSeedSource(t *testing.T) {
	dir := t.TempDir()
	writeJSON(t, dir, "seed_AAPL.json", map[string]interface{}{"rows": rows(5, 2)})
	src := NewFileSeedSource(filepath.Join(dir, "seed_{asset}.json"))

	got, err := src.LatestWindow(context.Background(), "equity", "AAPL", 3)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if len(got) != 3 || got[0][0] != 20 || got[2][1] != 41 {
		t.Fatalf("unexpected window %v", got)
	}
	if _, err := src.LatestWindow(context.Background(), "equity", "MSFT", 3); err == nil {
		t.Fatalf("expected missing file error")
	}
}

func TestDecodeSeedShapes(t *testing.T) {
	for _, in := range []string{`[[1,2],[3,4]]`, ` {"rows": [[1,2],[3,4]]}`} {
		m, err := DecodeSeed([]byte(in))
		if err != nil || len(m) != 2 || m[1][1] != 4 {
			t.Fatalf("decode %q: %v %v", in, m, err)
		}
	}
	if _, err := DecodeSeed([]byte(`"nope"`)); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestRedisSeedSourceRoundTrip(t *testing.T) {
	mc := cache.NewMemoryCache()
	defer mc.Close()
	src := NewRedisSeedSource(mc, time.Minute)
	ctx := context.Background()

	if err := src.Push(ctx, "equity", "AAPL", rows(4, 3)); err != nil {
		t.Fatalf("push: %v", err)
	}
	got, err := src.LatestWindow(ctx, "equity", "AAPL", 2)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if len(got) != 2 || got[1][2] != 32 {
		t.Fatalf("unexpected window %v", got)
	}
	if _, err := src.LatestWindow(ctx, "equity", "MSFT", 2); !errors.Is(err, cache.ErrCacheMiss) {
		t.Fatalf("expected cache miss, got %v", err)
	}
	if SeedKey("gold", "") != "seed:gold" || SeedKey("equity", "AAPL") != "seed:equity:AAPL" {
		t.Fatalf("unexpected keys %s %s", SeedKey("gold", ""), SeedKey("equity", "AAPL"))
	}
}

func TestQueries(t *testing.T) {
	q := LatestWindowQuery("pricecast.features", []string{"open", "close"})
	if !strings.Contains(q, "SELECT open, close") || !strings.Contains(q, "ORDER BY ts DESC") {
		t.Fatalf("unexpected query %s", q)
	}
	if q := RecentQuery("runs", ""); strings.Contains(q, "WHERE") {
		t.Fatalf("unfiltered query has WHERE: %s", q)
	}
	if q := RecentQuery("runs", "gold"); !strings.Contains(q, "WHERE instrument = ?") {
		t.Fatalf("filtered query missing WHERE: %s", q)
	}
	if _, err := NewCHSeedSource(nil, "features; DROP TABLE x", []string{"close"}, nil); err == nil {
		t.Fatalf("expected identifier error")
	}
}

func TestArtifactLoaderSingleAsset(t *testing.T) {
	l := NewArtifactLoader(map[string]config.InstrumentConfig{"gold": goldConfig(t, 5)}, 3)
	set, err := l.Load(context.Background(), "gold")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if set.Layout.Features() != 2 || set.Layout.CloseColumn != 1 || set.Kind != models.SingleAsset {
		t.Fatalf("unexpected set %+v", set)
	}

	seed, err := set.Seeds.Seed(context.Background(), "ignored")
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if len(seed) != 3 || seed[0][0] != 20 {
		t.Fatalf("expected the three most recent rows, got %v", seed)
	}
	seed[0][0] = -1
	again, _ := set.Seeds.Seed(context.Background(), "")
	if again[0][0] != 20 {
		t.Fatalf("seed snapshot was mutated through a returned copy")
	}
}

func TestArtifactLoaderFailures(t *testing.T) {
	short := goldConfig(t, 2)
	missing := goldConfig(t, 5)
	missing.Predictor.Path = filepath.Join(t.TempDir(), "absent.json")
	wrongShape := goldConfig(t, 5)
	wrongShape.Predictor.Path = writeJSON(t, t.TempDir(), "m.json", map[string]interface{}{"weights": zeros(4, 2), "bias": []float64{0, 0}})

	tests := []struct {
		name  string
		cfg   config.InstrumentConfig
		cause error
	}{
		{"short seed", short, models.ErrInsufficientHistory},
		{"missing model", missing, os.ErrNotExist},
		{"model shape", wrongShape, models.ErrInvalidLayout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := NewArtifactLoader(map[string]config.InstrumentConfig{"gold": tt.cfg}, 3)
			_, err := l.Load(context.Background(), "gold")
			if !errors.Is(err, models.ErrArtifactUnavailable) || !errors.Is(err, tt.cause) {
				t.Fatalf("expected artifact error wrapping %v, got %v", tt.cause, err)
			}
			var ae *models.ArtifactError
			if !errors.As(err, &ae) || ae.Instrument != "gold" {
				t.Fatalf("expected ArtifactError for gold, got %v", err)
			}
		})
	}

	l := NewArtifactLoader(map[string]config.InstrumentConfig{}, 3)
	if _, err := l.Load(context.Background(), "silver"); !errors.Is(err, models.ErrUnknownInstrument) {
		t.Fatalf("expected unknown instrument, got %v", err)
	}
}

func TestArtifactLoaderMultiAssetRedis(t *testing.T) {
	dir := t.TempDir()
	ic := config.InstrumentConfig{
		Kind:   "multi-asset",
		Assets: []string{"AAPL", "MSFT"},
		Predictor: config.PredictorConfig{
			Type: "linear",
			Path: writeJSON(t, dir, "model.json", map[string]interface{}{"weights": zeros(3, 4), "bias": make([]float64, 4)}),
		},
		Normalizer: config.NormalizerConfig{
			Path:     writeJSON(t, dir, "scalers.json", map[string]interface{}{"AAPL": standardSpec(2), "MSFT": standardSpec(2)}),
			PerAsset: true,
		},
		Seed:   config.SeedConfig{Source: "redis"},
		Layout: config.LayoutConfig{Columns: []string{"open", "close"}, CloseColumn: "close"},
	}
	mc := cache.NewMemoryCache()
	defer mc.Close()
	ctx := context.Background()
	redisSrc := NewRedisSeedSource(mc, 0)
	if err := redisSrc.Push(ctx, "equity", "AAPL", rows(4, 4)); err != nil {
		t.Fatalf("push: %v", err)
	}
	if err := redisSrc.Push(ctx, "equity", "MSFT", rows(2, 4)); err != nil {
		t.Fatalf("push: %v", err)
	}

	l := NewArtifactLoader(map[string]config.InstrumentConfig{"equity": ic}, 3, WithRedisSeeds(mc, 0))
	set, err := l.Load(ctx, "equity")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := set.Layout.Columns; strings.Join(got, ",") != "open,close,AAPL,MSFT" || set.Layout.Technical != 2 {
		t.Fatalf("unexpected layout %+v", set.Layout)
	}
	if seed, err := set.Seeds.Seed(ctx, "AAPL"); err != nil || len(seed) != 3 {
		t.Fatalf("AAPL seed: %v %v", seed, err)
	}
	if _, err := set.Seeds.Seed(ctx, "MSFT"); !errors.Is(err, models.ErrInsufficientHistory) || errors.Is(err, models.ErrArtifactUnavailable) {
		t.Fatalf("expected plain insufficient history, got %v", err)
	}
	if err := mc.Delete(ctx, SeedKey("equity", "AAPL")); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := set.Seeds.Seed(ctx, "AAPL"); !errors.Is(err, models.ErrArtifactUnavailable) {
		t.Fatalf("expected artifact error for missing seed, got %v", err)
	}
}

func TestArtifactLoaderRejectsMissingAssetScaler(t *testing.T) {
	dir := t.TempDir()
	ic := config.InstrumentConfig{
		Kind:       "multi-asset",
		Assets:     []string{"AAPL", "MSFT"},
		Predictor:  config.PredictorConfig{Type: "tfserving", URL: "http://localhost:8501", Model: "equity"},
		Normalizer: config.NormalizerConfig{Path: writeJSON(t, dir, "scalers.json", map[string]interface{}{"AAPL": standardSpec(2)}), PerAsset: true},
		Seed:       config.SeedConfig{Source: "redis"},
		Layout:     config.LayoutConfig{Columns: []string{"open", "close"}, CloseColumn: "close"},
	}
	l := NewArtifactLoader(map[string]config.InstrumentConfig{"equity": ic}, 3, WithRedisSeeds(cache.NewMemoryCache(), 0))
	if _, err := l.Load(context.Background(), "equity"); !errors.Is(err, models.ErrUnknownAsset) || !errors.Is(err, models.ErrArtifactUnavailable) {
		t.Fatalf("expected artifact error for missing MSFT scaler, got %v", err)
	}
}

type countingSource struct {
	calls int
	rows  models.Matrix
	err   error
}

func (s *countingSource) LatestWindow(context.Context, string, string, int) (models.Matrix, error) {
	s.calls++
	return s.rows, s.err
}

func TestCachedSeedSource(t *testing.T) {
	ctx := context.Background()
	src := &countingSource{rows: models.Matrix{{1, 2}, {3, 4}}}
	mc := cache.NewMemoryCache()
	defer mc.Close()
	cached := NewCachedSeedSource(src, mc, time.Minute, nil)

	for i := 0; i < 3; i++ {
		got, err := cached.LatestWindow(ctx, "gold", "", 2)
		if err != nil {
			t.Fatalf("window: %v", err)
		}
		if len(got) != 2 || got[1][1] != 4 {
			t.Fatalf("unexpected window %v", got)
		}
		got[0][0] = 99
	}
	if src.calls != 1 {
		t.Fatalf("expected 1 source call, got %d", src.calls)
	}

	if _, err := cached.LatestWindow(ctx, "gold", "", 3); err != nil {
		t.Fatalf("window: %v", err)
	}
	if src.calls != 2 {
		t.Fatalf("window length is part of the key, got %d calls", src.calls)
	}

	src.err = errors.New("clickhouse down")
	if _, err := cached.LatestWindow(ctx, "silver", "", 2); err == nil {
		t.Fatal("source errors must propagate")
	}
}
