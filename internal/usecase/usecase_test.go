package usecase

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"PriceCast/internal/domain/models"
	domsvc "PriceCast/internal/domain/service"
	"PriceCast/internal/services/forecast"
	"PriceCast/internal/services/normalizer"
	"PriceCast/pkg/config"

	"github.com/shopspring/decimal"
)

type stubMetrics struct {
	mu         sync.Mutex
	results    map[string]int
	errors     map[string]int
	sinkErrors int
	loads      map[string]int
}

func newStubMetrics() *stubMetrics {
	return &stubMetrics{results: map[string]int{}, errors: map[string]int{}, loads: map[string]int{}}
}

func (m *stubMetrics) RecordForecast(_, result string, _ float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results[result]++
}

func (m *stubMetrics) RecordError(kind string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors[kind]++
}

func (m *stubMetrics) RecordSteps(string, int) {}

func (m *stubMetrics) RecordArtifactLoad(_, result string, _ float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loads[result]++
}

func (m *stubMetrics) RecordSinkError(string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sinkErrors++
}

// stepPredictor adds delta to the last row of the window.
type stepPredictor struct {
	delta []float64
	nanAt int
	calls int32
}

func (p *stepPredictor) Predict(_ context.Context, window models.Matrix) ([]float64, error) {
	n := atomic.AddInt32(&p.calls, 1)
	last := window[len(window)-1]
	out := make([]float64, len(last))
	for i := range last {
		out[i] = last[i] + p.delta[i]
	}
	if p.nanAt > 0 && int(n) == p.nanAt {
		out[0] = math.NaN()
	}
	return out, nil
}

type fixedSeeds map[string]models.Matrix

func (s fixedSeeds) Seed(_ context.Context, asset string) (models.Matrix, error) {
	rows, ok := s[asset]
	if !ok {
		return nil, models.ErrUnknownAsset
	}
	return rows.Clone(), nil
}

type stubLoader struct {
	calls int32
	delay time.Duration
	err   error
	pred  *stepPredictor
}

func (l *stubLoader) Load(_ context.Context, instrument string) (*domsvc.ArtifactSet, error) {
	atomic.AddInt32(&l.calls, 1)
	time.Sleep(l.delay)
	if l.err != nil {
		return nil, models.NewArtifactError(instrument, "", l.err)
	}
	scaler, _ := normalizer.NewStandardScaler([]float64{0, 0}, []float64{1, 1})
	layout, _ := models.NewFeatureLayout([]string{"open", "close"}, nil, "close")
	return &domsvc.ArtifactSet{
		Instrument:  instrument,
		Kind:        models.SingleAsset,
		Predictor:   l.pred,
		Normalizers: normalizer.Single{N: scaler},
		Layout:      layout,
		Seeds:       fixedSeeds{"": {{100, 50}, {100, 75}, {100, 100}}},
		LoadedAt:    time.Now(),
	}, nil
}

type captureSink struct {
	mu     sync.Mutex
	events []*models.ForecastEvent
	err    error
}

func (s *captureSink) Record(_ context.Context, ev *models.ForecastEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, ev)
	return nil
}

func (s *captureSink) Close() error { return nil }

func instruments() map[string]config.InstrumentConfig {
	layout := config.LayoutConfig{Columns: []string{"open", "close"}, CloseColumn: "close"}
	return map[string]config.InstrumentConfig{
		"gold":   {Kind: "single-asset", Layout: layout},
		"equity": {Kind: "multi-asset", Assets: []string{"AAPL", "MSFT"}, Layout: layout},
	}
}

func newService(loader *stubLoader, sink *captureSink, m *stubMetrics) *ForecastService {
	reg := NewArtifactRegistry(loader, m, nil)
	cfg := ForecastServiceConfig{MaxHorizon: 365, SinkBackend: "kafka", Instruments: instruments()}
	return NewForecastService(cfg, reg, forecast.NewEngine(3), sink, nil, m, nil)
}

func TestForecastServiceEndToEnd(t *testing.T) {
	loader := &stubLoader{pred: &stepPredictor{delta: []float64{0, 25}}}
	sink := &captureSink{}
	m := newStubMetrics()
	svc := newService(loader, sink, m)

	out, err := svc.Forecast(context.Background(), ForecastCommand{
		Instrument: "gold", Principal: 1000, TargetReturnPct: 20, Horizon: 2,
	})
	if err != nil {
		t.Fatalf("forecast: %v", err)
	}
	resp := out.Response()
	if resp.InitialPrice != 125 || resp.FinalPrice != 150 || resp.ReturnPct != 20 || resp.NominalReturn != 200 || resp.Total != 1200 {
		t.Fatalf("unexpected response %+v", resp)
	}
	if resp.Recommendation != models.RecommendationMeetsTarget || len(resp.ForecastSeries) != 2 || resp.RunID == "" {
		t.Fatalf("unexpected response %+v", resp)
	}
	if len(sink.events) != 1 || sink.events[0].RunID != resp.RunID || !sink.events[0].MeetsTarget {
		t.Fatalf("sink not recorded: %+v", sink.events)
	}
	if m.results["ok"] != 1 {
		t.Fatalf("success metric not recorded: %+v", m.results)
	}
}

func TestForecastServiceValidatesBeforeLoading(t *testing.T) {
	tests := []struct {
		name string
		cmd  ForecastCommand
		want error
	}{
		{"unknown instrument", ForecastCommand{Instrument: "silver", Principal: 1, TargetReturnPct: 1, Horizon: 1}, models.ErrUnknownInstrument},
		{"zero principal", ForecastCommand{Instrument: "gold", Principal: 0, TargetReturnPct: 1, Horizon: 1}, models.ErrInvalidRequest},
		{"negative target", ForecastCommand{Instrument: "gold", Principal: 1, TargetReturnPct: -1, Horizon: 1}, models.ErrInvalidRequest},
		{"NaN principal", ForecastCommand{Instrument: "gold", Principal: math.NaN(), TargetReturnPct: 1, Horizon: 1}, models.ErrInvalidRequest},
		{"zero horizon", ForecastCommand{Instrument: "gold", Principal: 1, TargetReturnPct: 1, Horizon: 0}, models.ErrInvalidHorizon},
		{"horizon above max", ForecastCommand{Instrument: "gold", Principal: 1, TargetReturnPct: 1, Horizon: 366}, models.ErrInvalidHorizon},
		{"missing asset", ForecastCommand{Instrument: "equity", Principal: 1, TargetReturnPct: 1, Horizon: 1}, models.ErrInvalidRequest},
		{"unknown asset", ForecastCommand{Instrument: "equity", AssetID: "TSLA", Principal: 1, TargetReturnPct: 1, Horizon: 1}, models.ErrUnknownAsset},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			loader := &stubLoader{pred: &stepPredictor{delta: []float64{0, 1}}}
			m := newStubMetrics()
			svc := newService(loader, &captureSink{}, m)
			_, err := svc.Forecast(context.Background(), tt.cmd)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			if loader.calls != 0 || loader.pred.calls != 0 {
				t.Fatalf("artifacts loaded (%d) or model invoked (%d) before validation", loader.calls, loader.pred.calls)
			}
			if m.errors[models.ErrorKind(tt.want)] != 1 {
				t.Fatalf("error metric not recorded: %+v", m.errors)
			}
		})
	}
}

func TestForecastServiceResolvesInstrumentByKind(t *testing.T) {
	loader := &stubLoader{pred: &stepPredictor{delta: []float64{0, 25}}}
	svc := newService(loader, &captureSink{}, newStubMetrics())
	out, err := svc.Forecast(context.Background(), ForecastCommand{
		Instrument: "single-asset", AssetID: "ignored", Principal: 1000, TargetReturnPct: 30, Horizon: 2,
	})
	if err != nil {
		t.Fatalf("forecast: %v", err)
	}
	if out.Instrument != "gold" || out.AssetID != "" || out.Summary.MeetsTarget {
		t.Fatalf("unexpected outcome %+v", out)
	}
}

func TestForecastServiceSinkFailureIsNotFatal(t *testing.T) {
	loader := &stubLoader{pred: &stepPredictor{delta: []float64{0, 25}}}
	m := newStubMetrics()
	svc := newService(loader, &captureSink{err: errors.New("broker down")}, m)
	if _, err := svc.Forecast(context.Background(), ForecastCommand{Instrument: "gold", Principal: 1, TargetReturnPct: 1, Horizon: 3}); err != nil {
		t.Fatalf("sink failure surfaced: %v", err)
	}
	if m.sinkErrors != 1 {
		t.Fatalf("sink error not counted")
	}
}

func TestForecastServicePropagatesEngineErrors(t *testing.T) {
	loader := &stubLoader{pred: &stepPredictor{delta: []float64{0, 1}, nanAt: 2}}
	sink := &captureSink{}
	m := newStubMetrics()
	svc := newService(loader, sink, m)
	_, err := svc.Forecast(context.Background(), ForecastCommand{Instrument: "gold", Principal: 1, TargetReturnPct: 1, Horizon: 5})
	if !errors.Is(err, models.ErrPredictionDiverged) {
		t.Fatalf("expected divergence, got %v", err)
	}
	if loader.pred.calls != 2 || len(sink.events) != 0 || m.errors[models.KindPredictionDiverged] != 1 {
		t.Fatalf("calls=%d events=%d errors=%v", loader.pred.calls, len(sink.events), m.errors)
	}
}

func TestForecastServiceArtifactFailure(t *testing.T) {
	loader := &stubLoader{err: errors.New("no such file"), pred: &stepPredictor{delta: []float64{0, 1}}}
	svc := newService(loader, &captureSink{}, newStubMetrics())
	_, err := svc.Forecast(context.Background(), ForecastCommand{Instrument: "gold", Principal: 1, TargetReturnPct: 1, Horizon: 1})
	var ae *models.ArtifactError
	if !errors.As(err, &ae) || ae.Instrument != "gold" {
		t.Fatalf("expected artifact error for gold, got %v", err)
	}
}

func TestRegistryLoadsOnceUnderConcurrency(t *testing.T) {
	loader := &stubLoader{delay: 20 * time.Millisecond, pred: &stepPredictor{delta: []float64{0, 1}}}
	reg := NewArtifactRegistry(loader, newStubMetrics(), nil)

	var wg sync.WaitGroup
	sets := make([]*domsvc.ArtifactSet, 8)
	for i := range sets {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sets[i], _ = reg.Get(context.Background(), "gold")
		}(i)
	}
	wg.Wait()

	if loader.calls != 1 {
		t.Fatalf("expected one load, got %d", loader.calls)
	}
	for _, s := range sets {
		if s == nil || s != sets[0] {
			t.Fatalf("callers received different sets")
		}
	}
}

// blockingLoader holds Load open until release closes, failing early if its
// context ends.
type blockingLoader struct {
	stubLoader
	started chan struct{}
	release chan struct{}
}

func (l *blockingLoader) Load(ctx context.Context, instrument string) (*domsvc.ArtifactSet, error) {
	close(l.started)
	select {
	case <-l.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return l.stubLoader.Load(ctx, instrument)
}

func TestRegistrySharedLoadSurvivesCallerCancel(t *testing.T) {
	loader := &blockingLoader{
		stubLoader: stubLoader{pred: &stepPredictor{delta: []float64{0, 1}}},
		started:    make(chan struct{}),
		release:    make(chan struct{}),
	}
	reg := NewArtifactRegistry(loader, newStubMetrics(), nil)

	firstCtx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := reg.Get(firstCtx, "gold")
		firstErr <- err
	}()
	<-loader.started

	type result struct {
		set *domsvc.ArtifactSet
		err error
	}
	second := make(chan result, 1)
	go func() {
		set, err := reg.Get(context.Background(), "gold")
		second <- result{set, err}
	}()

	cancel()
	time.Sleep(10 * time.Millisecond)
	close(loader.release)

	got := <-second
	if got.err != nil || got.set == nil {
		t.Fatalf("waiter failed after another caller cancelled: %v", got.err)
	}
	if err := <-firstErr; err != nil {
		t.Fatalf("owner load failed: %v", err)
	}
	if set, ok := reg.Loaded("gold"); !ok || set != got.set {
		t.Fatalf("shared load was not cached")
	}
}

func TestForecastOutcomeResponseRoundsPrices(t *testing.T) {
	layout, _ := models.NewFeatureLayout([]string{"close"}, nil, "close")
	out := &ForecastOutcome{
		Summary: models.ReturnSummary{
			InitialPrice:  1834.56789,
			FinalPrice:    1901.004,
			ReturnPct:     decimal.RequireFromString("3.62123"),
			NominalReturn: decimal.RequireFromString("362123.456"),
			Total:         decimal.RequireFromString("10362123.456"),
		},
		Result: &models.ForecastResult{Rows: models.Matrix{{1834.56789}, {1901.004}}, Layout: layout},
	}

	resp := out.Response()
	if resp.InitialPrice != 1834.57 || resp.FinalPrice != 1901 {
		t.Fatalf("prices not rounded: initial=%v final=%v", resp.InitialPrice, resp.FinalPrice)
	}
	if resp.ReturnPct != 3.62 || resp.NominalReturn != 362123.46 || resp.Total != 10362123.46 {
		t.Fatalf("money fields not rounded: %+v", resp)
	}
	if resp.ForecastSeries[0] != 1834.56789 {
		t.Fatalf("series must keep full precision, got %v", resp.ForecastSeries)
	}
}

func TestRegistryReloadKeepsOldSetOnFailure(t *testing.T) {
	loader := &stubLoader{pred: &stepPredictor{delta: []float64{0, 1}}}
	reg := NewArtifactRegistry(loader, newStubMetrics(), nil)
	ctx := context.Background()

	first, err := reg.Get(ctx, "gold")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if err := reg.Reload(ctx, "gold"); err != nil {
		t.Fatalf("reload: %v", err)
	}
	second, _ := reg.Get(ctx, "gold")
	if second == first {
		t.Fatalf("reload did not replace the set")
	}

	loader.err = errors.New("corrupt")
	if err := reg.Reload(ctx, "gold"); !errors.Is(err, models.ErrArtifactUnavailable) {
		t.Fatalf("expected artifact error, got %v", err)
	}
	if kept, _ := reg.Get(ctx, "gold"); kept != second {
		t.Fatalf("failed reload dropped the previous set")
	}
}

func TestForecastServiceReloadAndInstruments(t *testing.T) {
	loader := &stubLoader{pred: &stepPredictor{delta: []float64{0, 1}}}
	svc := newService(loader, &captureSink{}, newStubMetrics())
	ctx := context.Background()

	done, err := svc.Reload(ctx, ReloadAllInstruments)
	if err != nil || len(done) != 2 || done[0] != "equity" {
		t.Fatalf("reload all: %v %v", done, err)
	}
	if _, err := svc.Reload(ctx, "silver"); !errors.Is(err, models.ErrUnknownInstrument) {
		t.Fatalf("expected unknown instrument, got %v", err)
	}

	infos := svc.Instruments()
	if len(infos) != 2 || infos[0].Name != "equity" || !infos[0].Loaded {
		t.Fatalf("unexpected instruments %+v", infos)
	}
	if got := infos[0].Columns; len(got) != 4 || got[2] != "AAPL" || infos[0].Technical != 2 {
		t.Fatalf("unexpected equity layout %+v", infos[0])
	}
	if _, err := svc.History(ctx, "", 10); !errors.Is(err, models.ErrStoreUnavailable) {
		t.Fatalf("expected store unavailable, got %v", err)
	}
}
