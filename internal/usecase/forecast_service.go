package usecase

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"

	"PriceCast/internal/domain/models"
	domrepo "PriceCast/internal/domain/repository"
	"PriceCast/internal/repository"
	"PriceCast/internal/services/forecast"
	"PriceCast/internal/trace"
	"PriceCast/pkg/config"
	applogger "PriceCast/pkg/logger"
)

// ReloadAllInstruments selects every configured instrument in a reload.
const ReloadAllInstruments = "*"

// ForecastCommand is a validated-on-entry forecast request.
type ForecastCommand struct {
	Instrument      string
	AssetID         string
	Principal       float64
	TargetReturnPct float64
	Horizon         int
}

// ForecastOutcome is the result of one forecast run.
type ForecastOutcome struct {
	RunID       string
	Instrument  string
	Kind        models.InstrumentKind
	AssetID     string
	Horizon     int
	Summary     models.ReturnSummary
	Result      *models.ForecastResult
	GeneratedAt time.Time
}

// Series returns the forecasted close prices.
func (o *ForecastOutcome) Series() []float64 { return o.Result.Close() }

// Response renders the outcome with prices and money fields rounded to cents.
func (o *ForecastOutcome) Response() models.ForecastHTTPResponse {
	round := func(d decimal.Decimal) float64 { return d.Round(2).InexactFloat64() }
	price := func(v float64) float64 { return round(decimal.NewFromFloat(v)) }
	return models.ForecastHTTPResponse{
		RunID:          o.RunID,
		Instrument:     o.Instrument,
		AssetID:        o.AssetID,
		Horizon:        o.Horizon,
		InitialPrice:   price(o.Summary.InitialPrice),
		FinalPrice:     price(o.Summary.FinalPrice),
		ReturnPct:      round(o.Summary.ReturnPct),
		NominalReturn:  round(o.Summary.NominalReturn),
		Total:          round(o.Summary.Total),
		Recommendation: o.Summary.Recommendation(),
		ForecastSeries: o.Series(),
		GeneratedAt:    o.GeneratedAt,
	}
}

// Event builds the record emitted to the forecast sink.
func (o *ForecastOutcome) Event() *models.ForecastEvent {
	return &models.ForecastEvent{
		RunID:        o.RunID,
		Instrument:   o.Instrument,
		AssetID:      o.AssetID,
		Horizon:      o.Horizon,
		InitialPrice: o.Summary.InitialPrice,
		FinalPrice:   o.Summary.FinalPrice,
		ReturnPct:    o.Summary.ReturnPct.InexactFloat64(),
		MeetsTarget:  o.Summary.MeetsTarget,
		CloseSeries:  o.Series(),
		GeneratedAt:  o.GeneratedAt,
	}
}

// ForecastServiceConfig carries the settings ForecastService needs.
type ForecastServiceConfig struct {
	MaxHorizon  int
	Timeout     time.Duration
	SinkBackend string
	Instruments map[string]config.InstrumentConfig
}

// ForecastService validates requests, runs the engine on registry
// artifacts, evaluates returns and records the run.
type ForecastService struct {
	cfg      ForecastServiceConfig
	registry *ArtifactRegistry
	engine   *forecast.Engine
	sink     domrepo.ForecastSink
	store    domrepo.ForecastStore
	metrics  domrepo.Metrics
	l        *applogger.Logger
	now      func() time.Time
}

func NewForecastService(
	cfg ForecastServiceConfig,
	registry *ArtifactRegistry,
	engine *forecast.Engine,
	sink domrepo.ForecastSink,
	store domrepo.ForecastStore,
	metrics domrepo.Metrics,
	l *applogger.Logger,
) *ForecastService {
	if sink == nil {
		sink = repository.NoopForecastSink{}
	}
	if l == nil {
		l = applogger.Nop()
	}
	return &ForecastService{
		cfg:      cfg,
		registry: registry,
		engine:   engine,
		sink:     sink,
		store:    store,
		metrics:  metrics,
		l:        l,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Forecast runs one request end to end. Validation happens before any
// artifact is loaded or model invoked. Sink failures are logged only.
func (s *ForecastService) Forecast(ctx context.Context, cmd ForecastCommand) (*ForecastOutcome, error) {
	start := time.Now()
	name, ic, err := s.validate(&cmd)
	if err != nil {
		s.fail(cmd, err, start)
		return nil, err
	}
	cmd.Instrument = name

	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}
	ctx, span := trace.StartSpan(ctx, "forecast.run",
		attribute.String("instrument", cmd.Instrument),
		attribute.String("asset_id", cmd.AssetID),
		attribute.Int("horizon", cmd.Horizon),
	)
	defer span.End()

	out, err := s.run(ctx, cmd, models.InstrumentKind(ic.Kind))
	if err != nil {
		trace.RecordError(span, err)
		s.fail(cmd, err, start)
		return nil, err
	}

	if err := s.sink.Record(ctx, out.Event()); err != nil {
		s.metrics.RecordSinkError(s.cfg.SinkBackend)
		s.l.Warn("forecast sink failed",
			applogger.String("run_id", out.RunID),
			applogger.String("backend", s.cfg.SinkBackend),
			applogger.Error(err),
		)
	}

	dur := time.Since(start)
	s.metrics.RecordForecast(cmd.Instrument, "ok", dur.Seconds())
	s.metrics.RecordSteps(cmd.Instrument, out.Horizon)
	s.l.Info("forecast completed",
		applogger.String("run_id", out.RunID),
		applogger.String("instrument", cmd.Instrument),
		applogger.String("asset_id", cmd.AssetID),
		applogger.Int("horizon", cmd.Horizon),
		applogger.String("return_pct", out.Summary.ReturnPct.StringFixed(2)),
		applogger.String("recommendation", out.Summary.Recommendation()),
		applogger.Duration("duration_ms", dur),
	)
	return out, nil
}

func (s *ForecastService) run(ctx context.Context, cmd ForecastCommand, kind models.InstrumentKind) (*ForecastOutcome, error) {
	set, err := s.registry.Get(ctx, cmd.Instrument)
	if err != nil {
		return nil, err
	}
	seed, err := set.Seeds.Seed(ctx, cmd.AssetID)
	if err != nil {
		return nil, err
	}

	engineCtx, span := trace.StartSpan(ctx, "forecast.engine", attribute.Int("horizon", cmd.Horizon))
	result, err := s.engine.Forecast(engineCtx, set.Predictor, set.Normalizers, models.ForecastRequest{
		Kind:    kind,
		AssetID: cmd.AssetID,
		Horizon: cmd.Horizon,
		History: seed,
		Scaled:  set.SeedScaled,
	}, set.Layout)
	if err != nil {
		trace.RecordError(span, err)
	}
	span.End()
	if err != nil {
		return nil, err
	}

	summary, err := forecast.Evaluate(result, set.Layout.CloseColumn, cmd.Principal, cmd.TargetReturnPct)
	if err != nil {
		return nil, err
	}

	return &ForecastOutcome{
		RunID:       uuid.NewString(),
		Instrument:  cmd.Instrument,
		Kind:        kind,
		AssetID:     cmd.AssetID,
		Horizon:     cmd.Horizon,
		Summary:     summary,
		Result:      result,
		GeneratedAt: s.now(),
	}, nil
}

func (s *ForecastService) fail(cmd ForecastCommand, err error, start time.Time) {
	kind := models.ErrorKind(err)
	s.metrics.RecordError(kind)
	s.metrics.RecordForecast(cmd.Instrument, "error", time.Since(start).Seconds())
	s.l.Error("forecast failed",
		applogger.String("instrument", cmd.Instrument),
		applogger.String("asset_id", cmd.AssetID),
		applogger.Int("horizon", cmd.Horizon),
		applogger.String("kind", kind),
		applogger.Error(err),
	)
}

// validate resolves the instrument and checks every request field. The
// instrument may also be given by kind when exactly one instrument has it.
func (s *ForecastService) validate(cmd *ForecastCommand) (string, config.InstrumentConfig, error) {
	name, ic, err := s.resolve(cmd.Instrument)
	if err != nil {
		return "", ic, err
	}
	switch {
	case !positive(cmd.Principal):
		return "", ic, fmt.Errorf("%w: principal must be a positive number", models.ErrInvalidRequest)
	case !positive(cmd.TargetReturnPct):
		return "", ic, fmt.Errorf("%w: target_return_pct must be a positive number", models.ErrInvalidRequest)
	case cmd.Horizon < 1:
		return "", ic, fmt.Errorf("%w: horizon must be >= 1, got %d", models.ErrInvalidHorizon, cmd.Horizon)
	case s.cfg.MaxHorizon > 0 && cmd.Horizon > s.cfg.MaxHorizon:
		return "", ic, fmt.Errorf("%w: horizon must be <= %d, got %d", models.ErrInvalidHorizon, s.cfg.MaxHorizon, cmd.Horizon)
	}

	if models.InstrumentKind(ic.Kind) == models.SingleAsset {
		cmd.AssetID = ""
		return name, ic, nil
	}
	if cmd.AssetID == "" {
		return "", ic, fmt.Errorf("%w: asset_id is required for %s", models.ErrInvalidRequest, name)
	}
	if !lo.Contains(ic.Assets, cmd.AssetID) {
		return "", ic, fmt.Errorf("%w: %q is not configured for %s", models.ErrUnknownAsset, cmd.AssetID, name)
	}
	return name, ic, nil
}

func (s *ForecastService) resolve(instrument string) (string, config.InstrumentConfig, error) {
	if ic, ok := s.cfg.Instruments[instrument]; ok {
		return instrument, ic, nil
	}
	if kind := models.InstrumentKind(instrument); kind.Valid() {
		matches := lo.PickBy(s.cfg.Instruments, func(_ string, ic config.InstrumentConfig) bool {
			return models.InstrumentKind(ic.Kind) == kind
		})
		if len(matches) == 1 {
			for name, ic := range matches {
				return name, ic, nil
			}
		}
	}
	return "", config.InstrumentConfig{}, fmt.Errorf("%w: %q", models.ErrUnknownInstrument, instrument)
}

func positive(v float64) bool {
	return v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}

// Instruments lists the configured instruments and their load state.
func (s *ForecastService) Instruments() []models.InstrumentInfo {
	names := lo.Keys(s.cfg.Instruments)
	sort.Strings(names)

	out := make([]models.InstrumentInfo, 0, len(names))
	for _, name := range names {
		ic := s.cfg.Instruments[name]
		info := models.InstrumentInfo{
			Name:        name,
			Kind:        models.InstrumentKind(ic.Kind),
			Assets:      ic.Assets,
			Columns:     ic.Layout.Columns,
			Technical:   len(ic.Layout.Columns),
			CloseColumn: ic.Layout.CloseColumn,
		}
		if layout, err := repository.LayoutFor(ic); err == nil {
			info.Columns = layout.Columns
		}
		if set, ok := s.registry.Loaded(name); ok {
			loadedAt := set.LoadedAt
			info.Loaded = true
			info.LoadedAt = &loadedAt
		}
		out = append(out, info)
	}
	return out
}

// Reload reloads one instrument, or all of them for "*".
func (s *ForecastService) Reload(ctx context.Context, instrument string) ([]string, error) {
	if instrument == ReloadAllInstruments {
		names := lo.Keys(s.cfg.Instruments)
		sort.Strings(names)
		return s.registry.ReloadAll(ctx, names)
	}
	if _, ok := s.cfg.Instruments[instrument]; !ok {
		return nil, fmt.Errorf("%w: %q", models.ErrUnknownInstrument, instrument)
	}
	if err := s.registry.Reload(ctx, instrument); err != nil {
		return nil, err
	}
	return []string{instrument}, nil
}

// History returns the most recent recorded runs, newest first.
func (s *ForecastService) History(ctx context.Context, instrument string, limit int) ([]models.ForecastEvent, error) {
	if s.store == nil {
		return nil, models.ErrStoreUnavailable
	}
	if instrument != "" {
		if _, ok := s.cfg.Instruments[instrument]; !ok {
			return nil, fmt.Errorf("%w: %q", models.ErrUnknownInstrument, instrument)
		}
	}
	events, err := s.store.Recent(ctx, instrument, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
	}
	return events, nil
}

// Health reports the history store state; nil when no store is configured.
func (s *ForecastService) Health(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	return s.store.Health(ctx)
}
