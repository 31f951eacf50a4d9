package usecase

import (
	"context"
	"sort"
	"sync"
	"time"

	"PriceCast/internal/domain/models"
	domrepo "PriceCast/internal/domain/repository"
	domsvc "PriceCast/internal/domain/service"
	"PriceCast/internal/trace"
	applogger "PriceCast/pkg/logger"

	"go.opentelemetry.io/otel/attribute"
)

// ArtifactRegistry caches loaded artifact sets by instrument. Entries are
// replaced whole on reload and never mutated by forecasts.
type ArtifactRegistry struct {
	loader  domsvc.ArtifactLoader
	metrics domrepo.Metrics
	l       *applogger.Logger

	mu       sync.RWMutex
	sets     map[string]*domsvc.ArtifactSet
	inflight map[string]*loadCall
}

type loadCall struct {
	done chan struct{}
	set  *domsvc.ArtifactSet
	err  error
}

func NewArtifactRegistry(loader domsvc.ArtifactLoader, metrics domrepo.Metrics, l *applogger.Logger) *ArtifactRegistry {
	if l == nil {
		l = applogger.Nop()
	}
	return &ArtifactRegistry{
		loader:   loader,
		metrics:  metrics,
		l:        l,
		sets:     make(map[string]*domsvc.ArtifactSet),
		inflight: make(map[string]*loadCall),
	}
}

// Get returns the cached set, loading it on first use. Concurrent first
// calls for one instrument share a single load.
func (r *ArtifactRegistry) Get(ctx context.Context, instrument string) (*domsvc.ArtifactSet, error) {
	r.mu.RLock()
	set, ok := r.sets[instrument]
	r.mu.RUnlock()
	if ok {
		return set, nil
	}
	return r.load(ctx, instrument, false)
}

// Loaded returns the cached set without loading.
func (r *ArtifactRegistry) Loaded(instrument string) (*domsvc.ArtifactSet, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set, ok := r.sets[instrument]
	return set, ok
}

// Reload loads instrument again and swaps it in. The old set stays in
// place when the load fails.
func (r *ArtifactRegistry) Reload(ctx context.Context, instrument string) error {
	_, err := r.load(ctx, instrument, true)
	return err
}

// ReloadAll reloads instruments in order and returns the ones that
// succeeded along with the first error.
func (r *ArtifactRegistry) ReloadAll(ctx context.Context, instruments []string) ([]string, error) {
	done := make([]string, 0, len(instruments))
	var firstErr error
	for _, name := range instruments {
		if err := r.Reload(ctx, name); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		done = append(done, name)
	}
	return done, firstErr
}

// Warm loads every instrument eagerly. Failures are logged; lazy loading
// retries them on first request.
func (r *ArtifactRegistry) Warm(ctx context.Context, instruments []string) {
	for _, name := range instruments {
		if _, err := r.Get(ctx, name); err != nil {
			r.l.Warn("artifact warm-up failed", applogger.String("instrument", name), applogger.Error(err))
		}
	}
}

// Instruments returns the names currently cached.
func (r *ArtifactRegistry) Instruments() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.sets))
	for name := range r.sets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *ArtifactRegistry) load(ctx context.Context, instrument string, force bool) (*domsvc.ArtifactSet, error) {
	r.mu.Lock()
	if !force {
		if set, ok := r.sets[instrument]; ok {
			r.mu.Unlock()
			return set, nil
		}
	}
	if call, ok := r.inflight[instrument]; ok {
		r.mu.Unlock()
		select {
		case <-call.done:
			return call.set, call.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	call := &loadCall{done: make(chan struct{})}
	r.inflight[instrument] = call
	r.mu.Unlock()

	// Waiters share this load, so it must not end with the first caller's request.
	call.set, call.err = r.doLoad(context.WithoutCancel(ctx), instrument)

	r.mu.Lock()
	if call.err == nil {
		r.sets[instrument] = call.set
	}
	delete(r.inflight, instrument)
	r.mu.Unlock()
	close(call.done)

	return call.set, call.err
}

func (r *ArtifactRegistry) doLoad(ctx context.Context, instrument string) (*domsvc.ArtifactSet, error) {
	ctx, span := trace.StartSpan(ctx, "artifacts.load", attribute.String("instrument", instrument))
	defer span.End()

	start := time.Now()
	set, err := r.loader.Load(ctx, instrument)
	dur := time.Since(start)
	if err != nil {
		trace.RecordError(span, err)
		r.metrics.RecordArtifactLoad(instrument, "error", dur.Seconds())
		r.l.Error("artifact load failed",
			applogger.String("instrument", instrument),
			applogger.String("kind", models.ErrorKind(err)),
			applogger.Error(err),
		)
		return nil, err
	}
	r.metrics.RecordArtifactLoad(instrument, "ok", dur.Seconds())
	r.l.Info("artifacts loaded",
		applogger.String("instrument", instrument),
		applogger.String("instrument_kind", string(set.Kind)),
		applogger.Int("features", set.Layout.Features()),
		applogger.Duration("duration_ms", dur),
	)
	return set, nil
}
