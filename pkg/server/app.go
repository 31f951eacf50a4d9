package server

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	"PriceCast/internal/trace"
	"PriceCast/pkg/config"
	xhttp "PriceCast/pkg/http"
	pkgkafka "PriceCast/pkg/kafka"
	applogger "PriceCast/pkg/logger"

	"github.com/prometheus/client_golang/prometheus"
)

// Warmer preloads instrument artifacts before traffic is accepted.
type Warmer interface {
	Warm(ctx context.Context, instruments []string)
}

type closer struct {
	name string
	c    io.Closer
}

// App encapsulates the entire application lifecycle.
type App struct {
	cfg        *config.Config
	log        *applogger.Logger
	handler    xhttp.Handler
	warmer     Warmer
	consumer   *pkgkafka.Consumer
	kh         []pkgkafka.MessageHandler
	closers    []closer
	httpServer *xhttp.Server
}

// New creates a new App instance with all dependencies. consumer may be nil.
func New(
	cfg *config.Config,
	l *applogger.Logger,
	handler xhttp.Handler,
	warmer Warmer,
	consumer *pkgkafka.Consumer,
	kh ...pkgkafka.MessageHandler,
) *App {
	if l == nil {
		l = applogger.Nop()
	}
	return &App{
		cfg:      cfg,
		log:      l,
		handler:  handler,
		warmer:   warmer,
		consumer: consumer,
		kh:       kh,
	}
}

// AddCloser registers an infrastructure client closed on shutdown, in
// registration order.
func (a *App) AddCloser(name string, c io.Closer) {
	if c != nil {
		a.closers = append(a.closers, closer{name: name, c: c})
	}
}

// Run starts the application and blocks until interrupted.
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := a.Start(ctx); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	a.log.Info("shutdown signal received")
	return a.Shutdown(ctx)
}

// Start warms artifacts, starts the consumer and the HTTP server, and
// returns without blocking.
func (a *App) Start(ctx context.Context) error {
	if err := trace.Init(trace.Config{Enabled: a.cfg.Tracing.Enabled, ServiceName: a.cfg.Tracing.ServiceName}); err != nil {
		a.log.Warn("tracing disabled", applogger.Error(err))
	}

	if a.cfg.Forecast.WarmStart && a.warmer != nil {
		a.warmer.Warm(ctx, a.cfg.InstrumentNames())
	}

	if a.consumer != nil && len(a.kh) > 0 {
		for _, h := range a.kh {
			a.consumer.RegisterHandler(h)
		}
		if err := a.consumer.Start(); err != nil {
			a.log.Error("kafka consumer error", applogger.Error(err))
		} else {
			a.log.Info("kafka consumer started", applogger.Strings("topics", a.consumer.Topics()))
		}
	}

	metricsPath := ""
	if a.cfg.Metrics.Enabled {
		metricsPath = a.cfg.Metrics.Path
	}
	a.httpServer = xhttp.NewServer(a.handler,
		xhttp.WithPort(a.cfg.Server.Port),
		xhttp.WithTimeouts(a.cfg.Server.ReadTimeout, a.cfg.Server.WriteTimeout, a.cfg.Server.ShutdownTimeout),
		xhttp.WithLogger(a.log),
		xhttp.WithMetrics(metricsPath, prometheus.DefaultRegisterer, prometheus.DefaultGatherer),
	)
	if err := a.httpServer.Start(); err != nil {
		a.log.Error("http server start error", applogger.Error(err))
		return err
	}
	return nil
}

// Shutdown gracefully stops all services.
func (a *App) Shutdown(ctx context.Context) error {
	a.log.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(ctx, a.cfg.Server.ShutdownTimeout)
	defer cancel()

	if a.httpServer != nil {
		if err := a.httpServer.Stop(shutdownCtx); err != nil {
			a.log.Error("http shutdown error", applogger.Error(err))
		}
	}

	if a.consumer != nil {
		if err := a.consumer.Stop(shutdownCtx); err != nil {
			a.log.Warn("kafka consumer stop error", applogger.Error(err))
		}
	}

	if err := trace.Shutdown(shutdownCtx); err != nil {
		a.log.Warn("trace shutdown error", applogger.Error(err))
	}

	// Flush the log collector while the producer is still open.
	a.log.RemoveCollector()

	for _, c := range a.closers {
		if err := c.c.Close(); err != nil {
			a.log.Warn(c.name+" close error", applogger.Error(err))
		}
	}

	a.log.Info("shutdown complete")
	return nil
}
