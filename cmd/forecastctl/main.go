package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v2"

	"PriceCast/internal/di"
	"PriceCast/internal/export"
	internalrepo "PriceCast/internal/repository"
	"PriceCast/internal/usecase"
	"PriceCast/pkg/cache"
	pkgch "PriceCast/pkg/clickhouse"
	"PriceCast/pkg/config"
	applogger "PriceCast/pkg/logger"
	"PriceCast/pkg/metrics"
)

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app := &cli.App{
		Name:  "forecastctl",
		Usage: "run price forecasts and manage seed windows from the command line",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Value: "config/config.yaml", EnvVars: []string{"PRICECAST_CONFIG"}, Usage: "config file path"},
			&cli.StringFlag{Name: "log-level", Value: "warn", Usage: "log level written to stderr"},
		},
		Commands: []*cli.Command{
			{
				Name:   "instruments",
				Usage:  "list configured instruments and their feature layouts",
				Action: instrumentsCmd,
			},
			{
				Name:   "run",
				Usage:  "forecast an instrument and print the return summary",
				Flags:  append(forecastFlags(), &cli.BoolFlag{Name: "json", Usage: "print the API response document"}),
				Action: runCmd,
			},
			{
				Name:   "export",
				Usage:  "forecast an instrument and write the run to an xlsx workbook",
				Flags:  append(forecastFlags(), &cli.StringFlag{Name: "out", Aliases: []string{"o"}, Value: "forecast.xlsx", Usage: "output file"}),
				Action: exportCmd,
			},
			{
				Name:  "history",
				Usage: "show recent forecast runs from ClickHouse",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "instrument", Aliases: []string{"i"}},
					&cli.IntFlag{Name: "limit", Aliases: []string{"n"}, Value: 20},
				},
				Action: historyCmd,
			},
			{
				Name:  "seed",
				Usage: "manage seed windows",
				Subcommands: []*cli.Command{
					{
						Name:  "push",
						Usage: "push a seed window file to Redis",
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "instrument", Aliases: []string{"i"}, Required: true},
							&cli.StringFlag{Name: "asset", Aliases: []string{"a"}},
							&cli.StringFlag{Name: "file", Aliases: []string{"f"}, Required: true, Usage: "seed JSON: [[...]] or {\"rows\": [[...]]}"},
						},
						Action: seedPushCmd,
					},
				},
			},
		},
	}

	if err := app.RunContext(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "forecastctl:", err)
		os.Exit(1)
	}
}

func forecastFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "instrument", Aliases: []string{"i"}, Required: true},
		&cli.StringFlag{Name: "asset", Aliases: []string{"a"}, Usage: "asset id for multi-asset instruments"},
		&cli.Float64Flag{Name: "principal", Aliases: []string{"p"}, Required: true},
		&cli.Float64Flag{Name: "target", Aliases: []string{"t"}, Required: true, Usage: "target return in percent"},
		&cli.IntFlag{Name: "horizon", Usage: "forecast steps (default from config)"},
	}
}

// runtime holds the components a command needs; clients are opened only
// when enabled in config.
type runtime struct {
	cfg   *config.Config
	log   *applogger.Logger
	ch    *pkgch.Client
	redis *cache.RedisCache
	svc   *usecase.ForecastService
}

func newRuntime(c *cli.Context) (*runtime, error) {
	cfg, err := config.LoadWithEnv(c.String("config"))
	if err != nil {
		return nil, err
	}
	l := applogger.NewWriter(os.Stderr, c.String("log-level"))

	ch, err := di.ProvideClickHouseClient(cfg)
	if err != nil {
		return nil, err
	}
	rc, err := di.ProvideRedisCache(cfg)
	if err != nil {
		if ch != nil {
			_ = ch.Close()
		}
		return nil, err
	}

	m := metrics.NewWithRegisterer(prometheus.NewRegistry())
	loader := di.ProvideArtifactLoader(cfg, ch, rc, l)
	registry := usecase.NewArtifactRegistry(loader, m, l)
	store := di.ProvideForecastStore(cfg, ch, l)
	svc := usecase.NewForecastService(usecase.ForecastServiceConfig{
		MaxHorizon:  cfg.Forecast.MaxHorizon,
		Timeout:     cfg.Forecast.Timeout,
		SinkBackend: "none",
		Instruments: cfg.Artifacts.Instruments,
	}, registry, di.ProvideEngine(cfg), internalrepo.NoopForecastSink{}, store, m, l)

	return &runtime{cfg: cfg, log: l, ch: ch, redis: rc, svc: svc}, nil
}

func (r *runtime) Close() {
	if r.ch != nil {
		_ = r.ch.Close()
	}
	if r.redis != nil {
		_ = r.redis.Close()
	}
}

func (r *runtime) command(c *cli.Context) usecase.ForecastCommand {
	horizon := c.Int("horizon")
	if horizon == 0 {
		horizon = r.cfg.Forecast.DefaultHorizon
	}
	return usecase.ForecastCommand{
		Instrument:      c.String("instrument"),
		AssetID:         c.String("asset"),
		Principal:       c.Float64("principal"),
		TargetReturnPct: c.Float64("target"),
		Horizon:         horizon,
	}
}

func instrumentsCmd(c *cli.Context) error {
	r, err := newRuntime(c)
	if err != nil {
		return err
	}
	defer r.Close()

	w := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tKIND\tFEATURES\tCLOSE\tASSETS")
	for _, in := range r.svc.Instruments() {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%v\n", in.Name, in.Kind, len(in.Columns), in.CloseColumn, in.Assets)
	}
	return w.Flush()
}

func runCmd(c *cli.Context) error {
	r, err := newRuntime(c)
	if err != nil {
		return err
	}
	defer r.Close()

	out, err := r.svc.Forecast(c.Context, r.command(c))
	if err != nil {
		return err
	}
	if c.Bool("json") {
		enc := json.NewEncoder(c.App.Writer)
		enc.SetIndent("", "  ")
		return enc.Encode(out.Response())
	}

	s := out.Summary
	w := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "instrument\t%s %s\n", out.Instrument, out.AssetID)
	fmt.Fprintf(w, "horizon\t%d\n", out.Horizon)
	fmt.Fprintf(w, "initial price\t%.4f\n", s.InitialPrice)
	fmt.Fprintf(w, "final price\t%.4f\n", s.FinalPrice)
	fmt.Fprintf(w, "return\t%s%%\n", s.ReturnPct.StringFixed(2))
	fmt.Fprintf(w, "nominal return\t%s\n", s.NominalReturn.StringFixed(2))
	fmt.Fprintf(w, "total\t%s\n", s.Total.StringFixed(2))
	fmt.Fprintf(w, "recommendation\t%s\n", s.Recommendation())
	return w.Flush()
}

func exportCmd(c *cli.Context) error {
	r, err := newRuntime(c)
	if err != nil {
		return err
	}
	defer r.Close()

	cmd := r.command(c)
	out, err := r.svc.Forecast(c.Context, cmd)
	if err != nil {
		return err
	}
	path := c.String("out")
	if err := export.Save(path, out, cmd); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "wrote %s (%d steps, %s)\n", path, out.Horizon, out.Summary.Recommendation())
	return nil
}

func historyCmd(c *cli.Context) error {
	r, err := newRuntime(c)
	if err != nil {
		return err
	}
	defer r.Close()

	events, err := r.svc.History(c.Context, c.String("instrument"), c.Int("limit"))
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "GENERATED\tINSTRUMENT\tASSET\tHORIZON\tRETURN%\tTARGET MET\tRUN")
	for _, ev := range events {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%.2f\t%t\t%s\n",
			ev.GeneratedAt.Format("2006-01-02 15:04:05"), ev.Instrument, ev.AssetID, ev.Horizon, ev.ReturnPct, ev.MeetsTarget, ev.RunID)
	}
	return w.Flush()
}

func seedPushCmd(c *cli.Context) error {
	r, err := newRuntime(c)
	if err != nil {
		return err
	}
	defer r.Close()

	if r.redis == nil {
		return fmt.Errorf("seed push requires redis.enabled")
	}
	instrument := c.String("instrument")
	if _, ok := r.cfg.Artifacts.Instruments[instrument]; !ok {
		return fmt.Errorf("unknown instrument %q", instrument)
	}

	b, err := os.ReadFile(c.String("file"))
	if err != nil {
		return err
	}
	rows, err := internalrepo.DecodeSeed(b)
	if err != nil {
		return err
	}
	if err := internalrepo.NewRedisSeedSource(r.redis, r.cfg.Redis.TTL).Push(c.Context, instrument, c.String("asset"), rows); err != nil {
		return err
	}
	r.log.Info("seed pushed", applogger.String("instrument", instrument), applogger.Int("rows", len(rows)))
	fmt.Fprintf(c.App.Writer, "pushed %d rows to %s\n", len(rows), internalrepo.SeedKey(instrument, c.String("asset")))
	return nil
}
