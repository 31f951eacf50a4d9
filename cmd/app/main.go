package main

import (
	"context"
	"flag"
	"log"
	"os"
	"time"

	"PriceCast/internal/di"
	internalrepo "PriceCast/internal/repository"
	"PriceCast/pkg/config"
	applogger "PriceCast/pkg/logger"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "config file path")
	check := flag.Bool("check", false, "load config and every instrument's artifacts, then exit")
	flag.Parse()

	cfg, err := config.LoadWithEnv(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	log.Printf("env=%s instruments=%v sink=%s", cfg.Environment, cfg.InstrumentNames(), cfg.Forecast.Sink)

	if *check {
		os.Exit(checkArtifacts(cfg))
	}

	app, err := di.InitializeApp(cfg)
	if err != nil {
		log.Fatalf("app initialization failed: %v", err)
	}

	// Run application (blocks until signal)
	if err := app.Run(); err != nil {
		log.Printf("app error: %v", err)
		os.Exit(1)
	}
}

// checkArtifacts loads file-backed artifacts only; remote seeds are not
// contacted.
func checkArtifacts(cfg *config.Config) int {
	l := applogger.NewWriter(os.Stderr, "info")
	loader := internalrepo.NewArtifactLoader(cfg.Artifacts.Instruments, cfg.Forecast.WindowLength, internalrepo.WithLoaderLogger(l))

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	failed := 0
	for _, name := range cfg.InstrumentNames() {
		if src := cfg.Artifacts.Instruments[name].Seed.Source; src != "file" {
			l.Warn("skipping remote seed instrument", applogger.String("instrument", name), applogger.String("seed_source", src))
			continue
		}
		set, err := loader.Load(ctx, name)
		if err != nil {
			failed++
			l.Error("artifact check failed", applogger.String("instrument", name), applogger.Error(err))
			continue
		}
		l.Info("artifacts ok", applogger.String("instrument", name), applogger.Int("features", set.Layout.Features()))
	}
	if failed > 0 {
		return 1
	}
	return 0
}
