package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"PriceCast/internal/domain/models"
	domrepo "PriceCast/internal/domain/repository"
	pkgkafka "PriceCast/pkg/kafka"
	applogger "PriceCast/pkg/logger"
)

// ForecastEventsHandler stores forecast events from Kafka in the history store.
type ForecastEventsHandler struct {
	topic   string
	store   domrepo.ForecastStore
	metrics domrepo.Metrics
}

func NewForecastEventsHandler(topic string, store domrepo.ForecastStore, metrics domrepo.Metrics) *ForecastEventsHandler {
	return &ForecastEventsHandler{topic: topic, store: store, metrics: metrics}
}

func (h *ForecastEventsHandler) Topic() string { return h.topic }

func (h *ForecastEventsHandler) Handle(ctx context.Context, b []byte) error {
	var ev models.ForecastEvent
	if err := json.Unmarshal(b, &ev); err != nil {
		h.metrics.RecordError("consumer_unmarshal")
		return fmt.Errorf("decode forecast event: %w", err)
	}
	if ev.RunID == "" || ev.Instrument == "" {
		h.metrics.RecordError("consumer_invalid")
		return fmt.Errorf("%w: forecast event without run_id or instrument", models.ErrInvalidRequest)
	}
	if err := h.store.Record(ctx, &ev); err != nil {
		h.metrics.RecordSinkError("clickhouse")
		return err
	}
	return nil
}

// Reloader is the part of ForecastService the reload handler drives.
type Reloader interface {
	Reload(ctx context.Context, instrument string) ([]string, error)
}

// ArtifactReloadHandler reloads artifacts on {"instrument": "<name>|*"}
// commands from the training pipeline.
type ArtifactReloadHandler struct {
	topic    string
	reloader Reloader
	l        *applogger.Logger
}

func NewArtifactReloadHandler(topic string, reloader Reloader, l *applogger.Logger) *ArtifactReloadHandler {
	if l == nil {
		l = applogger.Nop()
	}
	return &ArtifactReloadHandler{topic: topic, reloader: reloader, l: l}
}

func (h *ArtifactReloadHandler) Topic() string { return h.topic }

// Handle reloads the named instrument. Unknown instruments are logged and
// acknowledged; retrying cannot fix them.
func (h *ArtifactReloadHandler) Handle(ctx context.Context, b []byte) error {
	var cmd struct {
		Instrument string `json:"instrument"`
	}
	if err := json.Unmarshal(b, &cmd); err != nil {
		return fmt.Errorf("decode reload command: %w", err)
	}
	if cmd.Instrument == "" {
		cmd.Instrument = ReloadAllInstruments
	}

	reloaded, err := h.reloader.Reload(ctx, cmd.Instrument)
	if errors.Is(err, models.ErrUnknownInstrument) {
		h.l.Warn("reload for unknown instrument ignored", applogger.String("instrument", cmd.Instrument))
		return nil
	}
	if err != nil {
		return err
	}
	h.l.Info("artifacts reloaded", applogger.Strings("instruments", reloaded))
	return nil
}

var (
	_ pkgkafka.MessageHandler = (*ForecastEventsHandler)(nil)
	_ pkgkafka.MessageHandler = (*ArtifactReloadHandler)(nil)
)
