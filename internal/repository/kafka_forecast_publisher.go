package repository

import (
	"context"
	"fmt"

	"PriceCast/internal/domain/models"
	domrepo "PriceCast/internal/domain/repository"
)

// MessagePublisher is the subset of the Kafka producer used here.
type MessagePublisher interface {
	Publish(ctx context.Context, topic string, key []byte, value interface{}) error
}

// KafkaForecastPublisher emits forecast events keyed by instrument so runs
// of one instrument stay ordered.
type KafkaForecastPublisher struct {
	pub   MessagePublisher
	topic string
}

func NewKafkaForecastPublisher(pub MessagePublisher, topic string) *KafkaForecastPublisher {
	return &KafkaForecastPublisher{pub: pub, topic: topic}
}

func (p *KafkaForecastPublisher) Record(ctx context.Context, ev *models.ForecastEvent) error {
	if err := p.pub.Publish(ctx, p.topic, []byte(ev.Instrument), ev); err != nil {
		return fmt.Errorf("publish forecast event: %w", err)
	}
	return nil
}

// Close is a no-op; the producer is shared and closed by the app.
func (p *KafkaForecastPublisher) Close() error { return nil }

// NoopForecastSink drops events.
type NoopForecastSink struct{}

func (NoopForecastSink) Record(context.Context, *models.ForecastEvent) error { return nil }

func (NoopForecastSink) Close() error { return nil }

var (
	_ domrepo.ForecastSink = (*KafkaForecastPublisher)(nil)
	_ domrepo.ForecastSink = NoopForecastSink{}
)
