package di

import (
	"context"
	"fmt"
	"time"

	domrepo "PriceCast/internal/domain/repository"
	"PriceCast/internal/handler/api"
	internalrepo "PriceCast/internal/repository"
	"PriceCast/internal/service/ratelimit"
	"PriceCast/internal/services/forecast"
	"PriceCast/internal/usecase"
	"PriceCast/pkg/cache"
	pkgch "PriceCast/pkg/clickhouse"
	"PriceCast/pkg/config"
	pkgkafka "PriceCast/pkg/kafka"
	applogger "PriceCast/pkg/logger"
	"PriceCast/pkg/metrics"
	"PriceCast/pkg/server"
)

// ProvideLogger creates the application logger.
func ProvideLogger(cfg *config.Config) (*applogger.Logger, error) {
	return applogger.New(&applogger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
}

// ProvideClickHouseClient creates a ClickHouse client, or nil when disabled.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	if !cfg.ClickHouse.Enabled {
		return nil, nil
	}
	client, err := pkgch.NewClient(
		pkgch.WithHost(cfg.ClickHouse.Host),
		pkgch.WithPort(cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert, cfg.ClickHouse.WaitForAsync),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout, cfg.ClickHouse.WriteTimeout),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := client.InitSchema(ctx, []string{
		"CREATE DATABASE IF NOT EXISTS " + client.Database(),
		internalrepo.ForecastRunsDDL(client.Table(cfg.ClickHouse.ForecastsTable)),
	}); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("clickhouse schema: %w", err)
	}

	return client, nil
}

// ProvideRedisCache connects to Redis, or returns nil when disabled.
func ProvideRedisCache(cfg *config.Config) (*cache.RedisCache, error) {
	if !cfg.Redis.Enabled {
		return nil, nil
	}
	c, err := cache.NewRedisCache(
		cache.WithRedisAddr(cfg.Redis.Addr),
		cache.WithRedisAuth(cfg.Redis.Password, cfg.Redis.DB),
	)
	if err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}
	return c, nil
}

// ProvideKafkaProducer creates a Kafka producer, or nil when disabled.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatchSize(cfg.Kafka.Producer.BatchSize),
		pkgkafka.WithBatchBytes(cfg.Kafka.Producer.BatchBytes),
		pkgkafka.WithBatchTimeout(cfg.Kafka.Producer.Linger),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithAsync(cfg.Kafka.Producer.Async),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}

	return producer, nil
}

// ProvideKafkaConsumer creates a Kafka consumer configured from YAML, or nil
// when Kafka is disabled.
func ProvideKafkaConsumer(cfg *config.Config, l *applogger.Logger) (*pkgkafka.Consumer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	consumer, err := pkgkafka.NewConsumer(
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(cfg.Kafka.Consumer.GroupID),
		pkgkafka.WithConsumerWorkers(cfg.Kafka.Consumer.Workers),
		pkgkafka.WithConsumerBufferSize(cfg.Kafka.Consumer.BufferSize),
		pkgkafka.WithConsumerRetry(cfg.Kafka.Consumer.RetryMax, cfg.Kafka.Consumer.BackoffMin, cfg.Kafka.Consumer.BackoffMax),
		pkgkafka.WithConsumerDLQ(cfg.Kafka.Consumer.DLQTopic),
		pkgkafka.WithConsumerFetch(cfg.Kafka.Consumer.MinBytes, cfg.Kafka.Consumer.MaxBytes),
		pkgkafka.WithConsumerLogger(l),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	consumer.WithConsumerHook(pkgkafka.TraceHook{})
	return consumer, nil
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics() domrepo.Metrics {
	return metrics.New()
}

// ProvideArtifactLoader builds the loader with whichever remote seed
// backends are enabled.
func ProvideArtifactLoader(cfg *config.Config, ch *pkgch.Client, rc *cache.RedisCache, l *applogger.Logger) *internalrepo.ArtifactLoader {
	opts := []internalrepo.LoaderOption{internalrepo.WithLoaderLogger(l)}
	if ch != nil {
		opts = append(opts, internalrepo.WithClickHouseSeeds(ch, cfg.ClickHouse.FeaturesTable))
		if ttl := cfg.ClickHouse.SeedCacheTTL; ttl > 0 {
			opts = append(opts, internalrepo.WithSeedWindowCache(cache.NewMemoryCache(cache.WithMaxSize(1024), cache.WithCleanupInterval(ttl)), ttl))
		}
	}
	if rc != nil {
		opts = append(opts, internalrepo.WithRedisSeeds(rc, cfg.Redis.TTL))
	}
	return internalrepo.NewArtifactLoader(cfg.Artifacts.Instruments, cfg.Forecast.WindowLength, opts...)
}

// ProvideArtifactRegistry creates the per-instrument artifact cache.
func ProvideArtifactRegistry(loader *internalrepo.ArtifactLoader, m domrepo.Metrics, l *applogger.Logger) *usecase.ArtifactRegistry {
	return usecase.NewArtifactRegistry(loader, m, l)
}

// ProvideEngine creates the autoregressive forecast engine.
func ProvideEngine(cfg *config.Config) *forecast.Engine {
	return forecast.NewEngine(cfg.Forecast.WindowLength)
}

// ProvideForecastStore returns the ClickHouse history store, or nil without
// ClickHouse.
func ProvideForecastStore(cfg *config.Config, ch *pkgch.Client, l *applogger.Logger) domrepo.ForecastStore {
	if ch == nil {
		return nil
	}
	store := internalrepo.NewCHForecastStore(ch.DB(), ch.Table(cfg.ClickHouse.ForecastsTable))
	store.SetLogger(l)
	return store
}

// ProvideForecastSink picks the sink named by forecast.sink.
func ProvideForecastSink(cfg *config.Config, store domrepo.ForecastStore, producer *pkgkafka.Producer) domrepo.ForecastSink {
	switch cfg.Forecast.Sink {
	case "clickhouse":
		if store != nil {
			return store
		}
	case "kafka":
		if producer != nil {
			return internalrepo.NewKafkaForecastPublisher(producer, cfg.Kafka.Topics.Forecasts)
		}
	}
	return internalrepo.NoopForecastSink{}
}

// ProvideForecastService creates the forecast use case.
func ProvideForecastService(
	cfg *config.Config,
	registry *usecase.ArtifactRegistry,
	engine *forecast.Engine,
	sink domrepo.ForecastSink,
	store domrepo.ForecastStore,
	m domrepo.Metrics,
	l *applogger.Logger,
) *usecase.ForecastService {
	return usecase.NewForecastService(usecase.ForecastServiceConfig{
		MaxHorizon:  cfg.Forecast.MaxHorizon,
		Timeout:     cfg.Forecast.Timeout,
		SinkBackend: cfg.Forecast.Sink,
		Instruments: cfg.Artifacts.Instruments,
	}, registry, engine, sink, store, m, l)
}

// ProvideForecastHandler creates the Echo handler for the forecast API.
func ProvideForecastHandler(cfg *config.Config, l *applogger.Logger, svc *usecase.ForecastService) *api.ForecastEchoHandler {
	h := api.NewForecastEchoHandler(l, svc, cfg.Forecast.DefaultHorizon, cfg.Server.AdminToken)
	if rl := cfg.Server.RateLimit; rl.PerSecond > 0 {
		h.WithRateLimit(ratelimit.New(rl.Burst, rl.PerSecond))
	}
	return h
}

// ProvideKafkaHandlers returns the consumer handlers for the configured
// topics. Forecast events are only persisted when a history store exists.
func ProvideKafkaHandlers(
	cfg *config.Config,
	svc *usecase.ForecastService,
	store domrepo.ForecastStore,
	m domrepo.Metrics,
	l *applogger.Logger,
) []pkgkafka.MessageHandler {
	var hs []pkgkafka.MessageHandler
	if t := cfg.Kafka.Topics.Reload; t != "" {
		hs = append(hs, usecase.NewArtifactReloadHandler(t, svc, l))
	}
	if t := cfg.Kafka.Topics.Forecasts; t != "" && store != nil && cfg.Forecast.Sink == "kafka" {
		hs = append(hs, usecase.NewForecastEventsHandler(t, store, m))
	}
	return hs
}

// ProvideApp creates the application server.
func ProvideApp(
	cfg *config.Config,
	l *applogger.Logger,
	handler *api.ForecastEchoHandler,
	registry *usecase.ArtifactRegistry,
	consumer *pkgkafka.Consumer,
	kh []pkgkafka.MessageHandler,
	producer *pkgkafka.Producer,
	ch *pkgch.Client,
	rc *cache.RedisCache,
) *server.App {
	if producer != nil && cfg.Log.Collector.Enabled && cfg.Log.Collector.Topic != "" {
		l.AddCollector(&applogger.CollectionConfig{
			TimeInterval: cfg.Log.Collector.FlushInterval,
			Topic:        cfg.Log.Collector.Topic,
			Publisher:    producer,
		})
	}

	app := server.New(cfg, l, handler, registry, consumer, kh...)
	if producer != nil {
		app.AddCloser("kafka producer", producer)
	}
	if ch != nil {
		app.AddCloser("clickhouse", ch)
	}
	if rc != nil {
		app.AddCloser("redis", rc)
	}
	return app
}
