//go:build wireinject
// +build wireinject

package di

import (
	"PriceCast/pkg/config"
	"PriceCast/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		// Logging and metrics
		ProvideLogger,
		ProvideMetrics,

		// Infrastructure clients
		ProvideClickHouseClient,
		ProvideRedisCache,
		ProvideKafkaProducer,
		ProvideKafkaConsumer,

		// Repositories
		ProvideArtifactLoader,
		ProvideForecastStore,
		ProvideForecastSink,

		// Use cases
		ProvideEngine,
		ProvideArtifactRegistry,
		ProvideForecastService,
		ProvideKafkaHandlers,

		// Delivery
		ProvideForecastHandler,
		ProvideApp,
	)
	return &server.App{}, nil
}
