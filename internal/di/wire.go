//go:build wireinject
// +build wireinject

package di

import (
	"FinScan/pkg/config"
	"FinScan/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire generates the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		ProvideLogger,
		ProvideMetrics,

		// Infrastructure clients
		ProvideClickHouseClient,
		ProvideKafkaProducer,
		ProvideKafkaConsumer,
		ProvideRedisCache,

		// Stores and caches
		ProvideStores,
		ProvideCacheService,

		// Market data
		ProvideHTTPProvider,
		ProvideBarProvider,
		ProvideMarketStream,

		// Detection
		ProvideScorer,
		ProvideRegistry,
		ProvideEngine,
		ProvideAlertPublisher,
		ProvideRunner,

		// Labeling
		ProvideLabeler,
		ProvideSampler,
		ProvideLabelUseCase,
		ProvideLabelQueue,

		// Use cases and handlers
		ProvideIngestUseCase,
		ProvideScanUseCase,
		ProvideBarsHandler,
		ProvideBarCollector,
		ProvideAPIHandler,

		// Application
		ProvideApp,
	)
	return &server.App{}, nil
}
