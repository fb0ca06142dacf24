//go:build wireinject
// +build wireinject

package di

import (
	"context"

	"github.com/google/wire"

	"FinFactor/pkg/config"
	"FinFactor/pkg/server"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(ctx context.Context, cfg *config.Config) (*server.App, error) {
	wire.Build(
		ProvideLogger,
		ProvideCalendar,
		ProvideMetrics,

		// Infrastructure clients
		ProvideStorage,
		ProvideCache,
		ProvideKafkaProducer,

		// Repositories
		ProvideFundamentals,
		ProvideScaledPublisher,

		// Analytics
		ProvideComputer,
		ProvideDetector,
		ProvideScaler,

		// Use cases
		ProvideGuard,
		ProvidePool,
		ProvideFactorStage,
		ProvideScalingStage,
		ProvideRunner,

		// HTTP
		ProvideFactorsHandler,
		ProvideHTTPServer,

		ProvideApp,
	)
	return &server.App{}, nil
}
