//go:build wireinject
// +build wireinject

package di

import (
	"github.com/google/wire"

	"PCRPull/internal/domain/repository"
	internalrepo "PCRPull/internal/repository"
	"PCRPull/internal/service/calendar"
	"PCRPull/pkg/config"
	"PCRPull/pkg/server"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, func(), error) {
	wire.Build(
		// Ambient
		ProvideLogger,
		ProvideRegistry,
		ProvideMetrics,

		// Domain collaborators
		ProvideCalendar,
		wire.Bind(new(repository.MarketClock), new(*calendar.Calendar)),
		ProvideSnapshotStore,
		wire.Bind(new(repository.SnapshotStore), new(*internalrepo.FileSnapshotStore)),
		ProvideCache,

		// Use cases
		ProvideAggregator,
		ProvideSnapshotPublisher,
		ProvideSnapshotService,
		ProvideIngestHandler,

		// Transport
		ProvideKafkaConsumer,
		ProvidePCRHandler,
		ProvideHTTPServer,

		// Application server
		ProvideApp,
	)
	return nil, nil, nil
}
