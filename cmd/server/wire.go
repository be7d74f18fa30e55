//go:build wireinject

package main

import (
	"context"

	"github.com/google/wire"

	"jan-server/services/visual-api/internal/config"
	"jan-server/services/visual-api/internal/domain/hls"
	"jan-server/services/visual-api/internal/domain/processing"
	"jan-server/services/visual-api/internal/domain/visual"
	"jan-server/services/visual-api/internal/infrastructure/crontab"
	"jan-server/services/visual-api/internal/infrastructure/logger"
	"jan-server/services/visual-api/internal/infrastructure/storage"
	"jan-server/services/visual-api/internal/infrastructure/streaming"
	"jan-server/services/visual-api/internal/infrastructure/visualhandler"
	"jan-server/services/visual-api/internal/interfaces/httpserver"
	"jan-server/services/visual-api/internal/interfaces/httpserver/handlers"
)

var storageSet = wire.NewSet(
	provideBackends,
	provideRouter,
	wire.Bind(new(visual.Router), new(*storage.Router)),
	provideContainerSigner,
	provideSASCache,
	wire.Bind(new(hls.TokenSource), new(*storage.SASCache)),
	wire.Bind(new(crontab.TokenCache), new(*storage.SASCache)),
)

var processingSet = wire.NewSet(
	visualhandler.NewImageHandler,
	visualhandler.NewSVGHandler,
	visualhandler.NewVideoHandler,
	visualhandler.NewSelector,
	wire.Bind(new(visual.HandlerSelector), new(*visualhandler.Selector)),
	provideWorkerPool,
	provideDispatcher,
	provideOrchestrator,
	wire.Bind(new(visual.Processor), new(*processing.Orchestrator)),
	wire.Bind(new(handlers.ProcessingService), new(*processing.Orchestrator)),
	wire.Bind(new(crontab.StaleJobSweeper), new(*processing.Orchestrator)),
)

var deliverySet = wire.NewSet(
	visual.NewService,
	wire.Bind(new(handlers.VisualService), new(*visual.Service)),
	provideFetcher,
	wire.Bind(new(hls.Fetcher), new(*streaming.Fetcher)),
	provideHLSService,
	wire.Bind(new(handlers.StreamingService), new(*hls.Service)),
	handlers.NewProvider,
	httpserver.New,
)

// BuildApplication assembles the visual API with Wire.
func BuildApplication(ctx context.Context) (*Application, func(), error) {
	wire.Build(
		config.Load,
		logger.New,
		newGormDB,
		provideVisualRepository,
		provideJobRepository,
		storageSet,
		processingSet,
		deliverySet,
		crontab.NewCrontab,
		NewApplication,
	)
	return nil, nil, nil
}
