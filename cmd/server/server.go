package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"jan-server/services/visual-api/internal/config"
	"jan-server/services/visual-api/internal/domain/visual"
	"jan-server/services/visual-api/internal/infrastructure/crontab"
	"jan-server/services/visual-api/internal/infrastructure/logger"
	"jan-server/services/visual-api/internal/infrastructure/observability"
	"jan-server/services/visual-api/internal/infrastructure/visualhandler"
	"jan-server/services/visual-api/internal/interfaces/httpserver"
	"jan-server/services/visual-api/internal/interfaces/httpserver/handlers"
	"jan-server/services/visual-api/internal/worker"
)

// @title Visual API
// @version 1.0
// @description Visual ingestion, processing jobs and multi-backend delivery
// @BasePath /
// @securityDefinitions.apikey AccountHeader
// @in header
// @name X-Account-Id
type Application struct {
	httpServer *httpserver.HttpServer
	pool       *worker.Pool
	crontab    *crontab.Crontab
	cfg        *config.Config
	log        zerolog.Logger
}

func NewApplication(cfg *config.Config, httpServer *httpserver.HttpServer, pool *worker.Pool, cron *crontab.Crontab, log zerolog.Logger) *Application {
	return &Application{
		httpServer: httpServer,
		pool:       pool,
		crontab:    cron,
		cfg:        cfg,
		log:        log,
	}
}

// Start runs the worker pool, the crontab and the HTTP server until ctx is cancelled, then
// drains queued processing tasks.
func (a *Application) Start(ctx context.Context) error {
	if err := a.pool.Start(ctx); err != nil {
		return fmt.Errorf("start worker pool: %w", err)
	}
	defer a.pool.Stop(a.cfg.ShutdownTimeout)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.crontab.Run(gctx)
	})
	g.Go(func() error {
		return a.httpServer.Run(gctx)
	})
	return g.Wait()
}

func main() {
	loadEnvFiles()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log := logger.New(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := observability.Setup(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("initialize observability")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("shutdown telemetry")
		}
	}()

	db, err := newGormDB(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("initialize database")
	}
	visualRepository := provideVisualRepository(db)
	jobRepository := provideJobRepository(db)

	backends, err := provideBackends(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("initialize storage")
	}
	router := provideRouter(visualRepository, backends)

	signer, err := provideContainerSigner(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("initialize streaming signer")
	}
	sasCache := provideSASCache(cfg, signer)

	dispatcher, closeDispatcher, err := provideDispatcher(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("initialize notifier")
	}
	defer closeDispatcher()

	selector := visualhandler.NewSelector(
		visualhandler.NewImageHandler(log),
		visualhandler.NewSVGHandler(),
		visualhandler.NewVideoHandler(cfg, log),
	)

	pool := provideWorkerPool(cfg, log)
	orchestrator := provideOrchestrator(cfg, visualRepository, jobRepository, router, selector, dispatcher, pool, log)
	visualService := visual.NewService(cfg, visualRepository, router, orchestrator, log)
	hlsService := provideHLSService(cfg, provideFetcher(cfg, log), sasCache, log)

	provider := handlers.NewProvider(cfg, visualService, orchestrator, hlsService, log)
	httpServer := httpserver.New(cfg, log, provider)
	cron := crontab.NewCrontab(cfg, orchestrator, sasCache, log)
	app := NewApplication(cfg, httpServer, pool, cron, log)

	if err := app.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("application stopped with error")
	}

	log.Info().Msg("application exited cleanly")
}

func loadEnvFiles() {
	paths := []string{".env", "../.env"}
	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Overload(path); err != nil {
				fmt.Fprintf(os.Stderr, "warning: failed to load %s: %v\n", path, err)
			}
		}
	}
}
