package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"jan-server/services/visual-api/internal/config"
	"jan-server/services/visual-api/internal/domain/hls"
	"jan-server/services/visual-api/internal/domain/job"
	"jan-server/services/visual-api/internal/domain/notification"
	"jan-server/services/visual-api/internal/domain/processing"
	"jan-server/services/visual-api/internal/domain/visual"
	"jan-server/services/visual-api/internal/infrastructure/database"
	"jan-server/services/visual-api/internal/infrastructure/notifier"
	"jan-server/services/visual-api/internal/infrastructure/repository/jobrepo"
	"jan-server/services/visual-api/internal/infrastructure/repository/visualrepo"
	"jan-server/services/visual-api/internal/infrastructure/storage"
	"jan-server/services/visual-api/internal/infrastructure/streaming"
	"jan-server/services/visual-api/internal/worker"
)

// newGormDB connects and migrates the database. It returns nil when repositories live in memory.
func newGormDB(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*gorm.DB, error) {
	if cfg.IsMemoryRepository() {
		log.Warn().Msg("using in-memory repositories; data is lost on restart")
		return nil, nil
	}
	db, err := database.Connect(database.ConfigFrom(cfg))
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if cfg.AutoMigrate {
		if err := database.AutoMigrate(ctx, db, log); err != nil {
			return nil, fmt.Errorf("migrate database: %w", err)
		}
	}
	return db, nil
}

func provideVisualRepository(db *gorm.DB) visual.Repository {
	if db == nil {
		return visualrepo.NewInMemoryRepository()
	}
	return visualrepo.NewPostgresRepository(db)
}

func provideJobRepository(db *gorm.DB) job.Repository {
	if db == nil {
		return jobrepo.NewInMemoryRepository()
	}
	return jobrepo.NewPostgresRepository(db)
}

// provideBackends builds every storage backend. Azure and S3 are both registered when
// configured so formats written under either scheme stay readable after the default changes.
func provideBackends(ctx context.Context, cfg *config.Config, log zerolog.Logger) (storage.Backends, error) {
	var backends storage.Backends
	var azureImages, s3Images visual.Storage

	if cfg.AzureEnabled() {
		images, err := storage.NewAzureStorage(cfg, cfg.AzureImageContainer, log)
		if err != nil {
			return backends, fmt.Errorf("azure image storage: %w", err)
		}
		azureImages = images
		if cfg.AzureLegacyImageContainer != "" {
			legacy, err := storage.NewAzureStorage(cfg, cfg.AzureLegacyImageContainer, log)
			if err != nil {
				return backends, fmt.Errorf("azure legacy image storage: %w", err)
			}
			backends.Extra = append(backends.Extra, legacy)
		}
	}
	if cfg.S3Enabled() {
		images, err := storage.NewS3Storage(ctx, cfg, log)
		if err != nil {
			return backends, fmt.Errorf("s3 image storage: %w", err)
		}
		s3Images = images
	}

	switch cfg.ImageDefaultBackend {
	case "s3":
		backends.ImageDefault = s3Images
		if azureImages != nil {
			backends.Extra = append(backends.Extra, azureImages)
		}
	default:
		backends.ImageDefault = azureImages
		if s3Images != nil {
			backends.Extra = append(backends.Extra, s3Images)
		}
	}

	video, err := storage.NewVideoStorage(ctx, cfg, log)
	if err != nil {
		return backends, fmt.Errorf("video storage: %w", err)
	}
	backends.VideoDefault = video

	legacyVideo, err := storage.NewLegacyVideoStorage(cfg, log)
	if err != nil {
		return backends, fmt.Errorf("legacy video storage: %w", err)
	}
	backends.LegacyVideo = legacyVideo

	return backends, nil
}

func provideRouter(visuals visual.Repository, backends storage.Backends) *storage.Router {
	return storage.NewRouter(visuals, backends)
}

// provideContainerSigner signs streaming containers with the account key.
func provideContainerSigner(cfg *config.Config, log zerolog.Logger) (storage.ContainerSigner, error) {
	if !cfg.AzureEnabled() {
		log.Warn().Msg("azure is not configured; streaming tokens are unavailable")
		return storage.NoSigner{}, nil
	}
	return storage.NewAzureStorage(cfg, cfg.AzureStreamingContainer, log)
}

func provideSASCache(cfg *config.Config, signer storage.ContainerSigner) *storage.SASCache {
	return storage.NewSASCache(signer, cfg.AzureSASCacheSize, cfg.AzureSASTTL)
}

func provideWorkerPool(cfg *config.Config, log zerolog.Logger) *worker.Pool {
	return worker.NewPool(worker.Config{
		WorkerCount: cfg.WorkerCount,
		QueueSize:   cfg.WorkerQueueSize,
		TaskTimeout: cfg.WorkerTimeout,
	}, log)
}

// provideDispatcher publishes events to Kafka when brokers are configured.
func provideDispatcher(cfg *config.Config, log zerolog.Logger) (notification.Dispatcher, func(), error) {
	if len(cfg.KafkaBrokers) == 0 {
		log.Info().Msg("no kafka brokers configured; events are dropped")
		return notification.Noop{}, func() {}, nil
	}
	dispatcher := notifier.NewKafkaDispatcher(cfg.KafkaBrokers, cfg.KafkaTopic, log)
	cleanup := func() {
		if err := dispatcher.Close(); err != nil {
			log.Error().Err(err).Msg("close kafka dispatcher")
		}
	}
	return dispatcher, cleanup, nil
}

func provideOrchestrator(
	cfg *config.Config,
	visuals visual.Repository,
	jobs job.Repository,
	router visual.Router,
	handlers visual.HandlerSelector,
	dispatcher notification.Dispatcher,
	pool *worker.Pool,
	log zerolog.Logger,
) *processing.Orchestrator {
	return processing.NewOrchestrator(processing.ConfigFrom(cfg), visuals, jobs, router, handlers, dispatcher, pool, log)
}

func provideFetcher(cfg *config.Config, log zerolog.Logger) *streaming.Fetcher {
	return streaming.NewFetcher(cfg.StreamingTimeout, log)
}

func provideHLSService(cfg *config.Config, fetcher hls.Fetcher, tokens hls.TokenSource, log zerolog.Logger) *hls.Service {
	return hls.NewService(fetcher, tokens, cfg.ProxyBaseURL, log)
}
