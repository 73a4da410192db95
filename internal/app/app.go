// Package app wires the ingest pipeline components from configuration.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/timmy/embedr/internal/api/handler"
	"github.com/timmy/embedr/internal/config"
	"github.com/timmy/embedr/internal/imaging"
	"github.com/timmy/embedr/internal/logger"
	"github.com/timmy/embedr/internal/metrics"
	"github.com/timmy/embedr/internal/queue"
	"github.com/timmy/embedr/internal/repository"
	"github.com/timmy/embedr/internal/service"
	"github.com/timmy/embedr/internal/storage"
)

// App holds every component of the pipeline.
type App struct {
	Config  *config.Config
	Logger  *logger.Logger
	Metrics *metrics.Metrics

	DB    *gorm.DB
	Redis *redis.Client

	Items   *repository.ItemRepository
	Ledger  *repository.LedgerRepository
	Counter *repository.CompletionCounter
	Queue   *queue.RedisQueue
	Index   repository.SearchIndex
	Storage storage.ObjectStorage

	Coordinator *service.Coordinator
	Finalizer   *service.Finalizer
	Worker      *service.Worker
	Runner      *service.Runner

	closers []func() error
}

// New connects to the stores and builds the services.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (*App, error) {
	a := &App{Config: cfg, Logger: log, Metrics: metrics.New()}

	db, err := repository.InitDB(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	a.DB = db
	if sqlDB, err := db.DB(); err == nil {
		a.closers = append(a.closers, sqlDB.Close)
	}

	client, err := repository.NewRedisClient(cfg.Redis)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	a.Redis = client
	a.closers = append(a.closers, client.Close)

	embedder := service.NewEmbeddingService(&cfg.Embedding)
	index, closeIndex, err := repository.NewSearchIndex(ctx, &cfg.Search, embedder, cfg.Embedding.Dimensions)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to initialize search index: %w", err)
	}
	a.Index = index
	a.closers = append(a.closers, closeIndex)

	objectStorage, err := storage.NewStorage(ctx, &cfg.Storage)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	a.Storage = objectStorage

	a.Items = repository.NewItemRepository(db)
	a.Ledger = repository.NewLedgerRepository(db)
	a.Counter = repository.NewCompletionCounter(client, cfg.Redis.Prefix)
	a.Queue = queue.NewRedisQueue(client, queue.Config{
		Prefix:            cfg.Redis.Prefix,
		VisibilityTimeout: cfg.Ingest.VisibilityTimeout,
	})

	cleaner := service.NewCleaner(a.Items, a.Index, a.Storage, cfg.Storage.Folder, a.Metrics, log)
	a.Finalizer = service.NewFinalizer(a.Items, a.Ledger, a.Index, cleaner, a.Metrics, log, service.FinalizerConfig{
		IndexRetries:   cfg.Ingest.MaxTaskRepeat,
		IndexRetryBase: cfg.Ingest.IndexRetryBaseDelay,
	})

	a.Worker = service.NewWorker(
		a.Ledger,
		a.Counter,
		a.Queue,
		a.Storage,
		imaging.NewToolchain(cfg.Imaging.CompressorPath, cfg.Imaging.Timeout),
		service.NewHTTPFetcher(cfg.Ingest.URLOpenTimeout),
		a.Finalizer,
		a.Metrics,
		log,
		service.WorkerConfig{
			MaxTaskRepeat:  cfg.Ingest.MaxTaskRepeat,
			RetryBaseDelay: cfg.Ingest.RetryBaseDelay,
			Folder:         cfg.Storage.Folder,
			ChunkSize:      cfg.Storage.ChunkSize,
			WorkDir:        cfg.Ingest.WorkDir,
			Profile:        imaging.DefaultProfile(),
		},
	)

	a.Coordinator = service.NewCoordinator(a.Items, a.Ledger, a.Queue, a.Index, a.Metrics, log, service.CoordinatorConfig{
		DirectMetadataUpdates: cfg.Ingest.DirectMetadataUpdates,
	})

	a.Runner = service.NewRunner(a.Queue, a.Worker, a.Metrics, log, service.RunnerConfig{
		Workers:      cfg.Ingest.Workers,
		PollInterval: cfg.Ingest.PollInterval,
		ReapInterval: cfg.Ingest.VisibilityTimeout / 2,
	})

	return a, nil
}

// HealthChecks pings the database and Redis.
func (a *App) HealthChecks() map[string]handler.HealthCheck {
	return map[string]handler.HealthCheck{
		"database": func(ctx context.Context) error {
			sqlDB, err := a.DB.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		},
		"redis": func(ctx context.Context) error {
			return a.Redis.Ping(ctx).Err()
		},
	}
}

// Close releases connections in reverse order of creation.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
