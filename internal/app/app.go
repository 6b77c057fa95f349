// Package app wires the generation service out of its configuration. The
// api and worker binaries share it.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/pageza/alchemorsel-v2/recipegen/config"
	"github.com/pageza/alchemorsel-v2/recipegen/internal/ai"
	"github.com/pageza/alchemorsel-v2/recipegen/internal/cancellation"
	"github.com/pageza/alchemorsel-v2/recipegen/internal/database"
	"github.com/pageza/alchemorsel-v2/recipegen/internal/dedupe"
	"github.com/pageza/alchemorsel-v2/recipegen/internal/dispatch"
	"github.com/pageza/alchemorsel-v2/recipegen/internal/metrics"
	"github.com/pageza/alchemorsel-v2/recipegen/internal/pipeline"
	"github.com/pageza/alchemorsel-v2/recipegen/internal/progress"
	"github.com/pageza/alchemorsel-v2/recipegen/internal/queue"
	"github.com/pageza/alchemorsel-v2/recipegen/internal/repository"
	"github.com/pageza/alchemorsel-v2/recipegen/internal/storage"
)

// App holds the long-lived components of one process
type App struct {
	Config       *config.Config
	Log          *zap.Logger
	DB           *gorm.DB
	Redis        *redis.Client
	Recipes      *repository.RecipeRepository
	Registry     *cancellation.Registry
	Progress     *progress.Cache
	Memory       *progress.MemoryStore
	Metrics      *metrics.Metrics
	Orchestrator *pipeline.Orchestrator
	// Queue is nil when the queue is disabled or Redis is absent
	Queue      *queue.RedisQueue
	Dispatcher *dispatch.Dispatcher
}

// Build connects to every configured backend. Redis is optional: without it
// progress lives in memory and every request runs inline.
func Build(ctx context.Context, cfg *config.Config, log *zap.Logger) (*App, error) {
	db, err := database.OpenGorm(cfg.DB, log)
	if err != nil {
		return nil, err
	}
	if cfg.DB.Driver == "sqlite" {
		if err := database.AutoMigrate(db); err != nil {
			return nil, err
		}
	}

	a := &App{
		Config:   cfg,
		Log:      log,
		DB:       db,
		Recipes:  repository.NewRecipeRepository(db, log),
		Registry: cancellation.NewRegistry(log, cfg.CancellationSweepInterval),
		Metrics:  metrics.New(prometheus.NewRegistry()),
	}

	if cfg.Redis.Configured() {
		client, err := database.NewRedisClient(cfg.Redis, log)
		if err != nil {
			log.Warn("redis unavailable, falling back to in-process state", zap.Error(err))
		} else {
			a.Redis = client
		}
	}

	if a.Redis != nil {
		a.Progress = progress.New(progress.NewRedisStore(a.Redis), log, progress.Options{
			SnapshotTTL: cfg.Progress.TTL,
			Backend:     "redis",
		})
		if cfg.Queue.Enabled {
			a.Queue = queue.NewRedisQueue(a.Redis, log)
		}
	} else {
		a.Memory = progress.NewMemoryStore()
		a.Progress = progress.New(a.Memory, log, progress.Options{Backend: "memory"})
	}

	s3cfg, err := config.NewS3Config(ctx, cfg.S3)
	if err != nil {
		return nil, err
	}
	rehoster := storage.NewRehoster(storage.NewS3Store(s3cfg, log), log)

	chat := ai.NewChatClient(cfg.Text, log)
	a.Orchestrator = pipeline.New(pipeline.Deps{
		Text:       ai.NewTextGenerator(chat),
		Images:     ai.NewImageClient(cfg.Image, log),
		Rehoster:   rehoster,
		Quality:    ai.NewQualityService(chat),
		Classifier: ai.NewClassifier(chat),
		Nutrition:  ai.NewNutritionService(chat),
		Duplicates: dedupe.NewDetector(a.Recipes, log),
		Recipes:    a.Recipes,
		Registry:   a.Registry,
		Progress:   a.Progress,
		Metrics:    a.Metrics,
	}, log)

	// a typed nil would make the dispatcher think a queue exists
	var q dispatch.Queue
	if a.Queue != nil {
		q = a.Queue
	}
	a.Dispatcher = dispatch.New(q, a.Orchestrator, a.Registry, a.Progress, a.Metrics, log)
	return a, nil
}

// Background runs the registry sweep and, for the memory backend, marker
// expiry plus the optional snapshot sweeper until ctx is done.
func (a *App) Background(ctx context.Context) {
	go a.Registry.Run(ctx)
	if a.Memory == nil {
		return
	}
	go a.Memory.RunExpiry(ctx)
	if a.Config.Progress.MemorySweep > 0 {
		go a.Memory.RunSweeper(ctx, a.Config.Progress.MemorySweep, a.Config.Progress.TTL)
	}
}

// Pool builds a worker pool over the queue
func (a *App) Pool() (*queue.Pool, error) {
	if a.Queue == nil {
		return nil, errors.New("job queue is not configured")
	}
	return queue.NewPool(a.Queue, a.Orchestrator, a.Registry, queue.PoolOptions{
		Workers:      a.Config.Queue.Workers,
		MaxAttempts:  a.Config.Queue.MaxAttempts,
		RetryBackoff: a.Config.Queue.RetryBackoff,
		JobRetention: a.Config.Queue.JobRetention,
	}, a.Log), nil
}

// PingDB checks the relational store
func (a *App) PingDB(ctx context.Context) error {
	sqlDB, err := a.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// PingRedis checks the shared Redis instance
func (a *App) PingRedis(ctx context.Context) error {
	if a.Redis == nil {
		return errors.New("redis not connected")
	}
	return a.Redis.Ping(ctx).Err()
}

// Close releases connections
func (a *App) Close() error {
	var errs []error
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
	}
	if sqlDB, err := a.DB.DB(); err == nil {
		if err := sqlDB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close database: %w", err))
		}
	}
	return errors.Join(errs...)
}
