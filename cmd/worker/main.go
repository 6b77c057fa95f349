package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/pageza/alchemorsel-v2/recipegen/config"
	"github.com/pageza/alchemorsel-v2/recipegen/internal/app"
	"github.com/pageza/alchemorsel-v2/recipegen/internal/logger"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	zlog := logger.New(logger.Config{
		Level:       cfg.LogLevel,
		Format:      cfg.LogFormat,
		Development: cfg.Environment == config.Development,
	})
	defer zlog.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, zlog)
	if err != nil {
		zlog.Fatal("failed to initialize worker", zap.Error(err))
	}
	defer a.Close()
	a.Background(ctx)

	pool, err := a.Pool()
	if err != nil {
		zlog.Fatal("worker needs a reachable redis queue", zap.Error(err))
	}

	zlog.Info("worker started", zap.Int("workers", cfg.Queue.Workers))
	pool.Run(ctx)
	zlog.Info("worker stopped")
}
