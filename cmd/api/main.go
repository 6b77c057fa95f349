package main

import (
	"context"
	"log"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/pageza/alchemorsel-v2/recipegen/config"
	"github.com/pageza/alchemorsel-v2/recipegen/internal/api"
	"github.com/pageza/alchemorsel-v2/recipegen/internal/app"
	"github.com/pageza/alchemorsel-v2/recipegen/internal/logger"
	"github.com/pageza/alchemorsel-v2/recipegen/internal/middleware"
	"github.com/pageza/alchemorsel-v2/recipegen/internal/router"
	"github.com/pageza/alchemorsel-v2/recipegen/internal/server"
)

func main() {
	// Load configuration
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
		zlog.Fatal("failed to initialize service", zap.Error(err))
	}
	defer a.Close()
	a.Background(ctx)

	var wg sync.WaitGroup
	if a.Queue != nil && cfg.Queue.InProcess {
		pool, err := a.Pool()
		if err != nil {
			zlog.Fatal("failed to build worker pool", zap.Error(err))
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			pool.Run(ctx)
		}()
	}

	var tokens middleware.TokenValidator
	if cfg.JWTSecret != "" {
		tokens = middleware.NewJWTValidator(cfg.JWTSecret)
	} else {
		zlog.Warn("JWT_SECRET not set, all requests are anonymous")
	}

	var limiter middleware.Limiter
	switch {
	case cfg.RateLimitPerHour <= 0:
	case a.Redis != nil:
		limiter = middleware.NewGenerationRateLimiter(a.Redis, cfg.RateLimitPerHour)
	default:
		limiter = middleware.NewLocalLimiter(middleware.RateLimitConfig{Window: time.Hour, Limit: cfg.RateLimitPerHour})
	}

	health := map[string]api.Pinger{"database": api.PingFunc(a.PingDB)}
	if cfg.Redis.Configured() {
		health["redis"] = api.PingFunc(a.PingRedis)
	}

	engine := router.SetupRouter(router.Options{
		Generation:     api.NewGenerationHandler(a.Dispatcher, zlog),
		Health:         api.NewHealthHandler(health),
		Tokens:         tokens,
		Limiter:        limiter,
		Metrics:        a.Metrics,
		AllowedOrigins: cfg.CORSOrigins,
		Logger:         zlog,
	})

	srv := server.New(net.JoinHostPort(cfg.ServerHost, cfg.ServerPort), engine, zlog)
	if err := srv.Run(ctx); err != nil {
		zlog.Error("http server failed", zap.Error(err))
		stop()
	}

	wg.Wait()
	zlog.Info("server stopped")
}
