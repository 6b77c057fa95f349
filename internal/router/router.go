package router

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/pageza/alchemorsel-v2/recipegen/internal/api"
	"github.com/pageza/alchemorsel-v2/recipegen/internal/metrics"
	"github.com/pageza/alchemorsel-v2/recipegen/internal/middleware"
)

// Options collects what the route table needs
type Options struct {
	Generation *api.GenerationHandler
	Health     *api.HealthHandler
	Tokens     middleware.TokenValidator
	// Limiter guards submissions; nil disables rate limiting
	Limiter        middleware.Limiter
	Metrics        *metrics.Metrics
	AllowedOrigins []string
	Logger         *zap.Logger
}

// SetupRouter configures the application routes
func SetupRouter(opts Options) *gin.Engine {
	router := gin.New()
	router.Use(
		middleware.RequestLogger(opts.Logger, opts.Metrics),
		middleware.ErrorHandler(opts.Logger),
		middleware.CORS(opts.AllowedOrigins),
	)

	router.GET("/health", opts.Health.Health)
	router.GET("/api/health", opts.Health.Health)
	if opts.Metrics != nil {
		router.GET("/metrics", opts.Metrics.Handler())
	}

	v1 := router.Group("/api/v1")
	generate := v1.Group("/recipes/generate")
	generate.Use(middleware.OptionalAuth(opts.Tokens))
	{
		submit := []gin.HandlerFunc{opts.Generation.Generate}
		if opts.Limiter != nil {
			submit = append([]gin.HandlerFunc{middleware.RateLimit(opts.Limiter, opts.Logger)}, submit...)
		}
		generate.POST("", submit...)
		generate.POST("/cancel", opts.Generation.Cancel)
		generate.GET("/queue/health", opts.Generation.QueueHealth)
		generate.GET("/:requestId/status", opts.Generation.Status)
	}

	return router
}
