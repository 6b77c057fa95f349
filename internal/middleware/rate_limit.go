package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// RateLimitConfig defines configuration for rate limiting
type RateLimitConfig struct {
	// Window is the time window for rate limiting
	Window time.Duration
	// Limit is the maximum number of requests allowed in the window
	Limit int
	// Key prefix for Redis keys
	KeyPrefix string
}

// Limiter decides whether the caller identified by key may proceed.
// It returns the remaining allowance and when the allowance resets.
type Limiter interface {
	IsAllowed(ctx context.Context, key string) (bool, int, time.Time, error)
	Config() RateLimitConfig
}

// RateLimiter handles rate limiting using Redis
type RateLimiter struct {
	redis  redis.UniversalClient
	config RateLimitConfig
	now    func() time.Time
}

// NewRateLimiter creates a new rate limiter instance
func NewRateLimiter(redisClient redis.UniversalClient, config RateLimitConfig) *RateLimiter {
	return &RateLimiter{
		redis:  redisClient,
		config: config,
		now:    time.Now,
	}
}

// NewGenerationRateLimiter limits recipe generation submissions per hour
func NewGenerationRateLimiter(redisClient redis.UniversalClient, perHour int) *RateLimiter {
	return NewRateLimiter(redisClient, RateLimitConfig{
		Window:    time.Hour,
		Limit:     perHour,
		KeyPrefix: "rate_limit:recipe_generation",
	})
}

func (rl *RateLimiter) Config() RateLimitConfig { return rl.config }

// IsAllowed checks if a request from the given caller is allowed
// Returns: allowed, remaining requests, reset time, error
func (rl *RateLimiter) IsAllowed(ctx context.Context, key string) (bool, int, time.Time, error) {
	windowStart := rl.now().Truncate(rl.config.Window)
	redisKey := fmt.Sprintf("%s:%s:%d", rl.config.KeyPrefix, key, windowStart.Unix())

	pipe := rl.redis.Pipeline()
	incrCmd := pipe.Incr(ctx, redisKey)
	pipe.Expire(ctx, redisKey, rl.config.Window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, 0, time.Time{}, err
	}

	count := int(incrCmd.Val())
	remaining := rl.config.Limit - count
	if remaining < 0 {
		remaining = 0
	}

	return count <= rl.config.Limit, remaining, windowStart.Add(rl.config.Window), nil
}

// LocalLimiter keeps one token bucket per caller in process memory.
// The bucket refills Limit tokens per Window with a burst of Limit.
type LocalLimiter struct {
	config RateLimitConfig

	mu      sync.Mutex
	buckets map[string]*rate.Limiter
}

func NewLocalLimiter(config RateLimitConfig) *LocalLimiter {
	return &LocalLimiter{config: config, buckets: make(map[string]*rate.Limiter)}
}

func (l *LocalLimiter) Config() RateLimitConfig { return l.config }

func (l *LocalLimiter) IsAllowed(_ context.Context, key string) (bool, int, time.Time, error) {
	l.mu.Lock()
	b, ok := l.buckets[key]
	if !ok {
		every := rate.Every(l.config.Window / time.Duration(max(l.config.Limit, 1)))
		b = rate.NewLimiter(every, l.config.Limit)
		l.buckets[key] = b
	}
	l.mu.Unlock()

	now := time.Now()
	r := b.ReserveN(now, 1)
	if !r.OK() {
		return false, 0, now.Add(l.config.Window), nil
	}
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return false, 0, now.Add(delay), nil
	}
	remaining := int(b.TokensAt(now))
	if remaining < 0 {
		remaining = 0
	}
	return true, remaining, now.Add(l.config.Window), nil
}

// RateLimit returns a Gin middleware that enforces the limiter per user,
// or per client IP for anonymous callers. Limiter errors let the request through.
func RateLimit(limiter Limiter, log *zap.Logger) gin.HandlerFunc {
	cfg := limiter.Config()
	return func(c *gin.Context) {
		key := "ip:" + c.ClientIP()
		if v, ok := c.Get(ContextUserID); ok {
			if id, ok := v.(uuid.UUID); ok {
				key = "user:" + id.String()
			}
		}

		allowed, remaining, resetTime, err := limiter.IsAllowed(c.Request.Context(), key)
		if err != nil {
			log.Warn("rate limit check failed", zap.String("key", key), zap.Error(err))
			c.Header("X-RateLimit-Error", "rate limit check failed")
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(cfg.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(resetTime.Unix(), 10))

		if !allowed {
			retryAfter := int(time.Until(resetTime).Seconds())
			if retryAfter < 1 {
				retryAfter = 1
			}
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":                "rate limit exceeded",
				"code":                 "RATE_LIMITED",
				"message":              fmt.Sprintf("You have exceeded the rate limit of %d requests per %v", cfg.Limit, cfg.Window),
				"rate_limit_remaining": remaining,
				"rate_limit_reset":     resetTime.Unix(),
				"retry_after":          retryAfter,
			})
			return
		}

		c.Next()
	}
}
