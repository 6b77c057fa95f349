package middleware

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pageza/alchemorsel-v2/recipegen/internal/testutil"
)

func limitedRouter(l Limiter) *gin.Engine {
	r := gin.New()
	r.Use(RateLimit(l, zap.NewNop()))
	r.POST("/", func(c *gin.Context) { c.Status(http.StatusAccepted) })
	return r
}

func TestLocalLimiterBlocksAfterBurst(t *testing.T) {
	r := limitedRouter(NewLocalLimiter(RateLimitConfig{Window: time.Hour, Limit: 2}))

	for i := 0; i < 2; i++ {
		rr := serve(r, httptest.NewRequest(http.MethodPost, "/", nil))
		require.Equal(t, http.StatusAccepted, rr.Code)
	}

	rr := serve(r, httptest.NewRequest(http.MethodPost, "/", nil))
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Contains(t, rr.Body.String(), "retry_after")
	assert.NotEmpty(t, rr.Header().Get("Retry-After"))
	assert.Equal(t, "0", rr.Header().Get("X-RateLimit-Remaining"))
}

func TestLocalLimiterKeysPerCaller(t *testing.T) {
	l := NewLocalLimiter(RateLimitConfig{Window: time.Hour, Limit: 1})
	ctx := context.Background()

	ok, _, _, err := l.IsAllowed(ctx, "ip:1.1.1.1")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, _, _, _ = l.IsAllowed(ctx, "ip:1.1.1.1")
	assert.False(t, ok)
	ok, _, _, _ = l.IsAllowed(ctx, "ip:2.2.2.2")
	assert.True(t, ok)
}

func TestRateLimitUsesUserKey(t *testing.T) {
	l := NewLocalLimiter(RateLimitConfig{Window: time.Hour, Limit: 1})
	r := gin.New()
	userID := uuid.New()
	r.Use(func(c *gin.Context) {
		if c.GetHeader("X-User") != "" {
			c.Set(ContextUserID, userID)
		}
	})
	r.Use(RateLimit(l, zap.NewNop()))
	r.POST("/", func(c *gin.Context) { c.Status(http.StatusAccepted) })

	anon := httptest.NewRequest(http.MethodPost, "/", nil)
	assert.Equal(t, http.StatusAccepted, serve(r, anon).Code)

	authed := httptest.NewRequest(http.MethodPost, "/", nil)
	authed.Header.Set("X-User", "1")
	assert.Equal(t, http.StatusAccepted, serve(r, authed).Code)
	assert.Equal(t, http.StatusTooManyRequests, serve(r, authed).Code)
}

type failingLimiter struct{}

func (failingLimiter) IsAllowed(context.Context, string) (bool, int, time.Time, error) {
	return false, 0, time.Time{}, fmt.Errorf("redis down")
}
func (failingLimiter) Config() RateLimitConfig { return RateLimitConfig{Limit: 1, Window: time.Hour} }

func TestRateLimitFailsOpen(t *testing.T) {
	rr := serve(limitedRouter(failingLimiter{}), httptest.NewRequest(http.MethodPost, "/", nil))
	assert.Equal(t, http.StatusAccepted, rr.Code)
	assert.Equal(t, "rate limit check failed", rr.Header().Get("X-RateLimit-Error"))
}

func TestRedisRateLimiter(t *testing.T) {
	client := testutil.StartRedis(t)
	rl := NewRateLimiter(client, RateLimitConfig{
		Window:    time.Hour,
		Limit:     2,
		KeyPrefix: "rate_limit:test:" + uuid.NewString(),
	})
	ctx := context.Background()

	allowed, remaining, reset, err := rl.IsAllowed(ctx, "user:a")
	require.NoError(t, err)
	assert.True(t, allowed)
	assert.Equal(t, 1, remaining)
	assert.True(t, reset.After(time.Now()))

	allowed, remaining, _, err = rl.IsAllowed(ctx, "user:a")
	require.NoError(t, err)
	assert.True(t, allowed)
	assert.Equal(t, 0, remaining)

	allowed, _, _, err = rl.IsAllowed(ctx, "user:a")
	require.NoError(t, err)
	assert.False(t, allowed)

	allowed, _, _, err = rl.IsAllowed(ctx, "user:b")
	require.NoError(t, err)
	assert.True(t, allowed)
}
