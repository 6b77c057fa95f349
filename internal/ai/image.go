package ai

import (
	"context"
	"errors"
	"fmt"
	"time"

	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"go.uber.org/zap"

	"github.com/pageza/alchemorsel-v2/recipegen/config"
	"github.com/pageza/alchemorsel-v2/recipegen/internal/apperrors"
	"github.com/pageza/alchemorsel-v2/recipegen/internal/types"
)

var errEmptyImage = errors.New("empty image URL in API response")

// ImageOptions are the provider parameters a subscription tier buys
type ImageOptions struct {
	Size    openai.ImageGenerateParamsSize
	Quality openai.ImageGenerateParamsQuality
}

// TierImageOptions maps a subscription tier to image size and quality.
func TierImageOptions(tier string) ImageOptions {
	switch types.NormalizeTier(tier) {
	case types.TierPremium, types.TierPro:
		return ImageOptions{Size: openai.ImageGenerateParamsSize1024x1024, Quality: openai.ImageGenerateParamsQualityHD}
	default:
		return ImageOptions{Size: openai.ImageGenerateParamsSize1024x1024, Quality: openai.ImageGenerateParamsQualityStandard}
	}
}

// ImageClient generates one image per prompt, retrying with a linear backoff
type ImageClient struct {
	client   openai.Client
	model    string
	attempts int
	backoff  time.Duration
	log      *zap.Logger
}

func NewImageClient(cfg config.ImageConfig, log *zap.Logger, extra ...option.RequestOption) *ImageClient {
	opts := []option.RequestOption{option.WithAPIKey(cfg.Key)}
	if cfg.URL != "" {
		opts = append(opts, option.WithBaseURL(baseURL(cfg.URL)))
	}
	opts = append(opts, extra...)
	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	return &ImageClient{
		client:   openai.NewClient(opts...),
		model:    cfg.Model,
		attempts: attempts,
		backoff:  time.Second,
		log:      log,
	}
}

// WithBackoff overrides the base delay between attempts.
func (c *ImageClient) WithBackoff(d time.Duration) *ImageClient {
	c.backoff = d
	return c
}

// GenerateImage returns the provider URL of a generated image.
func (c *ImageClient) GenerateImage(ctx context.Context, prompt, tier string) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= c.attempts; attempt++ {
		url, err := c.generateOnce(ctx, prompt, tier)
		if err == nil {
			return url, nil
		}
		lastErr = err
		c.log.Warn("image generation attempt failed",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", c.attempts),
			zap.Error(err))
		if attempt == c.attempts {
			break
		}
		select {
		case <-ctx.Done():
			return "", apperrors.NewExternalServiceError("image generation", ctx.Err())
		case <-time.After(time.Duration(attempt) * c.backoff):
		}
	}
	return "", apperrors.NewExternalServiceError("image generation",
		fmt.Errorf("failed after %d attempts: %w", c.attempts, lastErr))
}

func (c *ImageClient) generateOnce(ctx context.Context, prompt, tier string) (string, error) {
	opts := TierImageOptions(tier)
	resp, err := c.client.Images.Generate(ctx, openai.ImageGenerateParams{
		Prompt:         prompt,
		Model:          openai.ImageModel(c.model),
		N:              openai.Int(1),
		Size:           opts.Size,
		Quality:        opts.Quality,
		ResponseFormat: openai.ImageGenerateParamsResponseFormatURL,
	})
	if err != nil {
		return "", err
	}
	if len(resp.Data) == 0 || resp.Data[0].URL == "" {
		return "", errEmptyImage
	}
	return resp.Data[0].URL, nil
}
