package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// MaxImageBytes caps a downloaded provider image
const MaxImageBytes = 10 << 20

// ObjectUploader stores bytes and returns a URL
type ObjectUploader interface {
	UploadObject(ctx context.Context, data []byte, path, contentType string) (string, error)
}

// Rehoster copies provider images into durable storage. Provider URLs
// expire, stored ones do not.
type Rehoster struct {
	uploader ObjectUploader
	client   *http.Client
	log      *zap.Logger
}

func NewRehoster(uploader ObjectUploader, log *zap.Logger) *Rehoster {
	return &Rehoster{
		uploader: uploader,
		client:   &http.Client{Timeout: 60 * time.Second},
		log:      log,
	}
}

// ImageKey is the object key of one step image
func ImageKey(requestID string, stepIndex int) string {
	return fmt.Sprintf("recipe-images/%s/step-%d-%s.png", requestID, stepIndex, uuid.New().String())
}

// Rehost downloads sourceURL and re-uploads it. When the copy fails the
// provider URL is returned so the step still gets an image.
func (r *Rehoster) Rehost(ctx context.Context, sourceURL, requestID string, stepIndex int) (string, error) {
	data, contentType, err := r.download(ctx, sourceURL)
	if err == nil {
		var stored string
		stored, err = r.uploader.UploadObject(ctx, data, ImageKey(requestID, stepIndex), contentType)
		if err == nil {
			return stored, nil
		}
	}

	r.log.Warn("failed to re-host image, returning provider URL",
		zap.String("request_id", requestID),
		zap.Int("step", stepIndex),
		zap.Error(err))
	return sourceURL, nil
}

func (r *Rehoster) download(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("failed to download image: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("failed to download image, status: %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxImageBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("failed to read image data: %w", err)
	}
	if len(data) > MaxImageBytes {
		return nil, "", fmt.Errorf("image exceeds %d bytes", MaxImageBytes)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "image/png"
	}
	return data, contentType, nil
}
