package config

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Config holds S3 client and bucket info
type S3Config struct {
	Client        *s3.Client
	BucketName    string
	PublicBaseURL string
}

// NewS3Config initializes the S3 client. A custom endpoint switches to
// path-style addressing so MinIO and other S3-compatible stores work.
func NewS3Config(ctx context.Context, cfg StorageConfig) (*S3Config, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	base := cfg.PublicBaseURL
	if base == "" {
		if cfg.Endpoint != "" {
			base = strings.TrimRight(cfg.Endpoint, "/") + "/" + cfg.BucketName
		} else {
			base = fmt.Sprintf("https://%s.s3.amazonaws.com", cfg.BucketName)
		}
	}

	return &S3Config{
		Client:        client,
		BucketName:    cfg.BucketName,
		PublicBaseURL: strings.TrimRight(base, "/"),
	}, nil
}

// ObjectURL returns the public URL for an object key
func (s *S3Config) ObjectURL(key string) string {
	return s.PublicBaseURL + "/" + strings.TrimLeft(key, "/")
}
