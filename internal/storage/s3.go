// Package storage stores generated step images in S3-compatible object storage.
package storage

import (
	"bytes"
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"

	"github.com/pageza/alchemorsel-v2/recipegen/config"
)

// PutObjectAPI is the subset of the S3 client used for uploads
type PutObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Store uploads objects to one bucket
type S3Store struct {
	client PutObjectAPI
	bucket string
	urlFor func(key string) string
	log    *zap.Logger
}

func NewS3Store(cfg *config.S3Config, log *zap.Logger) *S3Store {
	return &S3Store{client: cfg.Client, bucket: cfg.BucketName, urlFor: cfg.ObjectURL, log: log}
}

// UploadObject stores data under path and returns its public URL.
func (s *S3Store) UploadObject(ctx context.Context, data []byte, path, contentType string) (string, error) {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(path),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload to S3: %w", err)
	}

	url := s.urlFor(path)
	s.log.Debug("uploaded object", zap.String("key", path), zap.Int("bytes", len(data)))
	return url, nil
}
