package recorder

import (
	"arbitrage-bot-go/internal/models"
	"bytes"
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Uploader stores a finished batch under key.
type Uploader interface {
	Upload(ctx context.Context, key string, data []byte) error
}

// S3Uploader puts batches into one bucket.
type S3Uploader struct {
	client *s3.Client
	bucket string
}

// NewS3Uploader builds a client for cfg. Custom endpoints and path-style
// addressing allow S3 compatible stores.
func NewS3Uploader(ctx context.Context, cfg models.S3Config) (*S3Uploader, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	key, secret := os.Getenv(cfg.AccessKeyEnv), os.Getenv(cfg.SecretKeyEnv)
	if cfg.AccessKeyEnv != "" && key != "" && secret != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(key, secret, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.PathStyle
	})
	return &S3Uploader{client: client, bucket: cfg.Bucket}, nil
}

// Upload implements Uploader.
func (u *S3Uploader) Upload(ctx context.Context, key string, data []byte) error {
	_, err := u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/octet-stream"),
		Metadata:    map[string]string{"compression": "snappy"},
	})
	if err != nil {
		return fmt.Errorf("upload s3://%s/%s: %w", u.bucket, key, err)
	}
	return nil
}
