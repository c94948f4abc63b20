// Package s3 provides an S3-compatible mirror backend.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/bina/bimsync/internal/logging"
	"github.com/bina/bimsync/internal/metrics"
)

// BackendConfig holds S3 mirror settings. An empty Endpoint targets AWS;
// empty keys fall back to the default credential chain.
type BackendConfig struct {
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
	Region    string
	// HTTPClient overrides the SDK HTTP client (tests).
	HTTPClient aws.HTTPClient
}

// S3Backend writes mirrored files to a bucket.
type S3Backend struct {
	client *s3.Client
	bucket string
}

// NewBackend creates a new S3 backend. A bucket that is missing and cannot
// be created is logged, not fatal: the first PutObject reports the error.
func NewBackend(ctx context.Context, cfg BackendConfig) (*S3Backend, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket is required")
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}

	opts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, config.WithHTTPClient(cfg.HTTPClient))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
	})

	backend := &S3Backend{
		client: client,
		bucket: cfg.Bucket,
	}

	if err := backend.ensureBucket(ctx); err != nil {
		logging.Error("bucket check failed",
			logging.String("bucket", cfg.Bucket),
			logging.Err(err),
		)
	}

	return backend, nil
}

func (b *S3Backend) ensureBucket(ctx context.Context) error {
	start := time.Now()
	_, err := b.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(b.bucket),
	})
	if err == nil {
		metrics.RecordMirrorOperation("s3", "head_bucket", time.Since(start), true)
		return nil
	}

	_, createErr := b.client.CreateBucket(ctx, &s3.CreateBucketInput{
		Bucket: aws.String(b.bucket),
	})
	if createErr != nil {
		metrics.RecordMirrorOperation("s3", "create_bucket", time.Since(start), false)
		return fmt.Errorf("bucket %s does not exist and cannot create: %w", b.bucket, createErr)
	}
	metrics.RecordMirrorOperation("s3", "create_bucket", time.Since(start), true)
	logging.Info("created S3 bucket", logging.String("bucket", b.bucket))
	return nil
}

// PutObject uploads content to key. body should be seekable when the
// endpoint is plain HTTP.
func (b *S3Backend) PutObject(ctx context.Context, key string, body io.Reader, size int64) error {
	start := time.Now()

	input := &s3.PutObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
		Body:   body,
	}
	if size >= 0 {
		input.ContentLength = aws.Int64(size)
	}

	if _, err := b.client.PutObject(ctx, input); err != nil {
		metrics.RecordMirrorOperation("s3", "put_object", time.Since(start), false)
		return fmt.Errorf("put object %s: %w", key, err)
	}

	metrics.RecordMirrorOperation("s3", "put_object", time.Since(start), true)
	logging.Debug("S3 put object", logging.String("key", key), logging.Int64("size", size))
	return nil
}

// ObjectExists checks if an object exists at key.
func (b *S3Backend) ObjectExists(ctx context.Context, key string) (bool, error) {
	start := time.Now()

	_, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nf *types.NotFound
		if errors.As(err, &nf) {
			metrics.RecordMirrorOperation("s3", "head_object", time.Since(start), true)
			return false, nil
		}
		metrics.RecordMirrorOperation("s3", "head_object", time.Since(start), false)
		return false, fmt.Errorf("head object %s: %w", key, err)
	}

	metrics.RecordMirrorOperation("s3", "head_object", time.Since(start), true)
	return true, nil
}

// Type returns "s3".
func (b *S3Backend) Type() string { return "s3" }

// Close is a no-op for S3 backends.
func (b *S3Backend) Close() error { return nil }
