// Package s3 implements the blob store over Amazon S3 and S3-compatible
// services (MinIO, Cloudflare R2).
//
// This file contains the client factory, constructor, and single-object
// operations. Multipart assembly lives in multipart.go and error
// classification in errors.go.
package s3

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/marmos91/shuttle/internal/logger"
	"github.com/marmos91/shuttle/pkg/store/blob"
)

// Store implements blob.Store and blob.MultipartStore over an S3 bucket.
//
// Thread safety: the underlying s3.Client is safe for concurrent use, and
// the store holds no mutable state, so Store is safe for concurrent use by
// multiple goroutines.
type Store struct {
	client  *s3.Client
	bucket  string
	backend string // "s3" or "r2", used as the metrics label
	metrics blob.Metrics
	retry   retryConfig
}

// retryConfig holds retry settings for read operations.
type retryConfig struct {
	maxRetries        int
	initialBackoff    time.Duration
	maxBackoff        time.Duration
	backoffMultiplier float64
}

func defaultRetryConfig() retryConfig {
	return retryConfig{
		maxRetries:        3,
		initialBackoff:    100 * time.Millisecond,
		maxBackoff:        2 * time.Second,
		backoffMultiplier: 2.0,
	}
}

// NewClient builds an S3 client from blob configuration.
//
// When static credentials are present they override the default AWS
// credential chain. A custom endpoint (MinIO, R2) is applied as the base
// endpoint, with path-style addressing when ForcePathStyle is set.
func NewClient(ctx context.Context, cfg blob.Config) (*s3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.EffectiveRegion()),
	}

	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	endpoint := cfg.EffectiveEndpoint()
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
		o.UsePathStyle = cfg.ForcePathStyle
	})

	return client, nil
}

// New creates an S3 blob store and verifies bucket access. The bucket must
// already exist.
func New(ctx context.Context, cfg blob.Config, metrics blob.Metrics) (*Store, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	client, err := NewClient(ctx, cfg)
	if err != nil {
		return nil, err
	}

	if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(cfg.Bucket),
	}); err != nil {
		return nil, fmt.Errorf("failed to access bucket %q: %w", cfg.Bucket, err)
	}

	logger.Debug("s3 blob store initialized",
		"bucket", cfg.Bucket,
		"backend", cfg.Backend,
		"endpoint", cfg.EffectiveEndpoint())

	return &Store{
		client:  client,
		bucket:  cfg.Bucket,
		backend: string(cfg.Backend),
		metrics: metrics,
		retry:   defaultRetryConfig(),
	}, nil
}

// NewWithClient wraps an existing client without verifying bucket access.
func NewWithClient(client *s3.Client, cfg blob.Config, metrics blob.Metrics) *Store {
	return &Store{
		client:  client,
		bucket:  cfg.Bucket,
		backend: string(cfg.Backend),
		metrics: metrics,
		retry:   defaultRetryConfig(),
	}
}

// calculateBackoff returns the backoff duration for a given attempt.
func (s *Store) calculateBackoff(attempt int) time.Duration {
	backoff := float64(s.retry.initialBackoff)
	for i := 0; i < attempt; i++ {
		backoff *= s.retry.backoffMultiplier
	}
	if backoff > float64(s.retry.maxBackoff) {
		backoff = float64(s.retry.maxBackoff)
	}
	return time.Duration(backoff)
}

// Put writes data under key via PutObject and returns the backend etag.
//
// Put does not retry internally: transient failures are wrapped in
// blob.TransientError so the caller's retry policy decides.
func (s *Store) Put(ctx context.Context, key string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	start := time.Now()
	result, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return "", classify(fmt.Errorf("failed to put object %s: %w", key, err))
	}

	if s.metrics != nil {
		s.metrics.ObservePut(s.backend, time.Since(start))
	}

	return aws.ToString(result.ETag), nil
}

// Get returns a reader over the whole object. Transient failures are
// retried with exponential backoff before giving up.
func (s *Store) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	return s.getWithRange(ctx, key, "")
}

// GetRange returns a reader over length bytes starting at offset, using an
// HTTP Range request so only the requested bytes travel.
func (s *Store) GetRange(ctx context.Context, key string, offset, length int64) (io.ReadCloser, error) {
	if length <= 0 {
		return io.NopCloser(bytes.NewReader(nil)), nil
	}

	// S3 ranges are inclusive, so end = offset + length - 1.
	rangeStr := fmt.Sprintf("bytes=%d-%d", offset, offset+length-1)
	return s.getWithRange(ctx, key, rangeStr)
}

func (s *Store) getWithRange(ctx context.Context, key, rangeStr string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	input := &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}
	if rangeStr != "" {
		input.Range = aws.String(rangeStr)
	}

	var result *s3.GetObjectOutput
	var lastErr error

	for attempt := 0; attempt <= s.retry.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := s.calculateBackoff(attempt - 1)
			logger.Debug("get object: retrying", "backoff", backoff, "attempt", attempt, "key", key)

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		result, lastErr = s.client.GetObject(ctx, input)
		if lastErr == nil {
			return result.Body, nil
		}

		if isNotFoundError(lastErr) {
			return nil, fmt.Errorf("object %s: %w", key, blob.ErrObjectNotFound)
		}

		if isInvalidRangeError(lastErr) {
			return nil, fmt.Errorf("object %s: %w", key, blob.ErrInvalidRange)
		}

		if !isRetryableError(lastErr) {
			break
		}
	}

	return nil, fmt.Errorf("failed to get object %s after %d attempts: %w", key, s.retry.maxRetries+1, lastErr)
}

// Delete removes the object. S3 DeleteObject succeeds for missing keys, so
// deletes are naturally idempotent.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return classify(fmt.Errorf("failed to delete object %s: %w", key, err))
	}

	return nil
}

// List returns every key starting with prefix, in S3 listing order
// (lexicographic).
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	keys := []string{}

	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, classify(fmt.Errorf("failed to list objects with prefix %q: %w", prefix, err))
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}

	return keys, nil
}

// Close is a no-op; the S3 client holds no closable resources.
func (s *Store) Close() error {
	return nil
}

var (
	_ blob.Store          = (*Store)(nil)
	_ blob.MultipartStore = (*Store)(nil)
)
