// Package blobstore provides the S3-compatible object storage used for raw PDFs and
// rendered sheet images. Uploads always overwrite whatever is stored at the key.
package blobstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/cuongbtq/sheetworks/shared/logger"
)

// ErrNotFound is returned when no object exists at the requested key
var ErrNotFound = errors.New("object not found")

// Config holds storage configuration
type Config struct {
	Endpoint     string
	AccessKey    string
	SecretKey    string
	Region       string
	UsePathStyle bool
}

// Enabled returns true if storage is properly configured
func (c *Config) Enabled() bool {
	return c.Endpoint != "" && c.AccessKey != "" && c.SecretKey != ""
}

// s3API is the subset of the S3 client the store uses
type s3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	CreateBucket(ctx context.Context, in *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
}

// Store provides bucket/path addressed object storage
type Store struct {
	client s3API
	logger *slog.Logger
}

// New creates a store backed by an S3-compatible endpoint (MinIO, Supabase storage, AWS)
func New(ctx context.Context, cfg *Config, log *slog.Logger) (*Store, error) {
	if !cfg.Enabled() {
		return nil, fmt.Errorf("storage endpoint and credentials are required")
	}

	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKey,
			cfg.SecretKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(cfg.Endpoint)
		o.UsePathStyle = cfg.UsePathStyle
	})

	log.Info("Blob store initialized",
		slog.String("endpoint", cfg.Endpoint),
		slog.String("region", region),
	)

	return newWithClient(client, log), nil
}

func newWithClient(client s3API, log *slog.Logger) *Store {
	return &Store{
		client: client,
		logger: log.With(logger.Component("blobstore")),
	}
}

// Upload writes data at bucket/path, replacing any existing object
func (s *Store) Upload(ctx context.Context, bucket, path string, data []byte, contentType string) error {
	input := &s3.PutObjectInput{
		Bucket:        aws.String(bucket),
		Key:           aws.String(path),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}

	if _, err := s.client.PutObject(ctx, input); err != nil {
		s.logger.Error("Failed to upload object",
			slog.String("bucket", bucket),
			slog.String("path", path),
			logger.Err(err),
		)
		return fmt.Errorf("upload %s/%s failed: %w", bucket, path, err)
	}

	s.logger.Debug("Object uploaded",
		slog.String("bucket", bucket),
		slog.String("path", path),
		slog.Int("size", len(data)),
	)
	return nil
}

// Download reads the whole object at bucket/path
func (s *Store) Download(ctx context.Context, bucket, path string) ([]byte, error) {
	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(path),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("download %s/%s: %w", bucket, path, ErrNotFound)
		}
		s.logger.Error("Failed to download object",
			slog.String("bucket", bucket),
			slog.String("path", path),
			logger.Err(err),
		)
		return nil, fmt.Errorf("download %s/%s failed: %w", bucket, path, err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s/%s failed: %w", bucket, path, err)
	}
	return data, nil
}

// EnsureBuckets creates any of the given buckets that do not exist yet
func (s *Store) EnsureBuckets(ctx context.Context, buckets ...string) error {
	for _, bucket := range buckets {
		_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)})
		if err == nil {
			continue
		}
		if !isNotFound(err) {
			return fmt.Errorf("head bucket %s failed: %w", bucket, err)
		}

		if _, err := s.client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(bucket)}); err != nil {
			return fmt.Errorf("create bucket %s failed: %w", bucket, err)
		}
		s.logger.Info("Bucket created", slog.String("bucket", bucket))
	}
	return nil
}

func isNotFound(err error) bool {
	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	var noSuchBucket *types.NoSuchBucket
	if errors.As(err, &noSuchKey) || errors.As(err, &notFound) || errors.As(err, &noSuchBucket) {
		return true
	}
	// MinIO sometimes answers HEAD with a bare 404 that the SDK does not type
	msg := err.Error()
	return strings.Contains(msg, "StatusCode: 404") || strings.Contains(msg, "NotFound")
}
