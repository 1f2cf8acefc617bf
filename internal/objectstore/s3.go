// Package objectstore persists evidence bundles to S3-compatible
// object storage. MinIO is the default deployment target, reached
// through a custom endpoint with path-style addressing.
package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog/log"

	"github.com/fraudops/decisioning/configs"
	"github.com/fraudops/decisioning/internal/retry"
)

// ErrNotFound reports that no object exists at the requested key.
var ErrNotFound = errors.New("object not found")

const retryAttempts = 3

// S3Store writes and reads evidence objects in a single bucket.
type S3Store struct {
	client    *s3.Client
	bucket    string
	opTimeout time.Duration
	retryBase time.Duration
}

func NewS3Store(ctx context.Context, cfg configs.ObjectStoreConfig, opTimeout time.Duration) (*S3Store, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	endpoint := endpointURL(cfg)
	clientOpts := func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true // Required for MinIO/LocalStack
		}
	}

	return &S3Store{
		client:    s3.NewFromConfig(awsCfg, clientOpts),
		bucket:    cfg.Bucket,
		opTimeout: opTimeout,
		retryBase: 200 * time.Millisecond,
	}, nil
}

func endpointURL(cfg configs.ObjectStoreConfig) string {
	if cfg.Endpoint == "" || strings.Contains(cfg.Endpoint, "://") {
		return cfg.Endpoint
	}
	if cfg.UseSSL {
		return "https://" + cfg.Endpoint
	}
	return "http://" + cfg.Endpoint
}

// EnsureBucket creates the evidence bucket if it does not exist yet.
func (s *S3Store) EnsureBucket(ctx context.Context) error {
	opCtx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	_, err := s.client.CreateBucket(opCtx, &s3.CreateBucketInput{
		Bucket: aws.String(s.bucket),
	})
	if err != nil {
		var owned *types.BucketAlreadyOwnedByYou
		var exists *types.BucketAlreadyExists
		if errors.As(err, &owned) || errors.As(err, &exists) {
			return nil
		}
		return fmt.Errorf("failed to create bucket %s: %w", s.bucket, err)
	}

	log.Info().Str("bucket", s.bucket).Msg("Evidence bucket created")
	return nil
}

// Put writes a JSON object at key.
func (s *S3Store) Put(ctx context.Context, key string, data []byte) error {
	err := retry.Do(ctx, retryAttempts, s.retryBase, func(ctx context.Context) error {
		opCtx, cancel := context.WithTimeout(ctx, s.opTimeout)
		defer cancel()

		_, err := s.client.PutObject(opCtx, &s3.PutObjectInput{
			Bucket:      aws.String(s.bucket),
			Key:         aws.String(key),
			Body:        bytes.NewReader(data),
			ContentType: aws.String("application/json"),
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to put object %s: %w", key, err)
	}
	return nil
}

// Get reads the object at key. Returns ErrNotFound when the key does
// not exist.
func (s *S3Store) Get(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	notFound := false

	err := retry.Do(ctx, retryAttempts, s.retryBase, func(ctx context.Context) error {
		opCtx, cancel := context.WithTimeout(ctx, s.opTimeout)
		defer cancel()

		result, err := s.client.GetObject(opCtx, &s3.GetObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			var noSuchKey *types.NoSuchKey
			if errors.As(err, &noSuchKey) {
				notFound = true
				return nil
			}
			return err
		}
		defer func() { _ = result.Body.Close() }()

		data, err = io.ReadAll(result.Body)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get object %s: %w", key, err)
	}
	if notFound {
		return nil, ErrNotFound
	}
	return data, nil
}

// EvidenceKey builds the date-partitioned object key for a bundle.
func EvidenceKey(createdAt time.Time, bundleID string) string {
	t := createdAt.UTC()
	return fmt.Sprintf("%04d/%02d/%02d/%s.json", t.Year(), t.Month(), t.Day(), bundleID)
}
