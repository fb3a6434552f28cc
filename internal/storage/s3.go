package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/timmy/rostersync/internal/config"
)

// Flavor is the S3-compatible service behind an endpoint.
type Flavor string

const (
	FlavorR2           Flavor = "r2"
	FlavorS3           Flavor = "s3"
	FlavorS3Compatible Flavor = "s3compatible"
)

// S3Store implements BlobStore on an S3-compatible bucket.
type S3Store struct {
	client *s3.Client
	bucket string
	flavor Flavor
}

// NewS3Store creates a store for the configured bucket.
// Parameters:
//   - ctx: context used while loading AWS configuration.
//   - cfg: storage section of the application config.
//
// Returns:
//   - *S3Store: store bound to cfg.Bucket.
//   - error: non-nil if the AWS configuration cannot be loaded.
func NewS3Store(ctx context.Context, cfg *config.StorageConfig) (*S3Store, error) {
	flavor := Flavor(cfg.Type)
	if flavor == "" {
		flavor = detectFlavor(cfg.Endpoint)
	}

	region := cfg.Region
	if region == "" {
		region = "us-east-1"
		if flavor == FlavorR2 {
			region = "auto"
		}
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	scheme := "http"
	if cfg.UseSSL {
		scheme = "https"
	}
	endpoint := scheme + "://" + normalizeEndpoint(cfg.Endpoint)

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
		o.UsePathStyle = true
	})
	return &S3Store{client: client, bucket: cfg.Bucket, flavor: flavor}, nil
}

// normalizeEndpoint strips the scheme and any path from endpoint.
func normalizeEndpoint(endpoint string) string {
	endpoint = strings.TrimPrefix(endpoint, "https://")
	endpoint = strings.TrimPrefix(endpoint, "http://")
	if idx := strings.Index(endpoint, "/"); idx != -1 {
		endpoint = endpoint[:idx]
	}
	return endpoint
}

func detectFlavor(endpoint string) Flavor {
	endpoint = strings.ToLower(endpoint)
	switch {
	case strings.Contains(endpoint, "r2.cloudflarestorage.com"):
		return FlavorR2
	case strings.Contains(endpoint, "amazonaws.com"):
		return FlavorS3
	}
	return FlavorS3Compatible
}

// EnsureBucket creates the bucket when it is missing.
// R2 buckets cannot be created through the API.
func (s *S3Store) EnsureBucket(ctx context.Context) error {
	if _, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)}); err == nil {
		return nil
	}
	if s.flavor == FlavorR2 {
		return fmt.Errorf("bucket %s does not exist, please create it in the R2 dashboard", s.bucket)
	}
	if _, err := s.client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(s.bucket)}); err != nil {
		return fmt.Errorf("failed to create bucket %s: %w", s.bucket, err)
	}
	return nil
}

// Put uploads body under key.
func (s *S3Store) Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          body,
		ContentLength: aws.Int64(size),
		ContentType:   aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", key, err)
	}
	return nil
}

// Get opens the object at key. The caller closes the reader.
func (s *S3Store) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%s: %w", key, ErrObjectNotFound)
		}
		return nil, fmt.Errorf("failed to download %s: %w", key, err)
	}
	return out.Body, nil
}

// Stat returns object metadata, or ErrObjectNotFound.
func (s *S3Store) Stat(ctx context.Context, key string) (ObjectInfo, error) {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return ObjectInfo{}, fmt.Errorf("%s: %w", key, ErrObjectNotFound)
		}
		return ObjectInfo{}, fmt.Errorf("failed to stat %s: %w", key, err)
	}
	info := ObjectInfo{
		Key:         key,
		Size:        aws.ToInt64(out.ContentLength),
		ContentType: aws.ToString(out.ContentType),
	}
	if out.LastModified != nil {
		info.ModifiedAt = *out.LastModified
	}
	return info, nil
}

func isNotFound(err error) bool {
	var notFound *types.NotFound
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &notFound) || errors.As(err, &noSuchKey) {
		return true
	}
	var resp *awshttp.ResponseError
	return errors.As(err, &resp) && resp.HTTPStatusCode() == http.StatusNotFound
}
