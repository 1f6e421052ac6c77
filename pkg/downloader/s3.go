package downloader

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3API is the slice of the S3 client surface the fetcher uses.
type S3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Config configures the S3 origin fetcher.
type S3Config struct {
	// Region is the AWS region (optional, uses SDK default if empty).
	Region string

	// Endpoint is the S3 endpoint URL (optional, for S3-compatible
	// services).
	Endpoint string

	// ForcePathStyle forces path-style addressing (required for
	// Localstack/MinIO).
	ForcePathStyle bool

	// AccessKeyID and SecretAccessKey override the ambient AWS credential
	// chain. Needed for S3-compatible services with their own keys; leave
	// empty to use instance profiles or env vars.
	AccessKeyID     string
	SecretAccessKey string

	// MaxPayloadSize rejects objects larger than this many bytes.
	// Default: DefaultMaxPayloadSize.
	MaxPayloadSize int64
}

// S3Fetcher fetches resources from s3://bucket/key locators, for
// self-hosted basemaps published to object storage. Objects fetched this
// way flow through the same cache and region machinery as HTTP origins.
type S3Fetcher struct {
	client         S3API
	maxPayloadSize int64
}

var _ Fetcher = (*S3Fetcher)(nil)

// NewS3Fetcher creates an S3 fetcher with an existing client.
func NewS3Fetcher(client S3API, cfg S3Config) *S3Fetcher {
	if cfg.MaxPayloadSize <= 0 {
		cfg.MaxPayloadSize = DefaultMaxPayloadSize
	}
	return &S3Fetcher{
		client:         client,
		maxPayloadSize: cfg.MaxPayloadSize,
	}
}

// NewS3FetcherFromConfig creates an S3 fetcher by building a client from the
// ambient AWS configuration. This is the preferred constructor when you
// don't have an existing S3 client.
func NewS3FetcherFromConfig(ctx context.Context, cfg S3Config) (*S3Fetcher, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
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

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}
	if cfg.ForcePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	return NewS3Fetcher(s3.NewFromConfig(awsCfg, s3Opts...), cfg), nil
}

// Fetch retrieves s3://bucket/key. When cond carries an ETag it is sent as
// If-None-Match, and the bucket's 304 answer yields a NotModified result.
func (f *S3Fetcher) Fetch(ctx context.Context, rawURL string, cond Conditional) (*Result, error) {
	bucket, key, err := parseS3Locator(rawURL)
	if err != nil {
		return nil, err
	}

	in := &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}
	if cond.ETag != "" {
		in.IfNoneMatch = aws.String(cond.ETag)
	}

	out, err := f.client.GetObject(ctx, in)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if isS3NotModified(err) {
			return &Result{NotModified: true}, nil
		}
		if isS3NotFound(err) {
			return nil, fmt.Errorf("s3 object %s/%s not found", bucket, key)
		}
		return nil, &TemporaryError{Err: fmt.Errorf("s3 get object: %w", err)}
	}
	defer func() { _ = out.Body.Close() }()

	payload, err := io.ReadAll(io.LimitReader(out.Body, f.maxPayloadSize+1))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &TemporaryError{Err: fmt.Errorf("reading s3 object body: %w", err)}
	}
	if int64(len(payload)) > f.maxPayloadSize {
		return nil, fmt.Errorf("payload exceeds %d byte limit", f.maxPayloadSize)
	}

	var modified time.Time
	if out.LastModified != nil {
		modified = *out.LastModified
	}
	return &Result{
		Payload:  payload,
		ETag:     aws.ToString(out.ETag),
		Modified: modified,
		Expires:  expiryFrom(aws.ToString(out.CacheControl), aws.ToString(out.ExpiresString), time.Now()),
	}, nil
}

// parseS3Locator splits s3://bucket/key into its parts.
func parseS3Locator(raw string) (bucket, key string, err error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", fmt.Errorf("invalid s3 locator %q: %w", raw, err)
	}
	if u.Scheme != "s3" || u.Host == "" {
		return "", "", fmt.Errorf("invalid s3 locator %q: want s3://bucket/key", raw)
	}
	key = strings.TrimPrefix(u.Path, "/")
	if key == "" {
		return "", "", fmt.Errorf("invalid s3 locator %q: empty object key", raw)
	}
	return u.Host, key, nil
}

// isS3NotModified checks if an error is the bucket's answer to a matching
// If-None-Match validator.
func isS3NotModified(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "NotModified") ||
		strings.Contains(errStr, "304")
}

// isS3NotFound checks if an error is an S3 not found error.
func isS3NotFound(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "NoSuchKey") ||
		strings.Contains(errStr, "NotFound") ||
		strings.Contains(errStr, "404")
}
