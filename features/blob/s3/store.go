// Package s3 provides the S3-backed artifact store for analysis and
// execution reports.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/Lynrbe/aws-cloudops-agent/runtime/blob"
)

const (
	defaultOpTimeout = 10 * time.Second
	blobClientName   = "blob-s3"
)

// Options configures the S3 artifact store.
type Options struct {
	Client *awss3.Client
	Bucket string
	// Region is used to build browsable object URLs. When empty the store
	// falls back to the global endpoint form.
	Region  string
	Timeout time.Duration
}

// Store implements blob.Store on an S3 bucket. It also exposes a health
// pinger backed by HeadBucket.
type Store struct {
	api     s3API
	bucket  string
	region  string
	timeout time.Duration
}

var _ blob.Store = (*Store)(nil)

// New returns a Store backed by S3.
func New(opts Options) (*Store, error) {
	if opts.Client == nil {
		return nil, errors.New("s3 client is required")
	}
	return newStoreWithAPI(opts.Client, opts.Bucket, opts.Region, opts.Timeout)
}

// Name identifies the store in health reports.
func (s *Store) Name() string {
	return blobClientName
}

// Ping verifies the bucket is reachable.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	_, err := s.api.HeadBucket(ctx, &awss3.HeadBucketInput{Bucket: aws.String(s.bucket)})
	return err
}

// Put uploads an artifact and returns its browsable URL.
func (s *Store) Put(ctx context.Context, key, contentType string, body []byte, meta map[string]string) (string, error) {
	if key == "" {
		return "", errors.New("key is required")
	}
	input := &awss3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(body),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	if len(meta) > 0 {
		input.Metadata = meta
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if _, err := s.api.PutObject(ctx, input); err != nil {
		return "", err
	}
	return s.url(key), nil
}

// Get downloads an artifact.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	if key == "" {
		return nil, errors.New("key is required")
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	out, err := s.api.GetObject(ctx, &awss3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, blob.ErrNotFound
		}
		return nil, err
	}
	defer func() {
		_ = out.Body.Close()
	}()
	return io.ReadAll(out.Body)
}

func (s *Store) url(key string) string {
	if s.region != "" {
		return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.bucket, s.region, key)
	}
	return fmt.Sprintf("https://%s.s3.amazonaws.com/%s", s.bucket, key)
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

func newStoreWithAPI(api s3API, bucket, region string, timeout time.Duration) (*Store, error) {
	if api == nil {
		return nil, errors.New("s3 client is required")
	}
	if bucket == "" {
		return nil, errors.New("bucket name is required")
	}
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}
	return &Store{api: api, bucket: bucket, region: region, timeout: timeout}, nil
}

// s3API is the slice of the S3 SDK surface the store calls.
type s3API interface {
	PutObject(ctx context.Context, params *awss3.PutObjectInput, optFns ...func(*awss3.Options)) (*awss3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *awss3.GetObjectInput, optFns ...func(*awss3.Options)) (*awss3.GetObjectOutput, error)
	HeadBucket(ctx context.Context, params *awss3.HeadBucketInput, optFns ...func(*awss3.Options)) (*awss3.HeadBucketOutput, error)
}
