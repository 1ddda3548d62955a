package source

import (
	"context"
	stderr "errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/statdash/statdash/internal/config"
	"github.com/statdash/statdash/internal/dataset"
	"github.com/statdash/statdash/pkg/errors"
)

// objectGetter is the part of the S3 API the store needs.
type objectGetter interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// S3Store reads <prefix><key>.csv objects from a bucket.
type S3Store struct {
	client objectGetter
	bucket string
	prefix string
	logger *slog.Logger
}

// NewS3Store builds an S3 client from the default AWS credential chain,
// or from static keys when both are configured.
func NewS3Store(ctx context.Context, cfg config.S3SourceConfig, logger *slog.Logger) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.New(errors.ErrCodeConfigValidation, "bucket name cannot be empty").
			WithComponent("s3-source")
	}

	opts := []func(*awsconfig.LoadOptions) error{}
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeConfigLoad, "failed to load AWS config").
			WithComponent("s3-source")
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		if cfg.ForcePathStyle {
			o.UsePathStyle = true
		}
	})

	return newS3Store(client, cfg.Bucket, cfg.Prefix, logger), nil
}

func newS3Store(client objectGetter, bucket, prefix string, logger *slog.Logger) *S3Store {
	return &S3Store{
		client: client,
		bucket: bucket,
		prefix: prefix,
		logger: orDiscard(logger).With("component", "s3-source", "bucket", bucket),
	}
}

// ObjectKey returns the object key holding key.
func (s *S3Store) ObjectKey(key string) string {
	return s.prefix + key + CSVExt
}

// Load fetches and parses the object for key.
func (s *S3Store) Load(ctx context.Context, key string) (*dataset.Table, error) {
	objectKey := s.ObjectKey(key)
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objectKey),
	})
	if err != nil {
		return nil, s.translateError(ctx, err, key)
	}
	defer out.Body.Close()

	table, err := dataset.ReadCSV(key, out.Body)
	if err != nil {
		return nil, readFailed("s3-source", key, err)
	}

	s.logger.Debug("fetched object", "object", objectKey, "rows", table.Len())
	return table, nil
}

// Ping checks that the bucket exists and is reachable with the configured
// credentials.
func (s *S3Store) Ping(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
	if err != nil {
		return unavailable("s3-source", "", err)
	}
	return nil
}

// Close is a no-op; the SDK client holds no resources that need releasing.
func (s *S3Store) Close() error { return nil }

func (s *S3Store) translateError(ctx context.Context, err error, key string) error {
	switch {
	case isErrorType[*s3types.NoSuchKey](err):
		return notFound("s3-source", key, err)
	case isErrorType[*s3types.NoSuchBucket](err):
		return readFailed("s3-source", key, fmt.Errorf("bucket not found: %s: %w", s.bucket, err))
	case ctx.Err() != nil:
		return ctx.Err()
	default:
		return unavailable("s3-source", key, err)
	}
}

// isErrorType checks if an error is of a specific type
func isErrorType[T error](err error) bool {
	var target T
	return stderr.As(err, &target)
}
