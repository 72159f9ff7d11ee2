package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	fserr "github.com/bleepstore/filestorage/internal/errors"
)

// S3API defines the subset of the AWS S3 client interface that the S3
// backend uses. This allows mocking in tests.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// AWSOptions configure an AWSBackend.
type AWSOptions struct {
	Bucket          string
	Region          string
	Prefix          string
	EndpointURL     string
	UsePathStyle    bool
	AccessKeyID     string
	SecretAccessKey string
}

// AWSBackend implements StorageBackend on an Amazon S3 (or S3 compatible)
// bucket. Storage paths map to keys as {prefix}{path}.
type AWSBackend struct {
	// Bucket is the S3 bucket name.
	Bucket string
	// Region is the AWS region of the bucket.
	Region string
	// Prefix is prepended to every key.
	Prefix string
	client S3API
}

// NewAWSBackend creates an AWSBackend using the default credential chain,
// with optional overrides for custom endpoint, path-style addressing and
// static credentials. The bucket must be accessible.
func NewAWSBackend(ctx context.Context, opts AWSOptions) (*AWSBackend, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))

	// Use static credentials if provided, otherwise fall back to default chain.
	if opts.AccessKeyID != "" && opts.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, ""),
		))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if opts.EndpointURL != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(opts.EndpointURL)
		})
	}
	if opts.UsePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	b := NewAWSBackendWithClient(opts.Bucket, opts.Region, opts.Prefix, s3.NewFromConfig(cfg, s3Opts...))

	if err := b.HealthCheck(ctx); err != nil {
		return nil, fmt.Errorf("cannot access S3 bucket %q: %w", opts.Bucket, err)
	}

	slog.Info("AWS storage backend initialized", "bucket", opts.Bucket, "region", opts.Region, "prefix", opts.Prefix)
	return b, nil
}

// NewAWSBackendWithClient creates an AWSBackend with a pre-configured S3
// client. This is primarily used for testing with mock clients.
func NewAWSBackendWithClient(bucket, region, prefix string, client S3API) *AWSBackend {
	return &AWSBackend{
		Bucket: bucket,
		Region: region,
		Prefix: prefix,
		client: client,
	}
}

func (b *AWSBackend) key(path string) string {
	return b.Prefix + path
}

// WriteStream uploads the data to S3. The data is buffered so the request
// carries an exact content length.
func (b *AWSBackend) WriteStream(ctx context.Context, path string, r io.Reader, opts WriteOptions) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("reading file data: %w", err)
	}

	input := &s3.PutObjectInput{
		Bucket:        aws.String(b.Bucket),
		Key:           aws.String(b.key(path)),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	}
	if opts.ContentType != "" {
		input.ContentType = aws.String(opts.ContentType)
	}
	if len(opts.Metadata) > 0 {
		input.Metadata = opts.Metadata
	}

	if _, err := b.client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("uploading to S3: %w", err)
	}
	return nil
}

// Read streams the object from S3.
func (b *AWSBackend) Read(ctx context.Context, path string) (io.ReadCloser, error) {
	resp, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.Bucket),
		Key:    aws.String(b.key(path)),
	})
	if err != nil {
		if isAWSNotFound(err) {
			return nil, fserr.ErrFileNotFound.WithMessage("file not found: %s", path).WithCause(err)
		}
		return nil, fmt.Errorf("getting object from S3: %w", err)
	}
	return resp.Body, nil
}

// Delete removes an object from S3. S3 DeleteObject does not error on
// missing keys.
func (b *AWSBackend) Delete(ctx context.Context, path string) error {
	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.Bucket),
		Key:    aws.String(b.key(path)),
	})
	if err != nil {
		return fmt.Errorf("deleting object from S3: %w", err)
	}
	return nil
}

// Exists checks whether an object exists using HeadObject.
func (b *AWSBackend) Exists(ctx context.Context, path string) (bool, error) {
	_, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.Bucket),
		Key:    aws.String(b.key(path)),
	})
	if err != nil {
		if isAWSNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("checking object existence in S3: %w", err)
	}
	return true, nil
}

// HealthCheck verifies that the S3 bucket is accessible.
func (b *AWSBackend) HealthCheck(ctx context.Context) error {
	_, err := b.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(b.Bucket),
	})
	return err
}

// isAWSNotFound checks if an AWS error is a 404/NoSuchKey/NotFound error.
func isAWSNotFound(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		if code == "NoSuchKey" || code == "NotFound" || code == "404" {
			return true
		}
	}
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return true
	}
	// Check HTTP status code via ResponseError.
	var respErr interface{ HTTPStatusCode() int }
	if errors.As(err, &respErr) {
		if respErr.HTTPStatusCode() == 404 {
			return true
		}
	}
	return false
}

// Ensure AWSBackend implements StorageBackend at compile time.
var _ StorageBackend = (*AWSBackend)(nil)
