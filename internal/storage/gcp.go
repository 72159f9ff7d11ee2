package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	fserr "github.com/bleepstore/filestorage/internal/errors"
)

// GCSAPI defines the subset of the GCS client interface that the GCS backend
// uses. This allows mocking in tests.
type GCSAPI interface {
	// NewWriter returns a writer for the given GCS object.
	NewWriter(ctx context.Context, bucket, object string, opts WriteOptions) GCSWriter
	// NewReader returns a reader for the given GCS object.
	NewReader(ctx context.Context, bucket, object string) (io.ReadCloser, error)
	// Delete deletes the given GCS object.
	Delete(ctx context.Context, bucket, object string) error
	// Attrs returns the attributes of the given GCS object.
	Attrs(ctx context.Context, bucket, object string) (*GCSAttrs, error)
	// ListObjects lists up to limit object names with the given prefix.
	ListObjects(ctx context.Context, bucket, prefix string, limit int) ([]string, error)
}

// GCSWriter is a writer interface for writing to GCS objects.
type GCSWriter interface {
	io.WriteCloser
}

// GCSAttrs holds object attributes returned from GCS operations.
type GCSAttrs struct {
	Size        int64
	ContentType string
}

// realGCSClient wraps the official GCS client to satisfy GCSAPI.
type realGCSClient struct {
	client *gcs.Client
}

func (c *realGCSClient) NewWriter(ctx context.Context, bucket, object string, opts WriteOptions) GCSWriter {
	w := c.client.Bucket(bucket).Object(object).NewWriter(ctx)
	w.ContentType = opts.ContentType
	if len(opts.Metadata) > 0 {
		w.Metadata = opts.Metadata
	}
	return w
}

func (c *realGCSClient) NewReader(ctx context.Context, bucket, object string) (io.ReadCloser, error) {
	return c.client.Bucket(bucket).Object(object).NewReader(ctx)
}

func (c *realGCSClient) Delete(ctx context.Context, bucket, object string) error {
	return c.client.Bucket(bucket).Object(object).Delete(ctx)
}

func (c *realGCSClient) Attrs(ctx context.Context, bucket, object string) (*GCSAttrs, error) {
	attrs, err := c.client.Bucket(bucket).Object(object).Attrs(ctx)
	if err != nil {
		return nil, err
	}
	return &GCSAttrs{
		Size:        attrs.Size,
		ContentType: attrs.ContentType,
	}, nil
}

func (c *realGCSClient) ListObjects(ctx context.Context, bucket, prefix string, limit int) ([]string, error) {
	it := c.client.Bucket(bucket).Objects(ctx, &gcs.Query{Prefix: prefix})
	var names []string
	for limit <= 0 || len(names) < limit {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, err
		}
		names = append(names, attrs.Name)
	}
	return names, nil
}

// GCPOptions configure a GCPBackend.
type GCPOptions struct {
	Bucket          string
	Project         string
	Prefix          string
	CredentialsFile string
}

// GCPBackend implements StorageBackend on a Google Cloud Storage bucket.
// Storage paths map to object names as {prefix}{path}.
type GCPBackend struct {
	// Bucket is the GCS bucket name.
	Bucket string
	// Project is the GCP project ID.
	Project string
	// Prefix is prepended to every object name.
	Prefix string
	client GCSAPI
}

// NewGCPBackend creates a GCPBackend using Application Default Credentials,
// or the given service account file. The bucket must be accessible.
func NewGCPBackend(ctx context.Context, opts GCPOptions) (*GCPBackend, error) {
	var clientOpts []option.ClientOption
	if opts.CredentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(opts.CredentialsFile))
	}

	client, err := gcs.NewClient(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("creating GCS client: %w", err)
	}

	b := NewGCPBackendWithClient(opts.Bucket, opts.Project, opts.Prefix, &realGCSClient{client: client})
	if err := b.HealthCheck(ctx); err != nil {
		return nil, fmt.Errorf("cannot access GCS bucket %q: %w", opts.Bucket, err)
	}

	slog.Info("GCP storage backend initialized", "bucket", opts.Bucket, "project", opts.Project, "prefix", opts.Prefix)
	return b, nil
}

// NewGCPBackendWithClient creates a GCPBackend with a pre-configured GCS
// client. This is primarily used for testing with mock clients.
func NewGCPBackendWithClient(bucket, project, prefix string, client GCSAPI) *GCPBackend {
	return &GCPBackend{
		Bucket:  bucket,
		Project: project,
		Prefix:  prefix,
		client:  client,
	}
}

func (b *GCPBackend) object(path string) string {
	return b.Prefix + path
}

// WriteStream streams the data into a GCS object writer.
func (b *GCPBackend) WriteStream(ctx context.Context, path string, r io.Reader, opts WriteOptions) error {
	w := b.client.NewWriter(ctx, b.Bucket, b.object(path), opts)
	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return fmt.Errorf("uploading to GCS: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finalizing GCS upload: %w", err)
	}
	return nil
}

// Read streams the object from GCS.
func (b *GCPBackend) Read(ctx context.Context, path string) (io.ReadCloser, error) {
	reader, err := b.client.NewReader(ctx, b.Bucket, b.object(path))
	if err != nil {
		if isGCSNotFound(err) {
			return nil, fserr.ErrFileNotFound.WithMessage("file not found: %s", path).WithCause(err)
		}
		return nil, fmt.Errorf("getting object from GCS: %w", err)
	}
	return reader, nil
}

// Delete removes an object from GCS. GCS errors on deleting a missing
// object, which is treated as success.
func (b *GCPBackend) Delete(ctx context.Context, path string) error {
	err := b.client.Delete(ctx, b.Bucket, b.object(path))
	if err != nil {
		if isGCSNotFound(err) {
			return nil
		}
		return fmt.Errorf("deleting object from GCS: %w", err)
	}
	return nil
}

// Exists checks whether an object exists in GCS.
func (b *GCPBackend) Exists(ctx context.Context, path string) (bool, error) {
	_, err := b.client.Attrs(ctx, b.Bucket, b.object(path))
	if err != nil {
		if isGCSNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("checking object existence in GCS: %w", err)
	}
	return true, nil
}

// HealthCheck verifies the bucket is reachable by listing at most one object
// under the prefix.
func (b *GCPBackend) HealthCheck(ctx context.Context) error {
	_, err := b.client.ListObjects(ctx, b.Bucket, b.Prefix, 1)
	return err
}

// isGCSNotFound checks if a GCS error is a 404/not-found error.
func isGCSNotFound(err error) bool {
	if errors.Is(err, gcs.ErrObjectNotExist) {
		return true
	}
	if errors.Is(err, gcs.ErrBucketNotExist) {
		return true
	}
	// Check error message as fallback.
	if err != nil {
		msg := strings.ToLower(err.Error())
		if strings.Contains(msg, "not found") || strings.Contains(msg, "404") {
			return true
		}
	}
	return false
}

// Ensure GCPBackend implements StorageBackend at compile time.
var _ StorageBackend = (*GCPBackend)(nil)
