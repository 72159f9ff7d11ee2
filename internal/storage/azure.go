package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"

	fserr "github.com/bleepstore/filestorage/internal/errors"
)

// AzureBlobAPI defines the subset of the Azure Blob Storage client interface
// that the Azure backend uses. This allows mocking in tests.
type AzureBlobAPI interface {
	// UploadStream uploads r to a blob, overwriting if it already exists.
	UploadStream(ctx context.Context, containerName, blobName string, r io.Reader, opts WriteOptions) error
	// DownloadStream opens a blob's contents.
	DownloadStream(ctx context.Context, containerName, blobName string) (io.ReadCloser, error)
	// DeleteBlob deletes a blob. Returns an error if the blob does not exist.
	DeleteBlob(ctx context.Context, containerName, blobName string) error
	// BlobExists checks if a blob exists.
	BlobExists(ctx context.Context, containerName, blobName string) (bool, error)
	// ContainerExists returns an error unless the container is accessible.
	ContainerExists(ctx context.Context, containerName string) error
}

// AzureOptions configure an AzureBackend.
type AzureOptions struct {
	Container          string
	AccountURL         string
	Prefix             string
	ConnectionString   string
	UseManagedIdentity bool
}

// AzureBackend implements StorageBackend on an Azure Blob Storage container.
// Storage paths map to blob names as {prefix}{path}.
type AzureBackend struct {
	// Container is the Azure Blob container name.
	Container string
	// AccountURL is the Azure storage account URL (e.g. https://account.blob.core.windows.net).
	AccountURL string
	// Prefix is prepended to every blob name.
	Prefix string
	client AzureBlobAPI
}

// NewAzureBackend creates an AzureBackend authenticated by connection
// string, managed identity or DefaultAzureCredential, in that order of
// preference. The container must be accessible.
func NewAzureBackend(ctx context.Context, opts AzureOptions) (*AzureBackend, error) {
	client, err := newSDKBlobClient(opts)
	if err != nil {
		return nil, fmt.Errorf("creating Azure client: %w", err)
	}

	b := NewAzureBackendWithClient(opts.Container, opts.AccountURL, opts.Prefix, client)
	if err := b.HealthCheck(ctx); err != nil {
		return nil, fmt.Errorf("cannot access Azure container %q: %w", opts.Container, err)
	}

	slog.Info("Azure storage backend initialized", "container", opts.Container, "account", opts.AccountURL, "prefix", opts.Prefix)
	return b, nil
}

// NewAzureBackendWithClient creates an AzureBackend with a pre-configured
// Azure client. This is primarily used for testing with mock clients.
func NewAzureBackendWithClient(container, accountURL, prefix string, client AzureBlobAPI) *AzureBackend {
	return &AzureBackend{
		Container:  container,
		AccountURL: accountURL,
		Prefix:     prefix,
		client:     client,
	}
}

func (b *AzureBackend) blobName(path string) string {
	return b.Prefix + path
}

// WriteStream uploads the data as a block blob.
func (b *AzureBackend) WriteStream(ctx context.Context, path string, r io.Reader, opts WriteOptions) error {
	if err := b.client.UploadStream(ctx, b.Container, b.blobName(path), r, opts); err != nil {
		return fmt.Errorf("uploading to Azure Blob: %w", err)
	}
	return nil
}

// Read streams the blob contents.
func (b *AzureBackend) Read(ctx context.Context, path string) (io.ReadCloser, error) {
	rc, err := b.client.DownloadStream(ctx, b.Container, b.blobName(path))
	if err != nil {
		if isAzureNotFound(err) {
			return nil, fserr.ErrFileNotFound.WithMessage("file not found: %s", path).WithCause(err)
		}
		return nil, fmt.Errorf("getting blob from Azure: %w", err)
	}
	return rc, nil
}

// Delete removes a blob. A missing blob is treated as success.
func (b *AzureBackend) Delete(ctx context.Context, path string) error {
	err := b.client.DeleteBlob(ctx, b.Container, b.blobName(path))
	if err != nil {
		if isAzureNotFound(err) {
			return nil
		}
		return fmt.Errorf("deleting blob from Azure: %w", err)
	}
	return nil
}

// Exists checks whether a blob exists.
func (b *AzureBackend) Exists(ctx context.Context, path string) (bool, error) {
	exists, err := b.client.BlobExists(ctx, b.Container, b.blobName(path))
	if err != nil {
		return false, fmt.Errorf("checking blob existence in Azure: %w", err)
	}
	return exists, nil
}

// HealthCheck verifies that the Azure Blob container is accessible.
func (b *AzureBackend) HealthCheck(ctx context.Context) error {
	return b.client.ContainerExists(ctx, b.Container)
}

// isAzureNotFound checks if an Azure error is a not-found error.
func isAzureNotFound(err error) bool {
	if err == nil {
		return false
	}
	if bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ContainerNotFound, bloberror.ResourceNotFound) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "not found") || strings.Contains(msg, "404") ||
		strings.Contains(msg, "blobnotfound") || strings.Contains(msg, "containernotfound") ||
		strings.Contains(msg, "the specified blob does not exist") ||
		strings.Contains(msg, "the specified container does not exist")
}

// Ensure AzureBackend implements StorageBackend at compile time.
var _ StorageBackend = (*AzureBackend)(nil)
