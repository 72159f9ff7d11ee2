package storage

import (
	"context"
	"fmt"
	"io"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
)

// sdkBlobClient adapts *azblob.Client to AzureBlobAPI.
type sdkBlobClient struct {
	client *azblob.Client
}

func azureCredential(opts AzureOptions) (azcore.TokenCredential, error) {
	if opts.UseManagedIdentity {
		return azidentity.NewManagedIdentityCredential(nil)
	}
	return azidentity.NewDefaultAzureCredential(nil)
}

func newSDKBlobClient(opts AzureOptions) (*sdkBlobClient, error) {
	if opts.ConnectionString != "" {
		client, err := azblob.NewClientFromConnectionString(opts.ConnectionString, nil)
		if err != nil {
			return nil, fmt.Errorf("parsing connection string: %w", err)
		}
		return &sdkBlobClient{client: client}, nil
	}

	cred, err := azureCredential(opts)
	if err != nil {
		return nil, fmt.Errorf("resolving credential: %w", err)
	}
	client, err := azblob.NewClient(opts.AccountURL, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("creating blob client for %s: %w", opts.AccountURL, err)
	}
	return &sdkBlobClient{client: client}, nil
}

func (c *sdkBlobClient) UploadStream(ctx context.Context, container, name string, r io.Reader, opts WriteOptions) error {
	upload := &azblob.UploadStreamOptions{}
	if opts.ContentType != "" {
		upload.HTTPHeaders = &blob.HTTPHeaders{BlobContentType: to.Ptr(opts.ContentType)}
	}
	for k, v := range opts.Metadata {
		if upload.Metadata == nil {
			upload.Metadata = make(map[string]*string, len(opts.Metadata))
		}
		upload.Metadata[k] = to.Ptr(v)
	}
	_, err := c.client.UploadStream(ctx, container, name, r, upload)
	return err
}

func (c *sdkBlobClient) DownloadStream(ctx context.Context, container, name string) (io.ReadCloser, error) {
	resp, err := c.client.DownloadStream(ctx, container, name, nil)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

func (c *sdkBlobClient) DeleteBlob(ctx context.Context, container, name string) error {
	_, err := c.client.DeleteBlob(ctx, container, name, nil)
	return err
}

func (c *sdkBlobClient) BlobExists(ctx context.Context, container, name string) (bool, error) {
	blobClient := c.client.ServiceClient().NewContainerClient(container).NewBlobClient(name)
	if _, err := blobClient.GetProperties(ctx, nil); err != nil {
		if isAzureNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (c *sdkBlobClient) ContainerExists(ctx context.Context, container string) error {
	_, err := c.client.ServiceClient().NewContainerClient(container).GetProperties(ctx, nil)
	return err
}
