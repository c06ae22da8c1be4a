// Package azblobstore implements blob.Backend against an Azure Blob
// Storage container via the Azure SDK for Go.
package azblobstore

import (
	"bytes"
	"context"
	"encoding/hex"
	"io"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"
	"github.com/hat-backup/hat/internal/errs"
)

// Backend stores each blob as one block blob, keyed by the hex encoding of
// its opaque name, inside a single container.
type Backend struct {
	client *container.Client
}

// New constructs a Backend for the container addressed by connectionString
// (an Azure Storage connection string naming both account and container).
func New(connectionString string) (*Backend, error) {
	client, err := container.NewClientFromConnectionString(connectionString, nil)
	if err != nil {
		return nil, errs.Wrap(errs.Storage, err, "open azure container client")
	}
	return &Backend{client: client}, nil
}

func (b *Backend) name(name []byte) string {
	return hex.EncodeToString(name)
}

func (b *Backend) Put(ctx context.Context, name []byte, data []byte) error {
	blobClient := b.client.NewBlockBlobClient(b.name(name))
	_, err := blobClient.UploadBuffer(ctx, data, nil)
	if err != nil {
		return errs.Wrap(errs.Storage, err, "azblob put %x", name)
	}
	return nil
}

func (b *Backend) Get(ctx context.Context, name []byte) ([]byte, error) {
	blobClient := b.client.NewBlobClient(b.name(name))
	resp, err := blobClient.DownloadStream(ctx, nil)
	if err != nil {
		if strings.Contains(err.Error(), "BlobNotFound") {
			return nil, nil
		}
		return nil, errs.Wrap(errs.Storage, err, "azblob get %x", name)
	}
	defer resp.Body.Close()
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, resp.Body); err != nil {
		return nil, errs.Wrap(errs.Storage, err, "azblob read body %x", name)
	}
	return buf.Bytes(), nil
}

func (b *Backend) List(ctx context.Context) ([][]byte, error) {
	var names [][]byte
	pager := b.client.NewListBlobsFlatPager(nil)
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, errs.Wrap(errs.Storage, err, "azblob list")
		}
		for _, item := range page.Segment.BlobItems {
			if item.Name == nil {
				continue
			}
			decoded, err := hex.DecodeString(*item.Name)
			if err != nil {
				continue
			}
			names = append(names, decoded)
		}
	}
	return names, nil
}
