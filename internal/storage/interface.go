package storage

import (
	"context"
	"io"
)

// ObjectStorage defines the interface for object storage operations
type ObjectStorage interface {
	// UploadMultipart uploads size bytes from r as a multipart object split into partSize chunks.
	// The object only becomes visible once every part succeeded; failed uploads are aborted.
	UploadMultipart(ctx context.Context, key string, r io.ReaderAt, size, partSize int64, contentType string) error

	// GetURL returns the URL for accessing an object
	GetURL(key string) string

	// Delete deletes an object from storage. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Exists checks if an object exists
	Exists(ctx context.Context, key string) (bool, error)
}
