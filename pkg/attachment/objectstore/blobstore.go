package objectstore

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrBlobNotFound is returned when a blob key does not exist.
var ErrBlobNotFound = errors.New("blob not found")

// BlobMeta contains metadata about a stored blob
type BlobMeta struct {
	Key         string
	Size        int64
	ContentType string
	UpdatedAt   time.Time
	ETag        string
}

// BlobStore defines the interface for object-store backends
type BlobStore interface {
	// Put writes a blob. size may be -1 when unknown.
	Put(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error

	// Get opens a blob for reading
	Get(ctx context.Context, key string) (io.ReadCloser, error)

	// Stat returns blob metadata, ErrBlobNotFound when missing
	Stat(ctx context.Context, key string) (*BlobMeta, error)

	// Copy copies srcKey to dstKey, ErrBlobNotFound when srcKey is missing
	Copy(ctx context.Context, srcKey, dstKey string) error

	// Delete removes a blob; deleting a missing key succeeds
	Delete(ctx context.Context, key string) error
}
