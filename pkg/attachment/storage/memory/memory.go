package memory

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/tendant/simple-attachment/pkg/attachment"
	"github.com/tendant/simple-attachment/pkg/attachment/objectstore"
)

// Backend is an in-memory implementation of the objectstore.BlobStore interface
type Backend struct {
	mu      sync.RWMutex
	objects map[string]blob
}

type blob struct {
	data        []byte
	contentType string
	updatedAt   time.Time
}

// New creates a new in-memory storage backend
func New() *Backend {
	return &Backend{
		objects: make(map[string]blob),
	}
}

func (b *Backend) Put(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error {
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	if size >= 0 && int64(len(data)) != size {
		return fmt.Errorf("short write for %s: expected %d bytes, got %d", key, size, len(data))
	}
	if contentType == "" {
		contentType = attachment.DefaultMimeType
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[key] = blob{data: data, contentType: contentType, updatedAt: time.Now().UTC()}
	return nil
}

func (b *Backend) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	obj, exists := b.objects[key]
	if !exists {
		return nil, objectstore.ErrBlobNotFound
	}
	return io.NopCloser(bytes.NewReader(obj.data)), nil
}

func (b *Backend) Stat(ctx context.Context, key string) (*objectstore.BlobMeta, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	obj, exists := b.objects[key]
	if !exists {
		return nil, objectstore.ErrBlobNotFound
	}
	sum := md5.Sum(obj.data)
	return &objectstore.BlobMeta{
		Key:         key,
		Size:        int64(len(obj.data)),
		ContentType: obj.contentType,
		UpdatedAt:   obj.updatedAt,
		ETag:        hex.EncodeToString(sum[:]),
	}, nil
}

func (b *Backend) Copy(ctx context.Context, srcKey, dstKey string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	obj, exists := b.objects[srcKey]
	if !exists {
		return objectstore.ErrBlobNotFound
	}
	obj.updatedAt = time.Now().UTC()
	b.objects[dstKey] = obj
	return nil
}

func (b *Backend) Delete(ctx context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.objects, key)
	return nil
}

// Keys lists stored keys in order. Useful for tests and orphan sweeps.
func (b *Backend) Keys() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	keys := make([]string, 0, len(b.objects))
	for k := range b.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
