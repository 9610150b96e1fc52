package fs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/tendant/simple-attachment/pkg/attachment/objectstore"
)

// Backend is a filesystem implementation of the objectstore.BlobStore interface.
// Blobs are written to a temp file and renamed into place, so a key either
// holds a complete blob or nothing.
type Backend struct {
	baseDir string
}

// Config options for the filesystem backend
type Config struct {
	BaseDir string // Base directory for storing files
}

// New creates a new filesystem storage backend
func New(config Config) (*Backend, error) {
	if config.BaseDir == "" {
		return nil, errors.New("base directory is required")
	}

	if err := os.MkdirAll(config.BaseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	return &Backend{baseDir: filepath.Clean(config.BaseDir)}, nil
}

func (b *Backend) path(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(key))
	if key == "" || filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid blob key %q", key)
	}
	return filepath.Join(b.baseDir, clean), nil
}

func (b *Backend) Put(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error {
	filePath, err := b.path(key)
	if err != nil {
		return err
	}
	return b.writeAtomic(filePath, reader, size)
}

func (b *Backend) writeAtomic(filePath string, reader io.Reader, size int64) error {
	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	n, err := io.Copy(tmp, reader)
	if err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write file: %w", err)
	}
	if size >= 0 && n != size {
		tmp.Close()
		return fmt.Errorf("short write: expected %d bytes, got %d", size, n)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close file: %w", err)
	}
	if err := os.Rename(tmpPath, filePath); err != nil {
		return fmt.Errorf("failed to commit file: %w", err)
	}
	return nil
}

func (b *Backend) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	filePath, err := b.path(key)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(filePath)
	if os.IsNotExist(err) {
		return nil, objectstore.ErrBlobNotFound
	} else if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	return file, nil
}

func (b *Backend) Stat(ctx context.Context, key string) (*objectstore.BlobMeta, error) {
	filePath, err := b.path(key)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(filePath)
	if os.IsNotExist(err) {
		return nil, objectstore.ErrBlobNotFound
	} else if err != nil {
		return nil, fmt.Errorf("failed to get file info: %w", err)
	}

	// Detect content type
	contentType := "application/octet-stream"
	if file, err := os.Open(filePath); err == nil {
		defer file.Close()
		buffer := make([]byte, 512)
		if n, err := file.Read(buffer); err == nil {
			contentType = http.DetectContentType(buffer[:n])
		}
	}

	return &objectstore.BlobMeta{
		Key:         key,
		Size:        info.Size(),
		ContentType: contentType,
		UpdatedAt:   info.ModTime(),
	}, nil
}

func (b *Backend) Copy(ctx context.Context, srcKey, dstKey string) error {
	src, err := b.Get(ctx, srcKey)
	if err != nil {
		return err
	}
	defer src.Close()

	dstPath, err := b.path(dstKey)
	if err != nil {
		return err
	}
	return b.writeAtomic(dstPath, src, -1)
}

func (b *Backend) Delete(ctx context.Context, key string) error {
	filePath, err := b.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(filePath); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to delete file: %w", err)
	}

	b.cleanupEmptyDirectories(filepath.Dir(filePath))
	return nil
}

// cleanupEmptyDirectories recursively removes empty directories up to baseDir
func (b *Backend) cleanupEmptyDirectories(dir string) {
	if dir == b.baseDir {
		return
	}

	if entries, err := os.ReadDir(dir); err == nil && len(entries) == 0 {
		if os.Remove(dir) == nil {
			b.cleanupEmptyDirectories(filepath.Dir(dir))
		}
	}
}
