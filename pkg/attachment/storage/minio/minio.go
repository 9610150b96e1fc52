// Package minio provides an objectstore.BlobStore implementation using the
// MinIO client, for MinIO and other S3-compatible services without the AWS
// SDK.
package minio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/tendant/simple-attachment/pkg/attachment/objectstore"
)

// Config options for the MinIO backend
type Config struct {
	Endpoint        string // host:port
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	Prefix          string // prepended to all keys
	Region          string
	UseSSL          bool
}

// Store implements objectstore.BlobStore for MinIO.
type Store struct {
	client *minio.Client
	bucket string
	prefix string
}

// New creates a client from config and wraps it in a Store.
func New(config Config) (*Store, error) {
	if config.Endpoint == "" {
		return nil, errors.New("endpoint is required")
	}
	if config.Bucket == "" {
		return nil, errors.New("bucket name is required")
	}
	client, err := minio.New(config.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(config.AccessKeyID, config.SecretAccessKey, ""),
		Secure: config.UseSSL,
		Region: config.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}
	return NewStore(client, config.Bucket, config.Prefix), nil
}

// NewStore wraps an existing MinIO client.
func NewStore(client *minio.Client, bucket, rootPrefix string) *Store {
	return &Store{
		client: client,
		bucket: bucket,
		prefix: rootPrefix,
	}
}

func (s *Store) key(name string) string {
	return path.Join(s.prefix, name)
}

func (s *Store) Put(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error {
	opts := minio.PutObjectOptions{ContentType: contentType}
	if _, err := s.client.PutObject(ctx, s.bucket, s.key(key), reader, size, opts); err != nil {
		return fmt.Errorf("failed to put %s: %w", key, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	// GetObject is lazy; stat first so a missing key surfaces here.
	if _, err := s.Stat(ctx, key); err != nil {
		return nil, err
	}
	obj, err := s.client.GetObject(ctx, s.bucket, s.key(key), minio.GetObjectOptions{})
	if err != nil {
		return nil, mapError(err)
	}
	return obj, nil
}

func (s *Store) Stat(ctx context.Context, key string) (*objectstore.BlobMeta, error) {
	info, err := s.client.StatObject(ctx, s.bucket, s.key(key), minio.StatObjectOptions{})
	if err != nil {
		return nil, mapError(err)
	}
	return &objectstore.BlobMeta{
		Key:         key,
		Size:        info.Size,
		ContentType: info.ContentType,
		UpdatedAt:   info.LastModified,
		ETag:        info.ETag,
	}, nil
}

func (s *Store) Copy(ctx context.Context, srcKey, dstKey string) error {
	_, err := s.client.CopyObject(ctx,
		minio.CopyDestOptions{Bucket: s.bucket, Object: s.key(dstKey)},
		minio.CopySrcOptions{Bucket: s.bucket, Object: s.key(srcKey)},
	)
	if err != nil {
		return mapError(err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	err := s.client.RemoveObject(ctx, s.bucket, s.key(key), minio.RemoveObjectOptions{})
	if err != nil {
		if errors.Is(mapError(err), objectstore.ErrBlobNotFound) {
			return nil
		}
		return fmt.Errorf("failed to remove %s: %w", key, err)
	}
	return nil
}

func mapError(err error) error {
	errResp := minio.ToErrorResponse(err)
	if errResp.Code == "NoSuchKey" || errResp.Code == "NotFound" {
		return objectstore.ErrBlobNotFound
	}
	return err
}
