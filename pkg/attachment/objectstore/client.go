package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"

	"github.com/google/uuid"
	"github.com/tendant/simple-attachment/pkg/attachment"
)

const (
	stagingPrefix = "staging"
	finalPrefix   = "attachments"
)

// StagingKey is where PreStore writes a blob before it is finalized.
func StagingKey(entityID uuid.UUID, attachmentID string) string {
	return path.Join(stagingPrefix, entityID.String(), attachmentID)
}

// ObjectKey is where a finalized blob lives.
func ObjectKey(entityID uuid.UUID, attachmentID string) string {
	return path.Join(finalPrefix, entityID.String(), attachmentID)
}

// Client implements attachment.ObjectStorage on top of a BlobStore using a
// stage-then-finalize key layout. All operations are idempotent.
type Client[E attachment.Entity] struct {
	blobs     BlobStore
	scheduler Scheduler
	logger    *slog.Logger
}

// ClientOption configures a Client
type ClientOption func(*clientSettings)

type clientSettings struct {
	scheduler Scheduler
	logger    *slog.Logger
}

// WithScheduler sets how finalize jobs are run. Defaults to ImmediateScheduler.
func WithScheduler(scheduler Scheduler) ClientOption {
	return func(s *clientSettings) {
		s.scheduler = scheduler
	}
}

// WithClientLogger sets the logger
func WithClientLogger(logger *slog.Logger) ClientOption {
	return func(s *clientSettings) {
		s.logger = logger
	}
}

// New creates an object storage client for entity type E
func New[E attachment.Entity](blobs BlobStore, options ...ClientOption) (*Client[E], error) {
	if blobs == nil {
		return nil, errors.New("blob store is required")
	}
	cfg := clientSettings{}
	for _, option := range options {
		option(&cfg)
	}
	if cfg.scheduler == nil {
		cfg.scheduler = ImmediateScheduler{}
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}
	return &Client[E]{blobs: blobs, scheduler: cfg.scheduler, logger: cfg.logger}, nil
}

// NewDocumentClient creates a client for the bundled Document entity
func NewDocumentClient(blobs BlobStore, options ...ClientOption) (*Client[*attachment.Document], error) {
	return New[*attachment.Document](blobs, options...)
}

func (c *Client[E]) PreStore(ctx context.Context, entity E, attachmentID string, data io.Reader, sizeBytes int64) error {
	key := StagingKey(entity.EntityID(), attachmentID)
	if err := c.blobs.Put(ctx, key, data, sizeBytes, ""); err != nil {
		return fmt.Errorf("pre-store %s: %w", key, err)
	}
	return nil
}

func (c *Client[E]) ScheduleStoreAttachment(ctx context.Context, entity E, attachmentID string) error {
	entityID := entity.EntityID()
	return c.scheduler.Schedule(ctx, Job{
		Operation:    OperationFinalizeStore,
		EntityID:     entityID,
		AttachmentID: attachmentID,
		Run: func(ctx context.Context) error {
			return c.FinalizeStore(ctx, entityID, attachmentID)
		},
	})
}

func (c *Client[E]) ScheduleDeleteAttachment(ctx context.Context, entity E, attachmentID string) error {
	entityID := entity.EntityID()
	return c.scheduler.Schedule(ctx, Job{
		Operation:    OperationFinalizeDelete,
		EntityID:     entityID,
		AttachmentID: attachmentID,
		Run: func(ctx context.Context) error {
			return c.FinalizeDelete(ctx, entityID, attachmentID)
		},
	})
}

// FinalizeStore links a staged blob to its final key. Running it again after
// success is a no-op.
func (c *Client[E]) FinalizeStore(ctx context.Context, entityID uuid.UUID, attachmentID string) error {
	staging := StagingKey(entityID, attachmentID)
	final := ObjectKey(entityID, attachmentID)

	if _, err := c.blobs.Stat(ctx, final); err == nil {
		return c.blobs.Delete(ctx, staging)
	} else if !errors.Is(err, ErrBlobNotFound) {
		return fmt.Errorf("stat %s: %w", final, err)
	}

	if err := c.blobs.Copy(ctx, staging, final); err != nil {
		return fmt.Errorf("finalize %s: %w", staging, err)
	}
	if err := c.blobs.Delete(ctx, staging); err != nil {
		c.logger.Warn("failed to remove staged blob", "key", staging, "error", err)
	}
	c.logger.Debug("attachment finalized", "entity_id", entityID, "object_store_id", attachmentID)
	return nil
}

// FinalizeDelete removes a blob from both the final and the staging key.
func (c *Client[E]) FinalizeDelete(ctx context.Context, entityID uuid.UUID, attachmentID string) error {
	if err := c.blobs.Delete(ctx, ObjectKey(entityID, attachmentID)); err != nil {
		return fmt.Errorf("delete attachment %s: %w", attachmentID, err)
	}
	if err := c.blobs.Delete(ctx, StagingKey(entityID, attachmentID)); err != nil {
		return fmt.Errorf("delete staged attachment %s: %w", attachmentID, err)
	}
	return nil
}

// OpenObject streams a blob, falling back to the staging key while finalize
// is still pending.
func (c *Client[E]) OpenObject(ctx context.Context, entityID uuid.UUID, attachmentID string) (io.ReadCloser, error) {
	rc, err := c.blobs.Get(ctx, ObjectKey(entityID, attachmentID))
	if err == nil {
		return rc, nil
	}
	if !errors.Is(err, ErrBlobNotFound) {
		return nil, err
	}
	rc, err = c.blobs.Get(ctx, StagingKey(entityID, attachmentID))
	if errors.Is(err, ErrBlobNotFound) {
		return nil, fmt.Errorf("%w: %s", attachment.ErrAttachmentNotFound, attachmentID)
	}
	return rc, err
}
