package attachment

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"
)

// EntityStore persists versioned entities and their inline-tier bytes.
type EntityStore[E Entity] interface {
	// Get returns ErrNotFound when the entity does not exist.
	Get(ctx context.Context, id uuid.UUID) (E, error)

	// Save commits entity if its revision is still current and returns the
	// stored value with a new revision. A stale revision yields ErrConflict.
	// Inline stubs missing from the saved entity are dropped with their bytes.
	Save(ctx context.Context, entity E) (E, error)

	// CreateAttachment writes inline bytes into the entity's record and
	// returns the new revision. A stale revision yields ErrConflict.
	CreateAttachment(ctx context.Context, entityID uuid.UUID, attachmentID, currentRevision, mimeType string, data io.Reader) (string, error)
}

// ObjectStorage stages and finalizes object-store blobs. Every call must be
// idempotent.
type ObjectStorage[E Entity] interface {
	// PreStore writes bytes without linking them to committed metadata.
	PreStore(ctx context.Context, entity E, attachmentID string, data io.Reader, sizeBytes int64) error

	// ScheduleStoreAttachment finalizes a pre-stored blob asynchronously.
	ScheduleStoreAttachment(ctx context.Context, entity E, attachmentID string) error

	// ScheduleDeleteAttachment removes a blob asynchronously.
	ScheduleDeleteAttachment(ctx context.Context, entity E, attachmentID string) error
}

// InlineReader is implemented by entity stores that can stream inline bytes.
type InlineReader interface {
	OpenAttachment(ctx context.Context, entityID uuid.UUID, attachmentID string) (io.ReadCloser, error)
}

// ObjectReader is implemented by object storage clients that can stream
// finalized blobs.
type ObjectReader interface {
	OpenObject(ctx context.Context, entityID uuid.UUID, attachmentID string) (io.ReadCloser, error)
}

// Observer records engine telemetry.
type Observer interface {
	RecordUpdate(duration time.Duration, err error)
	RecordTask(task string, sizeBytes int64, err error)
	RecordSchedule(operation string, err error)
}
