package attachment

import (
	"context"
	"io"

	"github.com/google/uuid"
)

// Service defines the attachment engine exposed to the application layer
type Service[E Entity] interface {
	// UpdateAttachments applies changes to the entity's attachments. When
	// expectedRevision is set it must match the stored revision.
	UpdateAttachments(ctx context.Context, entityID uuid.UUID, expectedRevision *string, changes map[string]DataAttachmentChange) (E, error)

	// EnsureValidAttachmentChanges guards generic entity updates against
	// attachment id drift and audit log tampering.
	EnsureValidAttachmentChanges(current, candidate E, lenientKeys []string) (E, error)

	// CleanupPurgedEntityAttachments schedules deletion of object-store blobs
	// still referenced by a permanently deleted entity.
	CleanupPurgedEntityAttachments(ctx context.Context, purged E) error

	// OpenAttachment streams the bytes stored under key.
	OpenAttachment(ctx context.Context, entityID uuid.UUID, key string) (io.ReadCloser, DataAttachment, error)
}
