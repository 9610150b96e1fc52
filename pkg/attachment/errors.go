package attachment

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Error types
var (
	// ErrNotFound indicates the entity does not exist
	ErrNotFound = errors.New("entity not found")

	// ErrConflict indicates a stale revision; re-read and retry the whole call
	ErrConflict = errors.New("revision conflict")

	// ErrValidation indicates a request that can never succeed as sent
	ErrValidation = errors.New("invalid attachment change")

	// ErrDuplicateContent indicates the same bytes under two keys of one entity.
	// It matches ErrValidation with errors.Is.
	ErrDuplicateContent = fmt.Errorf("%w: duplicate content", ErrValidation)

	// ErrAttachmentNotFound indicates an attachment key or stored blob is missing
	ErrAttachmentNotFound = errors.New("attachment not found")
)

// EntityError represents an error related to an entity-wide operation
type EntityError struct {
	EntityID uuid.UUID
	Op       string
	Err      error
}

func (e *EntityError) Error() string {
	return fmt.Sprintf("attachment operation %s failed for entity %s: %v", e.Op, e.EntityID, e.Err)
}

func (e *EntityError) Unwrap() error {
	return e.Err
}

// AttachmentError represents an error related to a single attachment key
type AttachmentError struct {
	EntityID uuid.UUID
	Key      string
	Op       string
	Err      error
}

func (e *AttachmentError) Error() string {
	return fmt.Sprintf("attachment operation %s failed for key %q on entity %s: %v", e.Op, e.Key, e.EntityID, e.Err)
}

func (e *AttachmentError) Unwrap() error {
	return e.Err
}
