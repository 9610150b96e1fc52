package attachment

import (
	"time"

	"github.com/google/uuid"
)

// DefaultMimeType is used when none of an attachment's type hints resolves.
const DefaultMimeType = "application/octet-stream"

// DefaultInlineThreshold is the payload size in bytes from which attachments
// are routed to the object-store tier.
const DefaultInlineThreshold int64 = 1 << 20

// DataAttachment describes where an attachment's bytes are stored.
// At least one of InlineStoreID and ObjectStoreID is set.
type DataAttachment struct {
	InlineStoreID string   `json:"inline_store_id,omitempty"`
	ObjectStoreID string   `json:"object_store_id,omitempty"`
	TypeHints     []string `json:"type_hints,omitempty"`
}

// NewDataAttachment builds a descriptor with normalized type hints.
func NewDataAttachment(inlineStoreID, objectStoreID string, typeHints []string) DataAttachment {
	return DataAttachment{
		InlineStoreID: inlineStoreID,
		ObjectStoreID: objectStoreID,
		TypeHints:     NormalizeTypeHints(typeHints),
	}
}

// HasInline reports whether the attachment has bytes in the inline tier.
func (a DataAttachment) HasInline() bool {
	return a.InlineStoreID != ""
}

// HasObject reports whether the attachment has bytes in the object-store tier.
func (a DataAttachment) HasObject() bool {
	return a.ObjectStoreID != ""
}

// SameIDs reports whether both descriptors point at the same stored bytes.
func (a DataAttachment) SameIDs(other DataAttachment) bool {
	return a.InlineStoreID == other.InlineStoreID && a.ObjectStoreID == other.ObjectStoreID
}

// MimeType returns the first type hint that resolves to a mime type.
func (a DataAttachment) MimeType() (string, bool) {
	for _, hint := range a.TypeHints {
		if mt, ok := ResolveMimeType(hint); ok {
			return mt, true
		}
	}
	return "", false
}

// EffectiveMimeType returns MimeType or DefaultMimeType.
func (a DataAttachment) EffectiveMimeType() string {
	if mt, ok := a.MimeType(); ok {
		return mt
	}
	return DefaultMimeType
}

// Clone returns a deep copy of the descriptor.
func (a DataAttachment) Clone() DataAttachment {
	if a.TypeHints != nil {
		a.TypeHints = append([]string(nil), a.TypeHints...)
	}
	return a
}

// DeletedAttachment is an append-only audit entry recording the stored ids
// an attachment key referenced when it was replaced or removed.
type DeletedAttachment struct {
	InlineStoreID     string    `json:"inline_store_id,omitempty"`
	ObjectStoreID     string    `json:"object_store_id,omitempty"`
	AttachmentKey     string    `json:"attachment_key"`
	DeletionTimestamp time.Time `json:"deletion_timestamp"`
}

// InlineStub marks bytes held in the inline tier of an entity's record.
type InlineStub struct {
	MimeType string `json:"mime_type"`
	Length   int64  `json:"length"`
}

// Entity is implemented by versioned root entities that carry data
// attachments.
type Entity interface {
	EntityID() uuid.UUID
	Revision() string
	DataAttachments() map[string]DataAttachment
	DeletedAttachments() []DeletedAttachment
	// InlineStubs lists the inline-tier ids currently committed in the
	// entity's record, including ones no attachment key references yet.
	InlineStubs() map[string]InlineStub
}

// Hooks write engine results back onto a concrete entity type. Both hooks
// must return a new value or a modified copy; the engine never mutates the
// entity it loaded in place.
type Hooks[E Entity] struct {
	ApplyAttachments func(entity E, attachments map[string]DataAttachment, deleted []DeletedAttachment, stubs map[string]InlineStub) E
	SetRevision      func(entity E, revision string) E
}

// NormalizeTypeHints removes empty and exact duplicate hints, keeping order.
func NormalizeTypeHints(hints []string) []string {
	if len(hints) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(hints))
	out := make([]string, 0, len(hints))
	for _, h := range hints {
		if h == "" {
			continue
		}
		if _, ok := seen[h]; ok {
			continue
		}
		seen[h] = struct{}{}
		out = append(out, h)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func cloneAttachments(in map[string]DataAttachment) map[string]DataAttachment {
	out := make(map[string]DataAttachment, len(in))
	for k, v := range in {
		out[k] = v.Clone()
	}
	return out
}

func cloneStubs(in map[string]InlineStub) map[string]InlineStub {
	out := make(map[string]InlineStub, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
