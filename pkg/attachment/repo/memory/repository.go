package memory

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/simple-attachment/pkg/attachment"
)

// Repository implements attachment.EntityStore for *attachment.Document using
// in-memory storage. Inline bytes live next to the document record.
type Repository struct {
	mu      sync.RWMutex
	records map[uuid.UUID]*record
}

type record struct {
	doc        *attachment.Document
	generation int
	inline     map[string][]byte
}

// New creates a new in-memory repository
func New() *Repository {
	return &Repository{
		records: make(map[uuid.UUID]*record),
	}
}

func nextRevision(generation int) string {
	return fmt.Sprintf("%d-%s", generation, uuid.New().String()[:8])
}

// Create stores a new document and assigns its first revision.
func (r *Repository) Create(ctx context.Context, doc *attachment.Document) (*attachment.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := attachment.CloneDocument(doc)
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if _, exists := r.records[c.ID]; exists {
		return nil, fmt.Errorf("%w: document %s already exists", attachment.ErrConflict, c.ID)
	}
	now := time.Now().UTC()
	c.CreatedAt = now
	c.UpdatedAt = now
	// inline bytes can only arrive through CreateAttachment
	c.Inline = map[string]attachment.InlineStub{}
	c.Rev = nextRevision(1)

	r.records[c.ID] = &record{doc: c, generation: 1, inline: make(map[string][]byte)}
	return attachment.CloneDocument(c), nil
}

func (r *Repository) Get(ctx context.Context, id uuid.UUID) (*attachment.Document, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, exists := r.records[id]
	if !exists {
		return nil, attachment.ErrNotFound
	}
	return attachment.CloneDocument(rec.doc), nil
}

func (r *Repository) Save(ctx context.Context, doc *attachment.Document) (*attachment.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, exists := r.records[doc.ID]
	if !exists {
		return nil, attachment.ErrNotFound
	}
	if rec.doc.Rev != doc.Rev {
		return nil, fmt.Errorf("%w: document %s is at revision %s, got %s", attachment.ErrConflict, doc.ID, rec.doc.Rev, doc.Rev)
	}

	c := attachment.CloneDocument(doc)
	stubs := make(map[string]attachment.InlineStub, len(c.Inline))
	for id := range c.Inline {
		if stub, ok := rec.doc.Inline[id]; ok {
			stubs[id] = stub
		}
	}
	for id := range rec.inline {
		if _, keep := stubs[id]; !keep {
			delete(rec.inline, id)
		}
	}
	c.Inline = stubs
	c.CreatedAt = rec.doc.CreatedAt

	rec.generation++
	c.Rev = nextRevision(rec.generation)
	rec.doc = c
	return attachment.CloneDocument(c), nil
}

func (r *Repository) CreateAttachment(ctx context.Context, entityID uuid.UUID, attachmentID, currentRevision, mimeType string, data io.Reader) (string, error) {
	payload, err := io.ReadAll(data)
	if err != nil {
		return "", err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	rec, exists := r.records[entityID]
	if !exists {
		return "", attachment.ErrNotFound
	}
	if rec.doc.Rev != currentRevision {
		return "", fmt.Errorf("%w: document %s is at revision %s, got %s", attachment.ErrConflict, entityID, rec.doc.Rev, currentRevision)
	}

	rec.inline[attachmentID] = payload
	doc := attachment.CloneDocument(rec.doc)
	doc.Inline[attachmentID] = attachment.InlineStub{MimeType: mimeType, Length: int64(len(payload))}
	rec.generation++
	doc.Rev = nextRevision(rec.generation)
	rec.doc = doc
	return doc.Rev, nil
}

// OpenAttachment streams inline bytes.
func (r *Repository) OpenAttachment(ctx context.Context, entityID uuid.UUID, attachmentID string) (io.ReadCloser, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, exists := r.records[entityID]
	if !exists {
		return nil, attachment.ErrNotFound
	}
	data, ok := rec.inline[attachmentID]
	if !ok {
		return nil, attachment.ErrAttachmentNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// Delete permanently removes a document with its inline bytes and returns
// the removed document.
func (r *Repository) Delete(ctx context.Context, id uuid.UUID) (*attachment.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, exists := r.records[id]
	if !exists {
		return nil, attachment.ErrNotFound
	}
	delete(r.records, id)
	return attachment.CloneDocument(rec.doc), nil
}
