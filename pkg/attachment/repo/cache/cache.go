// Package cache provides a revision cache in front of an entity store.
//
// The cache is explicit state owned by whoever constructs it; there is no
// package-level instance. Entries expire after TTL, are replaced on every
// successful Save and are dropped around CreateAttachment, on a failed Save and
// on Invalidate. A stale entry can only cause a revision conflict, never a
// lost update, because the underlying store checks revisions on every write.
package cache

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/tendant/simple-attachment/pkg/attachment"
)

const (
	defaultMaxSize = 1024
	defaultTTL     = 30 * time.Second
)

// Config configures the revision cache.
type Config struct {
	// MaxSize is the maximum number of cached entities.
	MaxSize int
	// TTL is how long a cached entity is served without re-reading.
	TTL time.Duration
}

type entry[E attachment.Entity] struct {
	entity   E
	storedAt time.Time
}

// Store wraps an attachment.EntityStore with an LRU revision cache.
type Store[E attachment.Entity] struct {
	inner attachment.EntityStore[E]
	clone func(E) E
	cache *lru.Cache[uuid.UUID, entry[E]]
	ttl   time.Duration
	now   func() time.Time
}

// New wraps inner. clone must deep-copy an entity so cached values cannot be
// mutated by callers.
func New[E attachment.Entity](inner attachment.EntityStore[E], clone func(E) E, config Config) (*Store[E], error) {
	if inner == nil {
		return nil, errors.New("inner store is required")
	}
	if clone == nil {
		return nil, errors.New("clone function is required")
	}
	if config.MaxSize <= 0 {
		config.MaxSize = defaultMaxSize
	}
	if config.TTL <= 0 {
		config.TTL = defaultTTL
	}
	c, err := lru.New[uuid.UUID, entry[E]](config.MaxSize)
	if err != nil {
		return nil, err
	}
	return &Store[E]{inner: inner, clone: clone, cache: c, ttl: config.TTL, now: time.Now}, nil
}

// NewDocumentStore wraps a Document store.
func NewDocumentStore(inner attachment.EntityStore[*attachment.Document], config Config) (*Store[*attachment.Document], error) {
	return New(inner, attachment.CloneDocument, config)
}

func (s *Store[E]) Get(ctx context.Context, id uuid.UUID) (E, error) {
	if e, ok := s.cache.Get(id); ok {
		if s.now().Sub(e.storedAt) < s.ttl {
			return s.clone(e.entity), nil
		}
		s.cache.Remove(id)
	}
	entity, err := s.inner.Get(ctx, id)
	if err != nil {
		return entity, err
	}
	s.put(entity)
	return s.clone(entity), nil
}

func (s *Store[E]) Save(ctx context.Context, entity E) (E, error) {
	saved, err := s.inner.Save(ctx, entity)
	if err != nil {
		s.Invalidate(entity.EntityID())
		return saved, err
	}
	s.put(saved)
	return s.clone(saved), nil
}

func (s *Store[E]) CreateAttachment(ctx context.Context, entityID uuid.UUID, attachmentID, currentRevision, mimeType string, data io.Reader) (string, error) {
	// a Get racing the write may cache the pre-write entity; drop it again after
	s.Invalidate(entityID)
	defer s.Invalidate(entityID)
	return s.inner.CreateAttachment(ctx, entityID, attachmentID, currentRevision, mimeType, data)
}

// OpenAttachment passes through when the inner store can stream inline bytes.
func (s *Store[E]) OpenAttachment(ctx context.Context, entityID uuid.UUID, attachmentID string) (io.ReadCloser, error) {
	reader, ok := any(s.inner).(attachment.InlineReader)
	if !ok {
		return nil, errors.New("inner store cannot stream inline attachments")
	}
	return reader.OpenAttachment(ctx, entityID, attachmentID)
}

// Create passes through when the inner store can create entities.
func (s *Store[E]) Create(ctx context.Context, entity E) (E, error) {
	creator, ok := any(s.inner).(interface {
		Create(context.Context, E) (E, error)
	})
	if !ok {
		var zero E
		return zero, errors.New("inner store cannot create entities")
	}
	created, err := creator.Create(ctx, entity)
	if err != nil {
		return created, err
	}
	s.put(created)
	return s.clone(created), nil
}

// Delete passes through when the inner store can delete entities. The cache
// entry is dropped whatever the outcome.
func (s *Store[E]) Delete(ctx context.Context, id uuid.UUID) (E, error) {
	defer s.Invalidate(id)
	deleter, ok := any(s.inner).(interface {
		Delete(context.Context, uuid.UUID) (E, error)
	})
	if !ok {
		var zero E
		return zero, errors.New("inner store cannot delete entities")
	}
	return deleter.Delete(ctx, id)
}

// Invalidate drops a cached entity.
func (s *Store[E]) Invalidate(id uuid.UUID) {
	s.cache.Remove(id)
}

// Purge drops every cached entity.
func (s *Store[E]) Purge() {
	s.cache.Purge()
}

// Len reports the number of cached entities.
func (s *Store[E]) Len() int {
	return s.cache.Len()
}

func (s *Store[E]) put(entity E) {
	s.cache.Add(entity.EntityID(), entry[E]{entity: s.clone(entity), storedAt: s.now()})
}
