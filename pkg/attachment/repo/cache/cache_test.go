package cache

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-attachment/pkg/attachment"
	"github.com/tendant/simple-attachment/pkg/attachment/repo/memory"
)

// countingRepo counts reads that reach the wrapped repository.
type countingRepo struct {
	*memory.Repository
	gets int
}

func (c *countingRepo) Get(ctx context.Context, id uuid.UUID) (*attachment.Document, error) {
	c.gets++
	return c.Repository.Get(ctx, id)
}

func newStore(t *testing.T, ttl time.Duration) (*Store[*attachment.Document], *countingRepo) {
	t.Helper()
	inner := &countingRepo{Repository: memory.New()}
	store, err := NewDocumentStore(inner, Config{MaxSize: 8, TTL: ttl})
	require.NoError(t, err)
	return store, inner
}

func TestStore_GetServesFromCache(t *testing.T) {
	store, inner := newStore(t, time.Minute)
	ctx := context.Background()

	doc, err := store.Create(ctx, &attachment.Document{Kind: "a"})
	require.NoError(t, err)

	first, err := store.Get(ctx, doc.ID)
	require.NoError(t, err)
	second, err := store.Get(ctx, doc.ID)
	require.NoError(t, err)

	assert.Equal(t, 0, inner.gets)
	assert.Equal(t, first, second)

	// cached values are copies
	first.Kind = "mutated"
	third, err := store.Get(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, "a", third.Kind)
}

func TestStore_TTLExpiry(t *testing.T) {
	store, inner := newStore(t, time.Minute)
	now := time.Now()
	store.now = func() time.Time { return now }
	ctx := context.Background()

	doc, err := store.Create(ctx, &attachment.Document{})
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	_, err = store.Get(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, inner.gets)
}

func TestStore_CreateAttachmentInvalidates(t *testing.T) {
	store, inner := newStore(t, time.Minute)
	ctx := context.Background()

	doc, err := store.Create(ctx, &attachment.Document{})
	require.NoError(t, err)

	rev, err := store.CreateAttachment(ctx, doc.ID, "sha256:x", doc.Rev, "text/plain", strings.NewReader("x"))
	require.NoError(t, err)

	got, err := store.Get(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, inner.gets)
	assert.Equal(t, rev, got.Rev)
	assert.Contains(t, got.Inline, "sha256:x")
}

// racingRepo runs duringWrite while an inline write is in flight.
type racingRepo struct {
	*memory.Repository
	duringWrite func()
}

func (r *racingRepo) CreateAttachment(ctx context.Context, entityID uuid.UUID, attachmentID, currentRevision, mimeType string, data io.Reader) (string, error) {
	if r.duringWrite != nil {
		r.duringWrite()
	}
	return r.Repository.CreateAttachment(ctx, entityID, attachmentID, currentRevision, mimeType, data)
}

func TestStore_ConcurrentGetDuringCreateAttachment(t *testing.T) {
	inner := &racingRepo{Repository: memory.New()}
	store, err := NewDocumentStore(inner, Config{MaxSize: 8, TTL: time.Minute})
	require.NoError(t, err)
	ctx := context.Background()

	doc, err := store.Create(ctx, &attachment.Document{})
	require.NoError(t, err)

	inner.duringWrite = func() {
		stale, err := store.Get(ctx, doc.ID)
		require.NoError(t, err)
		assert.Equal(t, doc.Rev, stale.Rev)
	}
	rev, err := store.CreateAttachment(ctx, doc.ID, "sha256:x", doc.Rev, "text/plain", strings.NewReader("x"))
	require.NoError(t, err)

	got, err := store.Get(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, rev, got.Rev)
	assert.Contains(t, got.Inline, "sha256:x")

	// a failed write also drops whatever was cached meanwhile
	_, err = store.CreateAttachment(ctx, doc.ID, "sha256:y", doc.Rev, "text/plain", strings.NewReader("y"))
	assert.ErrorIs(t, err, attachment.ErrConflict)
	assert.Equal(t, 0, store.Len())
}

func TestStore_FailedSaveInvalidates(t *testing.T) {
	store, inner := newStore(t, time.Minute)
	ctx := context.Background()

	doc, err := store.Create(ctx, &attachment.Document{})
	require.NoError(t, err)

	stale := attachment.CloneDocument(doc)
	stale.Rev = "0-stale"
	_, err = store.Save(ctx, stale)
	assert.ErrorIs(t, err, attachment.ErrConflict)
	assert.Zero(t, store.Len())

	saved, err := store.Save(ctx, doc)
	require.NoError(t, err)
	got, err := store.Get(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, saved.Rev, got.Rev)
	assert.Equal(t, 0, inner.gets)
}

func TestStore_DeleteAndPurge(t *testing.T) {
	store, _ := newStore(t, time.Minute)
	ctx := context.Background()

	a, err := store.Create(ctx, &attachment.Document{})
	require.NoError(t, err)
	b, err := store.Create(ctx, &attachment.Document{})
	require.NoError(t, err)
	assert.Equal(t, 2, store.Len())

	_, err = store.Delete(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, store.Len())
	_, err = store.Get(ctx, a.ID)
	assert.ErrorIs(t, err, attachment.ErrNotFound)

	store.Purge()
	assert.Zero(t, store.Len())
	_, err = store.Get(ctx, b.ID)
	assert.NoError(t, err)
}

func TestNew_Validation(t *testing.T) {
	_, err := New[*attachment.Document](nil, attachment.CloneDocument, Config{})
	assert.Error(t, err)
	_, err = New[*attachment.Document](memory.New(), nil, Config{})
	assert.Error(t, err)
}
