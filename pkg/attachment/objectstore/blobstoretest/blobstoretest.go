// Package blobstoretest checks objectstore.BlobStore implementations
// against the behaviour the object-storage client relies on.
package blobstoretest

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-attachment/pkg/attachment/objectstore"
)

// Run exercises store. The store must start empty.
func Run(t *testing.T, store objectstore.BlobStore) {
	ctx := context.Background()

	t.Run("put get stat", func(t *testing.T) {
		require.NoError(t, store.Put(ctx, "staging/e1/a1", strings.NewReader("payload"), 7, "text/plain"))

		rc, err := store.Get(ctx, "staging/e1/a1")
		require.NoError(t, err)
		data, err := io.ReadAll(rc)
		require.NoError(t, rc.Close())
		require.NoError(t, err)
		assert.Equal(t, "payload", string(data))

		meta, err := store.Stat(ctx, "staging/e1/a1")
		require.NoError(t, err)
		assert.Equal(t, int64(7), meta.Size)
		assert.Equal(t, "staging/e1/a1", meta.Key)
	})

	t.Run("put overwrites", func(t *testing.T) {
		require.NoError(t, store.Put(ctx, "staging/e1/a2", strings.NewReader("one"), 3, ""))
		require.NoError(t, store.Put(ctx, "staging/e1/a2", strings.NewReader("second"), 6, ""))
		meta, err := store.Stat(ctx, "staging/e1/a2")
		require.NoError(t, err)
		assert.Equal(t, int64(6), meta.Size)
	})

	t.Run("missing keys", func(t *testing.T) {
		_, err := store.Get(ctx, "attachments/none/none")
		assert.ErrorIs(t, err, objectstore.ErrBlobNotFound)
		_, err = store.Stat(ctx, "attachments/none/none")
		assert.ErrorIs(t, err, objectstore.ErrBlobNotFound)
		err = store.Copy(ctx, "attachments/none/none", "attachments/none/copy")
		assert.ErrorIs(t, err, objectstore.ErrBlobNotFound)
		assert.NoError(t, store.Delete(ctx, "attachments/none/none"))
	})

	t.Run("copy then delete", func(t *testing.T) {
		require.NoError(t, store.Put(ctx, "staging/e2/a1", strings.NewReader("bytes"), 5, ""))
		require.NoError(t, store.Copy(ctx, "staging/e2/a1", "attachments/e2/a1"))
		require.NoError(t, store.Delete(ctx, "staging/e2/a1"))

		_, err := store.Stat(ctx, "staging/e2/a1")
		assert.ErrorIs(t, err, objectstore.ErrBlobNotFound)

		rc, err := store.Get(ctx, "attachments/e2/a1")
		require.NoError(t, err)
		data, err := io.ReadAll(rc)
		require.NoError(t, rc.Close())
		require.NoError(t, err)
		assert.Equal(t, "bytes", string(data))

		require.NoError(t, store.Delete(ctx, "attachments/e2/a1"))
		require.NoError(t, store.Delete(ctx, "attachments/e2/a1"))
	})
}
