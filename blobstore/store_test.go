package blobstore

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stores(t *testing.T) map[string]Store {
	t.Helper()

	local, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	return map[string]Store{
		"memory": NewMemoryStore(),
		"local":  local,
	}
}

func TestStoreLifecycle(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			data := []byte("hello world, this is a test archive")

			// Create and publish
			w, err := store.Create(ctx, "data-001.bak")
			require.NoError(t, err)

			n, err := w.Write(data)
			require.NoError(t, err)
			require.Equal(t, len(data), n)
			require.NoError(t, w.Close())

			// Sequential read back
			blob, err := store.Open(ctx, "data-001.bak")
			require.NoError(t, err)
			require.Equal(t, int64(len(data)), blob.Size())

			got, err := io.ReadAll(blob)
			require.NoError(t, err)
			require.Equal(t, data, got)
			require.NoError(t, blob.Close())

			// List with and without prefix
			w2, err := store.Create(ctx, "other-001.bak")
			require.NoError(t, err)
			require.NoError(t, w2.Close())

			names, err := store.List(ctx, "")
			require.NoError(t, err)
			assert.Equal(t, []string{"data-001.bak", "other-001.bak"}, names)

			names, err = store.List(ctx, "data-")
			require.NoError(t, err)
			assert.Equal(t, []string{"data-001.bak"}, names)

			// Delete is idempotent
			require.NoError(t, store.Delete(ctx, "data-001.bak"))
			require.NoError(t, store.Delete(ctx, "data-001.bak"))

			_, err = store.Open(ctx, "data-001.bak")
			require.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestStoreOverwriteReplacesOnClose(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			w, err := store.Create(ctx, "data.bak")
			require.NoError(t, err)
			_, err = w.Write([]byte("first"))
			require.NoError(t, err)
			require.NoError(t, w.Close())

			w, err = store.Create(ctx, "data.bak")
			require.NoError(t, err)
			_, err = w.Write([]byte("second"))
			require.NoError(t, err)
			require.NoError(t, w.Close())

			blob, err := store.Open(ctx, "data.bak")
			require.NoError(t, err)
			got, err := io.ReadAll(blob)
			require.NoError(t, err)
			assert.Equal(t, "second", string(got))
			require.NoError(t, blob.Close())
		})
	}
}

func TestStoreAbortDiscards(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			w, err := store.Create(ctx, "aborted.bak")
			require.NoError(t, err)
			_, err = w.Write([]byte("partial"))
			require.NoError(t, err)
			require.NoError(t, w.Abort())
			require.NoError(t, w.Abort())

			_, err = store.Open(ctx, "aborted.bak")
			require.ErrorIs(t, err, ErrNotFound)

			names, err := store.List(ctx, "")
			require.NoError(t, err)
			assert.Empty(t, names)
		})
	}
}

func TestStoreRejectsPathNames(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			for _, bad := range []string{"", ".", "..", "a/b", `a\b`} {
				_, err := store.Create(context.Background(), bad)
				assert.Error(t, err, "name %q must be rejected", bad)
			}
		})
	}
}

func TestLocalStoreDroppedHandleStaysInvisible(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	ctx := context.Background()
	w, err := store.Create(ctx, "data.bak")
	require.NoError(t, err)
	_, err = w.Write([]byte("partial"))
	require.NoError(t, err)

	// Simulate a crash: the handle is dropped without Close. The temp
	// file may linger on disk but must never be listed or opened.
	names, err := store.List(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, names)

	_, err = store.Open(ctx, "data.bak")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestLocalStorePersistsAcrossInstances(t *testing.T) {
	dir := t.TempDir()
	first, err := NewLocalStore(dir)
	require.NoError(t, err)

	w, err := first.Create(context.Background(), "keep.bak")
	require.NoError(t, err)
	_, err = w.Write([]byte("durable"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	second, err := NewLocalStore(dir)
	require.NoError(t, err)

	blob, err := second.Open(context.Background(), "keep.bak")
	require.NoError(t, err)
	got, err := io.ReadAll(blob)
	require.NoError(t, err)
	assert.Equal(t, "durable", string(got))
	require.NoError(t, blob.Close())
}

func TestMemoryStoreReadersSeeStableData(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	w, err := store.Create(ctx, "data.bak")
	require.NoError(t, err)
	_, err = w.Write([]byte("version one"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	blob, err := store.Open(ctx, "data.bak")
	require.NoError(t, err)

	// Overwrite while the reader is open.
	w, err = store.Create(ctx, "data.bak")
	require.NoError(t, err)
	_, err = w.Write([]byte("version two"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	got, err := io.ReadAll(blob)
	require.NoError(t, err)
	assert.Equal(t, "version one", string(got))
	require.NoError(t, blob.Close())
}
