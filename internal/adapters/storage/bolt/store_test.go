package bolt

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	store, err := Open(filepath.Join(t.TempDir(), "data", "recorder.db"))
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()

	_, ok, err := store.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Set(ctx, "k", []byte(`{"a":1}`)))
	blob, ok, err := store.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte(`{"a":1}`), blob)

	require.NoError(t, store.Set(ctx, "k", []byte(`{"a":2}`)))
	blob, _, err = store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"a":2}`), blob)

	require.NoError(t, store.Delete(ctx, "k"))
	_, ok, err = store.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "recorder.db")
	ctx := context.Background()

	store, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, store.Set(ctx, "k", []byte("v")))
	require.NoError(t, store.Close())

	store, err = Open(path)
	require.NoError(t, err)
	defer store.Close()

	blob, ok, err := store.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("v"), blob)
}

func TestDeleteMissingKeyIsNoop(t *testing.T) {
	store, err := Open(filepath.Join(t.TempDir(), "recorder.db"))
	require.NoError(t, err)
	defer store.Close()

	assert.NoError(t, store.Delete(context.Background(), "ghost"))
}
