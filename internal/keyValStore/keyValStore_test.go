package keyValStore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *KeyValStore {
	t.Helper()
	store, err := NewKeyValStore(StoreConfig{
		Paths:            []string{t.TempDir()},
		MinimumFreeSpace: 0,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}

func TestWriteReadRoundTrip(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.Write("controller/state", []byte("v1")))

	got, err := store.Read("controller/state")
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), got)

	// Overwrite replaces the value.
	require.NoError(t, store.Write("controller/state", []byte("v2")))
	got, err = store.Read("controller/state")
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), got)
}

func TestReadMissingKey(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Read("missing")
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestDelete(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.Write("k", []byte("v")))
	require.NoError(t, store.Delete("k"))

	_, err := store.Read("k")
	assert.ErrorIs(t, err, ErrKeyNotFound)

	// Deleting a missing key is a no-op.
	assert.NoError(t, store.Delete("k"))
}

func TestGetItemsWithPrefix(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.Write("events/1", []byte("a")))
	require.NoError(t, store.Write("events/2", []byte("b")))
	require.NoError(t, store.Write("controller/state", []byte("c")))

	items, err := store.GetItemsWithPrefix("events/")
	require.NoError(t, err)
	assert.Len(t, items, 2)
	assert.Equal(t, []byte("a"), items["events/1"])
	assert.Equal(t, []byte("b"), items["events/2"])
}

func TestCheckConfigRejectsBadPaths(t *testing.T) {
	_, err := NewKeyValStore(StoreConfig{})
	assert.Error(t, err, "empty path list must be rejected")

	_, err = NewKeyValStore(StoreConfig{
		Paths: []string{"/nonexistent/path/for/sure"},
	})
	assert.Error(t, err, "missing path must be rejected")
}
