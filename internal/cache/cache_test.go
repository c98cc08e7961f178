package cache

import (
	"context"
	"path/filepath"
	"testing"

	"flashgate/internal/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runStoreContract(t *testing.T, store core.IStore) {
	t.Helper()
	ctx := context.Background()

	_, found, err := store.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, found, "absent key should report not found")

	require.NoError(t, store.Set(ctx, "oid:cid-1", "X1"))
	v, found, err := store.Get(ctx, "oid:cid-1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "X1", v)

	// Overwrite
	require.NoError(t, store.Set(ctx, "oid:cid-1", "X2"))
	v, _, _ = store.Get(ctx, "oid:cid-1")
	assert.Equal(t, "X2", v)

	require.NoError(t, store.Delete(ctx, "oid:cid-1"))
	_, found, err = store.Get(ctx, "oid:cid-1")
	require.NoError(t, err)
	assert.False(t, found)

	// Deleting twice is fine
	require.NoError(t, store.Delete(ctx, "oid:cid-1"))
}

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()
	runStoreContract(t, store)
}

func TestSQLiteStore(t *testing.T) {
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "gate.db"))
	require.NoError(t, err)
	defer store.Close()
	runStoreContract(t, store)
}

func TestSQLiteStore_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gate.db")
	ctx := context.Background()

	store, err := NewSQLiteStore(path)
	require.NoError(t, err)
	require.NoError(t, store.Set(ctx, "cid:X1", "cid-1"))
	require.NoError(t, store.Close())

	reopened, err := NewSQLiteStore(path)
	require.NoError(t, err)
	defer reopened.Close()

	v, found, err := reopened.Get(ctx, "cid:X1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "cid-1", v)
}

func TestFactory_UnknownBackend(t *testing.T) {
	_, err := New(context.Background(), Options{Backend: "etcd"})
	assert.Error(t, err)
}

func TestFactory_DefaultsToMemory(t *testing.T) {
	store, err := New(context.Background(), Options{})
	require.NoError(t, err)
	defer store.Close()

	_, ok := store.(*MemoryStore)
	assert.True(t, ok)
}
