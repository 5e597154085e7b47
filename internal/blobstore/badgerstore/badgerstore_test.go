package badgerstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/any-hub/tilehub/internal/blobstore"
	"github.com/any-hub/tilehub/internal/storage"
	"github.com/any-hub/tilehub/internal/storage/storetest"
)

func newInMemory(t *testing.T) *Store {
	t.Helper()
	store, err := Open(Params{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Destroy() })
	return store
}

func TestConformance(t *testing.T) {
	storetest.RunConformanceTests(t, func(t *testing.T) storage.BlobStore {
		return newInMemory(t)
	})
}

func TestPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(Params{Path: dir, SyncWrites: true})
	require.NoError(t, err)
	storetest.MustPut(t, store, storetest.Tile("roads", "EPSG:4326", 1, 2, 3, "tile"))
	require.NoError(t, store.PutLayerMetadata(context.Background(), "roads", "style", "dark"))
	require.NoError(t, store.Destroy())
	require.NoError(t, store.Destroy(), "second destroy is a no-op")

	reopened, err := Open(Params{Path: dir})
	require.NoError(t, err)
	t.Cleanup(func() { _ = reopened.Destroy() })

	assert.True(t, storetest.Has(t, reopened, "roads", "EPSG:4326", 1, 2, 3))
	value, err := reopened.LayerMetadata(context.Background(), "roads", "style")
	require.NoError(t, err)
	assert.Equal(t, "dark", value)
}

func TestClearRemovesEverything(t *testing.T) {
	store := newInMemory(t)
	ctx := context.Background()
	storetest.MustPut(t, store, storetest.Tile("roads", "EPSG:4326", 0, 0, 0, "a"))
	require.NoError(t, store.PutLayerMetadata(ctx, "lakes", "k", "v"))

	require.NoError(t, store.Clear(ctx))

	for _, layer := range []string{"roads", "lakes"} {
		exists, err := store.LayerExists(ctx, layer)
		require.NoError(t, err)
		assert.False(t, exists, layer)
	}
}

func TestRejectsNulInNames(t *testing.T) {
	store := newInMemory(t)
	err := store.Put(context.Background(), storetest.Tile("bad\x00layer", "EPSG:4326", 0, 0, 0, "a"))
	require.Error(t, err)
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open(Params{})
	require.Error(t, err)
}

func TestParseTileIndex(t *testing.T) {
	key := keyTile("roads", "EPSG:4326", "image/png", "", 12, 34, 5)
	prefix := keyFormat("roads", "EPSG:4326", "image/png", "")
	x, y, z, err := parseTileIndex(key[len(prefix):])
	require.NoError(t, err)
	assert.Equal(t, int64(12), x)
	assert.Equal(t, int64(34), y)
	assert.Equal(t, 5, z)

	_, _, _, err = parseTileIndex([]byte("5\x0012"))
	require.Error(t, err)
}

func TestFactoryRegistered(t *testing.T) {
	meta, ok := blobstore.Resolve(TypeKey)
	require.True(t, ok)

	instance, err := meta.Factory(map[string]interface{}{"InMemory": true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = instance.Destroy() })
	assert.IsType(t, &Store{}, instance)
}
