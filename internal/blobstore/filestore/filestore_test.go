package filestore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/any-hub/tilehub/internal/blobstore"
	"github.com/any-hub/tilehub/internal/storage"
	"github.com/any-hub/tilehub/internal/storage/storetest"
)

func TestConformance(t *testing.T) {
	storetest.RunConformanceTests(t, func(t *testing.T) storage.BlobStore {
		return newTestStore(t)
	})
}

func TestTileLayout(t *testing.T) {
	store := newTestStore(t)
	tile := storage.NewTileObject("topp:states", "EPSG:4326", "image/png", [3]int64{7, 9, 3}, map[string]string{"STYLES": "night"})
	tile.Blob = []byte("tile")
	require.NoError(t, store.Put(context.Background(), tile))

	expected := filepath.Join(store.BasePath(), "topp_states", "EPSG_4326", "png_"+tile.ParametersID, "03", "7", "9.png")
	data, err := os.ReadFile(expected)
	require.NoError(t, err)
	assert.Equal(t, "tile", string(data))
}

func TestMetadataSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	store, err := New(dir)
	require.NoError(t, err)
	require.NoError(t, store.PutLayerMetadata(context.Background(), "roads", "style", "dark"))
	require.NoError(t, store.Destroy())

	reopened, err := New(dir)
	require.NoError(t, err)
	value, err := reopened.LayerMetadata(context.Background(), "roads", "style")
	require.NoError(t, err)
	assert.Equal(t, "dark", value)
}

func TestCanceledPutLeavesNoPartialTile(t *testing.T) {
	store := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	tile := storetest.Tile("roads", "EPSG:4326", 0, 0, 0, "payload")
	require.ErrorIs(t, store.Put(ctx, tile), context.Canceled)
	assert.False(t, storetest.Has(t, store, "roads", "EPSG:4326", 0, 0, 0))
}

func TestBlockedTileDirectoryLeavesNoTempFiles(t *testing.T) {
	store := newTestStore(t)
	tile := storetest.Tile("roads", "EPSG:4326", 1, 1, 1, "payload")
	filePath, err := store.tilePath(tile)
	require.NoError(t, err)

	// 目标目录被同名文件占用，写入必然失败。
	require.NoError(t, os.MkdirAll(filepath.Dir(filepath.Dir(filePath)), 0o755))
	require.NoError(t, os.WriteFile(filepath.Dir(filePath), []byte("blocker"), 0o644))

	require.Error(t, store.Put(context.Background(), tile))

	entries, err := os.ReadDir(filepath.Dir(filepath.Dir(filePath)))
	require.NoError(t, err)
	for _, entry := range entries {
		assert.NotContains(t, entry.Name(), ".tile-", "temporary files must be removed")
	}
}

func TestRejectsUnsafeLayerNames(t *testing.T) {
	store := newTestStore(t)
	_, err := store.LayerExists(context.Background(), "..")
	require.Error(t, err)
	_, err = store.LayerExists(context.Background(), "")
	require.Error(t, err)
}

func TestFactoryRegistered(t *testing.T) {
	meta, ok := blobstore.Resolve(TypeKey)
	require.True(t, ok)

	dir := t.TempDir()
	instance, err := meta.Factory(map[string]interface{}{"BaseDirectory": dir})
	require.NoError(t, err)
	t.Cleanup(func() { _ = instance.Destroy() })

	fs, ok := instance.(*Store)
	require.True(t, ok, "unexpected store type %T", instance)
	assert.Equal(t, dir, fs.BasePath())

	_, err = meta.Factory(map[string]interface{}{})
	require.Error(t, err, "BaseDirectory is required")
}

// newTestStore returns a Store backed by a temporary directory.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { _ = store.Destroy() })
	return store
}
