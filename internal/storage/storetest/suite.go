package storetest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/any-hub/tilehub/internal/storage"
)

// StoreFactory returns a fresh, empty store. The factory registers its own
// cleanup.
type StoreFactory func(t *testing.T) storage.BlobStore

const (
	testGridSet  = "EPSG:4326"
	otherGridSet = "EPSG:900913"
	testFormat   = "image/png"
)

// RunConformanceTests runs the full blob store contract against factory.
func RunConformanceTests(t *testing.T, factory StoreFactory) {
	t.Run("PutAndGet", func(t *testing.T) { testPutAndGet(t, factory) })
	t.Run("GetMissing", func(t *testing.T) { testGetMissing(t, factory) })
	t.Run("OverwriteNotifiesUpdate", func(t *testing.T) { testOverwrite(t, factory) })
	t.Run("ParametersIsolateTiles", func(t *testing.T) { testParameters(t, factory) })
	t.Run("DeleteTile", func(t *testing.T) { testDeleteTile(t, factory) })
	t.Run("DeleteRange", func(t *testing.T) { testDeleteRange(t, factory) })
	t.Run("DeleteByGridsetID", func(t *testing.T) { testDeleteByGridset(t, factory) })
	t.Run("DeleteLayer", func(t *testing.T) { testDeleteLayer(t, factory) })
	t.Run("LayerMetadata", func(t *testing.T) { testLayerMetadata(t, factory) })
	t.Run("LayerExists", func(t *testing.T) { testLayerExists(t, factory) })
	t.Run("Rename", func(t *testing.T) { testRename(t, factory) })
	t.Run("RenameOntoExistingLayer", func(t *testing.T) { testRenameConflict(t, factory) })
	t.Run("Listeners", func(t *testing.T) { testListeners(t, factory) })
	t.Run("ClosedAfterDestroy", func(t *testing.T) { testDestroy(t, factory) })
}

// Tile builds a tile with the given payload.
func Tile(layer, gridSet string, x, y int64, z int, blob string) *storage.TileObject {
	tile := storage.NewTileObject(layer, gridSet, testFormat, [3]int64{x, y, int64(z)}, nil)
	if blob != "" {
		tile.Blob = []byte(blob)
	}
	return tile
}

// MustPut stores a tile or fails the test.
func MustPut(t *testing.T, store storage.BlobStore, tile *storage.TileObject) {
	t.Helper()
	require.NoError(t, store.Put(context.Background(), tile))
}

// Has reports whether the tile address is cached.
func Has(t *testing.T, store storage.BlobStore, layer, gridSet string, x, y int64, z int) bool {
	t.Helper()
	found, err := store.Get(context.Background(), Tile(layer, gridSet, x, y, z, ""))
	require.NoError(t, err)
	return found
}

func testPutAndGet(t *testing.T, factory StoreFactory) {
	store := factory(t)
	ctx := context.Background()

	MustPut(t, store, Tile("roads", testGridSet, 3, 4, 5, "tile-bytes"))

	got := Tile("roads", testGridSet, 3, 4, 5, "")
	found, err := store.Get(ctx, got)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "tile-bytes", string(got.Blob))
	assert.False(t, got.Created.IsZero(), "created time should be populated")
}

func testGetMissing(t *testing.T, factory StoreFactory) {
	store := factory(t)

	found, err := store.Get(context.Background(), Tile("roads", testGridSet, 0, 0, 0, ""))
	require.NoError(t, err)
	assert.False(t, found)
}

func testOverwrite(t *testing.T, factory StoreFactory) {
	store := factory(t)
	rec := &RecordingListener{}
	require.NoError(t, store.AddListener(rec))

	MustPut(t, store, Tile("roads", testGridSet, 1, 1, 1, "abc"))
	MustPut(t, store, Tile("roads", testGridSet, 1, 1, 1, "abcdef"))

	assert.Equal(t, []string{
		"stored:roads/EPSG:4326/1/1/1",
		"updated:roads/EPSG:4326/1/1/1:3->6",
	}, rec.Events())

	got := Tile("roads", testGridSet, 1, 1, 1, "")
	found, err := store.Get(context.Background(), got)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "abcdef", string(got.Blob))
}

func testParameters(t *testing.T, factory StoreFactory) {
	store := factory(t)
	ctx := context.Background()

	plain := Tile("roads", testGridSet, 0, 0, 1, "plain")
	styled := storage.NewTileObject("roads", testGridSet, testFormat, [3]int64{0, 0, 1}, map[string]string{"STYLES": "night"})
	styled.Blob = []byte("styled")
	MustPut(t, store, plain)
	MustPut(t, store, styled)

	got := storage.NewTileObject("roads", testGridSet, testFormat, [3]int64{0, 0, 1}, map[string]string{"STYLES": "night"})
	found, err := store.Get(ctx, got)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "styled", string(got.Blob))

	got = Tile("roads", testGridSet, 0, 0, 1, "")
	found, err = store.Get(ctx, got)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "plain", string(got.Blob))
}

func testDeleteTile(t *testing.T, factory StoreFactory) {
	store := factory(t)
	ctx := context.Background()
	rec := &RecordingListener{}
	require.NoError(t, store.AddListener(rec))

	MustPut(t, store, Tile("roads", testGridSet, 2, 2, 2, "x"))
	rec.Reset()

	deleted, err := store.DeleteTile(ctx, Tile("roads", testGridSet, 2, 2, 2, ""))
	require.NoError(t, err)
	assert.True(t, deleted)
	assert.False(t, Has(t, store, "roads", testGridSet, 2, 2, 2))
	assert.Equal(t, []string{"deleted:roads/EPSG:4326/2/2/2"}, rec.Events())

	deleted, err = store.DeleteTile(ctx, Tile("roads", testGridSet, 2, 2, 2, ""))
	require.NoError(t, err)
	assert.False(t, deleted)
}

func testDeleteRange(t *testing.T, factory StoreFactory) {
	store := factory(t)
	ctx := context.Background()

	MustPut(t, store, Tile("roads", testGridSet, 0, 0, 1, "a"))
	MustPut(t, store, Tile("roads", testGridSet, 1, 1, 1, "b"))
	MustPut(t, store, Tile("roads", testGridSet, 3, 3, 2, "c"))

	r := &storage.TileRange{
		LayerName: "roads",
		GridSetID: testGridSet,
		Format:    testFormat,
		ZoomStart: 1,
		ZoomStop:  1,
		Bounds:    map[int]storage.GridBounds{1: {MinX: 0, MinY: 0, MaxX: 0, MaxY: 0}},
	}
	deleted, err := store.DeleteRange(ctx, r)
	require.NoError(t, err)
	assert.True(t, deleted)

	assert.False(t, Has(t, store, "roads", testGridSet, 0, 0, 1))
	assert.True(t, Has(t, store, "roads", testGridSet, 1, 1, 1))
	assert.True(t, Has(t, store, "roads", testGridSet, 3, 3, 2))

	deleted, err = store.DeleteRange(ctx, r)
	require.NoError(t, err)
	assert.False(t, deleted, "nothing left inside the range")

	unbounded := &storage.TileRange{
		LayerName: "roads",
		GridSetID: testGridSet,
		Format:    testFormat,
		ZoomStart: 0,
		ZoomStop:  4,
	}
	deleted, err = store.DeleteRange(ctx, unbounded)
	require.NoError(t, err)
	assert.True(t, deleted)
	assert.False(t, Has(t, store, "roads", testGridSet, 1, 1, 1))
	assert.False(t, Has(t, store, "roads", testGridSet, 3, 3, 2))
}

func testDeleteByGridset(t *testing.T, factory StoreFactory) {
	store := factory(t)
	ctx := context.Background()
	rec := &RecordingListener{}
	require.NoError(t, store.AddListener(rec))

	MustPut(t, store, Tile("roads", testGridSet, 0, 0, 0, "a"))
	MustPut(t, store, Tile("roads", otherGridSet, 0, 0, 0, "b"))
	rec.Reset()

	deleted, err := store.DeleteByGridsetID(ctx, "roads", testGridSet)
	require.NoError(t, err)
	assert.True(t, deleted)
	assert.False(t, Has(t, store, "roads", testGridSet, 0, 0, 0))
	assert.True(t, Has(t, store, "roads", otherGridSet, 0, 0, 0))
	assert.Contains(t, rec.Events(), "gridset-deleted:roads/"+testGridSet)

	deleted, err = store.DeleteByGridsetID(ctx, "roads", testGridSet)
	require.NoError(t, err)
	assert.False(t, deleted)
}

func testDeleteLayer(t *testing.T, factory StoreFactory) {
	store := factory(t)
	ctx := context.Background()
	rec := &RecordingListener{}
	require.NoError(t, store.AddListener(rec))

	MustPut(t, store, Tile("roads", testGridSet, 0, 0, 0, "a"))
	MustPut(t, store, Tile("rivers", testGridSet, 0, 0, 0, "b"))
	require.NoError(t, store.PutLayerMetadata(ctx, "roads", "style", "dark"))
	rec.Reset()

	deleted, err := store.Delete(ctx, "roads")
	require.NoError(t, err)
	assert.True(t, deleted)
	assert.Equal(t, []string{"layer-deleted:roads"}, rec.Events())

	exists, err := store.LayerExists(ctx, "roads")
	require.NoError(t, err)
	assert.False(t, exists)

	value, err := store.LayerMetadata(ctx, "roads", "style")
	require.NoError(t, err)
	assert.Empty(t, value)
	assert.True(t, Has(t, store, "rivers", testGridSet, 0, 0, 0))

	deleted, err = store.Delete(ctx, "roads")
	require.NoError(t, err)
	assert.False(t, deleted)
}

func testLayerMetadata(t *testing.T, factory StoreFactory) {
	store := factory(t)
	ctx := context.Background()

	value, err := store.LayerMetadata(ctx, "roads", "style")
	require.NoError(t, err)
	assert.Empty(t, value)

	require.NoError(t, store.PutLayerMetadata(ctx, "roads", "style", "dark"))
	require.NoError(t, store.PutLayerMetadata(ctx, "roads", "owner", "ops"))
	require.NoError(t, store.PutLayerMetadata(ctx, "roads", "style", "light"))

	value, err = store.LayerMetadata(ctx, "roads", "style")
	require.NoError(t, err)
	assert.Equal(t, "light", value)

	value, err = store.LayerMetadata(ctx, "roads", "owner")
	require.NoError(t, err)
	assert.Equal(t, "ops", value)
}

func testLayerExists(t *testing.T, factory StoreFactory) {
	store := factory(t)
	ctx := context.Background()

	exists, err := store.LayerExists(ctx, "roads")
	require.NoError(t, err)
	assert.False(t, exists)

	MustPut(t, store, Tile("roads", testGridSet, 0, 0, 0, "a"))
	exists, err = store.LayerExists(ctx, "roads")
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, store.PutLayerMetadata(ctx, "lakes", "k", "v"))
	exists, err = store.LayerExists(ctx, "lakes")
	require.NoError(t, err)
	assert.True(t, exists, "metadata alone makes a layer exist")

	exists, err = store.LayerExists(ctx, "road")
	require.NoError(t, err)
	assert.False(t, exists, "layer names must not match by prefix")
}

func testRename(t *testing.T, factory StoreFactory) {
	store := factory(t)
	ctx := context.Background()
	rec := &RecordingListener{}
	require.NoError(t, store.AddListener(rec))

	MustPut(t, store, Tile("parksOld", testGridSet, 1, 2, 3, "park"))
	require.NoError(t, store.PutLayerMetadata(ctx, "parksOld", "style", "green"))
	rec.Reset()

	renamed, err := store.Rename(ctx, "parksOld", "parksNew")
	require.NoError(t, err)
	assert.True(t, renamed)
	assert.Equal(t, []string{"layer-renamed:parksOld->parksNew"}, rec.Events())

	got := Tile("parksNew", testGridSet, 1, 2, 3, "")
	found, err := store.Get(ctx, got)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "park", string(got.Blob))

	value, err := store.LayerMetadata(ctx, "parksNew", "style")
	require.NoError(t, err)
	assert.Equal(t, "green", value)

	exists, err := store.LayerExists(ctx, "parksOld")
	require.NoError(t, err)
	assert.False(t, exists)

	renamed, err = store.Rename(ctx, "missing", "other")
	require.NoError(t, err)
	assert.False(t, renamed)
}

func testRenameConflict(t *testing.T, factory StoreFactory) {
	store := factory(t)
	ctx := context.Background()

	MustPut(t, store, Tile("a", testGridSet, 0, 0, 0, "a"))
	MustPut(t, store, Tile("b", testGridSet, 0, 0, 0, "b"))

	_, err := store.Rename(ctx, "a", "b")
	require.ErrorIs(t, err, storage.ErrLayerExists)

	got := Tile("b", testGridSet, 0, 0, 0, "")
	found, err := store.Get(ctx, got)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "b", string(got.Blob))
	assert.True(t, Has(t, store, "a", testGridSet, 0, 0, 0))
}

func testListeners(t *testing.T, factory StoreFactory) {
	store := factory(t)
	rec := &RecordingListener{}

	require.ErrorIs(t, store.AddListener(nil), storage.ErrNilListener)
	require.NoError(t, store.AddListener(rec))
	assert.True(t, store.RemoveListener(rec))
	assert.False(t, store.RemoveListener(rec))

	MustPut(t, store, Tile("roads", testGridSet, 0, 0, 0, "a"))
	assert.Empty(t, rec.Events(), "removed listener must not be notified")
}

func testDestroy(t *testing.T, factory StoreFactory) {
	store := factory(t)
	require.NoError(t, store.Destroy())

	err := store.Put(context.Background(), Tile("roads", testGridSet, 0, 0, 0, "a"))
	require.ErrorIs(t, err, storage.ErrStoreClosed)

	_, err = store.Get(context.Background(), Tile("roads", testGridSet, 0, 0, 0, ""))
	require.ErrorIs(t, err, storage.ErrStoreClosed)
}
