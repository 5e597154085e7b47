package composite

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/any-hub/tilehub/internal/storage"
	"github.com/any-hub/tilehub/internal/storage/storetest"
)

func TestRenameCollisionInOtherStore(t *testing.T) {
	s3 := enabled("s3")
	local := asDefault(enabled("local"))
	router, _ := newRouter(t, layerMap{"parksOld": "s3", "parksNew": "s3"}, s3, local)
	ctx := context.Background()

	storetest.MustPut(t, s3.store, tile("parksOld", "old"))
	storetest.MustPut(t, local.store, tile("parksNew", "stale"))

	renamed, err := router.Rename(ctx, "parksOld", "parksNew")
	assert.False(t, renamed)
	require.ErrorIs(t, err, storage.ErrRenameConflict)

	var storageErr *storage.StorageError
	require.ErrorAs(t, err, &storageErr)
	assert.Equal(t, "local", storageErr.StoreID)
	assert.Equal(t, "parksNew", storageErr.Layer)

	assert.True(t, has(t, s3.store, "parksOld"), "source must not be mutated")
	assert.False(t, has(t, s3.store, "parksNew"))
	assert.True(t, has(t, local.store, "parksNew"), "other store must not be mutated")
}

func TestRenameWithinSourceStore(t *testing.T) {
	s3 := enabled("s3")
	local := asDefault(enabled("local"))
	router, _ := newRouter(t, layerMap{"parksOld": "", "parksNew": ""}, s3, local)
	ctx := context.Background()

	rec := &storetest.RecordingListener{}
	require.NoError(t, router.AddListener(rec))
	storetest.MustPut(t, local.store, tile("parksOld", "park"))
	rec.Reset()

	renamed, err := router.Rename(ctx, "parksOld", "parksNew")
	require.NoError(t, err)
	assert.True(t, renamed)
	assert.True(t, has(t, local.store, "parksNew"))
	assert.False(t, has(t, s3.store, "parksNew"))
	assert.Equal(t, []string{"layer-renamed:parksOld->parksNew"}, rec.Events())
}

func TestRenameOntoLayerInSourceStore(t *testing.T) {
	local := asDefault(enabled("local"))
	router, _ := newRouter(t, layerMap{"a": "", "b": ""}, local)

	storetest.MustPut(t, local.store, tile("a", "a"))
	storetest.MustPut(t, local.store, tile("b", "b"))

	_, err := router.Rename(context.Background(), "a", "b")
	require.ErrorIs(t, err, storage.ErrLayerExists)
	assert.True(t, has(t, local.store, "a"))
}

func TestRenameFailsWhenCollisionCheckFails(t *testing.T) {
	flaky := enabled("flaky")
	flaky.store = newTrackedStore()
	flaky.store.existsErr = errors.New("unreachable")
	local := asDefault(enabled("local"))
	router, _ := newRouter(t, layerMap{"a": ""}, flaky, local)

	storetest.MustPut(t, local.store, tile("a", "a"))
	_, err := router.Rename(context.Background(), "a", "b")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unreachable")
	assert.True(t, has(t, local.store, "a"))
}

func TestRenameIgnoresDisabledStores(t *testing.T) {
	local := asDefault(enabled("local"))
	router, _ := newRouter(t, layerMap{"a": ""}, disabled("cold"), local)

	storetest.MustPut(t, local.store, tile("a", "a"))
	renamed, err := router.Rename(context.Background(), "a", "b")
	require.NoError(t, err)
	assert.True(t, renamed)
}

func TestRenameFromDisabledStore(t *testing.T) {
	router, _ := newRouter(t, layerMap{"a": "cold"}, disabled("cold"))
	_, err := router.Rename(context.Background(), "a", "b")
	require.ErrorIs(t, err, storage.ErrStoreDisabled)
}
