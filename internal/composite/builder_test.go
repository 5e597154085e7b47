package composite

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/any-hub/tilehub/internal/blobstore/filestore"
	"github.com/any-hub/tilehub/internal/storage"
)

func build(cfgs ...*stubConfig) (*BlobStore, *legacyRecorder, error) {
	legacy := &legacyRecorder{}
	router, err := New(Options{
		Layers:             layerMap{},
		StorageFinder:      staticPath("/var/cache/tiles"),
		Configs:            configs(cfgs...),
		LegacyStoreFactory: legacy.factory,
	})
	return router, legacy, err
}

func TestDuplicateIDDestroysCreatedStores(t *testing.T) {
	first := enabled("s3")
	other := enabled("local")
	dup := enabled("s3")

	_, legacy, err := build(first, other, dup)
	require.ErrorIs(t, err, storage.ErrDuplicateID)
	require.ErrorIs(t, err, storage.ErrConfiguration)
	assert.True(t, storage.IsConfigurationError(err))

	assert.EqualValues(t, 1, first.store.destroyed.Load())
	assert.EqualValues(t, 1, other.store.destroyed.Load())
	assert.EqualValues(t, 0, dup.created.Load(), "duplicate is rejected before instantiation")
	assert.Empty(t, legacy.paths)
}

func TestDuplicateDefaultFails(t *testing.T) {
	a := asDefault(enabled("a"))
	b := asDefault(enabled("b"))

	_, _, err := build(a, b)
	require.ErrorIs(t, err, storage.ErrDuplicateDefault)
	assert.EqualValues(t, 1, a.store.destroyed.Load())
	assert.EqualValues(t, 1, b.store.destroyed.Load())
}

func TestSecondDefaultUsingAliasIDFails(t *testing.T) {
	a := asDefault(enabled("a"))
	alias := asDefault(enabled(storage.DefaultStoreID))

	_, _, err := build(a, alias)
	require.ErrorIs(t, err, storage.ErrDuplicateDefault)
	assert.NotErrorIs(t, err, storage.ErrDuplicateID)
	assert.EqualValues(t, 1, a.store.destroyed.Load())
	assert.EqualValues(t, 0, alias.created.Load())
}

func TestDisabledDefaultFails(t *testing.T) {
	before := enabled("before")
	_, _, err := build(before, asDefault(disabled("a")))
	require.ErrorIs(t, err, storage.ErrDefaultDisabled)
	assert.Contains(t, err.Error(), "default blob store disabled")
	assert.EqualValues(t, 1, before.store.destroyed.Load())
}

func TestMissingIDFails(t *testing.T) {
	_, _, err := build(enabled(""))
	require.ErrorIs(t, err, storage.ErrMissingID)
}

func TestReservedDefaultID(t *testing.T) {
	_, _, err := build(enabled(storage.DefaultStoreID))
	require.ErrorIs(t, err, storage.ErrReservedID)

	router, _, err := build(asDefault(enabled(storage.DefaultStoreID)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = router.Destroy() })
	require.Len(t, router.Stores(), 1)
}

func TestCreateInstanceFailureReleasesEarlierStores(t *testing.T) {
	ok := enabled("ok")
	broken := enabled("broken")
	broken.createErr = errors.New("bucket missing")

	_, legacy, err := build(ok, broken)
	require.ErrorIs(t, err, storage.ErrCreateInstance)
	require.ErrorIs(t, err, storage.ErrStorage)

	var storageErr *storage.StorageError
	require.ErrorAs(t, err, &storageErr)
	assert.Equal(t, "broken", storageErr.StoreID)
	assert.EqualError(t, errors.Unwrap(err), "bucket missing")

	assert.EqualValues(t, 1, ok.store.destroyed.Load())
	assert.Empty(t, legacy.paths, "fallback is never built after a failure")
}

func TestDisabledStoresAreNotInstantiated(t *testing.T) {
	off := disabled("off")
	router, _ := newRouter(t, layerMap{}, off)
	assert.EqualValues(t, 0, off.created.Load())

	stores := router.Stores()
	require.Len(t, stores, 2)
	assert.Equal(t, StoreInfo{ID: "default", Type: "file", Enabled: true, Default: true}, stores[0])
	assert.Equal(t, StoreInfo{ID: "off", Type: "stub", Enabled: false, Default: false}, stores[1])
}

func TestFallbackDefaultSynthesized(t *testing.T) {
	router, legacy := newRouter(t, layerMap{}, enabled("s3"))

	require.Equal(t, []string{"/var/cache/tiles"}, legacy.paths)

	value, ok := router.stores.Load(storage.DefaultStoreID)
	require.True(t, ok)
	store, ok := value.(*enabledStore)
	require.True(t, ok, "fallback must be enabled")
	assert.Same(t, legacy.store, store.instance)
	assert.True(t, store.config().Default())
}

func TestFallbackUsesFileStoreAtDefaultPath(t *testing.T) {
	dir := t.TempDir()
	router, err := New(Options{
		Layers:        layerMap{},
		StorageFinder: staticPath(dir),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = router.Destroy() })

	value, ok := router.stores.Load(storage.DefaultStoreID)
	require.True(t, ok)
	fs, ok := value.(*enabledStore).instance.(*filestore.Store)
	require.True(t, ok)
	assert.Equal(t, dir, fs.BasePath())
}

func TestMissingStorageFinderWithoutDefault(t *testing.T) {
	s3 := enabled("s3")
	_, err := New(Options{Layers: layerMap{}, Configs: configs(s3)})
	require.ErrorIs(t, err, storage.ErrNoDefaultStore)
	assert.EqualValues(t, 1, s3.store.destroyed.Load())
}

func TestExplicitDefaultIsAliased(t *testing.T) {
	local := asDefault(enabled("local"))
	router, legacy := newRouter(t, layerMap{}, enabled("s3"), local)

	assert.Empty(t, legacy.paths)
	def, ok := router.stores.Load(storage.DefaultStoreID)
	require.True(t, ok)
	byID, ok := router.stores.Load("local")
	require.True(t, ok)
	assert.Same(t, def, byID)
	assert.Same(t, local.store, def.(*enabledStore).instance)
}

func TestNewRequiresLayerResolver(t *testing.T) {
	_, err := New(Options{})
	require.Error(t, err)
}
