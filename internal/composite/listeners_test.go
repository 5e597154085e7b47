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

func TestAddListenerReachesEveryEnabledStore(t *testing.T) {
	s3 := enabled("s3")
	local := asDefault(enabled("local"))
	router, _ := newRouter(t, layerMap{"roads": "s3", "parks": ""}, s3, local, disabled("cold"))
	ctx := context.Background()

	rec := &storetest.RecordingListener{}
	require.NoError(t, router.AddListener(rec))
	assert.EqualValues(t, 1, local.store.addListenerHit.Load(), "alias and id share one registration")

	require.NoError(t, router.Put(ctx, tile("roads", "r")))
	require.NoError(t, router.Put(ctx, tile("parks", "p")))
	assert.Equal(t, []string{
		"stored:roads/EPSG:4326/0/0/0",
		"stored:parks/EPSG:4326/0/0/0",
	}, rec.Events())
}

func TestAddListenerFailFast(t *testing.T) {
	a := enabled("a")
	b := enabled("b")
	b.store = newTrackedStore()
	b.store.addListenerErr = errors.New("listener quota")
	c := asDefault(enabled("c"))
	router, _ := newRouter(t, layerMap{}, a, b, c)

	err := router.AddListener(&storetest.RecordingListener{})
	require.EqualError(t, err, "listener quota")
	assert.EqualValues(t, 1, a.store.addListenerHit.Load())
	assert.EqualValues(t, 1, b.store.addListenerHit.Load())
	assert.EqualValues(t, 0, c.store.addListenerHit.Load(), "stores after the failure are not touched")
}

func TestAddNilListener(t *testing.T) {
	router, _ := newRouter(t, layerMap{})
	require.ErrorIs(t, router.AddListener(nil), storage.ErrNilListener)
}

func TestRemoveListenerIsLogicalOr(t *testing.T) {
	s3 := enabled("s3")
	local := asDefault(enabled("local"))
	router, _ := newRouter(t, layerMap{}, s3, local)

	rec := &storetest.RecordingListener{}
	assert.False(t, router.RemoveListener(rec), "never registered anywhere")

	require.NoError(t, s3.store.Store.AddListener(rec))
	assert.True(t, router.RemoveListener(rec), "registered on one store is enough")
	assert.False(t, s3.store.Store.RemoveListener(rec))

	require.NoError(t, router.AddListener(rec))
	assert.True(t, router.RemoveListener(rec))
	assert.False(t, s3.store.Store.RemoveListener(rec))
	assert.False(t, local.store.Store.RemoveListener(rec), "removed from every store")
}
