package composite

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/any-hub/tilehub/internal/blobstore/memstore"
	"github.com/any-hub/tilehub/internal/storage"
)

var errLayerNotFound = errors.New("layer not found")

// trackedStore is a memory store that counts Destroy calls and can be told
// to fail selected operations.
type trackedStore struct {
	*memstore.Store

	destroyed atomic.Int32

	destroyErr     error
	panicOnDestroy bool
	existsErr      error
	addListenerErr error
	addListenerHit atomic.Int32
}

func newTrackedStore() *trackedStore {
	return &trackedStore{Store: memstore.New()}
}

func (s *trackedStore) Destroy() error {
	s.destroyed.Add(1)
	if s.panicOnDestroy {
		panic("disk on fire")
	}
	if s.destroyErr != nil {
		return s.destroyErr
	}
	return s.Store.Destroy()
}

func (s *trackedStore) LayerExists(ctx context.Context, layerName string) (bool, error) {
	if s.existsErr != nil {
		return false, s.existsErr
	}
	return s.Store.LayerExists(ctx, layerName)
}

func (s *trackedStore) AddListener(listener storage.Listener) error {
	s.addListenerHit.Add(1)
	if s.addListenerErr != nil {
		return s.addListenerErr
	}
	return s.Store.AddListener(listener)
}

// stubConfig is a storage.BlobStoreConfig whose instance is provided by the
// test. Each CreateInstance call is counted.
type stubConfig struct {
	id        string
	enabled   bool
	isDefault bool
	store     *trackedStore
	createErr error
	created   atomic.Int32
}

func (c *stubConfig) ID() string    { return c.id }
func (c *stubConfig) Enabled() bool { return c.enabled }
func (c *stubConfig) Default() bool { return c.isDefault }
func (c *stubConfig) Type() string  { return "stub" }

func (c *stubConfig) CreateInstance() (storage.BlobStore, error) {
	c.created.Add(1)
	if c.createErr != nil {
		return nil, c.createErr
	}
	if c.store == nil {
		c.store = newTrackedStore()
	}
	return c.store, nil
}

func enabled(id string) *stubConfig {
	return &stubConfig{id: id, enabled: true}
}

func disabled(id string) *stubConfig {
	return &stubConfig{id: id}
}

func asDefault(c *stubConfig) *stubConfig {
	c.isDefault = true
	return c
}

// layerMap resolves layers to declared ids; an empty id means "use default".
type layerMap map[string]string

func (m layerMap) BlobStoreID(layerName string) (string, bool, error) {
	id, ok := m[layerName]
	if !ok {
		return "", false, errLayerNotFound
	}
	return id, id != "", nil
}

type staticPath string

func (p staticPath) DefaultPath() (string, error) { return string(p), nil }

type legacyRecorder struct {
	mu    sync.Mutex
	paths []string
	store *trackedStore
}

func (r *legacyRecorder) factory(path string) (storage.BlobStore, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paths = append(r.paths, path)
	r.store = newTrackedStore()
	return r.store, nil
}

func configs(cfgs ...*stubConfig) []storage.BlobStoreConfig {
	out := make([]storage.BlobStoreConfig, len(cfgs))
	for i, cfg := range cfgs {
		out[i] = cfg
	}
	return out
}

func newRouter(t *testing.T, layers layerMap, cfgs ...*stubConfig) (*BlobStore, *legacyRecorder) {
	t.Helper()
	legacy := &legacyRecorder{}
	router, err := New(Options{
		Layers:             layers,
		StorageFinder:      staticPath("/var/cache/tiles"),
		Configs:            configs(cfgs...),
		LegacyStoreFactory: legacy.factory,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = router.Destroy() })
	return router, legacy
}

func tile(layer string, blob string) *storage.TileObject {
	t := storage.NewTileObject(layer, "EPSG:4326", "image/png", [3]int64{0, 0, 0}, nil)
	if blob != "" {
		t.Blob = []byte(blob)
	}
	return t
}

func has(t *testing.T, store storage.BlobStore, layer string) bool {
	t.Helper()
	found, err := store.Get(context.Background(), tile(layer, ""))
	require.NoError(t, err)
	return found
}
