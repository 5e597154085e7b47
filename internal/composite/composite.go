package composite

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/tilehub/internal/blobstore/filestore"
	"github.com/any-hub/tilehub/internal/metrics"
	"github.com/any-hub/tilehub/internal/storage"
)

var (
	errNilInstance     = errors.New("factory returned no instance")
	errNoStorageFinder = errors.New("no default storage path resolver configured")
)

// errDestroyed is returned by fan-out operations once Destroy has run.
var errDestroyed = fmt.Errorf("composite blob store destroyed: %w", storage.ErrStoreClosed)

// LayerResolver reports the blob store id a layer declares. declared is false
// when the layer uses the default store. Unknown layers return an error.
type LayerResolver interface {
	BlobStoreID(layerName string) (id string, declared bool, err error)
}

// DefaultPathResolver supplies the location of the fallback file store. It
// is consulted only when no config is marked default.
type DefaultPathResolver interface {
	DefaultPath() (string, error)
}

// Options configures New.
type Options struct {
	Layers        LayerResolver
	StorageFinder DefaultPathResolver
	Configs       []storage.BlobStoreConfig

	// Logger defaults to a discarding logger.
	Logger *logrus.Logger
	// Metrics may be nil.
	Metrics *metrics.Recorder

	// LegacyStoreFactory builds the fallback default store. Defaults to a
	// file store rooted at the given path.
	LegacyStoreFactory func(path string) (storage.BlobStore, error)
}

// BlobStore routes storage operations to the blob store configured for each
// layer.
type BlobStore struct {
	layers  LayerResolver
	logger  *logrus.Logger
	metrics *metrics.Recorder

	// stores maps blob store id (and the default alias) to liveStore.
	stores    sync.Map
	destroyMu sync.Mutex
	destroyed atomic.Bool
}

var _ storage.BlobStore = (*BlobStore)(nil)

// StoreInfo describes one registered blob store for diagnostics.
type StoreInfo struct {
	ID      string `json:"id"`
	Type    string `json:"type,omitempty"`
	Enabled bool   `json:"enabled"`
	Default bool   `json:"default"`
}

// New validates configs, instantiates every enabled backend and publishes
// the registry. On failure every backend created so far is destroyed before
// the error is returned.
func New(opts Options) (*BlobStore, error) {
	if opts.Layers == nil {
		return nil, errors.New("composite blob store: layer resolver required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}
	if opts.LegacyStoreFactory == nil {
		opts.LegacyStoreFactory = func(path string) (storage.BlobStore, error) {
			return filestore.New(path)
		}
	}

	b := &BlobStore{
		layers:  opts.Layers,
		logger:  logger,
		metrics: opts.Metrics,
	}

	stores, err := b.loadStores(opts)
	if err != nil {
		return nil, err
	}
	for key, ls := range stores {
		b.stores.Store(key, ls)
	}
	return b, nil
}

// Stores returns the distinct registered blob stores ordered by id.
func (b *BlobStore) Stores() []StoreInfo {
	var defaultStore liveStore
	if v, ok := b.stores.Load(storage.DefaultStoreID); ok {
		defaultStore = v.(liveStore)
	}

	var out []StoreInfo
	for _, ls := range b.distinct(false) {
		cfg := ls.config()
		_, enabled := ls.(*enabledStore)
		out = append(out, StoreInfo{
			ID:      cfg.ID(),
			Type:    storeType(cfg),
			Enabled: enabled,
			Default: ls == defaultStore,
		})
	}
	return out
}

// distinct snapshots the registry in key order, visiting a store shared by
// an id and the default alias once.
func (b *BlobStore) distinct(enabledOnly bool) []liveStore {
	entries := make(map[string]liveStore)
	b.stores.Range(func(key, value any) bool {
		entries[key.(string)] = value.(liveStore)
		return true
	})

	keys := make([]string, 0, len(entries))
	for key := range entries {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	seen := make(map[liveStore]struct{}, len(entries))
	out := make([]liveStore, 0, len(entries))
	for _, key := range keys {
		ls := entries[key]
		if _, dup := seen[ls]; dup {
			continue
		}
		seen[ls] = struct{}{}
		if _, enabled := ls.(*enabledStore); enabledOnly && !enabled {
			continue
		}
		out = append(out, ls)
	}
	return out
}

func (b *BlobStore) enabledStores() []*enabledStore {
	stores := b.distinct(true)
	out := make([]*enabledStore, len(stores))
	for i, ls := range stores {
		out[i] = ls.(*enabledStore)
	}
	return out
}

// legacyConfig is the synthesized fallback default.
type legacyConfig struct {
	path    string
	factory func(path string) (storage.BlobStore, error)
}

func (c *legacyConfig) ID() string    { return storage.DefaultStoreID }
func (c *legacyConfig) Enabled() bool { return true }
func (c *legacyConfig) Default() bool { return true }
func (c *legacyConfig) Type() string  { return filestore.TypeKey }

func (c *legacyConfig) CreateInstance() (storage.BlobStore, error) {
	store, err := c.factory(c.path)
	if err != nil {
		return nil, fmt.Errorf("legacy store at %s: %w", c.path, err)
	}
	return store, nil
}
