package storage

import "context"

// DefaultStoreID is the reserved registry key that always resolves to the
// blob store used by layers without an explicit blob store id.
const DefaultStoreID = "default"

// BlobStore is the capability set every tile storage backend provides.
// Implementations must be safe for concurrent use.
type BlobStore interface {
	// Delete removes every tile and the metadata of a layer. It reports
	// whether anything was removed.
	Delete(ctx context.Context, layerName string) (bool, error)

	// DeleteByGridsetID removes all tiles of a layer for one gridset.
	DeleteByGridsetID(ctx context.Context, layerName, gridSetID string) (bool, error)

	// DeleteTile removes a single tile and reports whether it existed.
	DeleteTile(ctx context.Context, tile *TileObject) (bool, error)

	// DeleteRange removes every tile inside the range and reports whether
	// at least one tile was removed.
	DeleteRange(ctx context.Context, r *TileRange) (bool, error)

	// Get loads the tile blob into tile.Blob. It returns false when the tile
	// is not cached.
	Get(ctx context.Context, tile *TileObject) (bool, error)

	// Put stores tile.Blob, replacing any previous content.
	Put(ctx context.Context, tile *TileObject) error

	// Clear wipes the whole store.
	//
	// Deprecated: layer scoped deletes should be used instead. Some
	// implementations refuse it unconditionally.
	Clear(ctx context.Context) error

	// Destroy releases the resources held by the store. Further calls fail
	// with ErrStoreClosed.
	Destroy() error

	// AddListener registers a listener for tile and layer events.
	AddListener(listener Listener) error

	// RemoveListener unregisters a listener and reports whether it was
	// registered.
	RemoveListener(listener Listener) bool

	// Rename moves all content of oldLayerName to newLayerName.
	Rename(ctx context.Context, oldLayerName, newLayerName string) (bool, error)

	// LayerMetadata returns the value stored under key, or "" when unset.
	LayerMetadata(ctx context.Context, layerName, key string) (string, error)

	// PutLayerMetadata stores a metadata value for the layer.
	PutLayerMetadata(ctx context.Context, layerName, key, value string) error

	// LayerExists reports whether the store holds any content for the layer.
	LayerExists(ctx context.Context, layerName string) (bool, error)
}

// BlobStoreConfig describes one configured blob store and knows how to build
// its live instance.
type BlobStoreConfig interface {
	ID() string
	Enabled() bool
	Default() bool
	CreateInstance() (BlobStore, error)
}

// Typed is implemented by configs that can name their backend type, used by
// diagnostics only.
type Typed interface {
	Type() string
}
