package composite

import "github.com/any-hub/tilehub/internal/storage"

// resolve returns the store a layer routes to: its declared id, or the
// default alias when it declares none.
func (b *BlobStore) resolve(layerName string) (liveStore, error) {
	id, declared, err := b.layers.BlobStoreID(layerName)
	if err != nil {
		return nil, &storage.StorageError{Kind: storage.ErrLayerResolution, Layer: layerName, Err: err}
	}
	if !declared || id == "" {
		value, ok := b.stores.Load(storage.DefaultStoreID)
		if !ok {
			return nil, &storage.StorageError{Kind: storage.ErrNoDefaultStore, Layer: layerName}
		}
		return value.(liveStore), nil
	}
	value, ok := b.stores.Load(id)
	if !ok {
		return nil, &storage.StorageError{Kind: storage.ErrUnknownStore, StoreID: id, Layer: layerName}
	}
	return value.(liveStore), nil
}

// resolveEnabled is resolve for call sites that need a live backend.
func (b *BlobStore) resolveEnabled(layerName string) (*enabledStore, error) {
	ls, err := b.resolve(layerName)
	if err != nil {
		return nil, err
	}
	switch s := ls.(type) {
	case *enabledStore:
		return s, nil
	default:
		return nil, &storage.StorageError{Kind: storage.ErrStoreDisabled, StoreID: ls.config().ID(), Layer: layerName}
	}
}
