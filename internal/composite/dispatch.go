package composite

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/any-hub/tilehub/internal/storage"
)

// Operation names used for metrics labels.
const (
	opDelete            = "delete"
	opDeleteByGridsetID = "delete_gridset"
	opDeleteTile        = "delete_tile"
	opDeleteRange       = "delete_range"
	opGet               = "get"
	opPut               = "put"
	opLayerMetadata     = "get_metadata"
	opPutLayerMetadata  = "put_metadata"
	opLayerExists       = "layer_exists"
	opRename            = "rename"
)

var errNilTile = errors.New("tile is nil")

// route resolves the enabled store for layerName and hands it to fn. The
// backend's result and error are returned unchanged.
func route[T any](b *BlobStore, layerName, op string, fn func(storage.BlobStore) (T, error)) (T, error) {
	store, err := b.resolveEnabled(layerName)
	if err != nil {
		var zero T
		return zero, err
	}
	start := time.Now()
	result, err := fn(store.instance)
	b.metrics.ObserveOperation(store.id(), op, time.Since(start), err)
	return result, err
}

func (b *BlobStore) Delete(ctx context.Context, layerName string) (bool, error) {
	return route(b, layerName, opDelete, func(s storage.BlobStore) (bool, error) {
		return s.Delete(ctx, layerName)
	})
}

func (b *BlobStore) DeleteByGridsetID(ctx context.Context, layerName, gridSetID string) (bool, error) {
	return route(b, layerName, opDeleteByGridsetID, func(s storage.BlobStore) (bool, error) {
		return s.DeleteByGridsetID(ctx, layerName, gridSetID)
	})
}

func (b *BlobStore) DeleteTile(ctx context.Context, tile *storage.TileObject) (bool, error) {
	if tile == nil {
		return false, errNilTile
	}
	return route(b, tile.LayerName, opDeleteTile, func(s storage.BlobStore) (bool, error) {
		return s.DeleteTile(ctx, tile)
	})
}

func (b *BlobStore) DeleteRange(ctx context.Context, r *storage.TileRange) (bool, error) {
	if r == nil {
		return false, errors.New("tile range is nil")
	}
	return route(b, r.LayerName, opDeleteRange, func(s storage.BlobStore) (bool, error) {
		return s.DeleteRange(ctx, r)
	})
}

func (b *BlobStore) Get(ctx context.Context, tile *storage.TileObject) (bool, error) {
	if tile == nil {
		return false, errNilTile
	}
	return route(b, tile.LayerName, opGet, func(s storage.BlobStore) (bool, error) {
		return s.Get(ctx, tile)
	})
}

func (b *BlobStore) Put(ctx context.Context, tile *storage.TileObject) error {
	if tile == nil {
		return errNilTile
	}
	_, err := route(b, tile.LayerName, opPut, func(s storage.BlobStore) (struct{}, error) {
		return struct{}{}, s.Put(ctx, tile)
	})
	return err
}

func (b *BlobStore) LayerMetadata(ctx context.Context, layerName, key string) (string, error) {
	return route(b, layerName, opLayerMetadata, func(s storage.BlobStore) (string, error) {
		return s.LayerMetadata(ctx, layerName, key)
	})
}

func (b *BlobStore) PutLayerMetadata(ctx context.Context, layerName, key, value string) error {
	_, err := route(b, layerName, opPutLayerMetadata, func(s storage.BlobStore) (struct{}, error) {
		return struct{}{}, s.PutLayerMetadata(ctx, layerName, key, value)
	})
	return err
}

// LayerExists asks every enabled store, not only the one the layer routes
// to: content may remain in a store the layer no longer declares. Errors are
// returned only when no store reports the layer.
func (b *BlobStore) LayerExists(ctx context.Context, layerName string) (bool, error) {
	if b.destroyed.Load() {
		return false, errDestroyed
	}
	var errs []error
	for _, store := range b.enabledStores() {
		start := time.Now()
		exists, err := store.instance.LayerExists(ctx, layerName)
		b.metrics.ObserveOperation(store.id(), opLayerExists, time.Since(start), err)
		if err != nil {
			errs = append(errs, fmt.Errorf("blob store %s: %w", store.id(), err))
			continue
		}
		if exists {
			return true, nil
		}
	}
	return false, errors.Join(errs...)
}

// Clear is not supported by the router.
//
// Deprecated: delete layers individually.
func (b *BlobStore) Clear(context.Context) error {
	return fmt.Errorf("composite blob store: clear: %w", errors.ErrUnsupported)
}
