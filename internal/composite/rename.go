package composite

import (
	"context"
	"fmt"
	"time"

	"github.com/any-hub/tilehub/internal/logging"
	"github.com/any-hub/tilehub/internal/storage"
)

// Rename checks that newLayerName is absent from every other enabled store
// before renaming inside the source store. Other stores are never mutated.
func (b *BlobStore) Rename(ctx context.Context, oldLayerName, newLayerName string) (bool, error) {
	source, err := b.resolveEnabled(oldLayerName)
	if err != nil {
		return false, err
	}

	for _, other := range b.enabledStores() {
		if other == source {
			continue
		}
		exists, err := other.instance.LayerExists(ctx, newLayerName)
		if err != nil {
			return false, fmt.Errorf("check layer %q in blob store %s: %w", newLayerName, other.id(), err)
		}
		if exists {
			b.logger.WithFields(logging.LayerFields("blobstore_rename", other.id(), newLayerName, opRename)).
				WithField("source_store", source.id()).
				Warn("rename target already exists in another blob store")
			return false, &storage.StorageError{
				Kind:    storage.ErrRenameConflict,
				StoreID: other.id(),
				Layer:   newLayerName,
			}
		}
	}

	start := time.Now()
	renamed, err := source.instance.Rename(ctx, oldLayerName, newLayerName)
	b.metrics.ObserveOperation(source.id(), opRename, time.Since(start), err)
	return renamed, err
}
