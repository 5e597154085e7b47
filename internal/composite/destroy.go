package composite

import (
	"fmt"

	"github.com/any-hub/tilehub/internal/logging"
)

// Destroy releases every enabled backend once and empties the registry.
// Backend failures are logged and counted, never returned, so a second call
// is a no-op.
func (b *BlobStore) Destroy() error {
	b.destroyMu.Lock()
	defer b.destroyMu.Unlock()

	b.destroyed.Store(true)
	stores := b.distinct(false)
	b.stores.Range(func(key, _ any) bool {
		b.stores.Delete(key)
		return true
	})
	b.destroyStores(stores)
	return nil
}

// destroyStores tears down the enabled entries of stores, skipping disabled
// ones and entries already visited.
func (b *BlobStore) destroyStores(stores []liveStore) {
	seen := make(map[*enabledStore]struct{}, len(stores))
	for _, ls := range stores {
		store, ok := ls.(*enabledStore)
		if !ok {
			continue
		}
		if _, dup := seen[store]; dup {
			continue
		}
		seen[store] = struct{}{}

		if err := destroyInstance(store); err != nil {
			b.metrics.DestroyFailed(store.id())
			b.logger.WithFields(logging.StoreFields("blobstore_destroy", store.id())).
				WithError(err).Error("blob store destroy failed")
			continue
		}
		b.logger.WithFields(logging.StoreFields("blobstore_destroy", store.id())).Debug("blob store destroyed")
	}
}

func destroyInstance(store *enabledStore) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return store.instance.Destroy()
}
