package composite

import (
	"github.com/any-hub/tilehub/internal/logging"
	"github.com/any-hub/tilehub/internal/storage"
)

func (b *BlobStore) loadStores(opts Options) (stores map[string]liveStore, err error) {
	stores = make(map[string]liveStore, len(opts.Configs)+1)
	var created []liveStore
	defer func() {
		if err != nil {
			b.logger.WithFields(logging.StoreFields("blobstore_load", "")).
				WithError(err).Error("blob store registry build failed, releasing created stores")
			b.destroyStores(created)
		}
	}()

	var defaultStore liveStore
	for _, cfg := range opts.Configs {
		id := cfg.ID()
		if id == "" {
			return nil, storage.NewConfigurationError(storage.ErrMissingID, "", "")
		}
		// "default" 同时是别名键，先判断是否为第二个默认存储。
		if id == storage.DefaultStoreID && cfg.Default() && defaultStore != nil {
			return nil, storage.NewConfigurationError(storage.ErrDuplicateDefault, id,
				"already defined by "+defaultStore.config().ID())
		}
		if _, exists := stores[id]; exists {
			return nil, storage.NewConfigurationError(storage.ErrDuplicateID, id, "")
		}
		if id == storage.DefaultStoreID && !cfg.Default() {
			return nil, storage.NewConfigurationError(storage.ErrReservedID, id, "only the default blob store may use this id")
		}

		ls, err := newLiveStore(cfg)
		if err != nil {
			return nil, err
		}
		created = append(created, ls)
		stores[id] = ls

		if cfg.Default() {
			if defaultStore != nil {
				return nil, storage.NewConfigurationError(storage.ErrDuplicateDefault, id,
					"already defined by "+defaultStore.config().ID())
			}
			if !cfg.Enabled() {
				return nil, storage.NewConfigurationError(storage.ErrDefaultDisabled, id, "")
			}
			defaultStore = ls
			stores[storage.DefaultStoreID] = ls
		}

		b.logger.WithFields(logging.StoreFields("blobstore_load", id)).
			WithField("type", storeType(cfg)).
			WithField("enabled", cfg.Enabled()).
			WithField("default", cfg.Default()).
			Info("blob store registered")
	}

	if defaultStore == nil {
		if opts.StorageFinder == nil {
			return nil, &storage.StorageError{Kind: storage.ErrNoDefaultStore, Err: errNoStorageFinder}
		}
		path, err := opts.StorageFinder.DefaultPath()
		if err != nil {
			return nil, &storage.StorageError{Kind: storage.ErrNoDefaultStore, Err: err}
		}
		ls, err := newLiveStore(&legacyConfig{path: path, factory: opts.LegacyStoreFactory})
		if err != nil {
			return nil, err
		}
		created = append(created, ls)
		stores[storage.DefaultStoreID] = ls

		b.logger.WithFields(logging.StoreFields("blobstore_load", storage.DefaultStoreID)).
			WithField("path", path).
			Info("no blob store marked default, using legacy file store")
	}
	return stores, nil
}
