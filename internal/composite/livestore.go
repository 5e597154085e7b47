package composite

import "github.com/any-hub/tilehub/internal/storage"

// liveStore pairs a config with its instance. Only *enabledStore carries an
// instance; callers type-switch instead of checking for nil.
type liveStore interface {
	config() storage.BlobStoreConfig
}

type disabledStore struct {
	cfg storage.BlobStoreConfig
}

type enabledStore struct {
	cfg      storage.BlobStoreConfig
	instance storage.BlobStore
}

func (s *disabledStore) config() storage.BlobStoreConfig { return s.cfg }
func (s *enabledStore) config() storage.BlobStoreConfig  { return s.cfg }

func (s *enabledStore) id() string { return s.cfg.ID() }

// newLiveStore wraps cfg and, when it is enabled, instantiates its backend.
func newLiveStore(cfg storage.BlobStoreConfig) (liveStore, error) {
	if !cfg.Enabled() {
		return &disabledStore{cfg: cfg}, nil
	}
	instance, err := cfg.CreateInstance()
	if err != nil {
		return nil, &storage.StorageError{Kind: storage.ErrCreateInstance, StoreID: cfg.ID(), Err: err}
	}
	if instance == nil {
		return nil, &storage.StorageError{Kind: storage.ErrCreateInstance, StoreID: cfg.ID(), Err: errNilInstance}
	}
	return &enabledStore{cfg: cfg, instance: instance}, nil
}

func storeType(cfg storage.BlobStoreConfig) string {
	if typed, ok := cfg.(storage.Typed); ok {
		return typed.Type()
	}
	return ""
}
