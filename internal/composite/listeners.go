package composite

import "github.com/any-hub/tilehub/internal/storage"

// AddListener registers listener on every enabled store in id order and
// stops at the first failure.
func (b *BlobStore) AddListener(listener storage.Listener) error {
	if listener == nil {
		return storage.ErrNilListener
	}
	if b.destroyed.Load() {
		return errDestroyed
	}
	for _, store := range b.enabledStores() {
		if err := store.instance.AddListener(listener); err != nil {
			return err
		}
	}
	return nil
}

// RemoveListener removes listener from every enabled store and reports
// whether any of them had it.
func (b *BlobStore) RemoveListener(listener storage.Listener) bool {
	removed := false
	for _, store := range b.enabledStores() {
		if store.instance.RemoveListener(listener) {
			removed = true
		}
	}
	return removed
}
