package storage

import "sync"

// TileEvent describes a tile change delivered to listeners.
type TileEvent struct {
	LayerName    string
	GridSetID    string
	Format       string
	ParametersID string
	X            int64
	Y            int64
	Z            int
	BlobSize     int64
	OldSize      int64
}

// Listener receives blob store change notifications. Callbacks run on the
// goroutine performing the change and must not block.
type Listener interface {
	TileStored(TileEvent)
	TileDeleted(TileEvent)
	TileUpdated(TileEvent)
	LayerDeleted(layerName string)
	LayerRenamed(oldLayerName, newLayerName string)
	GridSubsetDeleted(layerName, gridSetID string)
}

// ListenerList is the listener bookkeeping embedded by backends. The zero
// value is ready to use.
type ListenerList struct {
	mu        sync.RWMutex
	listeners []Listener
}

// Add registers a listener. Registering the same listener twice is a no-op.
func (l *ListenerList) Add(listener Listener) error {
	if listener == nil {
		return ErrNilListener
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, existing := range l.listeners {
		if existing == listener {
			return nil
		}
	}
	l.listeners = append(l.listeners, listener)
	return nil
}

// Remove unregisters a listener and reports whether it was present.
func (l *ListenerList) Remove(listener Listener) bool {
	if listener == nil {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, existing := range l.listeners {
		if existing == listener {
			l.listeners = append(l.listeners[:i], l.listeners[i+1:]...)
			return true
		}
	}
	return false
}

// Len returns the number of registered listeners.
func (l *ListenerList) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.listeners)
}

func (l *ListenerList) snapshot() []Listener {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(l.listeners) == 0 {
		return nil
	}
	return append([]Listener(nil), l.listeners...)
}

func (l *ListenerList) SendTileStored(ev TileEvent) {
	for _, listener := range l.snapshot() {
		listener.TileStored(ev)
	}
}

func (l *ListenerList) SendTileDeleted(ev TileEvent) {
	for _, listener := range l.snapshot() {
		listener.TileDeleted(ev)
	}
}

func (l *ListenerList) SendTileUpdated(ev TileEvent) {
	for _, listener := range l.snapshot() {
		listener.TileUpdated(ev)
	}
}

func (l *ListenerList) SendLayerDeleted(layerName string) {
	for _, listener := range l.snapshot() {
		listener.LayerDeleted(layerName)
	}
}

func (l *ListenerList) SendLayerRenamed(oldLayerName, newLayerName string) {
	for _, listener := range l.snapshot() {
		listener.LayerRenamed(oldLayerName, newLayerName)
	}
}

func (l *ListenerList) SendGridSubsetDeleted(layerName, gridSetID string) {
	for _, listener := range l.snapshot() {
		listener.GridSubsetDeleted(layerName, gridSetID)
	}
}

// SendStoreResult emits TileStored or TileUpdated depending on whether a
// previous blob of oldSize existed.
func (l *ListenerList) SendStoreResult(ev TileEvent, existed bool, oldSize int64) {
	if existed {
		ev.OldSize = oldSize
		l.SendTileUpdated(ev)
		return
	}
	l.SendTileStored(ev)
}
