package storetest

import (
	"fmt"
	"sync"

	"github.com/any-hub/tilehub/internal/storage"
)

// RecordingListener stores every notification as a short string such as
// "stored:roads/EPSG:4326/1/0/0".
type RecordingListener struct {
	mu     sync.Mutex
	events []string
}

func (r *RecordingListener) record(event string) {
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
}

func tileKey(ev storage.TileEvent) string {
	return fmt.Sprintf("%s/%s/%d/%d/%d", ev.LayerName, ev.GridSetID, ev.Z, ev.X, ev.Y)
}

func (r *RecordingListener) TileStored(ev storage.TileEvent)  { r.record("stored:" + tileKey(ev)) }
func (r *RecordingListener) TileDeleted(ev storage.TileEvent) { r.record("deleted:" + tileKey(ev)) }
func (r *RecordingListener) TileUpdated(ev storage.TileEvent) {
	r.record(fmt.Sprintf("updated:%s:%d->%d", tileKey(ev), ev.OldSize, ev.BlobSize))
}
func (r *RecordingListener) LayerDeleted(layerName string) { r.record("layer-deleted:" + layerName) }
func (r *RecordingListener) LayerRenamed(oldLayerName, newLayerName string) {
	r.record("layer-renamed:" + oldLayerName + "->" + newLayerName)
}
func (r *RecordingListener) GridSubsetDeleted(layerName, gridSetID string) {
	r.record("gridset-deleted:" + layerName + "/" + gridSetID)
}

// Events returns a copy of the recorded notifications.
func (r *RecordingListener) Events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

// Reset drops recorded notifications.
func (r *RecordingListener) Reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}
