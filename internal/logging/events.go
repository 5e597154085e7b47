package logging

import (
	"github.com/sirupsen/logrus"

	"github.com/any-hub/tilehub/internal/storage"
)

// TileEventLogger 是一个 storage.Listener，以 debug 级别记录 blob store 事件。
type TileEventLogger struct {
	logger *logrus.Logger
}

// NewTileEventLogger 创建事件日志监听器；logger 为空时使用 logrus 全局实例。
func NewTileEventLogger(logger *logrus.Logger) *TileEventLogger {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &TileEventLogger{logger: logger}
}

func (l *TileEventLogger) tile(event string, ev storage.TileEvent) {
	if !l.logger.IsLevelEnabled(logrus.DebugLevel) {
		return
	}
	l.logger.WithFields(logrus.Fields{
		"action":   "tile_event",
		"event":    event,
		"layer":    ev.LayerName,
		"gridset":  ev.GridSetID,
		"format":   ev.Format,
		"params":   ev.ParametersID,
		"z":        ev.Z,
		"x":        ev.X,
		"y":        ev.Y,
		"size":     ev.BlobSize,
		"old_size": ev.OldSize,
	}).Debug("blob store event")
}

func (l *TileEventLogger) TileStored(ev storage.TileEvent)  { l.tile("stored", ev) }
func (l *TileEventLogger) TileDeleted(ev storage.TileEvent) { l.tile("deleted", ev) }
func (l *TileEventLogger) TileUpdated(ev storage.TileEvent) { l.tile("updated", ev) }

func (l *TileEventLogger) LayerDeleted(layerName string) {
	l.logger.WithFields(logrus.Fields{"action": "layer_event", "event": "deleted", "layer": layerName}).
		Info("layer deleted")
}

func (l *TileEventLogger) LayerRenamed(oldLayerName, newLayerName string) {
	l.logger.WithFields(logrus.Fields{"action": "layer_event", "event": "renamed", "layer": oldLayerName, "new_layer": newLayerName}).
		Info("layer renamed")
}

func (l *TileEventLogger) GridSubsetDeleted(layerName, gridSetID string) {
	l.logger.WithFields(logrus.Fields{"action": "layer_event", "event": "gridset_deleted", "layer": layerName, "gridset": gridSetID}).
		Info("gridset deleted")
}

var _ storage.Listener = (*TileEventLogger)(nil)
