// Package memstore 提供进程内的 blob store，适合测试与临时部署，重启即丢失。
package memstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/any-hub/tilehub/internal/blobstore"
	"github.com/any-hub/tilehub/internal/storage"
)

// TypeKey 是 [[BlobStore]] Type 字段对应的值。
const TypeKey = "memory"

func init() {
	blobstore.MustRegister(blobstore.Metadata{
		Key:         TypeKey,
		Description: "进程内存，不持久化",
		Factory: func(params map[string]interface{}) (storage.BlobStore, error) {
			var p struct{}
			if err := blobstore.DecodeParams(params, &p); err != nil {
				return nil, err
			}
			return New(), nil
		},
	})
}

type tileKey struct {
	gridSetID string
	format    string
	paramsID  string
	x, y      int64
	z         int
}

type entry struct {
	blob    []byte
	created time.Time
}

type layer struct {
	tiles    map[tileKey]entry
	metadata map[string]string
}

func newLayer() *layer {
	return &layer{tiles: make(map[tileKey]entry), metadata: make(map[string]string)}
}

// Store 以 layer 名为一级索引保存瓦片与元数据。
type Store struct {
	mu        sync.RWMutex
	layers    map[string]*layer
	closed    bool
	listeners storage.ListenerList
}

var _ storage.BlobStore = (*Store)(nil)

// New 创建一个空的内存存储。
func New() *Store {
	return &Store{layers: make(map[string]*layer)}
}

func keyOf(tile *storage.TileObject) tileKey {
	return tileKey{
		gridSetID: tile.GridSetID,
		format:    tile.Format,
		paramsID:  tile.ParamsID(),
		x:         tile.X(),
		y:         tile.Y(),
		z:         tile.Z(),
	}
}

func (s *Store) check(ctx context.Context) error {
	if s.closed {
		return storage.ErrStoreClosed
	}
	return ctx.Err()
}

func (s *Store) Get(ctx context.Context, tile *storage.TileObject) (bool, error) {
	if err := tile.Validate(); err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx); err != nil {
		return false, err
	}
	l := s.layers[tile.LayerName]
	if l == nil {
		return false, nil
	}
	e, ok := l.tiles[keyOf(tile)]
	if !ok {
		return false, nil
	}
	tile.Blob = append([]byte(nil), e.blob...)
	tile.Created = e.created
	return true, nil
}

func (s *Store) Put(ctx context.Context, tile *storage.TileObject) error {
	if err := tile.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	if err := s.check(ctx); err != nil {
		s.mu.Unlock()
		return err
	}
	l := s.layers[tile.LayerName]
	if l == nil {
		l = newLayer()
		s.layers[tile.LayerName] = l
	}
	key := keyOf(tile)
	prev, existed := l.tiles[key]
	l.tiles[key] = entry{blob: append([]byte(nil), tile.Blob...), created: time.Now().UTC()}
	s.mu.Unlock()

	s.listeners.SendStoreResult(tile.Event(), existed, int64(len(prev.blob)))
	return nil
}

func (s *Store) DeleteTile(ctx context.Context, tile *storage.TileObject) (bool, error) {
	if err := tile.Validate(); err != nil {
		return false, err
	}
	s.mu.Lock()
	if err := s.check(ctx); err != nil {
		s.mu.Unlock()
		return false, err
	}
	var (
		prev    entry
		existed bool
	)
	if l := s.layers[tile.LayerName]; l != nil {
		key := keyOf(tile)
		if prev, existed = l.tiles[key]; existed {
			delete(l.tiles, key)
		}
	}
	s.mu.Unlock()

	if !existed {
		return false, nil
	}
	ev := tile.Event()
	ev.BlobSize = int64(len(prev.blob))
	s.listeners.SendTileDeleted(ev)
	return true, nil
}

func (s *Store) DeleteRange(ctx context.Context, r *storage.TileRange) (bool, error) {
	if err := r.Validate(); err != nil {
		return false, err
	}
	s.mu.Lock()
	if err := s.check(ctx); err != nil {
		s.mu.Unlock()
		return false, err
	}
	var removed []storage.TileEvent
	if l := s.layers[r.LayerName]; l != nil {
		for key, e := range l.tiles {
			if key.gridSetID != r.GridSetID || key.format != r.Format || key.paramsID != r.ParametersID {
				continue
			}
			if !r.Contains(key.x, key.y, key.z) {
				continue
			}
			delete(l.tiles, key)
			removed = append(removed, storage.TileEvent{
				LayerName:    r.LayerName,
				GridSetID:    key.gridSetID,
				Format:       key.format,
				ParametersID: key.paramsID,
				X:            key.x,
				Y:            key.y,
				Z:            key.z,
				BlobSize:     int64(len(e.blob)),
			})
		}
	}
	s.mu.Unlock()

	for _, ev := range removed {
		s.listeners.SendTileDeleted(ev)
	}
	return len(removed) > 0, nil
}

func (s *Store) DeleteByGridsetID(ctx context.Context, layerName, gridSetID string) (bool, error) {
	s.mu.Lock()
	if err := s.check(ctx); err != nil {
		s.mu.Unlock()
		return false, err
	}
	deleted := false
	if l := s.layers[layerName]; l != nil {
		for key := range l.tiles {
			if key.gridSetID == gridSetID {
				delete(l.tiles, key)
				deleted = true
			}
		}
	}
	s.mu.Unlock()

	if deleted {
		s.listeners.SendGridSubsetDeleted(layerName, gridSetID)
	}
	return deleted, nil
}

func (s *Store) Delete(ctx context.Context, layerName string) (bool, error) {
	s.mu.Lock()
	if err := s.check(ctx); err != nil {
		s.mu.Unlock()
		return false, err
	}
	_, existed := s.layers[layerName]
	delete(s.layers, layerName)
	s.mu.Unlock()

	if existed {
		s.listeners.SendLayerDeleted(layerName)
	}
	return existed, nil
}

func (s *Store) Rename(ctx context.Context, oldLayerName, newLayerName string) (bool, error) {
	s.mu.Lock()
	if err := s.check(ctx); err != nil {
		s.mu.Unlock()
		return false, err
	}
	if _, exists := s.layers[newLayerName]; exists {
		s.mu.Unlock()
		return false, fmt.Errorf("%w: %s", storage.ErrLayerExists, newLayerName)
	}
	l, ok := s.layers[oldLayerName]
	if !ok {
		s.mu.Unlock()
		return false, nil
	}
	delete(s.layers, oldLayerName)
	s.layers[newLayerName] = l
	s.mu.Unlock()

	s.listeners.SendLayerRenamed(oldLayerName, newLayerName)
	return true, nil
}

func (s *Store) LayerExists(ctx context.Context, layerName string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx); err != nil {
		return false, err
	}
	_, ok := s.layers[layerName]
	return ok, nil
}

func (s *Store) LayerMetadata(ctx context.Context, layerName, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(ctx); err != nil {
		return "", err
	}
	if l := s.layers[layerName]; l != nil {
		return l.metadata[key], nil
	}
	return "", nil
}

func (s *Store) PutLayerMetadata(ctx context.Context, layerName, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return err
	}
	l := s.layers[layerName]
	if l == nil {
		l = newLayer()
		s.layers[layerName] = l
	}
	l.metadata[key] = value
	return nil
}

func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(ctx); err != nil {
		return err
	}
	s.layers = make(map[string]*layer)
	return nil
}

// Destroy 释放全部内容，之后的调用返回 storage.ErrStoreClosed。
func (s *Store) Destroy() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.layers = make(map[string]*layer)
	return nil
}

func (s *Store) AddListener(listener storage.Listener) error {
	return s.listeners.Add(listener)
}

func (s *Store) RemoveListener(listener storage.Listener) bool {
	return s.listeners.Remove(listener)
}
