// Package badgerstore 将瓦片与图层元数据保存在嵌入式 BadgerDB 中，
// 适合单机部署下需要持久化但不希望维护大量小文件的场景。
package badgerstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/tilehub/internal/blobstore"
	"github.com/any-hub/tilehub/internal/storage"
)

// TypeKey 是 [[BlobStore]] Type 字段对应的值。
const TypeKey = "badger"

// Params 对应 [[BlobStore]] 中 badger 类型的专属字段。
type Params struct {
	Path       string
	InMemory   bool
	SyncWrites bool
}

func init() {
	blobstore.MustRegister(blobstore.Metadata{
		Key:         TypeKey,
		Description: "嵌入式 BadgerDB 键值库",
		Factory: func(params map[string]interface{}) (storage.BlobStore, error) {
			var p Params
			if err := blobstore.DecodeParams(params, &p); err != nil {
				return nil, err
			}
			return Open(p)
		},
	})
}

// Store 是 badger 类型的 storage.BlobStore 实现。
type Store struct {
	db     *badger.DB
	closed atomic.Bool

	// layerMu 串行化图层级的多键操作（重命名、删除），瓦片操作只持有读锁。
	layerMu   sync.RWMutex
	listeners storage.ListenerList
}

var _ storage.BlobStore = (*Store)(nil)

// Open 打开（或创建）BadgerDB。InMemory 为 true 时忽略 Path。
func Open(p Params) (*Store, error) {
	var opts badger.Options
	if p.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if p.Path == "" {
			return nil, errors.New("badger path required")
		}
		opts = badger.DefaultOptions(p.Path).WithSyncWrites(p.SyncWrites)
	}
	opts = opts.WithLogger(newLogger())

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) checkOpen(ctx context.Context) error {
	if s.closed.Load() {
		return storage.ErrStoreClosed
	}
	return ctx.Err()
}

func tileKeyOf(tile *storage.TileObject) ([]byte, error) {
	if err := tile.Validate(); err != nil {
		return nil, err
	}
	if err := checkComponent("layer name", tile.LayerName); err != nil {
		return nil, err
	}
	if err := checkComponent("gridset id", tile.GridSetID); err != nil {
		return nil, err
	}
	return keyTile(tile.LayerName, tile.GridSetID, tile.Format, tile.ParamsID(), tile.X(), tile.Y(), tile.Z()), nil
}

func (s *Store) Get(ctx context.Context, tile *storage.TileObject) (bool, error) {
	if err := s.checkOpen(ctx); err != nil {
		return false, err
	}
	key, err := tileKeyOf(tile)
	if err != nil {
		return false, err
	}

	var value []byte
	err = s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if err == badger.ErrKeyNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	created, blob, err := decodeTile(value)
	if err != nil {
		return false, err
	}
	tile.Blob = blob
	tile.Created = created
	return true, nil
}

func (s *Store) Put(ctx context.Context, tile *storage.TileObject) error {
	if err := s.checkOpen(ctx); err != nil {
		return err
	}
	key, err := tileKeyOf(tile)
	if err != nil {
		return err
	}

	s.layerMu.RLock()
	defer s.layerMu.RUnlock()

	var (
		existed bool
		oldSize int64
	)
	err = s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		switch {
		case err == nil:
			existed = true
			oldSize = blobSize(item.ValueSize())
		case err != badger.ErrKeyNotFound:
			return err
		}
		return txn.Set(key, encodeTile(time.Now(), tile.Blob))
	})
	if err != nil {
		return err
	}

	s.listeners.SendStoreResult(tile.Event(), existed, oldSize)
	return nil
}

func (s *Store) DeleteTile(ctx context.Context, tile *storage.TileObject) (bool, error) {
	if err := s.checkOpen(ctx); err != nil {
		return false, err
	}
	key, err := tileKeyOf(tile)
	if err != nil {
		return false, err
	}

	s.layerMu.RLock()
	defer s.layerMu.RUnlock()

	var size int64
	err = s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		size = blobSize(item.ValueSize())
		return txn.Delete(key)
	})
	if err == badger.ErrKeyNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	ev := tile.Event()
	ev.BlobSize = size
	s.listeners.SendTileDeleted(ev)
	return true, nil
}

func (s *Store) DeleteRange(ctx context.Context, r *storage.TileRange) (bool, error) {
	if err := s.checkOpen(ctx); err != nil {
		return false, err
	}
	if err := r.Validate(); err != nil {
		return false, err
	}

	s.layerMu.RLock()
	defer s.layerMu.RUnlock()

	prefix := keyFormat(r.LayerName, r.GridSetID, r.Format, r.ParametersID)
	var (
		keys   [][]byte
		events []storage.TileEvent
	)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			x, y, z, err := parseTileIndex(item.Key()[len(prefix):])
			if err != nil || !r.Contains(x, y, z) {
				continue
			}
			keys = append(keys, item.KeyCopy(nil))
			events = append(events, storage.TileEvent{
				LayerName:    r.LayerName,
				GridSetID:    r.GridSetID,
				Format:       r.Format,
				ParametersID: r.ParametersID,
				X:            x,
				Y:            y,
				Z:            z,
				BlobSize:     blobSize(item.ValueSize()),
			})
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	if len(keys) == 0 {
		return false, nil
	}
	if err := s.deleteKeys(keys); err != nil {
		return false, err
	}
	for _, ev := range events {
		s.listeners.SendTileDeleted(ev)
	}
	return true, nil
}

func (s *Store) DeleteByGridsetID(ctx context.Context, layerName, gridSetID string) (bool, error) {
	if err := s.checkOpen(ctx); err != nil {
		return false, err
	}
	if err := checkComponent("layer name", layerName); err != nil {
		return false, err
	}
	if err := checkComponent("gridset id", gridSetID); err != nil {
		return false, err
	}

	s.layerMu.Lock()
	defer s.layerMu.Unlock()

	deleted, err := s.deletePrefix(keyGridset(layerName, gridSetID))
	if err != nil || !deleted {
		return false, err
	}
	s.listeners.SendGridSubsetDeleted(layerName, gridSetID)
	return true, nil
}

func (s *Store) Delete(ctx context.Context, layerName string) (bool, error) {
	if err := s.checkOpen(ctx); err != nil {
		return false, err
	}
	if err := checkComponent("layer name", layerName); err != nil {
		return false, err
	}

	s.layerMu.Lock()
	defer s.layerMu.Unlock()

	tiles, err := s.deletePrefix(keyLayerTiles(layerName))
	if err != nil {
		return false, err
	}
	meta, err := s.deletePrefix(keyLayerMetadata(layerName))
	if err != nil {
		return false, err
	}
	if !tiles && !meta {
		return false, nil
	}
	s.listeners.SendLayerDeleted(layerName)
	return true, nil
}

func (s *Store) Rename(ctx context.Context, oldLayerName, newLayerName string) (bool, error) {
	if err := s.checkOpen(ctx); err != nil {
		return false, err
	}
	if err := checkComponent("layer name", oldLayerName); err != nil {
		return false, err
	}
	if err := checkComponent("layer name", newLayerName); err != nil {
		return false, err
	}

	s.layerMu.Lock()
	defer s.layerMu.Unlock()

	exists, err := s.layerExists(newLayerName)
	if err != nil {
		return false, err
	}
	if exists {
		return false, fmt.Errorf("%w: %s", storage.ErrLayerExists, newLayerName)
	}

	movedTiles, err := s.movePrefix(keyLayerTiles(oldLayerName), keyLayerTiles(newLayerName))
	if err != nil {
		return false, err
	}
	movedMeta, err := s.movePrefix(keyLayerMetadata(oldLayerName), keyLayerMetadata(newLayerName))
	if err != nil {
		return false, err
	}
	if !movedTiles && !movedMeta {
		return false, nil
	}
	s.listeners.SendLayerRenamed(oldLayerName, newLayerName)
	return true, nil
}

func (s *Store) LayerExists(ctx context.Context, layerName string) (bool, error) {
	if err := s.checkOpen(ctx); err != nil {
		return false, err
	}
	if err := checkComponent("layer name", layerName); err != nil {
		return false, err
	}

	s.layerMu.RLock()
	defer s.layerMu.RUnlock()
	return s.layerExists(layerName)
}

func (s *Store) LayerMetadata(ctx context.Context, layerName, key string) (string, error) {
	if err := s.checkOpen(ctx); err != nil {
		return "", err
	}
	if err := checkComponent("layer name", layerName); err != nil {
		return "", err
	}

	var value []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(keyMetadata(layerName, key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if err == badger.ErrKeyNotFound {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return string(value), nil
}

func (s *Store) PutLayerMetadata(ctx context.Context, layerName, key, value string) error {
	if err := s.checkOpen(ctx); err != nil {
		return err
	}
	if err := checkComponent("layer name", layerName); err != nil {
		return err
	}

	s.layerMu.RLock()
	defer s.layerMu.RUnlock()

	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(keyMetadata(layerName, key), []byte(value))
	})
}

// Clear 删除全部瓦片与元数据。
func (s *Store) Clear(ctx context.Context) error {
	if err := s.checkOpen(ctx); err != nil {
		return err
	}

	s.layerMu.Lock()
	defer s.layerMu.Unlock()

	if _, err := s.deletePrefix([]byte(prefixTile + sep)); err != nil {
		return err
	}
	_, err := s.deletePrefix([]byte(prefixMetadata + sep))
	return err
}

// Destroy 关闭底层数据库，重复调用直接返回 nil。
func (s *Store) Destroy() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.db.Close()
}

func (s *Store) AddListener(listener storage.Listener) error {
	return s.listeners.Add(listener)
}

func (s *Store) RemoveListener(listener storage.Listener) bool {
	return s.listeners.Remove(listener)
}

func (s *Store) layerExists(layerName string) (bool, error) {
	found := false
	err := s.db.View(func(txn *badger.Txn) error {
		for _, prefix := range [][]byte{keyLayerTiles(layerName), keyLayerMetadata(layerName)} {
			opts := badger.DefaultIteratorOptions
			opts.PrefetchValues = false
			opts.Prefix = prefix
			it := txn.NewIterator(opts)
			it.Seek(prefix)
			found = it.ValidForPrefix(prefix)
			it.Close()
			if found {
				return nil
			}
		}
		return nil
	})
	return found, err
}

// deletePrefix 删除前缀下全部键，返回是否删除了至少一个键。
func (s *Store) deletePrefix(prefix []byte) (bool, error) {
	var keys [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil || len(keys) == 0 {
		return false, err
	}
	return true, s.deleteKeys(keys)
}

func (s *Store) deleteKeys(keys [][]byte) error {
	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, key := range keys {
		if err := wb.Delete(key); err != nil {
			return err
		}
	}
	return wb.Flush()
}

// movePrefix 将 from 前缀下的键值复制到 to 前缀后删除原键。
func (s *Store) movePrefix(from, to []byte) (bool, error) {
	type kv struct {
		key   []byte
		value []byte
	}
	var items []kv
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = from
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(from); it.ValidForPrefix(from); it.Next() {
			item := it.Item()
			value, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			items = append(items, kv{key: item.KeyCopy(nil), value: value})
		}
		return nil
	})
	if err != nil || len(items) == 0 {
		return false, err
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, item := range items {
		newKey := append(bytes.Clone(to), item.key[len(from):]...)
		if err := wb.Set(newKey, item.value); err != nil {
			return false, err
		}
		if err := wb.Delete(item.key); err != nil {
			return false, err
		}
	}
	return true, wb.Flush()
}

// logger 将 badger 的内部日志转发到 logrus，Info 级别降为 Debug。
type logger struct {
	entry *logrus.Entry
}

func newLogger() *logger {
	return &logger{entry: logrus.WithField("component", "badger")}
}

func (l *logger) Errorf(format string, args ...interface{})   { l.entry.Errorf(format, args...) }
func (l *logger) Warningf(format string, args ...interface{}) { l.entry.Warnf(format, args...) }
func (l *logger) Infof(format string, args ...interface{})    { l.entry.Debugf(format, args...) }
func (l *logger) Debugf(format string, args ...interface{})   { l.entry.Debugf(format, args...) }
