// Package filestore 将瓦片保存在本地目录树中。磁盘布局：
//
//	<BaseDirectory>/<layer>/<gridset>/<ext>[_<paramsId>]/<zz>/<x>/<y>.<ext>
//	<BaseDirectory>/<layer>/metadata.json
//
// 写入通过临时文件 + rename 保证原子性，同一瓦片的并发写入由 entryLock 串行化。
package filestore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/any-hub/tilehub/internal/blobstore"
	"github.com/any-hub/tilehub/internal/storage"
)

// TypeKey 是 [[BlobStore]] Type 字段对应的值。
const TypeKey = "file"

const metadataFile = "metadata.json"

// Params 对应 [[BlobStore]] 中 file 类型的专属字段。
type Params struct {
	BaseDirectory string
}

func init() {
	blobstore.MustRegister(blobstore.Metadata{
		Key:         TypeKey,
		Description: "本地文件系统目录树",
		Factory: func(params map[string]interface{}) (storage.BlobStore, error) {
			var p Params
			if err := blobstore.DecodeParams(params, &p); err != nil {
				return nil, err
			}
			return New(p.BaseDirectory)
		},
	})
}

// New 以 basePath 为根目录构建文件存储。
func New(basePath string) (*Store, error) {
	if strings.TrimSpace(basePath) == "" {
		return nil, errors.New("storage path required")
	}

	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolve storage path: %w", err)
	}

	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage path: %w", err)
	}

	return &Store{
		basePath: abs,
		locks:    make(map[string]*entryLock),
	}, nil
}

// Store 是 file 类型的 storage.BlobStore 实现。瓦片级操作持有 layerMu 读锁，
// 图层级操作（删除、重命名、清空）持有写锁。
type Store struct {
	basePath string
	closed   atomic.Bool

	listeners storage.ListenerList

	layerMu sync.RWMutex
	metaMu  sync.Mutex

	mu    sync.Mutex
	locks map[string]*entryLock
}

type entryLock struct {
	mu   sync.Mutex
	refs int
}

var _ storage.BlobStore = (*Store)(nil)

// BasePath 返回存储根目录的绝对路径。
func (s *Store) BasePath() string { return s.basePath }

func (s *Store) checkOpen(ctx context.Context) error {
	if s.closed.Load() {
		return storage.ErrStoreClosed
	}
	return ctx.Err()
}

func (s *Store) Get(ctx context.Context, tile *storage.TileObject) (bool, error) {
	if err := s.checkOpen(ctx); err != nil {
		return false, err
	}
	filePath, err := s.tilePath(tile)
	if err != nil {
		return false, err
	}

	s.layerMu.RLock()
	defer s.layerMu.RUnlock()

	info, err := os.Stat(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	if info.IsDir() {
		return false, nil
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	tile.Blob = data
	tile.Created = info.ModTime()
	return true, nil
}

func (s *Store) Put(ctx context.Context, tile *storage.TileObject) error {
	if err := s.checkOpen(ctx); err != nil {
		return err
	}
	filePath, err := s.tilePath(tile)
	if err != nil {
		return err
	}

	s.layerMu.RLock()
	defer s.layerMu.RUnlock()

	unlock := s.lockEntry(filePath)
	defer unlock()

	if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
		return err
	}

	var (
		existed bool
		oldSize int64
	)
	if info, err := os.Stat(filePath); err == nil && !info.IsDir() {
		existed = true
		oldSize = info.Size()
	}

	tempFile, err := os.CreateTemp(filepath.Dir(filePath), ".tile-*")
	if err != nil {
		return err
	}
	tempName := tempFile.Name()

	_, err = copyWithContext(ctx, tempFile, bytes.NewReader(tile.Blob))
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tempName)
		return err
	}

	if err := os.Rename(tempName, filePath); err != nil {
		os.Remove(tempName)
		return err
	}

	s.listeners.SendStoreResult(tile.Event(), existed, oldSize)
	return nil
}

func (s *Store) DeleteTile(ctx context.Context, tile *storage.TileObject) (bool, error) {
	if err := s.checkOpen(ctx); err != nil {
		return false, err
	}
	filePath, err := s.tilePath(tile)
	if err != nil {
		return false, err
	}

	s.layerMu.RLock()
	defer s.layerMu.RUnlock()

	unlock := s.lockEntry(filePath)
	defer unlock()

	size, removed, err := removeFile(filePath)
	if err != nil || !removed {
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
	formatDir, err := s.formatDir(r.LayerName, r.GridSetID, r.Format, r.ParametersID)
	if err != nil {
		return false, err
	}

	s.layerMu.RLock()
	defer s.layerMu.RUnlock()

	deleted := false
	for z := r.ZoomStart; z <= r.ZoomStop; z++ {
		zoomDir := filepath.Join(formatDir, zoomName(z))
		xEntries, err := os.ReadDir(zoomDir)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return deleted, err
		}
		for _, xEntry := range xEntries {
			x, err := strconv.ParseInt(xEntry.Name(), 10, 64)
			if err != nil || !xEntry.IsDir() {
				continue
			}
			xDir := filepath.Join(zoomDir, xEntry.Name())
			yEntries, err := os.ReadDir(xDir)
			if err != nil {
				return deleted, err
			}
			for _, yEntry := range yEntries {
				if err := ctx.Err(); err != nil {
					return deleted, err
				}
				y, ok := parseTileFile(yEntry.Name())
				if !ok || !r.Contains(x, y, z) {
					continue
				}
				size, removed, err := removeFile(filepath.Join(xDir, yEntry.Name()))
				if err != nil {
					return deleted, err
				}
				if !removed {
					continue
				}
				deleted = true
				s.listeners.SendTileDeleted(storage.TileEvent{
					LayerName:    r.LayerName,
					GridSetID:    r.GridSetID,
					Format:       r.Format,
					ParametersID: r.ParametersID,
					X:            x,
					Y:            y,
					Z:            z,
					BlobSize:     size,
				})
			}
		}
	}
	return deleted, nil
}

func (s *Store) DeleteByGridsetID(ctx context.Context, layerName, gridSetID string) (bool, error) {
	if err := s.checkOpen(ctx); err != nil {
		return false, err
	}
	layerDir, err := s.layerDir(layerName)
	if err != nil {
		return false, err
	}
	gridDir, err := safeName(gridSetID)
	if err != nil {
		return false, err
	}

	s.layerMu.Lock()
	defer s.layerMu.Unlock()

	removed, err := removeDir(filepath.Join(layerDir, gridDir))
	if err != nil || !removed {
		return false, err
	}
	s.listeners.SendGridSubsetDeleted(layerName, gridSetID)
	return true, nil
}

func (s *Store) Delete(ctx context.Context, layerName string) (bool, error) {
	if err := s.checkOpen(ctx); err != nil {
		return false, err
	}
	layerDir, err := s.layerDir(layerName)
	if err != nil {
		return false, err
	}

	s.layerMu.Lock()
	defer s.layerMu.Unlock()

	removed, err := removeDir(layerDir)
	if err != nil || !removed {
		return false, err
	}
	s.listeners.SendLayerDeleted(layerName)
	return true, nil
}

func (s *Store) Rename(ctx context.Context, oldLayerName, newLayerName string) (bool, error) {
	if err := s.checkOpen(ctx); err != nil {
		return false, err
	}
	oldDir, err := s.layerDir(oldLayerName)
	if err != nil {
		return false, err
	}
	newDir, err := s.layerDir(newLayerName)
	if err != nil {
		return false, err
	}

	s.layerMu.Lock()
	defer s.layerMu.Unlock()

	if _, err := os.Stat(newDir); err == nil {
		return false, fmt.Errorf("%w: %s", storage.ErrLayerExists, newLayerName)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return false, err
	}
	if _, err := os.Stat(oldDir); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	if err := os.Rename(oldDir, newDir); err != nil {
		return false, err
	}
	s.listeners.SendLayerRenamed(oldLayerName, newLayerName)
	return true, nil
}

func (s *Store) LayerExists(ctx context.Context, layerName string) (bool, error) {
	if err := s.checkOpen(ctx); err != nil {
		return false, err
	}
	layerDir, err := s.layerDir(layerName)
	if err != nil {
		return false, err
	}

	s.layerMu.RLock()
	defer s.layerMu.RUnlock()

	info, err := os.Stat(layerDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return info.IsDir(), nil
}

func (s *Store) LayerMetadata(ctx context.Context, layerName, key string) (string, error) {
	if err := s.checkOpen(ctx); err != nil {
		return "", err
	}
	layerDir, err := s.layerDir(layerName)
	if err != nil {
		return "", err
	}

	s.layerMu.RLock()
	defer s.layerMu.RUnlock()
	s.metaMu.Lock()
	defer s.metaMu.Unlock()

	meta, err := readMetadata(layerDir)
	if err != nil {
		return "", err
	}
	return meta[key], nil
}

func (s *Store) PutLayerMetadata(ctx context.Context, layerName, key, value string) error {
	if err := s.checkOpen(ctx); err != nil {
		return err
	}
	layerDir, err := s.layerDir(layerName)
	if err != nil {
		return err
	}

	s.layerMu.RLock()
	defer s.layerMu.RUnlock()
	s.metaMu.Lock()
	defer s.metaMu.Unlock()

	meta, err := readMetadata(layerDir)
	if err != nil {
		return err
	}
	meta[key] = value
	return writeMetadata(layerDir, meta)
}

// Clear 删除根目录下的全部图层，根目录本身保留。
func (s *Store) Clear(ctx context.Context) error {
	if err := s.checkOpen(ctx); err != nil {
		return err
	}

	s.layerMu.Lock()
	defer s.layerMu.Unlock()

	entries, err := os.ReadDir(s.basePath)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if err := os.RemoveAll(filepath.Join(s.basePath, entry.Name())); err != nil {
			return err
		}
	}
	return nil
}

// Destroy 标记存储已关闭；磁盘内容保持不变。
func (s *Store) Destroy() error {
	s.closed.Store(true)
	return nil
}

func (s *Store) AddListener(listener storage.Listener) error {
	return s.listeners.Add(listener)
}

func (s *Store) RemoveListener(listener storage.Listener) bool {
	return s.listeners.Remove(listener)
}

func (s *Store) lockEntry(key string) func() {
	s.mu.Lock()
	lock := s.locks[key]
	if lock == nil {
		lock = &entryLock{}
		s.locks[key] = lock
	}
	lock.refs++
	s.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		s.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(s.locks, key)
		}
		s.mu.Unlock()
	}
}

func (s *Store) layerDir(layerName string) (string, error) {
	name, err := safeName(layerName)
	if err != nil {
		return "", fmt.Errorf("layer name: %w", err)
	}
	return filepath.Join(s.basePath, name), nil
}

func (s *Store) formatDir(layerName, gridSetID, format, paramsID string) (string, error) {
	layerDir, err := s.layerDir(layerName)
	if err != nil {
		return "", err
	}
	gridDir, err := safeName(gridSetID)
	if err != nil {
		return "", fmt.Errorf("gridset id: %w", err)
	}
	dir := storage.FormatExtension(format)
	if paramsID != "" {
		dir += "_" + paramsID
	}
	return filepath.Join(layerDir, gridDir, dir), nil
}

func (s *Store) tilePath(tile *storage.TileObject) (string, error) {
	if err := tile.Validate(); err != nil {
		return "", err
	}
	formatDir, err := s.formatDir(tile.LayerName, tile.GridSetID, tile.Format, tile.ParamsID())
	if err != nil {
		return "", err
	}
	fileName := strconv.FormatInt(tile.Y(), 10) + "." + storage.FormatExtension(tile.Format)
	return filepath.Join(formatDir, zoomName(tile.Z()), strconv.FormatInt(tile.X(), 10), fileName), nil
}

func zoomName(z int) string {
	return fmt.Sprintf("%02d", z)
}

// parseTileFile 从 "<y>.<ext>" 中解析 y，临时文件与元数据文件会被忽略。
func parseTileFile(name string) (int64, bool) {
	if strings.HasPrefix(name, ".") {
		return 0, false
	}
	base, _, found := strings.Cut(name, ".")
	if !found {
		return 0, false
	}
	y, err := strconv.ParseInt(base, 10, 64)
	if err != nil {
		return 0, false
	}
	return y, true
}

// safeName 将图层名/网格集 id 映射为单级目录名。
func safeName(name string) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", errors.New("empty name")
	}
	var b strings.Builder
	for _, r := range name {
		switch {
		case r < 0x20, strings.ContainsRune(`/\:*?"<>|`, r):
			b.WriteByte('_')
		default:
			b.WriteRune(r)
		}
	}
	out := b.String()
	if out == "." || out == ".." {
		return "", fmt.Errorf("invalid name %q", name)
	}
	return out, nil
}

func removeFile(path string) (int64, bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, false, nil
		}
		return 0, false, err
	}
	if info.IsDir() {
		return 0, false, nil
	}
	if err := os.Remove(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return info.Size(), true, nil
}

func removeDir(path string) (bool, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	if err := os.RemoveAll(path); err != nil {
		return false, err
	}
	return true, nil
}

func readMetadata(layerDir string) (map[string]string, error) {
	meta := make(map[string]string)
	data, err := os.ReadFile(filepath.Join(layerDir, metadataFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return meta, nil
		}
		return nil, err
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("decode %s: %w", metadataFile, err)
	}
	return meta, nil
}

func writeMetadata(layerDir string, meta map[string]string) error {
	if err := os.MkdirAll(layerDir, 0o755); err != nil {
		return err
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	tempFile, err := os.CreateTemp(layerDir, ".metadata-*")
	if err != nil {
		return err
	}
	tempName := tempFile.Name()
	_, err = tempFile.Write(data)
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tempName)
		return err
	}
	if err := os.Rename(tempName, filepath.Join(layerDir, metadataFile)); err != nil {
		os.Remove(tempName)
		return err
	}
	return nil
}

func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	var copied int64
	buf := make([]byte, 32*1024)
	for {
		if err := ctx.Err(); err != nil {
			return copied, err
		}
		n, err := src.Read(buf)
		if n > 0 {
			w, wErr := dst.Write(buf[:n])
			copied += int64(w)
			if wErr != nil {
				return copied, wErr
			}
			if w < n {
				return copied, io.ErrShortWrite
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return copied, nil
			}
			return copied, err
		}
	}
}
