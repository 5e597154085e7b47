// Package s3store 将瓦片保存到 S3 兼容的对象存储。对象布局：
//
//	<Prefix>/<layer>/<gridset>/<ext>[_<paramsId>]/<z>/<x>/<y>.<ext>
//	<Prefix>/<layer>/metadata.json
//
// 图层名与网格集 id 按 URL 路径段转义，保证每一级都是独立的前缀。
package s3store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/any-hub/tilehub/internal/blobstore"
	"github.com/any-hub/tilehub/internal/storage"
)

// TypeKey 是 [[BlobStore]] Type 字段对应的值。
const TypeKey = "s3"

const (
	metadataObject  = "metadata.json"
	deleteBatchSize = 1000
)

// Params 对应 [[BlobStore]] 中 s3 类型的专属字段。
type Params struct {
	Bucket    string
	Prefix    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
}

func init() {
	blobstore.MustRegister(blobstore.Metadata{
		Key:         TypeKey,
		Description: "S3 兼容对象存储",
		Factory: func(params map[string]interface{}) (storage.BlobStore, error) {
			var p Params
			if err := blobstore.DecodeParams(params, &p); err != nil {
				return nil, err
			}
			if p.Bucket == "" {
				return nil, errors.New("s3 blob store requires Bucket")
			}
			client, err := NewClient(context.Background(), p)
			if err != nil {
				return nil, err
			}
			return New(client, p.Bucket, p.Prefix), nil
		},
	})
}

// Store 是 s3 类型的 storage.BlobStore 实现。
type Store struct {
	client Client
	bucket string
	prefix string
	closed atomic.Bool

	layerMu   sync.RWMutex
	metaMu    sync.Mutex
	listeners storage.ListenerList
}

var _ storage.BlobStore = (*Store)(nil)

// New 使用现成的客户端构建存储，prefix 可为空。
func New(client Client, bucket, prefix string) *Store {
	return &Store{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
	}
}

func (s *Store) checkOpen(ctx context.Context) error {
	if s.closed.Load() {
		return storage.ErrStoreClosed
	}
	return ctx.Err()
}

func (s *Store) join(parts ...string) string {
	if s.prefix != "" {
		parts = append([]string{s.prefix}, parts...)
	}
	return strings.Join(parts, "/")
}

// checkName 拒绝空白的图层名与 gridset id。
func checkName(kind, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%s required", kind)
	}
	return nil
}

func segment(name string) string {
	return url.PathEscape(name)
}

func (s *Store) layerPrefix(layerName string) string {
	return s.join(segment(layerName)) + "/"
}

func (s *Store) gridsetPrefix(layerName, gridSetID string) string {
	return s.join(segment(layerName), segment(gridSetID)) + "/"
}

func (s *Store) formatPrefix(layerName, gridSetID, format, paramsID string) string {
	dir := storage.FormatExtension(format)
	if paramsID != "" {
		dir += "_" + paramsID
	}
	return s.join(segment(layerName), segment(gridSetID), dir) + "/"
}

func (s *Store) tileKey(tile *storage.TileObject) (string, error) {
	if err := tile.Validate(); err != nil {
		return "", err
	}
	ext := storage.FormatExtension(tile.Format)
	return s.formatPrefix(tile.LayerName, tile.GridSetID, tile.Format, tile.ParamsID()) +
		strconv.Itoa(tile.Z()) + "/" + strconv.FormatInt(tile.X(), 10) + "/" + strconv.FormatInt(tile.Y(), 10) + "." + ext, nil
}

func (s *Store) metadataKey(layerName string) string {
	return s.layerPrefix(layerName) + metadataObject
}

func (s *Store) Get(ctx context.Context, tile *storage.TileObject) (bool, error) {
	if err := s.checkOpen(ctx); err != nil {
		return false, err
	}
	key, err := s.tileKey(tile)
	if err != nil {
		return false, err
	}

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFoundError(err) {
			return false, nil
		}
		return false, fmt.Errorf("get %s: %w", key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return false, fmt.Errorf("read %s: %w", key, err)
	}
	tile.Blob = data
	if out.LastModified != nil {
		tile.Created = *out.LastModified
	}
	return true, nil
}

func (s *Store) Put(ctx context.Context, tile *storage.TileObject) error {
	if err := s.checkOpen(ctx); err != nil {
		return err
	}
	key, err := s.tileKey(tile)
	if err != nil {
		return err
	}

	s.layerMu.RLock()
	defer s.layerMu.RUnlock()

	oldSize, existed, err := s.head(ctx, key)
	if err != nil {
		return err
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(tile.Blob),
		ContentLength: aws.Int64(tile.BlobSize()),
		ContentType:   aws.String(tile.Format),
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}

	s.listeners.SendStoreResult(tile.Event(), existed, oldSize)
	return nil
}

func (s *Store) DeleteTile(ctx context.Context, tile *storage.TileObject) (bool, error) {
	if err := s.checkOpen(ctx); err != nil {
		return false, err
	}
	key, err := s.tileKey(tile)
	if err != nil {
		return false, err
	}

	s.layerMu.RLock()
	defer s.layerMu.RUnlock()

	size, existed, err := s.head(ctx, key)
	if err != nil || !existed {
		return false, err
	}
	_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return false, fmt.Errorf("delete %s: %w", key, err)
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

	prefix := s.formatPrefix(r.LayerName, r.GridSetID, r.Format, r.ParametersID)
	var (
		keys   []string
		events []storage.TileEvent
	)
	err := s.list(ctx, prefix, func(obj types.Object) bool {
		key := aws.ToString(obj.Key)
		x, y, z, ok := parseTileKey(strings.TrimPrefix(key, prefix))
		if !ok || !r.Contains(x, y, z) {
			return true
		}
		keys = append(keys, key)
		events = append(events, storage.TileEvent{
			LayerName:    r.LayerName,
			GridSetID:    r.GridSetID,
			Format:       r.Format,
			ParametersID: r.ParametersID,
			X:            x,
			Y:            y,
			Z:            z,
			BlobSize:     aws.ToInt64(obj.Size),
		})
		return true
	})
	if err != nil {
		return false, err
	}
	if len(keys) == 0 {
		return false, nil
	}
	if err := s.deleteKeys(ctx, keys); err != nil {
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
	if err := checkName("layer name", layerName); err != nil {
		return false, err
	}
	if err := checkName("gridset id", gridSetID); err != nil {
		return false, err
	}

	s.layerMu.Lock()
	defer s.layerMu.Unlock()

	deleted, err := s.deletePrefix(ctx, s.gridsetPrefix(layerName, gridSetID))
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
	if err := checkName("layer name", layerName); err != nil {
		return false, err
	}

	s.layerMu.Lock()
	defer s.layerMu.Unlock()

	deleted, err := s.deletePrefix(ctx, s.layerPrefix(layerName))
	if err != nil || !deleted {
		return false, err
	}
	s.listeners.SendLayerDeleted(layerName)
	return true, nil
}

// Rename 逐个复制对象到新前缀后删除旧对象；S3 没有目录级重命名。
func (s *Store) Rename(ctx context.Context, oldLayerName, newLayerName string) (bool, error) {
	if err := s.checkOpen(ctx); err != nil {
		return false, err
	}
	if err := checkName("layer name", oldLayerName); err != nil {
		return false, err
	}
	if err := checkName("layer name", newLayerName); err != nil {
		return false, err
	}

	s.layerMu.Lock()
	defer s.layerMu.Unlock()

	exists, err := s.hasPrefix(ctx, s.layerPrefix(newLayerName))
	if err != nil {
		return false, err
	}
	if exists {
		return false, fmt.Errorf("%w: %s", storage.ErrLayerExists, newLayerName)
	}

	oldPrefix := s.layerPrefix(oldLayerName)
	newPrefix := s.layerPrefix(newLayerName)
	var keys []string
	err = s.list(ctx, oldPrefix, func(obj types.Object) bool {
		keys = append(keys, aws.ToString(obj.Key))
		return true
	})
	if err != nil {
		return false, err
	}
	if len(keys) == 0 {
		return false, nil
	}

	copied := make([]string, 0, len(keys))
	for _, key := range keys {
		target := newPrefix + strings.TrimPrefix(key, oldPrefix)
		_, err := s.client.CopyObject(ctx, &s3.CopyObjectInput{
			Bucket:     aws.String(s.bucket),
			CopySource: aws.String(copySource(s.bucket, key)),
			Key:        aws.String(target),
		})
		if err != nil {
			copyErr := fmt.Errorf("copy %s: %w", key, err)
			// 回滚已复制到新前缀的对象。
			if len(copied) > 0 {
				if cleanupErr := s.deleteKeys(context.WithoutCancel(ctx), copied); cleanupErr != nil {
					return false, errors.Join(copyErr, fmt.Errorf("rollback %s: %w", newPrefix, cleanupErr))
				}
			}
			return false, copyErr
		}
		copied = append(copied, target)
	}
	if err := s.deleteKeys(ctx, keys); err != nil {
		return false, err
	}

	s.listeners.SendLayerRenamed(oldLayerName, newLayerName)
	return true, nil
}

func (s *Store) LayerExists(ctx context.Context, layerName string) (bool, error) {
	if err := s.checkOpen(ctx); err != nil {
		return false, err
	}
	if err := checkName("layer name", layerName); err != nil {
		return false, err
	}
	return s.hasPrefix(ctx, s.layerPrefix(layerName))
}

func (s *Store) LayerMetadata(ctx context.Context, layerName, key string) (string, error) {
	if err := s.checkOpen(ctx); err != nil {
		return "", err
	}
	if err := checkName("layer name", layerName); err != nil {
		return "", err
	}
	meta, err := s.readMetadata(ctx, layerName)
	if err != nil {
		return "", err
	}
	return meta[key], nil
}

func (s *Store) PutLayerMetadata(ctx context.Context, layerName, key, value string) error {
	if err := s.checkOpen(ctx); err != nil {
		return err
	}
	if err := checkName("layer name", layerName); err != nil {
		return err
	}

	s.layerMu.RLock()
	defer s.layerMu.RUnlock()
	s.metaMu.Lock()
	defer s.metaMu.Unlock()

	meta, err := s.readMetadata(ctx, layerName)
	if err != nil {
		return err
	}
	meta[key] = value
	data, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(s.metadataKey(layerName)),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("put metadata for %s: %w", layerName, err)
	}
	return nil
}

// Clear 始终返回 errors.ErrUnsupported，清理请按图层删除。
func (s *Store) Clear(context.Context) error {
	return errors.ErrUnsupported
}

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

func (s *Store) head(ctx context.Context, key string) (int64, bool, error) {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFoundError(err) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("head %s: %w", key, err)
	}
	return aws.ToInt64(out.ContentLength), true, nil
}

// list 分页遍历前缀下的对象，fn 返回 false 时提前结束。
func (s *Store) list(ctx context.Context, prefix string, fn func(types.Object) bool) error {
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("list %s: %w", prefix, err)
		}
		for _, obj := range page.Contents {
			if !fn(obj) {
				return nil
			}
		}
	}
	return nil
}

func (s *Store) hasPrefix(ctx context.Context, prefix string) (bool, error) {
	out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(s.bucket),
		Prefix:  aws.String(prefix),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return false, fmt.Errorf("list %s: %w", prefix, err)
	}
	return len(out.Contents) > 0, nil
}

func (s *Store) deletePrefix(ctx context.Context, prefix string) (bool, error) {
	var keys []string
	err := s.list(ctx, prefix, func(obj types.Object) bool {
		keys = append(keys, aws.ToString(obj.Key))
		return true
	})
	if err != nil || len(keys) == 0 {
		return false, err
	}
	return true, s.deleteKeys(ctx, keys)
}

func (s *Store) deleteKeys(ctx context.Context, keys []string) error {
	for start := 0; start < len(keys); start += deleteBatchSize {
		end := start + deleteBatchSize
		if end > len(keys) {
			end = len(keys)
		}
		ids := make([]types.ObjectIdentifier, 0, end-start)
		for _, key := range keys[start:end] {
			ids = append(ids, types.ObjectIdentifier{Key: aws.String(key)})
		}
		out, err := s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(s.bucket),
			Delete: &types.Delete{Objects: ids, Quiet: aws.Bool(true)},
		})
		if err != nil {
			return fmt.Errorf("delete objects: %w", err)
		}
		if len(out.Errors) > 0 {
			first := out.Errors[0]
			return fmt.Errorf("delete objects: %d failed, first %s: %s",
				len(out.Errors), aws.ToString(first.Key), aws.ToString(first.Message))
		}
	}
	return nil
}

func (s *Store) readMetadata(ctx context.Context, layerName string) (map[string]string, error) {
	meta := make(map[string]string)
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.metadataKey(layerName)),
	})
	if err != nil {
		if isNotFoundError(err) {
			return meta, nil
		}
		return nil, fmt.Errorf("get metadata for %s: %w", layerName, err)
	}
	defer out.Body.Close()

	if err := json.NewDecoder(out.Body).Decode(&meta); err != nil {
		return nil, fmt.Errorf("decode metadata for %s: %w", layerName, err)
	}
	return meta, nil
}

// parseTileKey 解析 "<z>/<x>/<y>.<ext>"。
func parseTileKey(rest string) (x, y int64, z int, ok bool) {
	parts := strings.Split(rest, "/")
	if len(parts) != 3 {
		return 0, 0, 0, false
	}
	base, _, found := strings.Cut(parts[2], ".")
	if !found {
		return 0, 0, 0, false
	}
	var err error
	if z, err = strconv.Atoi(parts[0]); err != nil {
		return 0, 0, 0, false
	}
	if x, err = strconv.ParseInt(parts[1], 10, 64); err != nil {
		return 0, 0, 0, false
	}
	if y, err = strconv.ParseInt(base, 10, 64); err != nil {
		return 0, 0, 0, false
	}
	return x, y, z, true
}

func copySource(bucket, key string) string {
	parts := strings.Split(key, "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return bucket + "/" + strings.Join(parts, "/")
}
