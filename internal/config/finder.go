package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// CacheDirEnv 覆盖默认存储目录的环境变量。
const CacheDirEnv = "TILEHUB_CACHE_DIR"

// StorageFinder 决定在没有任何 [[BlobStore]] 标记 Default 时，回退文件存储的根目录。
// 优先级：环境变量 TILEHUB_CACHE_DIR > CacheDirectory > <tmp>/tilehub。
type StorageFinder struct {
	cacheDirectory string
	lookupEnv      func(string) (string, bool)
}

// NewStorageFinder 基于全局配置创建 StorageFinder。
func NewStorageFinder(g GlobalConfig) *StorageFinder {
	return &StorageFinder{cacheDirectory: g.CacheDirectory, lookupEnv: os.LookupEnv}
}

// DefaultPath 返回回退存储的绝对路径。
func (f *StorageFinder) DefaultPath() (string, error) {
	path := f.cacheDirectory
	if value, ok := f.lookupEnv(CacheDirEnv); ok && value != "" {
		path = value
	}
	if path == "" {
		path = filepath.Join(os.TempDir(), "tilehub")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("无法解析默认存储目录: %w", err)
	}
	return abs, nil
}
