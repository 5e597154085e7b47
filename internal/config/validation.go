package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/tilehub/internal/blobstore"
	"github.com/any-hub/tilehub/internal/storage"
)

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
// BlobStore 的 id 唯一性与默认标记由路由构建阶段统一检查。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 1-65535")
	}
	if g.LogLevel != "" {
		if _, err := logrus.ParseLevel(g.LogLevel); err != nil {
			return newFieldError("Global.LogLevel", "无法识别的日志级别: "+g.LogLevel)
		}
	}
	if g.ShutdownTimeout.DurationValue() <= 0 {
		return newFieldError("Global.ShutdownTimeout", "必须大于 0")
	}

	declared := map[string]struct{}{storage.DefaultStoreID: {}}
	for i := range c.BlobStores {
		store := &c.BlobStores[i]
		if store.ID == "" {
			return newFieldError("BlobStore[].Id", "不能为空")
		}
		if store.Type == "" {
			return newFieldError(storeField(store.ID, "Type"), "不能为空")
		}
		if _, ok := blobstore.Resolve(store.Type); !ok {
			return newFieldError(storeField(store.ID, "Type"), "仅支持 "+strings.Join(blobstore.Keys(), "|"))
		}
		declared[store.ID] = struct{}{}
	}

	seenLayers := map[string]struct{}{}
	for i := range c.Layers {
		layer := &c.Layers[i]
		if layer.Name == "" {
			return newFieldError("Layer[].Name", "不能为空")
		}
		if _, exists := seenLayers[layer.Name]; exists {
			return newFieldError(layerField(layer.Name, "Name"), "重复")
		}
		seenLayers[layer.Name] = struct{}{}

		if layer.BlobStoreID == "" {
			continue
		}
		if _, ok := declared[layer.BlobStoreID]; !ok {
			return fmt.Errorf("%s: %w", layerField(layer.Name, "BlobStoreId"),
				newFieldError(layer.BlobStoreID, "未在 [[BlobStore]] 中声明"))
		}
	}

	return nil
}
