// Package layer 维护配置中声明的图层目录，并回答“某图层使用哪个 blob store”。
package layer

import (
	"errors"
	"fmt"
	"strings"

	"github.com/any-hub/tilehub/internal/config"
)

// ErrLayerNotFound 表示图层未在配置中声明。
var ErrLayerNotFound = errors.New("layer not found")

// Layer 是单个图层的只读视图。
type Layer struct {
	Name string
	// BlobStoreID 为空表示使用默认存储。
	BlobStoreID string
}

// Catalog 提供图层名到 Layer 的查询能力，构建后只读，可并发使用。
type Catalog struct {
	layers  map[string]*Layer
	ordered []*Layer
}

// NewCatalog 根据配置构建图层目录。调用方应在启动阶段创建一次并复用。
func NewCatalog(entries []config.LayerConfig) (*Catalog, error) {
	catalog := &Catalog{
		layers: make(map[string]*Layer, len(entries)),
	}

	for _, entry := range entries {
		name := strings.TrimSpace(entry.Name)
		if name == "" {
			return nil, errors.New("layer name is empty")
		}
		if _, exists := catalog.layers[name]; exists {
			return nil, fmt.Errorf("duplicate layer %s", name)
		}
		layer := &Layer{Name: name, BlobStoreID: strings.TrimSpace(entry.BlobStoreID)}
		catalog.layers[name] = layer
		catalog.ordered = append(catalog.ordered, layer)
	}

	return catalog, nil
}

// Lookup 根据图层名查找 Layer。
func (c *Catalog) Lookup(name string) (Layer, bool) {
	if c == nil {
		return Layer{}, false
	}
	layer, ok := c.layers[name]
	if !ok {
		return Layer{}, false
	}
	return *layer, true
}

// BlobStoreID 返回图层声明的 blob store id；未声明时 declared 为 false。
func (c *Catalog) BlobStoreID(layerName string) (string, bool, error) {
	layer, ok := c.Lookup(layerName)
	if !ok {
		return "", false, fmt.Errorf("%w: %s", ErrLayerNotFound, layerName)
	}
	if layer.BlobStoreID == "" {
		return "", false, nil
	}
	return layer.BlobStoreID, true, nil
}

// List 按配置声明顺序返回全部图层，用于 /-/layers 输出。
func (c *Catalog) List() []Layer {
	if c == nil || len(c.ordered) == 0 {
		return nil
	}
	result := make([]Layer, len(c.ordered))
	for i, layer := range c.ordered {
		result[i] = *layer
	}
	return result
}
