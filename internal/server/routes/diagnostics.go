package routes

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v3"

	"github.com/any-hub/tilehub/internal/composite"
	"github.com/any-hub/tilehub/internal/layer"
	"github.com/any-hub/tilehub/internal/storage"
)

// StoreDiagnostics 是 /-/stores 与 /-/layers 依赖的路由能力子集。
type StoreDiagnostics interface {
	Stores() []composite.StoreInfo
	LayerExists(ctx context.Context, layerName string) (bool, error)
}

// LayerCatalog 提供配置中声明的图层列表。
type LayerCatalog interface {
	List() []layer.Layer
	Lookup(name string) (layer.Layer, bool)
}

// RegisterStoreRoutes 暴露 /-/stores、/-/layers 诊断接口，供运维查询图层与存储的绑定关系。
func RegisterStoreRoutes(app *fiber.App, stores StoreDiagnostics, layers LayerCatalog) {
	if app == nil || stores == nil || layers == nil {
		return
	}

	app.Get("/-/stores", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{"stores": stores.Stores()})
	})

	app.Get("/-/layers", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{"layers": encodeLayers(layers.List())})
	})

	app.Get("/-/layers/:name", func(c fiber.Ctx) error {
		name := strings.TrimSpace(c.Params("name"))
		if name == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "layer_name_required"})
		}
		entry, ok := layers.Lookup(name)
		if !ok {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "layer_not_found"})
		}

		payload := encodeLayer(entry)
		exists, err := stores.LayerExists(c.Context(), entry.Name)
		if err != nil {
			payload.Error = err.Error()
			return c.Status(fiber.StatusBadGateway).JSON(payload)
		}
		payload.Exists = &exists
		return c.JSON(payload)
	})
}

type layerPayload struct {
	Name        string `json:"name"`
	BlobStoreID string `json:"blob_store_id"`
	Declared    bool   `json:"declared"`
	Exists      *bool  `json:"exists,omitempty"`
	Error       string `json:"error,omitempty"`
}

func encodeLayers(list []layer.Layer) []layerPayload {
	result := make([]layerPayload, 0, len(list))
	for _, entry := range list {
		result = append(result, encodeLayer(entry))
	}
	return result
}

func encodeLayer(entry layer.Layer) layerPayload {
	payload := layerPayload{
		Name:        entry.Name,
		BlobStoreID: entry.BlobStoreID,
		Declared:    entry.BlobStoreID != "",
	}
	if !payload.Declared {
		payload.BlobStoreID = storage.DefaultStoreID
	}
	return payload
}
