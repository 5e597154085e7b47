package routes

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/any-hub/tilehub/internal/blobstore"
	_ "github.com/any-hub/tilehub/internal/blobstore/memstore"
	"github.com/any-hub/tilehub/internal/composite"
	"github.com/any-hub/tilehub/internal/config"
	"github.com/any-hub/tilehub/internal/layer"
	"github.com/any-hub/tilehub/internal/metrics"
	"github.com/any-hub/tilehub/internal/server"
	"github.com/any-hub/tilehub/internal/storage"
)

func TestStoreRoutesListStoresAndLayers(t *testing.T) {
	env := newDiagnosticsEnv(t)

	resp, err := env.app.Test(httptest.NewRequest("GET", "/-/stores", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var stores struct {
		Stores []composite.StoreInfo `json:"stores"`
	}
	decodeBody(t, resp.Body, &stores)
	require.Equal(t, []composite.StoreInfo{{ID: "mem", Type: "memory", Enabled: true, Default: true}}, stores.Stores)

	resp, err = env.app.Test(httptest.NewRequest("GET", "/-/layers", nil))
	require.NoError(t, err)

	var layers struct {
		Layers []layerPayload `json:"layers"`
	}
	decodeBody(t, resp.Body, &layers)
	require.Len(t, layers.Layers, 2)
	require.Equal(t, "mem", layers.Layers[0].BlobStoreID)
	require.True(t, layers.Layers[0].Declared)
	require.Equal(t, storage.DefaultStoreID, layers.Layers[1].BlobStoreID)
	require.False(t, layers.Layers[1].Declared)
}

func TestLayerDetailReportsExistence(t *testing.T) {
	env := newDiagnosticsEnv(t)
	tile := storage.NewTileObject("osm", "EPSG:4326", "image/png", [3]int64{0, 0, 0}, nil)
	tile.Blob = []byte("png")
	require.NoError(t, env.router.Put(context.Background(), tile))

	cases := []struct {
		name   string
		exists bool
	}{
		{"osm", true},
		{"roads", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, err := env.app.Test(httptest.NewRequest("GET", "/-/layers/"+tc.name, nil))
			require.NoError(t, err)
			require.Equal(t, fiber.StatusOK, resp.StatusCode)

			var payload layerPayload
			decodeBody(t, resp.Body, &payload)
			require.NotNil(t, payload.Exists)
			require.Equal(t, tc.exists, *payload.Exists)
		})
	}
}

func TestLayerDetailUnknownLayer(t *testing.T) {
	env := newDiagnosticsEnv(t)

	resp, err := env.app.Test(httptest.NewRequest("GET", "/-/layers/missing", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusNotFound, resp.StatusCode)

	body, _ := io.ReadAll(resp.Body)
	require.Contains(t, string(body), "layer_not_found")
}

func TestLayerDetailSurfacesBackendError(t *testing.T) {
	app := newApp(t)
	catalog, err := layer.NewCatalog([]config.LayerConfig{{Name: "osm"}})
	require.NoError(t, err)
	RegisterStoreRoutes(app, failingStores{}, catalog)

	resp, err := app.Test(httptest.NewRequest("GET", "/-/layers/osm", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusBadGateway, resp.StatusCode)

	var payload layerPayload
	decodeBody(t, resp.Body, &payload)
	require.Nil(t, payload.Exists)
	require.Equal(t, "backend offline", payload.Error)
}

func TestMetricsRouteExposesOperations(t *testing.T) {
	env := newDiagnosticsEnv(t)
	_, err := env.router.LayerExists(context.Background(), "osm")
	require.NoError(t, err)

	resp, err := env.app.Test(httptest.NewRequest("GET", "/-/metrics", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	body, _ := io.ReadAll(resp.Body)
	require.True(t, strings.Contains(string(body), "tilehub_blobstore_operations_total"), string(body))
}

type diagnosticsEnv struct {
	app    *fiber.App
	router *composite.BlobStore
}

func newDiagnosticsEnv(t *testing.T) *diagnosticsEnv {
	t.Helper()

	catalog, err := layer.NewCatalog([]config.LayerConfig{
		{Name: "osm", BlobStoreID: "mem"},
		{Name: "roads"},
	})
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	router, err := composite.New(composite.Options{
		Layers:  catalog,
		Configs: []storage.BlobStoreConfig{blobstore.NewConfig("mem", "memory", true, true, nil)},
		Metrics: metrics.NewRecorder(reg),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = router.Destroy() })

	app := newApp(t)
	RegisterStoreRoutes(app, router, catalog)
	RegisterMetricsRoute(app, reg)
	return &diagnosticsEnv{app: app, router: router}
}

func newApp(t *testing.T) *fiber.App {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	app, err := server.NewApp(server.AppOptions{Logger: logger, ListenPort: 5000})
	require.NoError(t, err)
	return app
}

func decodeBody(t *testing.T, body io.Reader, out interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(body).Decode(out))
}

type failingStores struct{}

func (failingStores) Stores() []composite.StoreInfo { return nil }

func (failingStores) LayerExists(context.Context, string) (bool, error) {
	return false, errors.New("backend offline")
}
