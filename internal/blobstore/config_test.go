package blobstore

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/any-hub/tilehub/internal/storage"
)

type fakeParams struct {
	BaseDirectory string
	Timeout       time.Duration
	Retries       int
	Verbose       bool
}

func TestDecodeParamsWeakTypes(t *testing.T) {
	var out fakeParams
	err := DecodeParams(map[string]interface{}{
		"basedirectory": "/srv/tiles",
		"timeout":       int64(5),
		"retries":       "3",
		"verbose":       "true",
	}, &out)
	require.NoError(t, err)
	assert.Equal(t, "/srv/tiles", out.BaseDirectory)
	assert.Equal(t, 5*time.Second, out.Timeout)
	assert.Equal(t, 3, out.Retries)
	assert.True(t, out.Verbose)

	out = fakeParams{}
	require.NoError(t, DecodeParams(map[string]interface{}{"Timeout": "1m30s"}, &out))
	assert.Equal(t, 90*time.Second, out.Timeout)
}

func TestDecodeParamsRejectsUnknownFields(t *testing.T) {
	var out fakeParams
	err := DecodeParams(map[string]interface{}{"BaseDirectroy": "/typo"}, &out)
	require.Error(t, err)
}

func TestConfigCreateInstance(t *testing.T) {
	cleanup := replaceRegistry(t)
	defer cleanup()

	var gotParams map[string]interface{}
	MustRegister(Metadata{Key: "capture", Factory: func(params map[string]interface{}) (storage.BlobStore, error) {
		gotParams = params
		return nil, errors.New("boom")
	}})

	cfg := NewConfig("tiles", "Capture", true, false, map[string]interface{}{"A": 1})
	assert.Equal(t, "tiles", cfg.ID())
	assert.Equal(t, "capture", cfg.Type())
	assert.True(t, cfg.Enabled())
	assert.False(t, cfg.Default())

	_, err := cfg.CreateInstance()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
	assert.Equal(t, map[string]interface{}{"A": 1}, gotParams)

	_, err = NewConfig("x", "nope", true, false, nil).CreateInstance()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown type")
}
