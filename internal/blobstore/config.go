package blobstore

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"

	"github.com/any-hub/tilehub/internal/storage"
)

// Config 是 storage.BlobStoreConfig 的通用实现：保存 id/开关/默认标记，
// 并在 CreateInstance 时按类型查找 Factory。
type Config struct {
	id        string
	typeKey   string
	enabled   bool
	isDefault bool
	params    map[string]interface{}
}

// NewConfig 构建一个后端配置；params 为类型专属字段，可为空。
func NewConfig(id, typeKey string, enabled, isDefault bool, params map[string]interface{}) *Config {
	return &Config{
		id:        id,
		typeKey:   normalizeKey(typeKey),
		enabled:   enabled,
		isDefault: isDefault,
		params:    params,
	}
}

func (c *Config) ID() string    { return c.id }
func (c *Config) Type() string  { return c.typeKey }
func (c *Config) Enabled() bool { return c.enabled }
func (c *Config) Default() bool { return c.isDefault }

// Params 返回类型专属参数的副本。
func (c *Config) Params() map[string]interface{} {
	if len(c.params) == 0 {
		return nil
	}
	out := make(map[string]interface{}, len(c.params))
	for k, v := range c.params {
		out[k] = v
	}
	return out
}

// CreateInstance 查找注册的类型并调用其 Factory。
func (c *Config) CreateInstance() (storage.BlobStore, error) {
	meta, ok := Resolve(c.typeKey)
	if !ok {
		return nil, fmt.Errorf("blob store %s: unknown type %q (registered: %s)", c.id, c.typeKey, strings.Join(Keys(), "|"))
	}
	store, err := meta.Factory(c.Params())
	if err != nil {
		return nil, fmt.Errorf("blob store %s (%s): %w", c.id, c.typeKey, err)
	}
	return store, nil
}

func (c *Config) String() string {
	return fmt.Sprintf("BlobStore[id=%s type=%s enabled=%t default=%t]", c.id, c.typeKey, c.enabled, c.isDefault)
}

// DecodeParams 将 [[BlobStore]] 的剩余字段解码到 out（指向结构体的指针）。
// 字段名大小写不敏感，未知字段会报错，方便尽早发现拼写问题。
func DecodeParams(params map[string]interface{}, out interface{}) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			secondsToDurationHook(),
		),
	})
	if err != nil {
		return err
	}
	if err := decoder.Decode(params); err != nil {
		return fmt.Errorf("解析后端参数失败: %w", err)
	}
	return nil
}

// secondsToDurationHook 允许以纯数字秒值书写 Duration 字段。
func secondsToDurationHook() mapstructure.DecodeHookFunc {
	durationType := reflect.TypeOf(time.Duration(0))
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != durationType {
			return data, nil
		}
		switch v := data.(type) {
		case int:
			return time.Duration(v) * time.Second, nil
		case int64:
			return time.Duration(v) * time.Second, nil
		case float64:
			return time.Duration(v * float64(time.Second)), nil
		default:
			return data, nil
		}
	}
}
