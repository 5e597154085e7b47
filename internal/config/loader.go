package config

import (
	"fmt"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Load 读取并解析 TOML 配置文件，同时注入默认值与校验逻辑。
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.toml"
	}

	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}

	if err := rejectDeprecatedKeys(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(durationDecodeHook())); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	applyGlobalDefaults(&cfg.Global)
	for i := range cfg.BlobStores {
		applyBlobStoreDefaults(&cfg.BlobStores[i])
	}
	for i := range cfg.Layers {
		applyLayerDefaults(&cfg.Layers[i])
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.Global.CacheDirectory != "" {
		absCache, err := filepath.Abs(cfg.Global.CacheDirectory)
		if err != nil {
			return nil, fmt.Errorf("无法解析缓存目录: %w", err)
		}
		cfg.Global.CacheDirectory = absCache
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ListenPort", 5000)
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
	v.SetDefault("CacheDirectory", "")
	v.SetDefault("ShutdownTimeout", "15s")
}

func applyGlobalDefaults(g *GlobalConfig) {
	if g.ListenPort == 0 {
		g.ListenPort = 5000
	}
	if g.ShutdownTimeout.DurationValue() == 0 {
		g.ShutdownTimeout = Duration(15 * time.Second)
	}
}

func applyBlobStoreDefaults(b *BlobStoreConfig) {
	b.ID = strings.TrimSpace(b.ID)
	b.Type = strings.ToLower(strings.TrimSpace(b.Type))
}

func applyLayerDefaults(l *LayerConfig) {
	l.Name = strings.TrimSpace(l.Name)
	l.BlobStoreID = strings.TrimSpace(l.BlobStoreID)
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(Duration(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			if v == "" {
				return Duration(0), nil
			}
			if parsed, err := time.ParseDuration(v); err == nil {
				return Duration(parsed), nil
			}
			if seconds, err := strconv.ParseFloat(v, 64); err == nil {
				return Duration(time.Duration(seconds * float64(time.Second))), nil
			}
			return nil, fmt.Errorf("无法解析 Duration 字段: %s", v)
		case int:
			return Duration(time.Duration(v) * time.Second), nil
		case int64:
			return Duration(time.Duration(v) * time.Second), nil
		case float64:
			return Duration(time.Duration(v * float64(time.Second))), nil
		case time.Duration:
			return Duration(v), nil
		case Duration:
			return v, nil
		default:
			return nil, fmt.Errorf("不支持的 Duration 类型: %T", v)
		}
	}
}

// rejectDeprecatedKeys 拒绝旧版单目录配置写法，提示迁移到 CacheDirectory 或 [[BlobStore]]。
func rejectDeprecatedKeys(v *viper.Viper) error {
	if v.IsSet("StoragePath") {
		return newFieldError("Global.StoragePath", "字段已弃用，请改用 CacheDirectory 或声明 [[BlobStore]]")
	}

	raw := v.Get("Layer")
	layers, ok := raw.([]interface{})
	if !ok {
		return nil
	}
	for idx, entry := range layers {
		m, ok := entry.(map[string]interface{})
		if !ok {
			continue
		}
		for key := range m {
			if !strings.EqualFold(key, "BlobStore") {
				continue
			}
			name := fmt.Sprintf("#%d", idx)
			for k, rawName := range m {
				if strings.EqualFold(k, "Name") {
					if s, ok := rawName.(string); ok && s != "" {
						name = s
					}
				}
			}
			return newFieldError(layerField(name, "BlobStore"), "字段已弃用，请改用 BlobStoreId")
		}
	}
	return nil
}
