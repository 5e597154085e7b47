package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/any-hub/tilehub/internal/blobstore"
	"github.com/any-hub/tilehub/internal/storage"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"5m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if seconds, err := time.ParseDuration(raw); err == nil {
		*d = Duration(seconds)
		return nil
	}

	if intVal, err := parseInt(raw); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// GlobalConfig 描述全局运行时行为。
type GlobalConfig struct {
	ListenPort      int      `mapstructure:"ListenPort"`
	LogLevel        string   `mapstructure:"LogLevel"`
	LogFilePath     string   `mapstructure:"LogFilePath"`
	LogMaxSize      int      `mapstructure:"LogMaxSize"`
	LogMaxBackups   int      `mapstructure:"LogMaxBackups"`
	LogCompress     bool     `mapstructure:"LogCompress"`
	CacheDirectory  string   `mapstructure:"CacheDirectory"`
	ShutdownTimeout Duration `mapstructure:"ShutdownTimeout"`
}

// BlobStoreConfig 对应一个 [[BlobStore]] 表。Id/Type/Enabled/Default 之外的字段
// 原样收集到 Params，交由对应后端类型解析。
type BlobStoreConfig struct {
	ID      string                 `mapstructure:"Id"`
	Type    string                 `mapstructure:"Type"`
	Enabled *bool                  `mapstructure:"Enabled"`
	Default bool                   `mapstructure:"Default"`
	Params  map[string]interface{} `mapstructure:",remain"`
}

// LayerConfig 对应一个 [[Layer]] 表；BlobStoreId 为空表示使用默认存储。
type LayerConfig struct {
	Name        string `mapstructure:"Name"`
	BlobStoreID string `mapstructure:"BlobStoreId"`
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global     GlobalConfig      `mapstructure:",squash"`
	BlobStores []BlobStoreConfig `mapstructure:"BlobStore"`
	Layers     []LayerConfig     `mapstructure:"Layer"`
}

// IsEnabled 未显式填写 Enabled 时视为启用。
func (b BlobStoreConfig) IsEnabled() bool {
	return b.Enabled == nil || *b.Enabled
}

// StoreConfig 转换为路由使用的 storage.BlobStoreConfig。
func (b BlobStoreConfig) StoreConfig() storage.BlobStoreConfig {
	return blobstore.NewConfig(b.ID, b.Type, b.IsEnabled(), b.Default, b.Params)
}

// StoreConfigs 按声明顺序返回全部 [[BlobStore]] 的运行时配置。
func (c *Config) StoreConfigs() []storage.BlobStoreConfig {
	if len(c.BlobStores) == 0 {
		return nil
	}
	out := make([]storage.BlobStoreConfig, len(c.BlobStores))
	for i, store := range c.BlobStores {
		out[i] = store.StoreConfig()
	}
	return out
}

// StoreSummaries 返回所有存储的摘要，例如 s3:s3:enabled，供启动日志使用。
func StoreSummaries(stores []BlobStoreConfig) []string {
	if len(stores) == 0 {
		return nil
	}
	result := make([]string, len(stores))
	for i, store := range stores {
		state := "enabled"
		if !store.IsEnabled() {
			state = "disabled"
		}
		if store.Default {
			state += ",default"
		}
		result[i] = fmt.Sprintf("%s:%s:%s", store.ID, store.Type, state)
	}
	return result
}
