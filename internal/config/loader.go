package config

import (
	"fmt"
	"math"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix 是所有环境变量覆盖项的前缀，例如 CATCACHE_PORT。
const EnvPrefix = "CATCACHE"

// flagBindings 将 CLI 标志映射到配置键，未列出的键只能通过配置文件或环境变量设置。
var flagBindings = map[string]string{
	"host":             "Host",
	"port":             "Port",
	"cache":            "CachePath",
	"origin":           "OriginURL",
	"origin-timeout":   "OriginTimeout",
	"collapse-fetches": "CollapseOriginFetches",
	"storage":          "StorageBackend",
	"log-level":        "LogLevel",
	"diagnostics":      "EnableDiagnostics",
}

// envKeys 列出允许通过环境变量覆盖的配置键。
var envKeys = []string{
	"Host",
	"Port",
	"CachePath",
	"OriginURL",
	"OriginTimeout",
	"StorageBackend",
	"LogLevel",
	"S3Bucket",
	"S3Prefix",
	"S3Region",
	"S3Endpoint",
	"S3AccessKey",
	"S3SecretKey",
}

// RegisterFlags 在 fs 上注册所有配置相关的 CLI 标志。
func RegisterFlags(fs *pflag.FlagSet) {
	fs.StringP("host", "h", "", "监听地址（必填）")
	fs.IntP("port", "p", 0, "监听端口（必填）")
	fs.StringP("cache", "c", "", "缓存目录（必填）")
	fs.String("origin", DefaultOriginURL, "未命中时回源的地址，留空则关闭回源")
	fs.Duration("origin-timeout", 30*time.Second, "回源请求超时")
	fs.Bool("collapse-fetches", false, "合并同一 key 的并发回源请求")
	fs.String("storage", StorageBackendFS, "存储后端 fs|s3")
	fs.String("log-level", "info", "日志级别")
	fs.Bool("diagnostics", false, "启用 /-/stats 诊断接口")
}

// Load 按照 “CLI 标志 → 环境变量 → 配置文件 → 默认值” 的优先级合并配置并校验。
// path 为空时不读取配置文件；flags 可以为 nil。
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("读取配置失败: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	for _, key := range envKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("绑定环境变量失败: %w", err)
		}
	}

	if flags != nil {
		if err := bindFlags(v, flags); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(durationDecodeHook())); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.StorageBackend == StorageBackendFS {
		absCache, err := filepath.Abs(cfg.CachePath)
		if err != nil {
			return nil, fmt.Errorf("无法解析缓存目录: %w", err)
		}
		cfg.CachePath = absCache
	}

	return &cfg, nil
}

func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	for name, key := range flagBindings {
		flag := flags.Lookup(name)
		if flag == nil {
			continue
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return fmt.Errorf("绑定标志 %s 失败: %w", name, err)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("Host", "")
	v.SetDefault("Port", 0)
	v.SetDefault("CachePath", "")
	v.SetDefault("OriginURL", DefaultOriginURL)
	v.SetDefault("OriginTimeout", "30s")
	v.SetDefault("CollapseOriginFetches", false)
	v.SetDefault("StorageBackend", StorageBackendFS)
	v.SetDefault("S3Bucket", "")
	v.SetDefault("S3Prefix", "")
	v.SetDefault("S3Region", "us-east-1")
	v.SetDefault("S3Endpoint", "")
	v.SetDefault("S3UsePathStyle", false)
	v.SetDefault("S3AccessKey", "")
	v.SetDefault("S3SecretKey", "")
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
	v.SetDefault("EnableDiagnostics", false)
	v.SetDefault("BodyLimit", math.MaxInt32)
}

func applyDefaults(c *Config) {
	c.Host = strings.TrimSpace(c.Host)
	c.OriginURL = strings.TrimSpace(c.OriginURL)
	c.StorageBackend = strings.ToLower(strings.TrimSpace(c.StorageBackend))
	if c.StorageBackend == "" {
		c.StorageBackend = StorageBackendFS
	}
	if c.OriginTimeout.DurationValue() == 0 {
		c.OriginTimeout = Duration(30 * time.Second)
	}
	if c.BodyLimit <= 0 {
		c.BodyLimit = math.MaxInt32
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
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
