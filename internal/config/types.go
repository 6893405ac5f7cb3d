package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
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

	if parsed, err := time.ParseDuration(raw); err == nil {
		*d = Duration(parsed)
		return nil
	}

	if intVal, err := strconv.ParseInt(raw, 10, 64); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// 存储后端类型。
const (
	StorageBackendFS = "fs"
	StorageBackendS3 = "s3"
)

// DefaultOriginURL 是缓存未命中时回源的默认地址。
const DefaultOriginURL = "https://http.cat/"

// S3Config 描述对象存储后端的连接参数，仅在 StorageBackend = "s3" 时生效。
type S3Config struct {
	Bucket       string `mapstructure:"S3Bucket"`
	Prefix       string `mapstructure:"S3Prefix"`
	Region       string `mapstructure:"S3Region"`
	Endpoint     string `mapstructure:"S3Endpoint"`
	UsePathStyle bool   `mapstructure:"S3UsePathStyle"`
	AccessKey    string `mapstructure:"S3AccessKey"`
	SecretKey    string `mapstructure:"S3SecretKey"`
}

// HasStaticCredentials 表示是否显式配置了 AccessKey/SecretKey。
func (s S3Config) HasStaticCredentials() bool {
	return s.AccessKey != "" && s.SecretKey != ""
}

// Config 在进程启动时构建一次，随后以指针形式注入各组件，不支持热加载。
type Config struct {
	Host      string `mapstructure:"Host"`
	Port      int    `mapstructure:"Port"`
	CachePath string `mapstructure:"CachePath"`

	OriginURL             string   `mapstructure:"OriginURL"`
	OriginTimeout         Duration `mapstructure:"OriginTimeout"`
	CollapseOriginFetches bool     `mapstructure:"CollapseOriginFetches"`

	StorageBackend string   `mapstructure:"StorageBackend"`
	S3             S3Config `mapstructure:",squash"`

	LogLevel      string `mapstructure:"LogLevel"`
	LogFilePath   string `mapstructure:"LogFilePath"`
	LogMaxSize    int    `mapstructure:"LogMaxSize"`
	LogMaxBackups int    `mapstructure:"LogMaxBackups"`
	LogCompress   bool   `mapstructure:"LogCompress"`

	EnableDiagnostics bool `mapstructure:"EnableDiagnostics"`
	BodyLimit         int  `mapstructure:"BodyLimit"`
}

// OriginEnabled 表示是否启用未命中回源。
func (c *Config) OriginEnabled() bool {
	return c != nil && strings.TrimSpace(c.OriginURL) != ""
}

// ListenAddress 返回 host:port 形式的监听地址。
func (c *Config) ListenAddress() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Mode 输出 `read-through` 或 `store-only`，供日志字段使用。
func (c *Config) Mode() string {
	if c.OriginEnabled() {
		return "read-through"
	}
	return "store-only"
}
