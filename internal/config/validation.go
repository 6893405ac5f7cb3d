package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"
)

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	if c.Host == "" {
		return newFieldError("Host", "不能为空")
	}
	if strings.Contains(c.Host, " ") {
		return newFieldError("Host", "不允许包含空格")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return newFieldError("Port", "必须在 1-65535")
	}

	switch c.StorageBackend {
	case StorageBackendFS:
		if c.CachePath == "" {
			return newFieldError("CachePath", "不能为空")
		}
	case StorageBackendS3:
		if c.S3.Bucket == "" {
			return newFieldError("S3Bucket", "s3 后端必须提供 Bucket")
		}
		if (c.S3.AccessKey == "") != (c.S3.SecretKey == "") {
			return newFieldError("S3AccessKey/S3SecretKey", "必须同时提供或同时留空")
		}
		if c.S3.Endpoint != "" {
			if err := validateHTTPURL(c.S3.Endpoint); err != nil {
				return fmt.Errorf("S3Endpoint: %w", err)
			}
		}
	default:
		return newFieldError("StorageBackend", "仅支持 fs|s3")
	}

	if c.OriginEnabled() {
		if err := validateHTTPURL(c.OriginURL); err != nil {
			return fmt.Errorf("OriginURL: %w", err)
		}
		if c.OriginTimeout.DurationValue() <= 0 {
			return newFieldError("OriginTimeout", "必须大于 0")
		}
	}

	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return newFieldError("LogLevel", err.Error())
	}
	if c.BodyLimit <= 0 {
		return newFieldError("BodyLimit", "必须大于 0")
	}

	return nil
}

func validateHTTPURL(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("仅支持 http/https: %s", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("缺少 Host: %s", raw)
	}
	return nil
}
