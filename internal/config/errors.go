package config

import (
	"errors"
	"fmt"
)

// ErrInvalidConfig 是所有校验失败的公共根错误，可用 errors.Is 判断。
var ErrInvalidConfig = errors.New("invalid config")

// FieldError 提供配置键与错误原因，CLI 直接打印即可定位问题。
type FieldError struct {
	Field  string
	Reason string
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e FieldError) Unwrap() error {
	return ErrInvalidConfig
}

func newFieldError(field, reason string) error {
	return FieldError{Field: field, Reason: reason}
}
