package cache

import (
	"errors"
	"fmt"
	"regexp"
)

// ErrInvalidKey 表示请求中的 key 不是 3 位数字。
var ErrInvalidKey = errors.New("invalid cache key")

var keyPattern = regexp.MustCompile(`^\d{3}$`)

// Key 是经过校验的 HTTP 状态码字符串，只能通过 ParseKey 构造。
type Key struct {
	code string
}

// ParseKey 校验 raw 是否为 3 位数字，失败时返回包裹 ErrInvalidKey 的错误。
func ParseKey(raw string) (Key, error) {
	if !keyPattern.MatchString(raw) {
		return Key{}, fmt.Errorf("%w: %q", ErrInvalidKey, raw)
	}
	return Key{code: raw}, nil
}

// MustParseKey 用于测试与常量场景，非法输入直接 panic。
func MustParseKey(raw string) Key {
	key, err := ParseKey(raw)
	if err != nil {
		panic(err)
	}
	return key
}

func (k Key) String() string {
	return k.code
}

// IsZero 表示 Key 未经 ParseKey 初始化。
func (k Key) IsZero() bool {
	return k.code == ""
}

// FileName 返回条目在存储中的文件名，例如 "404.jpg"。
func (k Key) FileName() string {
	return k.code + ".jpg"
}
