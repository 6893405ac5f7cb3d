package cache

import (
	"context"
	"errors"
)

// ContentType 是所有缓存条目对外声明的内容类型，不根据内容推断。
const ContentType = "image/jpeg"

// Store 负责管理缓存条目的读写。每个 Key 对应一个完整的二进制正文，
// 写入总是整体覆盖；实现本身不做任何加锁，需保证可被并发调用。
type Store interface {
	// Exists 报告 key 是否存在条目。
	Exists(ctx context.Context, key Key) (bool, error)

	// Read 返回 key 的完整正文。若不存在则返回包裹 ErrNotFound 的错误，
	// 其它读取故障返回包裹 ErrStorage 的错误。
	Read(ctx context.Context, key Key) ([]byte, error)

	// Write 以 data 整体覆盖 key 的条目，失败时返回包裹 ErrStorage 的错误。
	Write(ctx context.Context, key Key, data []byte) error

	// Delete 删除 key 的条目。条目不存在时返回包裹 ErrNotFound 的错误。
	Delete(ctx context.Context, key Key) error
}

var (
	// ErrNotFound 表示缓存不存在。
	ErrNotFound = errors.New("cache entry not found")

	// ErrStorage 表示底层存储发生了除 “不存在” 以外的故障。
	ErrStorage = errors.New("cache storage failure")
)
