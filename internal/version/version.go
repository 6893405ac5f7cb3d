package version

import (
	"fmt"
	"runtime"
)

// Version/Commit 可在构建时通过 -ldflags 注入：
//
//	go build -ldflags "-X github.com/any-hub/catcache/internal/version.Version=1.2.0"
var (
	Version = "0.1.0"
	Commit  = "dev"
)

// Name 是服务名，同时作为 Fiber AppName 与日志中的标识。
const Name = "catcache"

// Full 返回便于 CLI 打印的完整版本信息。
func Full() string {
	return fmt.Sprintf("%s %s (%s, %s)", Name, Version, Commit, runtime.Version())
}
