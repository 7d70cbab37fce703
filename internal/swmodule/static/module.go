// Package static 实现单分区的 legacy cache worker：安装时预热固定 manifest，
// 之后所有请求优先读缓存，未命中直接访问网络，不写入新条目也不合成离线响应。
package static

import (
	"github.com/fintrack/cachehub/internal/swmodule"
	"github.com/fintrack/cachehub/internal/worker"
)

const moduleKey = "static"

// DefaultManifest 是 legacy 部署使用的六个静态资源。
var DefaultManifest = []string{
	"/",
	"/index.html",
	"/manifest.json",
	"/favicon.ico",
	"/logo192.png",
	"/logo512.png",
}

var metadata = swmodule.ModuleMetadata{
	Key:             moduleKey,
	Description:     "Legacy single-partition cache-first worker without runtime caching",
	MigrationState:  swmodule.MigrationStateLegacy,
	// 唯一分区名为 <prefix>-<version>，assets 只是诊断输出中的角色标签。
	Partitions:      []string{"assets"},
	DefaultManifest: DefaultManifest,
	Defaults: swmodule.Settings{
		CachePrefix: "fintrack",
		Version:     "v1",
	},
	New: func(s swmodule.Settings) (worker.Handler, error) {
		return New(s), nil
	},
}

func init() {
	swmodule.MustRegister(metadata)
}
