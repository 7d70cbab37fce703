// Package multitier 实现三分区（shell/runtime/api）的 cache worker profile：
// API 请求走 network-first，其余同源请求走 cache-first，离线时合成 HTML/SVG/JSON 兜底。
package multitier

import (
	"github.com/fintrack/cachehub/internal/swmodule"
	"github.com/fintrack/cachehub/internal/worker"
)

const moduleKey = "multitier"

// DefaultManifest 是 install 阶段预热到 shell 分区的路径。
var DefaultManifest = []string{
	"/",
	"/index.html",
	"/dashboard",
	"/transactions",
	"/wishlist",
	"/networth",
	"/portfolio",
	"/manifest.json",
	"/icons/icon-192x192.png",
	"/icons/icon-512x512.png",
}

var metadata = swmodule.ModuleMetadata{
	Key:             moduleKey,
	Description:     "Three-partition worker: network-first API, cache-first shell and runtime assets, offline fallbacks",
	MigrationState:  swmodule.MigrationStateGA,
	Partitions:      []string{roleStatic, roleRuntime, roleAPI},
	DefaultManifest: DefaultManifest,
	Defaults: swmodule.Settings{
		CachePrefix:       "fintrack",
		Version:           "v1",
		APIPrefix:         "/api/",
		DashboardPath:     "/dashboard",
		NotificationTitle: "FinTrack",
		NotificationIcon:  "/icons/icon-192x192.png",
		NotificationBadge: "/icons/icon-72x72.png",
	},
	New: func(s swmodule.Settings) (worker.Handler, error) {
		return New(s), nil
	},
}

func init() {
	swmodule.MustRegister(metadata)
}
