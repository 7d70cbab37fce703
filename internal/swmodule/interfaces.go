package swmodule

import (
	"github.com/fintrack/cachehub/internal/worker"
)

// MigrationState 描述 profile 上线阶段，方便观测端区分 legacy/ga。
type MigrationState string

const (
	MigrationStateLegacy MigrationState = "legacy"
	MigrationStateGA     MigrationState = "ga"
)

// Settings 是创建一个 worker 版本所需的站点参数。
type Settings struct {
	// CachePrefix 参与分区命名，默认为站点名。
	CachePrefix string
	// Version 是部署版本，变更即意味着旧分区失效。
	Version   string
	APIPrefix string
	Manifest  []string
	// DashboardPath 是通知 explore 动作打开的页面。
	DashboardPath     string
	NotificationTitle string
	NotificationIcon  string
	NotificationBadge string
}

// Factory 根据 Settings 构造 worker.Handler。
type Factory func(Settings) (worker.Handler, error)

// ModuleMetadata 记录一个 profile 的静态信息，供配置校验和诊断端使用。
type ModuleMetadata struct {
	Key            string
	Description    string
	MigrationState MigrationState
	// Partitions 描述分区角色，例如 static/runtime/api。
	Partitions      []string
	DefaultManifest []string
	Defaults        Settings
	New             Factory
}

// DefaultModuleKey 返回未配置 Worker 时使用的 profile。
func DefaultModuleKey() string {
	return defaultModuleKey
}
