package config

import (
	"fmt"

	"github.com/fintrack/cachehub/internal/swmodule"
	"github.com/fintrack/cachehub/internal/worker"
)

// SiteRuntime 将站点配置与 profile 元数据合并，方便运行时快速构造 worker。
type SiteRuntime struct {
	Config   SiteConfig
	Module   swmodule.ModuleMetadata
	Settings swmodule.Settings
}

// BuildSiteRuntime 解析站点的 profile 并合并默认设置（假定 Validate 已经通过）。
func BuildSiteRuntime(cfg SiteConfig) (SiteRuntime, error) {
	meta, ok := swmodule.Resolve(cfg.Worker)
	if !ok {
		return SiteRuntime{}, fmt.Errorf("site %s: worker profile %s is not registered", cfg.Name, cfg.Worker)
	}
	return SiteRuntime{
		Config:   cfg,
		Module:   meta,
		Settings: swmodule.ResolveSettings(meta, cfg.Settings()),
	}, nil
}

// NewHandler 构造该站点当前配置对应的 worker 版本。
func (r SiteRuntime) NewHandler() (worker.Handler, error) {
	return r.Module.New(r.Settings)
}
