package config

import (
	"slices"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Watch 监听配置文件变化，每次变化都会重新解析并回调 onChange。
// 解析失败时 cfg 为 nil，调用方应保留旧配置。
func Watch(path string, onChange func(cfg *Config, err error)) error {
	if path == "" {
		path = "config.toml"
	}
	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)
	if err := v.ReadInConfig(); err != nil {
		return err
	}

	var mu sync.Mutex
	v.OnConfigChange(func(event fsnotify.Event) {
		if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		onChange(Load(path))
	})
	v.WatchConfig()
	return nil
}

// ChangedSites 返回 next 中 worker 相关字段与 prev 不同的站点。
// 新增、删除站点以及 Domain/Upstream 变化需要重启，不在此列。
func ChangedSites(prev, next *Config) []SiteConfig {
	if prev == nil || next == nil {
		return nil
	}
	var changed []SiteConfig
	for _, site := range next.Sites {
		old, ok := prev.Site(site.Name)
		if !ok {
			continue
		}
		if workerChanged(old, site) {
			changed = append(changed, site)
		}
	}
	return changed
}

func workerChanged(a, b SiteConfig) bool {
	return a.Worker != b.Worker ||
		a.CachePrefix != b.CachePrefix ||
		a.CacheVersion != b.CacheVersion ||
		a.APIPrefix != b.APIPrefix ||
		a.DashboardPath != b.DashboardPath ||
		a.NotificationTitle != b.NotificationTitle ||
		a.NotificationIcon != b.NotificationIcon ||
		a.NotificationBadge != b.NotificationBadge ||
		!slices.Equal(a.Manifest, b.Manifest)
}
