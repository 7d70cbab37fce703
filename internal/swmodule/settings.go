package swmodule

import (
	"errors"
	"fmt"
	"strings"

	"github.com/fintrack/cachehub/internal/worker"
)

// ResolveSettings 将 profile 默认值与站点覆盖项合并，覆盖项为空时取默认值。
func ResolveSettings(meta ModuleMetadata, overrides Settings) Settings {
	s := overrides
	d := meta.Defaults
	if s.CachePrefix == "" {
		s.CachePrefix = d.CachePrefix
	}
	if s.Version == "" {
		s.Version = d.Version
	}
	if s.APIPrefix == "" {
		s.APIPrefix = d.APIPrefix
	}
	if len(s.Manifest) == 0 {
		s.Manifest = append([]string(nil), meta.DefaultManifest...)
	}
	if s.DashboardPath == "" {
		s.DashboardPath = d.DashboardPath
	}
	if s.NotificationTitle == "" {
		s.NotificationTitle = d.NotificationTitle
	}
	if s.NotificationIcon == "" {
		s.NotificationIcon = d.NotificationIcon
	}
	if s.NotificationBadge == "" {
		s.NotificationBadge = d.NotificationBadge
	}
	return normalizeSettings(s)
}

// Build 解析 profile 并构造 worker 版本。
func Build(key string, overrides Settings) (worker.Handler, error) {
	meta, ok := Resolve(key)
	if !ok {
		return nil, fmt.Errorf("module %s is not registered", key)
	}
	settings := ResolveSettings(meta, overrides)
	if settings.CachePrefix == "" {
		return nil, errors.New("cache prefix is required")
	}
	if settings.Version == "" {
		return nil, errors.New("cache version is required")
	}
	return meta.New(settings)
}

// CacheName 按 <prefix>-<role>-<version> 拼接分区名，role 为空时省略。
func CacheName(prefix, role, version string) string {
	if role == "" {
		return prefix + "-" + version
	}
	return prefix + "-" + role + "-" + version
}

func normalizeSettings(s Settings) Settings {
	if s.APIPrefix != "" && !strings.HasPrefix(s.APIPrefix, "/") {
		s.APIPrefix = "/" + s.APIPrefix
	}
	manifest := make([]string, 0, len(s.Manifest))
	seen := make(map[string]struct{}, len(s.Manifest))
	for _, entry := range s.Manifest {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if !strings.HasPrefix(entry, "/") {
			entry = "/" + entry
		}
		if _, dup := seen[entry]; dup {
			continue
		}
		seen[entry] = struct{}{}
		manifest = append(manifest, entry)
	}
	s.Manifest = manifest
	return s
}
