package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/fintrack/cachehub/internal/swmodule"
)

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 1-65535")
	}
	if g.StoragePath == "" {
		return newFieldError("Global.StoragePath", "不能为空")
	}
	if g.UpstreamTimeout.DurationValue() <= 0 {
		return newFieldError("Global.UpstreamTimeout", "必须大于 0")
	}
	if g.InstallTimeout.DurationValue() <= 0 {
		return newFieldError("Global.InstallTimeout", "必须大于 0")
	}

	if len(c.Sites) == 0 {
		return errors.New("至少需要配置一个 Site")
	}

	seenNames := map[string]struct{}{}
	seenDomains := map[string]string{}
	for i := range c.Sites {
		site := &c.Sites[i]
		if site.Name == "" {
			return newFieldError("Site[].Name", "不能为空")
		}
		if !isPathSafe(site.Name) {
			return newFieldError(siteField(site.Name, "Name"), "不能包含路径分隔符")
		}
		if _, exists := seenNames[site.Name]; exists {
			return newFieldError(siteField(site.Name, "Name"), "重复")
		}
		seenNames[site.Name] = struct{}{}

		if err := validateDomain(site.Domain); err != nil {
			return fmt.Errorf("%s: %w", siteField(site.Name, "Domain"), err)
		}
		domain := strings.ToLower(site.Domain)
		if other, exists := seenDomains[domain]; exists {
			return newFieldError(siteField(site.Name, "Domain"), "与站点 "+other+" 重复")
		}
		seenDomains[domain] = site.Name

		if err := validateUpstream(site.Upstream); err != nil {
			return fmt.Errorf("%s: %w", siteField(site.Name, "Upstream"), err)
		}
		if site.Proxy != "" {
			if err := validateUpstream(site.Proxy); err != nil {
				return fmt.Errorf("%s: %w", siteField(site.Name, "Proxy"), err)
			}
		}

		workerKey := strings.ToLower(strings.TrimSpace(site.Worker))
		if workerKey == "" {
			workerKey = swmodule.DefaultModuleKey()
		}
		if _, ok := swmodule.Resolve(workerKey); !ok {
			return newFieldError(siteField(site.Name, "Worker"), "仅支持 "+strings.Join(swmodule.Keys(), "|"))
		}
		site.Worker = workerKey

		if site.CachePrefix != "" && !isPathSafe(site.CachePrefix) {
			return newFieldError(siteField(site.Name, "CachePrefix"), "不能包含路径分隔符")
		}
		if site.CacheVersion != "" && !isPathSafe(site.CacheVersion) {
			return newFieldError(siteField(site.Name, "CacheVersion"), "不能包含路径分隔符")
		}
		if site.APIPrefix != "" && !strings.HasPrefix(site.APIPrefix, "/") {
			return newFieldError(siteField(site.Name, "APIPrefix"), "必须以 / 开头")
		}
		if site.DashboardPath != "" && !strings.HasPrefix(site.DashboardPath, "/") {
			return newFieldError(siteField(site.Name, "DashboardPath"), "必须以 / 开头")
		}
		for _, entry := range site.Manifest {
			if !strings.HasPrefix(entry, "/") {
				return newFieldError(siteField(site.Name, "Manifest"), fmt.Sprintf("路径必须以 / 开头: %s", entry))
			}
		}
	}

	return nil
}

func isPathSafe(value string) bool {
	return value != "." && value != ".." && !strings.ContainsAny(value, `/\ `)
}

func validateDomain(domain string) error {
	if domain == "" {
		return errors.New("Domain 不能为空")
	}
	if strings.Contains(domain, "/") {
		return errors.New("Domain 不允许包含路径")
	}
	if strings.Contains(domain, " ") {
		return errors.New("Domain 不允许包含空格")
	}
	if strings.HasPrefix(domain, "http") {
		return errors.New("Domain 不应包含协议头")
	}
	return nil
}

func validateUpstream(raw string) error {
	if raw == "" {
		return errors.New("缺少上游地址")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("仅支持 http/https，上游: %s", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("上游缺少 Host: %s", raw)
	}
	return nil
}
