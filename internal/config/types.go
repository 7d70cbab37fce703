package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/fintrack/cachehub/internal/swmodule"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"5m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if seconds, err := time.ParseDuration(raw); err == nil {
		*d = Duration(seconds)
		return nil
	}

	if intVal, err := parseInt(raw); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// GlobalConfig 描述全局运行时行为，所有站点共享同一份参数。
type GlobalConfig struct {
	ListenPort      int      `mapstructure:"ListenPort"`
	LogLevel        string   `mapstructure:"LogLevel"`
	LogFilePath     string   `mapstructure:"LogFilePath"`
	LogMaxSize      int      `mapstructure:"LogMaxSize"`
	LogMaxBackups   int      `mapstructure:"LogMaxBackups"`
	LogCompress     bool     `mapstructure:"LogCompress"`
	StoragePath     string   `mapstructure:"StoragePath"`
	UpstreamTimeout Duration `mapstructure:"UpstreamTimeout"`
	InstallTimeout  Duration `mapstructure:"InstallTimeout"`
}

// SiteConfig 描述一个被边缘层接管的前端站点及其 cache worker。
type SiteConfig struct {
	Name     string `mapstructure:"Name"`
	Domain   string `mapstructure:"Domain"`
	Upstream string `mapstructure:"Upstream"`
	Proxy    string `mapstructure:"Proxy"`
	// Worker 选择 profile，默认 multitier。
	Worker            string   `mapstructure:"Worker"`
	CachePrefix       string   `mapstructure:"CachePrefix"`
	CacheVersion      string   `mapstructure:"CacheVersion"`
	APIPrefix         string   `mapstructure:"APIPrefix"`
	Manifest          []string `mapstructure:"Manifest"`
	DashboardPath     string   `mapstructure:"DashboardPath"`
	NotificationTitle string   `mapstructure:"NotificationTitle"`
	NotificationIcon  string   `mapstructure:"NotificationIcon"`
	NotificationBadge string   `mapstructure:"NotificationBadge"`
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global GlobalConfig `mapstructure:",squash"`
	Sites  []SiteConfig `mapstructure:"Site"`
}

// Settings 将站点配置映射为 profile 构造参数，空值由 profile 默认值补齐。
func (s SiteConfig) Settings() swmodule.Settings {
	return swmodule.Settings{
		CachePrefix:       s.CachePrefix,
		Version:           s.CacheVersion,
		APIPrefix:         s.APIPrefix,
		Manifest:          append([]string(nil), s.Manifest...),
		DashboardPath:     s.DashboardPath,
		NotificationTitle: s.NotificationTitle,
		NotificationIcon:  s.NotificationIcon,
		NotificationBadge: s.NotificationBadge,
	}
}

// WorkerSummary 返回所有站点的 profile 摘要，例如 fintrack:multitier@v2。
func WorkerSummary(sites []SiteConfig) []string {
	if len(sites) == 0 {
		return nil
	}
	result := make([]string, len(sites))
	for i, site := range sites {
		version := site.CacheVersion
		if version == "" {
			version = "default"
		}
		result[i] = fmt.Sprintf("%s:%s@%s", site.Name, site.Worker, version)
	}
	return result
}

// Site 按名称查找站点配置。
func (c *Config) Site(name string) (SiteConfig, bool) {
	if c == nil {
		return SiteConfig{}, false
	}
	for _, site := range c.Sites {
		if site.Name == name {
			return site, true
		}
	}
	return SiteConfig{}, false
}
