package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/fintrack/cachehub/internal/cache"
	"github.com/fintrack/cachehub/internal/config"
	"github.com/fintrack/cachehub/internal/logging"
	"github.com/fintrack/cachehub/internal/worker"
)

// SiteRoute 聚合站点配置、派生属性（解析后的 Upstream/Proxy URL）以及该站点的
// worker 注册表，供路由/代理层直接复用，避免重复解析配置。
type SiteRoute struct {
	// ListenPort 记录当前 CLI 监听端口，方便日志/转发头输出。
	ListenPort int
	// UpstreamURL/ProxyURL 在构造 Registry 时提前解析完成。
	UpstreamURL *url.URL
	ProxyURL    *url.URL
	// Origin 是页面看到的站点地址，用于同源判断。
	Origin       *url.URL
	Store        cache.Store
	Network      worker.Network
	Registration *worker.Registration

	mu      sync.RWMutex
	runtime config.SiteRuntime
}

// Config 返回站点当前生效的配置副本。
func (r *SiteRoute) Config() config.SiteConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.runtime.Config
}

// ModuleKey 返回站点当前使用的 worker profile。
func (r *SiteRoute) ModuleKey() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.runtime.Module.Key
}

// Runtime 返回站点当前的 profile 与合并后的设置。
func (r *SiteRoute) Runtime() config.SiteRuntime {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.runtime
}

// ActiveVersion 返回 active worker 的版本，未激活时为空。
func (r *SiteRoute) ActiveVersion() string {
	if r.Registration == nil {
		return ""
	}
	if active := r.Registration.Snapshot().Active; active != nil {
		return active.Version
	}
	return ""
}

// RegistryDeps 描述构建站点注册表所需的共享依赖。
type RegistryDeps struct {
	Client   *http.Client
	Logger   *logrus.Logger
	Observer worker.Observer
}

// SiteRegistry 提供 Host/Host:port 到 SiteRoute 的查询能力，所有站点共享同一个监听端口。
type SiteRegistry struct {
	routes         map[string]*SiteRoute
	byName         map[string]*SiteRoute
	ordered        []*SiteRoute
	logger         *logrus.Logger
	installTimeout time.Duration
}

// NewSiteRegistry 根据配置构建 Host 映射并为每个站点准备缓存目录与 worker 注册表。
// 调用方应在启动阶段创建一次并复用，随后调用 Start 安装首个 worker 版本。
func NewSiteRegistry(cfg *config.Config, deps RegistryDeps) (*SiteRegistry, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	logger := deps.Logger
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}
	client := deps.Client
	if client == nil {
		client = NewUpstreamClient(cfg)
	}

	registry := &SiteRegistry{
		routes:         make(map[string]*SiteRoute, len(cfg.Sites)),
		byName:         make(map[string]*SiteRoute, len(cfg.Sites)),
		logger:         logger,
		installTimeout: cfg.Global.InstallTimeout.DurationValue(),
	}

	for _, site := range cfg.Sites {
		normalizedHost := normalizeDomain(site.Domain)
		if normalizedHost == "" {
			return nil, fmt.Errorf("invalid domain for site %s", site.Name)
		}
		if _, exists := registry.routes[normalizedHost]; exists {
			return nil, fmt.Errorf("duplicate domain mapping detected for %s", normalizedHost)
		}

		route, err := buildSiteRoute(cfg, site, client, logger, deps.Observer)
		if err != nil {
			return nil, err
		}

		registry.routes[normalizedHost] = route
		registry.byName[site.Name] = route
		registry.ordered = append(registry.ordered, route)
	}

	return registry, nil
}

// Lookup 根据 Host 或 Host:port 查找 SiteRoute。
func (r *SiteRegistry) Lookup(host string) (*SiteRoute, bool) {
	if r == nil {
		return nil, false
	}

	normalizedHost, _ := normalizeHost(host)
	if normalizedHost == "" {
		return nil, false
	}

	route, ok := r.routes[normalizedHost]
	return route, ok
}

// Site 按站点名称查找 SiteRoute，供诊断接口使用。
func (r *SiteRegistry) Site(name string) (*SiteRoute, bool) {
	if r == nil {
		return nil, false
	}
	route, ok := r.byName[name]
	return route, ok
}

// List 返回当前注册的 SiteRoute 列表（按配置定义的顺序）。
func (r *SiteRegistry) List() []*SiteRoute {
	if r == nil || len(r.ordered) == 0 {
		return nil
	}
	return append([]*SiteRoute(nil), r.ordered...)
}

// Start 为每个站点安装配置中的 worker 版本。单个站点安装失败不会影响其他站点，
// 失败的站点保持未受控状态，请求直接透传到上游。
func (r *SiteRegistry) Start(ctx context.Context) error {
	var errs []error
	for _, route := range r.ordered {
		if err := r.install(ctx, route, route.Runtime()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Update 以新的版本号重新安装站点 worker，version 为空时沿用当前配置。
func (r *SiteRegistry) Update(ctx context.Context, name, version string) error {
	route, ok := r.Site(name)
	if !ok {
		return fmt.Errorf("site %s not found", name)
	}
	site := route.Config()
	if version = strings.TrimSpace(version); version != "" {
		site.CacheVersion = version
	}
	return r.Apply(ctx, site)
}

// Apply 使用新的站点配置构建 worker 并安装；Domain/Upstream 的变化不会生效。
func (r *SiteRegistry) Apply(ctx context.Context, site config.SiteConfig) error {
	route, ok := r.Site(site.Name)
	if !ok {
		return fmt.Errorf("site %s not found", site.Name)
	}
	if strings.ContainsAny(site.CacheVersion, `/\`) {
		return fmt.Errorf("site %s: invalid cache version %q", site.Name, site.CacheVersion)
	}
	runtime, err := config.BuildSiteRuntime(site)
	if err != nil {
		return err
	}
	return r.install(ctx, route, runtime)
}

func (r *SiteRegistry) install(ctx context.Context, route *SiteRoute, runtime config.SiteRuntime) error {
	handler, err := runtime.NewHandler()
	if err != nil {
		return fmt.Errorf("site %s: %w", runtime.Config.Name, err)
	}
	if r.installTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.installTimeout)
		defer cancel()
	}

	fields := logging.WorkerFields(runtime.Config.Name, handler.Key(), handler.Version(), "install")
	started := time.Now()
	if err := route.Registration.Register(ctx, handler); err != nil {
		fields["elapsed_ms"] = time.Since(started).Milliseconds()
		r.logger.WithFields(fields).WithError(err).Error("worker_install_failed")
		return err
	}

	route.mu.Lock()
	route.runtime = runtime
	route.mu.Unlock()

	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	fields["active_version"] = route.ActiveVersion()
	r.logger.WithFields(fields).Info("worker_installed")
	return nil
}

func buildSiteRoute(cfg *config.Config, site config.SiteConfig, client *http.Client, logger *logrus.Logger, observer worker.Observer) (*SiteRoute, error) {
	runtime, err := config.BuildSiteRuntime(site)
	if err != nil {
		return nil, err
	}

	upstreamURL, err := url.Parse(site.Upstream)
	if err != nil {
		return nil, fmt.Errorf("invalid upstream for site %s: %w", site.Name, err)
	}

	var proxyURL *url.URL
	if site.Proxy != "" {
		proxyURL, err = url.Parse(site.Proxy)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy for site %s: %w", site.Name, err)
		}
	}

	store, err := cache.NewStore(filepath.Join(cfg.Global.StoragePath, site.Name))
	if err != nil {
		return nil, fmt.Errorf("site %s: %w", site.Name, err)
	}

	origin := &url.URL{Scheme: "https", Host: normalizeDomain(site.Domain)}
	network := NewUpstreamNetwork(siteClient(client, proxyURL), upstreamURL)
	registration, err := worker.NewRegistration(worker.Options{
		Site:     site.Name,
		Origin:   origin,
		Store:    store,
		Network:  network,
		Logger:   logger,
		Observer: observer,
	})
	if err != nil {
		return nil, fmt.Errorf("site %s: %w", site.Name, err)
	}

	return &SiteRoute{
		ListenPort:   cfg.Global.ListenPort,
		UpstreamURL:  upstreamURL,
		ProxyURL:     proxyURL,
		Origin:       origin,
		Store:        store,
		Network:      network,
		Registration: registration,
		runtime:      runtime,
	}, nil
}

func normalizeDomain(domain string) string {
	host, _ := normalizeHost(domain)
	return host
}

func normalizeHost(raw string) (string, int) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", 0
	}

	host := raw
	port := 0

	if strings.Contains(raw, ":") {
		if h, p, err := net.SplitHostPort(raw); err == nil {
			host = h
			if parsedPort, err := strconv.Atoi(p); err == nil {
				port = parsedPort
			}
		} else if idx := strings.LastIndex(raw, ":"); idx > -1 && strings.Count(raw[idx+1:], ":") == 0 {
			if parsedPort, err := strconv.Atoi(raw[idx+1:]); err == nil {
				host = raw[:idx]
				port = parsedPort
			}
		}
	}

	host = strings.TrimSuffix(host, ".")
	host = strings.ToLower(host)
	return host, port
}
