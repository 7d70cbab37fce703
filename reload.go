package main

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/fintrack/cachehub/internal/config"
	"github.com/fintrack/cachehub/internal/logging"
	"github.com/fintrack/cachehub/internal/server"
)

// reloader 比较新旧配置，把 worker 相关字段发生变化的站点重新安装。
type reloader struct {
	mu       sync.Mutex
	current  *config.Config
	registry *server.SiteRegistry
	logger   *logrus.Logger
}

func newReloader(cfg *config.Config, registry *server.SiteRegistry, logger *logrus.Logger) *reloader {
	return &reloader{current: cfg, registry: registry, logger: logger}
}

// apply 是 config.Watch 的回调；解析失败时保留旧配置。
func (r *reloader) apply(next *config.Config, err error) {
	if err != nil {
		r.logger.WithField("action", "config_reload").WithError(err).Warn("config_reload_rejected")
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	changed := config.ChangedSites(r.current, next)
	r.current = next
	for _, site := range changed {
		fields := logging.WorkerFields(site.Name, site.Worker, site.CacheVersion, "config_reload")
		if err := r.registry.Apply(context.Background(), site); err != nil {
			r.logger.WithFields(fields).WithError(err).Error("worker_reload_failed")
			continue
		}
		r.logger.WithFields(fields).Info("worker_reloaded")
	}
}
