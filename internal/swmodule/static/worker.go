package static

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/fintrack/cachehub/internal/swmodule"
	"github.com/fintrack/cachehub/internal/worker"
)

const strategyCacheFirst = "cache-first"

// Worker 是 static profile 的一个版本。
type Worker struct {
	settings  swmodule.Settings
	cacheName string
}

// New 根据站点设置构造 worker 版本。
func New(s swmodule.Settings) *Worker {
	return &Worker{
		settings:  s,
		cacheName: swmodule.CacheName(s.CachePrefix, "", s.Version),
	}
}

func (w *Worker) Key() string          { return moduleKey }
func (w *Worker) Version() string      { return w.settings.Version }
func (w *Worker) CacheNames() []string { return []string{w.cacheName} }

// Install 顺序拉取 manifest 并全部保存在内存中，全部成功后才写入分区。
func (w *Worker) Install(ctx context.Context, scope *worker.Scope) error {
	requests := make([]*worker.Request, 0, len(w.settings.Manifest))
	responses := make([]*worker.Response, 0, len(w.settings.Manifest))
	for _, p := range w.settings.Manifest {
		req := worker.NewRequest(http.MethodGet, scope.Origin.ResolveReference(&url.URL{Path: p}), nil, nil)
		resp, err := fetchBuffered(ctx, scope, req)
		if err != nil {
			return fmt.Errorf("precache %s: %w", p, err)
		}
		requests = append(requests, req)
		responses = append(responses, resp)
	}
	for i, req := range requests {
		if err := scope.Put(ctx, w.cacheName, req, responses[i]); err != nil {
			return fmt.Errorf("store %s: %w", req.Path(), err)
		}
	}
	scope.Logger.WithField("action", "install").WithField("partition", w.cacheName).Info("precache_complete")
	return nil
}

// Activate 不做清理。
func (w *Worker) Activate(ctx context.Context, scope *worker.Scope) error {
	return nil
}

// Message 忽略所有消息。
func (w *Worker) Message(ctx context.Context, scope *worker.Scope, msg worker.Message) {}

// Fetch 命中缓存直接返回，否则原样访问网络；网络失败时不做任何兜底。
func (w *Worker) Fetch(ctx context.Context, scope *worker.Scope, req *worker.Request) (*worker.Response, bool) {
	if req.Method == http.MethodGet {
		if cached, err := scope.Match(ctx, w.CacheNames(), req); err == nil {
			cached.Strategy = strategyCacheFirst
			return cached, true
		}
	}
	resp, err := scope.Network.Fetch(ctx, req)
	if err != nil {
		scope.Logger.WithError(err).WithField("action", "fetch").WithField("path", req.Path()).Debug("network_unavailable")
		return worker.UpstreamFailed(), true
	}
	resp.Source = worker.SourceNetwork
	resp.Strategy = strategyCacheFirst
	return resp, true
}

func fetchBuffered(ctx context.Context, scope *worker.Scope, req *worker.Request) (*worker.Response, error) {
	resp, err := scope.Network.Fetch(ctx, req)
	if err != nil {
		return nil, err
	}
	defer resp.Close()
	if !resp.OK() {
		return nil, fmt.Errorf("unexpected status %d", resp.Status)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	resp.Body = io.NopCloser(bytes.NewReader(body))
	return resp, nil
}
