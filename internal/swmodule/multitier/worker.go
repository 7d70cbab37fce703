package multitier

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/fintrack/cachehub/internal/swmodule"
	"github.com/fintrack/cachehub/internal/worker"
)

const (
	roleStatic  = "static"
	roleRuntime = "runtime"
	roleAPI     = "api"

	// precacheConcurrency 限制 install 阶段同时发往源站的请求数。
	precacheConcurrency = 4
)

// Worker 是 multitier profile 的一个版本，所有字段在构造后只读。
type Worker struct {
	settings swmodule.Settings

	staticCache  string
	runtimeCache string
	apiCache     string
	manifest     map[string]struct{}
}

// New 根据站点设置构造 worker 版本。
func New(s swmodule.Settings) *Worker {
	manifest := make(map[string]struct{}, len(s.Manifest))
	for _, p := range s.Manifest {
		manifest[p] = struct{}{}
	}
	return &Worker{
		settings:     s,
		staticCache:  swmodule.CacheName(s.CachePrefix, roleStatic, s.Version),
		runtimeCache: swmodule.CacheName(s.CachePrefix, roleRuntime, s.Version),
		apiCache:     swmodule.CacheName(s.CachePrefix, roleAPI, s.Version),
		manifest:     manifest,
	}
}

func (w *Worker) Key() string     { return moduleKey }
func (w *Worker) Version() string { return w.settings.Version }

// CacheNames 返回当前版本的三个分区名，顺序即 Match 的查找顺序。
func (w *Worker) CacheNames() []string {
	return []string{w.staticCache, w.runtimeCache, w.apiCache}
}

// Install 并发拉取 manifest，全部 2xx 后才写入 shell 分区，随后请求跳过等待。
func (w *Worker) Install(ctx context.Context, scope *worker.Scope) error {
	requests, responses, err := precache(ctx, scope, w.settings.Manifest)
	if err != nil {
		return err
	}
	for i, req := range requests {
		if err := scope.Put(ctx, w.staticCache, req, responses[i]); err != nil {
			return fmt.Errorf("store %s: %w", req.Path(), err)
		}
	}
	scope.Logger.WithFields(logrus.Fields{
		"action":    "install",
		"partition": w.staticCache,
		"entries":   len(requests),
	}).Info("precache_complete")

	scope.SkipWaiting(ctx)
	return nil
}

// Activate 删除非当前分区并等待完成，然后接管页面并广播激活消息。
func (w *Worker) Activate(ctx context.Context, scope *worker.Scope) error {
	deleted, err := scope.Prune(ctx, w.CacheNames())
	if err != nil {
		return fmt.Errorf("prune partitions: %w", err)
	}
	if len(deleted) > 0 {
		scope.Logger.WithFields(logrus.Fields{
			"action":  "activate",
			"deleted": deleted,
		}).Info("partitions_pruned")
	}
	scope.Claim()
	scope.Broadcast(worker.Message{Type: worker.MessageActivated, Version: w.settings.Version})
	return nil
}

// Message 只识别 SKIP_WAITING，其余消息忽略。
func (w *Worker) Message(ctx context.Context, scope *worker.Scope, msg worker.Message) {
	if msg.Type == worker.MessageSkipWaiting {
		scope.SkipWaiting(ctx)
	}
}

// Fetch 跨域请求不处理；API 前缀走 network-first，其余走 cache-first。
func (w *Worker) Fetch(ctx context.Context, scope *worker.Scope, req *worker.Request) (*worker.Response, bool) {
	if !scope.SameOrigin(req.URL) {
		return nil, false
	}
	if w.isAPI(req) {
		return w.networkFirst(ctx, scope, req), true
	}
	return w.cacheFirst(ctx, scope, req), true
}

func precache(ctx context.Context, scope *worker.Scope, manifest []string) ([]*worker.Request, []*worker.Response, error) {
	requests := make([]*worker.Request, len(manifest))
	responses := make([]*worker.Response, len(manifest))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(precacheConcurrency)
	for i, p := range manifest {
		g.Go(func() error {
			target := scope.Origin.ResolveReference(&url.URL{Path: p})
			req := worker.NewRequest(http.MethodGet, target, nil, nil)
			resp, err := scope.Network.Fetch(gctx, req)
			if err != nil {
				return fmt.Errorf("precache %s: %w", p, err)
			}
			defer resp.Close()
			if !resp.OK() {
				return fmt.Errorf("precache %s: unexpected status %d", p, resp.Status)
			}
			body, err := io.ReadAll(resp.Body)
			if err != nil {
				return fmt.Errorf("precache %s: %w", p, err)
			}
			resp.Body = io.NopCloser(bytes.NewReader(body))
			requests[i] = req
			responses[i] = resp
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return requests, responses, nil
}
