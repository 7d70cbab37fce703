package multitier

import (
	"context"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/fintrack/cachehub/internal/worker"
)

const (
	strategyNetworkFirst = "network-first"
	strategyCacheFirst   = "cache-first"
)

func (w *Worker) isAPI(req *worker.Request) bool {
	prefix := w.settings.APIPrefix
	if prefix == "" {
		return false
	}
	return strings.HasPrefix(req.Path(), prefix)
}

// networkFirst 先访问网络，2xx 写入 API 分区；网络失败时回退缓存，仍未命中则返回离线 JSON。
func (w *Worker) networkFirst(ctx context.Context, scope *worker.Scope, req *worker.Request) *worker.Response {
	resp, err := scope.Network.Fetch(ctx, req)
	if err == nil {
		resp.Source = worker.SourceNetwork
		resp.Strategy = strategyNetworkFirst
		if resp.OK() {
			scope.Tee(ctx, w.apiCache, req, resp)
		}
		return resp
	}
	logNetworkFailure(scope, req, err, strategyNetworkFirst)

	if cached := w.match(ctx, scope, req); cached != nil {
		cached.Strategy = strategyNetworkFirst
		return cached
	}
	resp = offlineJSON()
	resp.Strategy = strategyNetworkFirst
	return resp
}

// cacheFirst 命中缓存直接返回；否则访问网络，仅 200 且 basic 的响应写入 shell 或 runtime 分区。
func (w *Worker) cacheFirst(ctx context.Context, scope *worker.Scope, req *worker.Request) *worker.Response {
	if cached := w.match(ctx, scope, req); cached != nil {
		cached.Strategy = strategyCacheFirst
		return cached
	}

	resp, err := scope.Network.Fetch(ctx, req)
	if err != nil {
		logNetworkFailure(scope, req, err, strategyCacheFirst)
		fallback := offlineFallback(req)
		fallback.Strategy = strategyCacheFirst
		return fallback
	}
	resp.Source = worker.SourceNetwork
	resp.Strategy = strategyCacheFirst
	if resp.Status == http.StatusOK && resp.Type == worker.ResponseBasic {
		scope.Tee(ctx, w.partitionFor(req), req, resp)
	}
	return resp
}

// partitionFor 在写入时一次性决定分区：manifest 中的路径进入 shell，其余进入 runtime。
func (w *Worker) partitionFor(req *worker.Request) string {
	if _, ok := w.manifest[req.Path()]; ok {
		return w.staticCache
	}
	return w.runtimeCache
}

// match 只查找当前版本的分区，非 GET 请求永远不命中。
func (w *Worker) match(ctx context.Context, scope *worker.Scope, req *worker.Request) *worker.Response {
	if req.Method != http.MethodGet {
		return nil
	}
	cached, err := scope.Match(ctx, w.CacheNames(), req)
	if err != nil {
		return nil
	}
	return cached
}

func logNetworkFailure(scope *worker.Scope, req *worker.Request, err error, strategy string) {
	scope.Logger.WithError(err).WithFields(logrus.Fields{
		"action":   "fetch",
		"strategy": strategy,
		"path":     req.Path(),
	}).Debug("network_unavailable")
}
