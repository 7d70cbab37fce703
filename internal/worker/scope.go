package worker

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/fintrack/cachehub/internal/cache"
)

// Scope 是 worker 版本可见的运行环境：源站、缓存存储、网络与页面客户端。
type Scope struct {
	Site    string
	Origin  *url.URL
	Caches  cache.Store
	Network Network
	Clients *Clients
	Logger  *logrus.Entry

	reg  *Registration
	inst *Instance
}

// SkipWaiting 请求跳过等待阶段；若该版本已处于 waiting 会立即激活。
func (s *Scope) SkipWaiting(ctx context.Context) {
	if s.reg == nil || s.inst == nil {
		return
	}
	s.reg.skipWaiting(ctx, s.inst)
}

// Claim 让当前版本接管所有已打开页面。
func (s *Scope) Claim() int {
	if s.Clients == nil {
		return 0
	}
	return s.Clients.Claim()
}

// Broadcast 向受控页面广播消息。
func (s *Scope) Broadcast(msg Message) int {
	if s.Clients == nil {
		return 0
	}
	return s.Clients.Broadcast(msg)
}

// SameOrigin 判断请求是否属于本站点。
func (s *Scope) SameOrigin(u *url.URL) bool {
	return SameOrigin(s.Origin, u)
}

// Match 依次在 names 中查找请求对应的缓存，未命中返回 cache.ErrNotFound。
func (s *Scope) Match(ctx context.Context, names []string, req *Request) (*Response, error) {
	result, err := cache.Match(ctx, s.Caches, names, req.CacheKey())
	if err != nil {
		if !errors.Is(err, cache.ErrNotFound) {
			s.Logger.WithError(err).WithField("action", "cache_match").Warn("cache_get_failed")
		}
		return nil, err
	}
	return responseFromCache(result), nil
}

// Tee 在响应返回给页面的同时把正文写入 partition，写入失败只记录日志。
// 仅 GET 请求会被缓存。
func (s *Scope) Tee(ctx context.Context, partition string, req *Request, resp *Response) {
	if resp == nil || resp.Body == nil || req.Method != http.MethodGet {
		return
	}
	locator := cache.Locator{Partition: partition, Path: req.CacheKey()}
	resp.Body = s.writer().Tee(ctx, locator, putOptions(req, resp), resp.Body)
}

// Put 同步写入缓存并消费 resp.Body，用于 install 阶段的预热。
func (s *Scope) Put(ctx context.Context, partition string, req *Request, resp *Response) error {
	defer resp.Close()
	locator := cache.Locator{Partition: partition, Path: req.CacheKey()}
	_, err := s.writer().Put(ctx, locator, resp.Body, putOptions(req, resp))
	return err
}

// Prune 删除 keep 以外的全部分区，返回前保证删除已完成。
func (s *Scope) Prune(ctx context.Context, keep []string) ([]string, error) {
	deleted, err := cache.Prune(ctx, s.Caches, keep)
	if len(deleted) > 0 && s.reg != nil {
		s.reg.observer.PartitionsPruned(s.Site, deleted)
	}
	return deleted, err
}

func (s *Scope) writer() cache.Writer {
	return cache.NewWriter(s.Caches).WithErrorHandler(func(loc cache.Locator, err error) {
		s.Logger.WithError(err).WithFields(logrus.Fields{
			"action":    "cache_put",
			"partition": loc.Partition,
			"path":      loc.Path,
		}).Debug("cache_write_failed")
		if s.reg != nil {
			s.reg.observer.CacheWriteFailed(s.Site, loc.Partition)
		}
	})
}

func putOptions(req *Request, resp *Response) cache.PutOptions {
	header := resp.Header.Clone()
	// Content-Length 由缓存文件大小决定。
	header.Del("Content-Length")
	return cache.PutOptions{
		ModTime: extractModTime(resp.Header),
		Meta: cache.Metadata{
			Status: resp.Status,
			Header: header,
			Type:   string(resp.Type),
			URL:    req.URL.String(),
		},
	}
}

func responseFromCache(result *cache.ReadResult) *Response {
	meta := result.Entry.Meta
	header := meta.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	header.Set("Content-Length", strconv.FormatInt(result.Entry.SizeBytes, 10))
	status := meta.Status
	if status == 0 {
		status = http.StatusOK
	}
	respType := ResponseType(meta.Type)
	if respType == "" {
		respType = ResponseBasic
	}
	return &Response{
		Status:    status,
		Header:    header,
		Body:      result.Reader,
		Type:      respType,
		Source:    SourceCache,
		Partition: result.Entry.Locator.Partition,
	}
}

func extractModTime(header http.Header) time.Time {
	if last := header.Get("Last-Modified"); last != "" {
		if parsed, err := http.ParseTime(last); err == nil {
			return parsed.UTC()
		}
	}
	return time.Now().UTC()
}
