package proxy

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/fintrack/cachehub/internal/logging"
	"github.com/fintrack/cachehub/internal/metrics"
	"github.com/fintrack/cachehub/internal/server"
	"github.com/fintrack/cachehub/internal/worker"
)

// 边缘层附加在每个响应上的诊断头。
const (
	headerSource    = "X-Cachehub-Source"
	headerCacheHit  = "X-Cachehub-Cache-Hit"
	headerPartition = "X-Cachehub-Partition"
	headerStrategy  = "X-Cachehub-Strategy"
)

// Handler 把每个页面请求转换成 fetch 事件交给站点的 active worker；
// 没有 active worker 或 worker 不处理时直接透传到上游。
type Handler struct {
	logger  *logrus.Logger
	metrics *metrics.Recorder
}

// NewHandler constructs a proxy handler with shared logger/metrics.
func NewHandler(logger *logrus.Logger, recorder *metrics.Recorder) *Handler {
	return &Handler{
		logger:  logger,
		metrics: recorder,
	}
}

// Handle 执行 worker 派发与最终 streaming，任何阶段出错都会输出结构化日志。
func (h *Handler) Handle(c fiber.Ctx, route *server.SiteRoute) error {
	started := time.Now()
	requestID := server.RequestID(c)

	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	req := buildWorkerRequest(c, route)

	resp, handled := route.Registration.Fetch(ctx, req)
	if !handled {
		passthrough, err := route.Network.Fetch(ctx, req)
		if err != nil {
			h.logResult(route, req, requestID, nil, started, err)
			return h.writeError(c, route, fiber.StatusBadGateway, "upstream_failed", requestID, started)
		}
		passthrough.Source = worker.SourcePassthrough
		resp = passthrough
	}
	defer resp.Close()

	return h.writeResponse(c, route, req, resp, requestID, started)
}

func (h *Handler) writeResponse(
	c fiber.Ctx,
	route *server.SiteRoute,
	req *worker.Request,
	resp *worker.Response,
	requestID string,
	started time.Time,
) error {
	copyResponseHeaders(c, resp.Header)
	cacheHit := resp.Source == worker.SourceCache
	c.Set(headerSource, string(resp.Source))
	c.Set(headerCacheHit, strconv.FormatBool(cacheHit))
	if resp.Partition != "" {
		c.Set(headerPartition, resp.Partition)
	}
	if resp.Strategy != "" {
		c.Set(headerStrategy, resp.Strategy)
	}
	if requestID != "" {
		c.Set("X-Request-ID", requestID)
	}
	c.Status(resp.Status)

	if req.Method == http.MethodHead {
		h.logResult(route, req, requestID, resp, started, nil)
		return nil
	}

	var err error
	if resp.Body != nil {
		_, err = io.Copy(c.Response().BodyWriter(), resp.Body)
	}
	h.logResult(route, req, requestID, resp, started, err)
	if err != nil {
		return fiber.NewError(fiber.StatusBadGateway, fmt.Sprintf("proxy stream failed: %v", err))
	}
	return nil
}

func (h *Handler) writeError(c fiber.Ctx, route *server.SiteRoute, status int, code, requestID string, started time.Time) error {
	c.Set(headerSource, string(worker.SourcePassthrough))
	c.Set(headerCacheHit, "false")
	if requestID != "" {
		c.Set("X-Request-ID", requestID)
	}
	h.metrics.ObserveRequest(route.Config().Name, worker.SourcePassthrough, status, time.Since(started))
	return c.Status(status).JSON(fiber.Map{"error": code})
}

func (h *Handler) logResult(
	route *server.SiteRoute,
	req *worker.Request,
	requestID string,
	resp *worker.Response,
	started time.Time,
	err error,
) {
	site := route.Config()
	source := worker.SourcePassthrough
	status := 0
	if resp != nil {
		source = resp.Source
		status = resp.Status
	}
	fields := logging.RequestFields(
		site.Name,
		site.Domain,
		route.ModuleKey(),
		route.ActiveVersion(),
		string(source),
		source == worker.SourceCache,
	)
	fields["action"] = "proxy"
	fields["method"] = req.Method
	fields["path"] = req.Path()
	fields["status"] = status
	elapsed := time.Since(started)
	fields["elapsed_ms"] = elapsed.Milliseconds()
	if resp != nil {
		if resp.Strategy != "" {
			fields["strategy"] = resp.Strategy
		}
		if resp.Partition != "" {
			fields["partition"] = resp.Partition
		}
	}
	if requestID != "" {
		fields["request_id"] = requestID
	}
	if err != nil {
		fields["error"] = err.Error()
		h.logger.WithFields(fields).Error("proxy_failed")
		return
	}
	if resp != nil {
		h.metrics.ObserveRequest(site.Name, source, status, elapsed)
	}
	h.logger.WithFields(fields).Info("proxy_complete")
}

// buildWorkerRequest 复原页面看到的绝对地址，并附加 X-Forwarded-* 头供上游使用。
func buildWorkerRequest(c fiber.Ctx, route *server.SiteRoute) *worker.Request {
	uri := c.Request().URI()
	host := c.Hostname()
	if host == "" && route.Origin != nil {
		host = route.Origin.Host
	}
	target := &url.URL{
		Scheme:   c.Protocol(),
		Host:     host,
		Path:     requestPath(c),
		RawQuery: string(uri.QueryString()),
	}

	header := fiberHeadersAsHTTP(c)
	header.Set("X-Forwarded-Host", c.Hostname())
	if ip := c.IP(); ip != "" {
		if prior := header.Get("X-Forwarded-For"); prior != "" {
			header.Set("X-Forwarded-For", prior+", "+ip)
		} else {
			header.Set("X-Forwarded-For", ip)
		}
	}
	header.Set("X-Forwarded-Proto", c.Protocol())
	header.Set("X-Forwarded-Port", routePort(route))

	body := append([]byte(nil), c.Body()...)
	return worker.NewRequest(c.Method(), target, header, body)
}

func requestPath(c fiber.Ctx) string {
	if c == nil {
		return "/"
	}
	uri := c.Request().URI()
	if uri == nil {
		return "/"
	}
	pathVal := string(uri.Path())
	if pathVal == "" {
		return "/"
	}
	return pathVal
}

func fiberHeadersAsHTTP(c fiber.Ctx) http.Header {
	header := http.Header{}
	c.Request().Header.VisitAll(func(key, value []byte) {
		header.Add(string(key), string(value))
	})
	return header
}

func copyResponseHeaders(c fiber.Ctx, headers http.Header) {
	for key, values := range headers {
		if server.IsHopByHopHeader(key) {
			continue
		}
		for _, value := range values {
			c.Set(key, value)
		}
	}
}

func routePort(route *server.SiteRoute) string {
	if route == nil || route.ListenPort <= 0 {
		return "0"
	}
	return fmt.Sprintf("%d", route.ListenPort)
}
