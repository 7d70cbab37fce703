package proxy

import (
	"fmt"
	"strings"
	"sync"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/fintrack/cachehub/internal/logging"
	"github.com/fintrack/cachehub/internal/server"
)

// Forwarder 根据站点 worker profile 选择 ProxyHandler，默认回退到构造时注入的 handler，
// 并负责把 handler panic 转换为 500 响应。
type Forwarder struct {
	defaultHandler server.ProxyHandler
	logger         *logrus.Logger
}

// NewForwarder 创建 Forwarder；defaultHandler 为空时未注册 profile 的站点返回 500。
func NewForwarder(defaultHandler server.ProxyHandler, logger *logrus.Logger) *Forwarder {
	return &Forwarder{
		defaultHandler: defaultHandler,
		logger:         logger,
	}
}

var (
	profileHandlers sync.Map
)

// Handle 实现 server.ProxyHandler。
func (f *Forwarder) Handle(c fiber.Ctx, route *server.SiteRoute) error {
	requestID := server.RequestID(c)
	handler := f.lookup(route)
	if handler == nil {
		return f.respondMissingHandler(c, route, requestID)
	}
	return f.invokeHandler(c, route, handler, requestID)
}

func (f *Forwarder) respondMissingHandler(c fiber.Ctx, route *server.SiteRoute, requestID string) error {
	f.logModuleError(route, "module_handler_missing", nil, requestID)
	setRequestIDHeader(c, requestID)
	return c.Status(fiber.StatusInternalServerError).
		JSON(fiber.Map{"error": "module_handler_missing"})
}

func (f *Forwarder) invokeHandler(c fiber.Ctx, route *server.SiteRoute, handler server.ProxyHandler, requestID string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = f.respondHandlerPanic(c, route, r, requestID)
		}
	}()
	return handler.Handle(c, route)
}

func (f *Forwarder) respondHandlerPanic(c fiber.Ctx, route *server.SiteRoute, recovered interface{}, requestID string) error {
	f.logModuleError(route, "module_handler_panic", fmt.Errorf("panic: %v", recovered), requestID)
	setRequestIDHeader(c, requestID)
	return c.Status(fiber.StatusInternalServerError).
		JSON(fiber.Map{"error": "module_handler_panic"})
}

func setRequestIDHeader(c fiber.Ctx, requestID string) {
	if requestID != "" {
		c.Set("X-Request-ID", requestID)
	}
}

func (f *Forwarder) logModuleError(route *server.SiteRoute, code string, err error, requestID string) {
	if f.logger == nil {
		return
	}
	fields := f.routeFields(route, requestID)
	fields["action"] = "proxy"
	fields["error"] = code
	if err != nil {
		f.logger.WithFields(fields).Error(err.Error())
		return
	}
	f.logger.WithFields(fields).Error("proxy handler unavailable")
}

func (f *Forwarder) lookup(route *server.SiteRoute) server.ProxyHandler {
	if route != nil {
		if handler := lookupProfileHandler(route.ModuleKey()); handler != nil {
			return handler
		}
	}
	return f.defaultHandler
}

func lookupProfileHandler(key string) server.ProxyHandler {
	normalized := normalizeProfileKey(key)
	if normalized == "" {
		return nil
	}
	if value, ok := profileHandlers.Load(normalized); ok {
		if handler, ok := value.(server.ProxyHandler); ok {
			return handler
		}
	}
	return nil
}

func normalizeProfileKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

func (f *Forwarder) routeFields(route *server.SiteRoute, requestID string) logrus.Fields {
	var fields logrus.Fields
	if route == nil {
		fields = logging.RequestFields("", "", "", "", "", false)
	} else {
		site := route.Config()
		fields = logging.RequestFields(
			site.Name,
			site.Domain,
			route.ModuleKey(),
			route.ActiveVersion(),
			"",
			false,
		)
	}
	if requestID != "" {
		fields["request_id"] = requestID
	}
	return fields
}
