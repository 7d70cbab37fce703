package routes

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/fintrack/cachehub/internal/logging"
	"github.com/fintrack/cachehub/internal/server"
	"github.com/fintrack/cachehub/internal/worker"
)

// RegisterSiteRoutes 暴露 /-/sites 诊断与事件接口：查看 worker 状态、投递消息、
// 触发 sync/push/notificationclick 事件以及发布新版本。
func RegisterSiteRoutes(app *fiber.App, registry *server.SiteRegistry, logger *logrus.Logger) {
	if app == nil || registry == nil {
		return
	}
	h := &siteRoutes{registry: registry, logger: logger}

	app.Get("/-/sites", h.list)
	app.Get("/-/sites/:site/worker", h.worker)
	app.Get("/-/sites/:site/events", h.events)
	app.Delete("/-/sites/:site/clients/:id", h.disconnect)
	app.Post("/-/sites/:site/messages", h.message)
	app.Post("/-/sites/:site/sync", h.sync)
	app.Post("/-/sites/:site/push", h.push)
	app.Post("/-/sites/:site/notificationclick", h.notificationClick)
	app.Post("/-/sites/:site/update", h.update)
}

type siteRoutes struct {
	registry *server.SiteRegistry
	logger   *logrus.Logger
}

type sitePayload struct {
	Name       string           `json:"name"`
	Domain     string           `json:"domain"`
	Upstream   string           `json:"upstream"`
	Worker     string           `json:"worker"`
	Version    string           `json:"version"`
	State      worker.State     `json:"state,omitempty"`
	CacheNames []string         `json:"cache_names"`
	Partitions []string         `json:"partitions"`
	Clients    int              `json:"clients"`
	Snapshot   *worker.Snapshot `json:"snapshot,omitempty"`
}

func (h *siteRoutes) list(c fiber.Ctx) error {
	routes := h.registry.List()
	payload := make([]sitePayload, 0, len(routes))
	for _, route := range routes {
		payload = append(payload, encodeSite(c.Context(), route, false))
	}
	return c.JSON(fiber.Map{"sites": payload})
}

func (h *siteRoutes) worker(c fiber.Ctx) error {
	route, ok := h.site(c)
	if !ok {
		return siteNotFound(c)
	}
	return c.JSON(encodeSite(c.Context(), route, true))
}

func encodeSite(ctx context.Context, route *server.SiteRoute, detailed bool) sitePayload {
	site := route.Config()
	snap := route.Registration.Snapshot()
	payload := sitePayload{
		Name:     site.Name,
		Domain:   site.Domain,
		Upstream: site.Upstream,
		Worker:   route.ModuleKey(),
		Clients:  len(snap.Clients),
	}
	if snap.Active != nil {
		payload.Version = snap.Active.Version
		payload.State = snap.Active.State
		payload.CacheNames = snap.Active.CacheNames
	}
	// 分区读取失败时只返回空列表，诊断接口不应因磁盘问题报错。
	if names, err := route.Store.Partitions(ctx); err == nil {
		payload.Partitions = names
	}
	if payload.Partitions == nil {
		payload.Partitions = []string{}
	}
	if payload.CacheNames == nil {
		payload.CacheNames = []string{}
	}
	if detailed {
		payload.Snapshot = &snap
	}
	return payload
}

func (h *siteRoutes) message(c fiber.Ctx) error {
	route, ok := h.site(c)
	if !ok {
		return siteNotFound(c)
	}
	msg, ok := decodeMessage(c.Body())
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_message"})
	}
	if err := route.Registration.PostMessage(c.Context(), msg); err != nil {
		return h.eventError(c, route, "message", err)
	}
	h.logEvent(route, "message").WithField("type", msg.Type).Info("worker_message_delivered")
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"delivered": true})
}

// decodeMessage 要求 JSON 对象且 type 非空。
func decodeMessage(raw []byte) (worker.Message, bool) {
	var msg worker.Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return worker.Message{}, false
	}
	if strings.TrimSpace(msg.Type) == "" {
		return worker.Message{}, false
	}
	return msg, true
}

type syncRequest struct {
	Tag string `json:"tag"`
}

func (h *siteRoutes) sync(c fiber.Ctx) error {
	route, ok := h.site(c)
	if !ok {
		return siteNotFound(c)
	}
	var body syncRequest
	if err := json.Unmarshal(c.Body(), &body); err != nil || body.Tag == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "sync_tag_required"})
	}
	if err := route.Registration.Sync(c.Context(), body.Tag); err != nil {
		return h.eventError(c, route, "sync", err)
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"tag": body.Tag})
}

func (h *siteRoutes) push(c fiber.Ctx) error {
	route, ok := h.site(c)
	if !ok {
		return siteNotFound(c)
	}
	notification, err := route.Registration.Push(c.Context(), string(c.Body()))
	if err != nil {
		return h.eventError(c, route, "push", err)
	}
	return c.JSON(notification)
}

type notificationClickRequest struct {
	Action string `json:"action"`
}

func (h *siteRoutes) notificationClick(c fiber.Ctx) error {
	route, ok := h.site(c)
	if !ok {
		return siteNotFound(c)
	}
	var body notificationClickRequest
	if len(c.Body()) > 0 {
		if err := json.Unmarshal(c.Body(), &body); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_notification_click"})
		}
	}
	target, err := route.Registration.NotificationClick(c.Context(), body.Action)
	if err != nil {
		return h.eventError(c, route, "notificationclick", err)
	}
	return c.JSON(fiber.Map{"action": body.Action, "url": target})
}

type updateRequest struct {
	Version string `json:"version"`
}

func (h *siteRoutes) update(c fiber.Ctx) error {
	route, ok := h.site(c)
	if !ok {
		return siteNotFound(c)
	}
	var body updateRequest
	if err := json.Unmarshal(c.Body(), &body); err != nil || strings.TrimSpace(body.Version) == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "version_required"})
	}
	site := route.Config()
	if err := h.registry.Update(context.WithoutCancel(c.Context()), site.Name, strings.TrimSpace(body.Version)); err != nil {
		h.logEvent(route, "update").WithError(err).Warn("worker_update_failed")
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error":   "update_failed",
			"message": err.Error(),
		})
	}
	return c.JSON(encodeSite(c.Context(), route, true))
}

func (h *siteRoutes) site(c fiber.Ctx) (*server.SiteRoute, bool) {
	return h.registry.Site(strings.TrimSpace(c.Params("site")))
}

func siteNotFound(c fiber.Ctx) error {
	return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "site_not_found"})
}

func (h *siteRoutes) eventError(c fiber.Ctx, route *server.SiteRoute, action string, err error) error {
	h.logEvent(route, action).WithError(err).Warn("worker_event_rejected")
	switch {
	case errors.Is(err, worker.ErrNoActiveWorker):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "no_active_worker"})
	case errors.Is(err, worker.ErrUnsupported):
		return c.Status(fiber.StatusNotImplemented).JSON(fiber.Map{"error": "unsupported_event"})
	default:
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "worker_event_failed"})
	}
}

func (h *siteRoutes) logEvent(route *server.SiteRoute, action string) *logrus.Entry {
	logger := h.logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	site := route.Config()
	return logger.WithFields(logging.WorkerFields(site.Name, route.ModuleKey(), route.ActiveVersion(), action))
}
