package routes

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/fintrack/cachehub/internal/worker"
)

// eventsKeepAlive 是 SSE 心跳间隔，避免中间代理断开空闲连接。
var eventsKeepAlive = 25 * time.Second

// events 把一个 SSE 连接注册为页面客户端，worker 广播的消息以 data 行推送；
// 连接断开时注销客户端，最后一个受控页面离开会激活 waiting 版本。
func (h *siteRoutes) events(c fiber.Ctx) error {
	route, ok := h.site(c)
	if !ok {
		return siteNotFound(c)
	}
	pageURL := c.Query("url", "/")
	reg := route.Registration
	client := reg.Connect(pageURL)
	h.logEvent(route, "client_connect").WithField("client_id", client.ID).Info("client_connected")

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	return c.SendStreamWriter(func(w *bufio.Writer) {
		ticker := time.NewTicker(eventsKeepAlive)
		defer ticker.Stop()
		defer func() {
			if err := reg.Disconnect(context.Background(), client.ID); err != nil {
				h.logEvent(route, "client_disconnect").WithError(err).Warn("client_disconnect_failed")
			}
		}()
		_ = streamEvents(w, client.ID, client.Messages(), ticker.C)
	})
}

func (h *siteRoutes) disconnect(c fiber.Ctx) error {
	route, ok := h.site(c)
	if !ok {
		return siteNotFound(c)
	}
	if err := route.Registration.Disconnect(c.Context(), c.Params("id")); err != nil {
		return h.eventError(c, route, "client_disconnect", err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// streamEvents 首先发送 client 事件告知页面自身 ID，之后转发消息直到通道关闭或写入失败。
func streamEvents(w *bufio.Writer, clientID string, messages <-chan worker.Message, ping <-chan time.Time) error {
	if _, err := fmt.Fprintf(w, "event: client\ndata: {\"id\":%q}\n\n", clientID); err != nil {
		return err
	}
	if err := w.Flush(); err != nil {
		return err
	}
	for {
		select {
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			data, err := json.Marshal(msg)
			if err != nil {
				return err
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
				return err
			}
		case <-ping:
			if _, err := w.WriteString(": ping\n\n"); err != nil {
				return err
			}
		}
		if err := w.Flush(); err != nil {
			return err
		}
	}
}
