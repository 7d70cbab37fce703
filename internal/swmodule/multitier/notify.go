package multitier

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/fintrack/cachehub/internal/worker"
)

const (
	syncTagBackground = "background-sync"

	actionExplore = "explore"
	actionClose   = "close"

	defaultPushBody = "You have new updates in FinTrack"
)

// Sync 只记录 background-sync 事件，其他 tag 直接忽略。
func (w *Worker) Sync(ctx context.Context, scope *worker.Scope, tag string) error {
	if tag == syncTagBackground {
		scope.Logger.WithFields(logrus.Fields{
			"action": "sync",
			"tag":    tag,
		}).Info("background_sync")
	}
	return nil
}

// Push 构造固定图标与两个动作的通知，并广播给受控页面。
func (w *Worker) Push(ctx context.Context, scope *worker.Scope, payload string) (*worker.Notification, error) {
	body := strings.TrimSpace(payload)
	if body == "" {
		body = defaultPushBody
	}
	n := &worker.Notification{
		Title:   w.settings.NotificationTitle,
		Body:    body,
		Icon:    w.settings.NotificationIcon,
		Badge:   w.settings.NotificationBadge,
		Vibrate: []int{100, 50, 100},
		Data:    map[string]any{"primaryKey": 1},
		Actions: []worker.NotificationAction{
			{Action: actionExplore, Title: "Open FinTrack", Icon: w.settings.NotificationIcon},
			{Action: actionClose, Title: "Close", Icon: w.settings.NotificationIcon},
		},
	}
	delivered := scope.Broadcast(worker.Message{Type: worker.MessageNotification, Notification: n})
	scope.Logger.WithFields(logrus.Fields{
		"action":    "push",
		"delivered": delivered,
	}).Info("notification_shown")
	return n, nil
}

// NotificationClick 在 explore 动作时打开 dashboard，返回需要打开的地址。
func (w *Worker) NotificationClick(ctx context.Context, scope *worker.Scope, action string) (string, error) {
	if action != actionExplore {
		return "", nil
	}
	target := w.settings.DashboardPath
	scope.Broadcast(worker.Message{Type: worker.MessageOpenWindow, URL: target})
	return target, nil
}
