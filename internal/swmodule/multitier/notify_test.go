package multitier

import (
	"context"
	"errors"
	"testing"

	"github.com/fintrack/cachehub/internal/worker"
)

func TestPushBroadcastsNotification(t *testing.T) {
	h := newHarness(t)
	h.install(t, "v1")
	page := h.reg.Connect(testOrigin + "/")

	n, err := h.reg.Push(context.Background(), "Budget exceeded")
	if err != nil {
		t.Fatalf("push: %v", err)
	}
	if n.Body != "Budget exceeded" || n.Icon != "/icons/icon-192x192.png" || n.Badge != "/icons/icon-72x72.png" {
		t.Fatalf("unexpected notification: %+v", n)
	}
	if len(n.Actions) != 2 || n.Actions[0].Action != "explore" || n.Actions[1].Action != "close" {
		t.Fatalf("unexpected actions: %+v", n.Actions)
	}
	msg := <-page.Messages()
	if msg.Type != worker.MessageNotification || msg.Notification == nil {
		t.Fatalf("expected notification broadcast, got %+v", msg)
	}

	n, err = h.reg.Push(context.Background(), "")
	if err != nil || n.Body != defaultPushBody {
		t.Fatalf("empty payload should use default body, got %+v (%v)", n, err)
	}
}

func TestNotificationClickExploreOpensDashboard(t *testing.T) {
	h := newHarness(t)
	h.install(t, "v1")
	page := h.reg.Connect(testOrigin + "/")

	target, err := h.reg.NotificationClick(context.Background(), "explore")
	if err != nil || target != "/dashboard" {
		t.Fatalf("explore should open /dashboard, got %q (%v)", target, err)
	}
	msg := <-page.Messages()
	if msg.Type != worker.MessageOpenWindow || msg.URL != "/dashboard" {
		t.Fatalf("unexpected broadcast: %+v", msg)
	}

	target, err = h.reg.NotificationClick(context.Background(), "close")
	if err != nil || target != "" {
		t.Fatalf("close should not open anything, got %q (%v)", target, err)
	}
}

func TestSyncIsLogOnly(t *testing.T) {
	h := newHarness(t)
	if err := h.reg.Sync(context.Background(), "background-sync"); !errors.Is(err, worker.ErrNoActiveWorker) {
		t.Fatalf("sync without active worker should fail, got %v", err)
	}
	h.install(t, "v1")
	for _, tag := range []string{"background-sync", "other"} {
		if err := h.reg.Sync(context.Background(), tag); err != nil {
			t.Fatalf("sync %s: %v", tag, err)
		}
	}
}
