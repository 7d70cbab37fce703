package worker

import (
	"context"
	"errors"
)

// Handler 是一个 worker 版本的脚本逻辑，由 swmodule 下的 profile 提供。
type Handler interface {
	// Key 返回 profile 键，例如 multitier/static。
	Key() string
	// Version 返回部署版本，决定分区名称。
	Version() string
	// CacheNames 返回当前版本拥有的分区名。
	CacheNames() []string
	// Install 预热缓存；返回错误时该版本变为 redundant。
	Install(ctx context.Context, scope *Scope) error
	// Activate 在切换为 active 之前执行，返回前必须完成所有清理。
	Activate(ctx context.Context, scope *Scope) error
	// Fetch 处理一次请求；handled=false 表示交给默认网络处理。
	Fetch(ctx context.Context, scope *Scope, req *Request) (resp *Response, handled bool)
	// Message 处理页面发来的消息，无法识别的消息直接忽略。
	Message(ctx context.Context, scope *Scope, msg Message)
}

// SyncHandler 是可选的 background sync 处理能力。
type SyncHandler interface {
	Sync(ctx context.Context, scope *Scope, tag string) error
}

// PushHandler 是可选的 push 处理能力。
type PushHandler interface {
	Push(ctx context.Context, scope *Scope, payload string) (*Notification, error)
}

// NotificationClickHandler 是可选的通知点击处理能力，返回需要打开的地址。
type NotificationClickHandler interface {
	NotificationClick(ctx context.Context, scope *Scope, action string) (string, error)
}

var (
	// ErrUnsupported 表示 active worker 未实现对应事件。
	ErrUnsupported = errors.New("event not supported by active worker")
	// ErrNoActiveWorker 表示当前站点没有 active worker。
	ErrNoActiveWorker = errors.New("no active worker")
)
