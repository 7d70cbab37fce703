package worker

import (
	"context"
	"errors"
)

// Network 对应 worker 内部的 fetch()：返回 error 表示网络不可用，
// 任何 HTTP 状态码（包括 5xx）都视为成功到达网络。
type Network interface {
	Fetch(ctx context.Context, req *Request) (*Response, error)
}

// NetworkFunc 将函数适配为 Network。
type NetworkFunc func(ctx context.Context, req *Request) (*Response, error)

// Fetch 实现 Network。
func (f NetworkFunc) Fetch(ctx context.Context, req *Request) (*Response, error) {
	return f(ctx, req)
}

// ErrOffline 供测试与离线网络实现使用。
var ErrOffline = errors.New("network unavailable")
