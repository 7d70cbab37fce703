package server

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"path"

	"github.com/fintrack/cachehub/internal/worker"
)

// UpstreamNetwork 是站点 worker 使用的网络层：把同源请求改写到 Upstream 并通过
// 共享 http.Client 发出。任何 HTTP 状态码都视为网络可达，只有传输错误才返回 error。
type UpstreamNetwork struct {
	client   *http.Client
	upstream *url.URL
}

// NewUpstreamNetwork 创建指向 upstream 的网络层。
func NewUpstreamNetwork(client *http.Client, upstream *url.URL) *UpstreamNetwork {
	return &UpstreamNetwork{client: client, upstream: upstream}
}

// Fetch 实现 worker.Network。
func (n *UpstreamNetwork) Fetch(ctx context.Context, req *worker.Request) (*worker.Response, error) {
	target := n.resolve(req.URL)
	httpReq, err := n.buildUpstreamRequest(ctx, target, req)
	if err != nil {
		return nil, err
	}

	resp, err := n.client.Do(httpReq)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	CopyHeaders(header, resp.Header)
	return &worker.Response{
		Status: resp.StatusCode,
		Header: header,
		Body:   resp.Body,
		Type:   n.responseType(resp),
		Source: worker.SourceNetwork,
	}, nil
}

func (n *UpstreamNetwork) buildUpstreamRequest(ctx context.Context, target *url.URL, req *worker.Request) (*http.Request, error) {
	var body io.Reader = http.NoBody
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target.String(), body)
	if err != nil {
		return nil, err
	}
	CopyHeaders(httpReq.Header, req.Header)
	httpReq.Header.Del("Accept-Encoding")
	httpReq.Header.Del("Host")
	httpReq.Host = target.Host
	return httpReq, nil
}

// resolve 保留请求路径与查询串，替换 scheme/host 为上游地址，并拼接上游的基础路径。
func (n *UpstreamNetwork) resolve(u *url.URL) *url.URL {
	target := *n.upstream
	reqPath := "/"
	rawQuery := ""
	if u != nil {
		if u.Path != "" {
			reqPath = u.Path
		}
		rawQuery = u.RawQuery
	}
	joined := path.Join("/", n.upstream.Path, reqPath)
	if reqPath != "/" && reqPath[len(reqPath)-1] == '/' && joined != "/" {
		joined += "/"
	}
	target.Path = joined
	target.RawPath = ""
	target.RawQuery = rawQuery
	target.Fragment = ""
	return &target
}

// responseType 以最终响应地址判断：仍在上游源站视为 basic，被重定向到其他源站视为 cors。
func (n *UpstreamNetwork) responseType(resp *http.Response) worker.ResponseType {
	if resp.Request == nil || resp.Request.URL == nil {
		return worker.ResponseBasic
	}
	if worker.SameOrigin(resp.Request.URL, n.upstream) {
		return worker.ResponseBasic
	}
	return worker.ResponseCORS
}
