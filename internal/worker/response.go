package worker

import (
	"bytes"
	"io"
	"net/http"
	"strconv"
)

// ResponseType 对应 Fetch 规范中的 Response.type。
type ResponseType string

const (
	ResponseBasic   ResponseType = "basic"
	ResponseCORS    ResponseType = "cors"
	ResponseOpaque  ResponseType = "opaque"
	ResponseDefault ResponseType = "default"
)

// Source 标记响应来源，用于响应头、日志与指标。
type Source string

const (
	SourceCache       Source = "cache"
	SourceNetwork     Source = "network"
	SourceOffline     Source = "offline"
	SourcePassthrough Source = "passthrough"
)

// Response 是 worker 交还给边缘层的响应。Body 必须由调用方关闭，
// 关闭时才会提交 tee 到缓存的写入。
type Response struct {
	Status int
	Header http.Header
	Body   io.ReadCloser
	Type   ResponseType

	Source    Source
	Strategy  string
	Partition string
}

// OK 对应 Response.ok（2xx）。
func (r *Response) OK() bool {
	return r != nil && r.Status >= 200 && r.Status <= 299
}

// Close 关闭正文，可安全地对 nil 调用。
func (r *Response) Close() error {
	if r == nil || r.Body == nil {
		return nil
	}
	return r.Body.Close()
}

// Synthetic 构造一个内存中的合成响应。
func Synthetic(status int, contentType string, body []byte) *Response {
	header := http.Header{}
	if contentType != "" {
		header.Set("Content-Type", contentType)
	}
	header.Set("Content-Length", strconv.Itoa(len(body)))
	return &Response{
		Status: status,
		Header: header,
		Body:   io.NopCloser(bytes.NewReader(body)),
		Type:   ResponseDefault,
		Source: SourceOffline,
	}
}

// UpstreamFailed 构造网络不可达且 worker 不提供兜底时的 502 响应。
func UpstreamFailed() *Response {
	resp := Synthetic(http.StatusBadGateway, "application/json", []byte(`{"error":"upstream_failed"}`))
	resp.Source = SourcePassthrough
	return resp
}
