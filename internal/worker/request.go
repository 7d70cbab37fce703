package worker

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"
)

// Request 描述一次被拦截的页面请求，对应浏览器 fetch 事件中的 Request。
type Request struct {
	Method string
	// URL 为绝对地址（含 scheme/host），用于同源判断。
	URL    *url.URL
	Header http.Header
	Body   []byte
	// Mode/Destination 来自 Sec-Fetch-Mode / Sec-Fetch-Dest，缺失时按 Accept 推断。
	Mode        string
	Destination string
}

// NewRequest 根据 http 头补全 Mode/Destination。
func NewRequest(method string, u *url.URL, header http.Header, body []byte) *Request {
	if header == nil {
		header = http.Header{}
	}
	return &Request{
		Method:      strings.ToUpper(method),
		URL:         u,
		Header:      header,
		Body:        body,
		Mode:        strings.ToLower(header.Get("Sec-Fetch-Mode")),
		Destination: strings.ToLower(header.Get("Sec-Fetch-Dest")),
	}
}

// Path 返回清理后的请求路径，空路径视为 "/"。
func (r *Request) Path() string {
	if r == nil || r.URL == nil || r.URL.Path == "" {
		return "/"
	}
	return path.Clean("/" + r.URL.Path)
}

// CacheKey 返回同源相对的缓存键：路径 + 可选的 /__qs/<sha1(query)>。
func (r *Request) CacheKey() string {
	clean := r.Path()
	if r.URL != nil && r.URL.RawQuery != "" {
		sum := sha1.Sum([]byte(r.URL.RawQuery))
		clean = fmt.Sprintf("%s/__qs/%s", clean, hex.EncodeToString(sum[:]))
	}
	return clean
}

// IsNavigation 判断是否为文档/导航请求。
func (r *Request) IsNavigation() bool {
	if r.Mode == "navigate" || r.Destination == "document" {
		return true
	}
	if r.Mode != "" || r.Destination != "" {
		return false
	}
	return r.Method == http.MethodGet && strings.Contains(r.Header.Get("Accept"), "text/html")
}

var imageExtensions = map[string]struct{}{
	".png": {}, ".jpg": {}, ".jpeg": {}, ".gif": {}, ".svg": {}, ".webp": {}, ".ico": {}, ".avif": {},
}

// IsImage 判断是否为图片请求。
func (r *Request) IsImage() bool {
	if r.Destination == "image" {
		return true
	}
	if r.Destination != "" {
		return false
	}
	if strings.HasPrefix(r.Header.Get("Accept"), "image/") {
		return true
	}
	_, ok := imageExtensions[strings.ToLower(path.Ext(r.Path()))]
	return ok
}

// SameOrigin 比较 host（忽略大小写、端口与末尾点号）。
func SameOrigin(a, b *url.URL) bool {
	if a == nil || b == nil {
		return false
	}
	return normalizeHost(a.Hostname()) == normalizeHost(b.Hostname())
}

func normalizeHost(host string) string {
	return strings.ToLower(strings.TrimSuffix(strings.TrimSpace(host), "."))
}
