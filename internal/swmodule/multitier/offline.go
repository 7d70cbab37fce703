package multitier

import (
	_ "embed"
	"encoding/json"
	"net/http"

	"github.com/fintrack/cachehub/internal/worker"
)

//go:embed offline.html
var offlinePage []byte

//go:embed offline.svg
var offlineImage []byte

// OfflinePage 返回离线导航兜底页，内容固定且不依赖任何外部资源。
func OfflinePage() []byte {
	return append([]byte(nil), offlinePage...)
}

type offlinePayload struct {
	Error   string `json:"error"`
	Offline bool   `json:"offline"`
	Message string `json:"message"`
}

var offlineJSONBody = mustJSON(offlinePayload{
	Error:   "Network unavailable",
	Offline: true,
	Message: "You are currently offline. Please check your connection.",
})

func offlineJSON() *worker.Response {
	return worker.Synthetic(http.StatusServiceUnavailable, "application/json", offlineJSONBody)
}

// offlineFallback 导航请求返回离线页，图片请求返回占位 SVG，其余返回空的 503。
func offlineFallback(req *worker.Request) *worker.Response {
	switch {
	case req.IsNavigation():
		return worker.Synthetic(http.StatusOK, "text/html; charset=utf-8", offlinePage)
	case req.IsImage():
		return worker.Synthetic(http.StatusOK, "image/svg+xml", offlineImage)
	default:
		return worker.Synthetic(http.StatusServiceUnavailable, "", nil)
	}
}

func mustJSON(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}
