package cache

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"
)

// Store 负责管理单个站点的缓存分区。磁盘布局遵循：
//
//	<StoragePath>/<Site>/<Partition>/<path>.body    # 响应正文
//	<StoragePath>/<Site>/<Partition>/<path>.meta    # 状态码、头部等元数据（JSON）
//
// 缺少 .meta 的条目视为不存在。
type Store interface {
	// Get 返回一个可流式读取的缓存条目。若不存在则返回 ErrNotFound。
	Get(ctx context.Context, locator Locator) (*ReadResult, error)

	// Put 将响应写入缓存，并产出新的 Entry 描述。实现需通过临时文件 + rename
	// 保证写入原子性，并在失败时清理临时文件。
	Put(ctx context.Context, locator Locator, body io.Reader, opts PutOptions) (*Entry, error)

	// Remove 删除单个条目的正文与元数据。
	Remove(ctx context.Context, locator Locator) error

	// Partitions 按名称排序返回当前存在的全部分区。
	Partitions(ctx context.Context) ([]string, error)

	// DeletePartition 删除整个分区及其所有条目，分区不存在时不报错。
	DeletePartition(ctx context.Context, name string) error
}

// PutOptions 控制写入过程中的可选属性。
type PutOptions struct {
	ModTime time.Time
	Meta    Metadata
}

// Locator 唯一定位一个缓存条目（分区 + 相对路径），所有路径均为 URL 路径风格。
type Locator struct {
	Partition string
	Path      string
}

// Metadata 记录重放响应所需的信息。
type Metadata struct {
	Status   int         `json:"status"`
	Header   http.Header `json:"header,omitempty"`
	Type     string      `json:"type,omitempty"`
	URL      string      `json:"url,omitempty"`
	StoredAt time.Time   `json:"stored_at"`
}

// Entry 表示一次缓存命中结果，包含绝对文件路径及文件信息。
type Entry struct {
	Locator   Locator  `json:"locator"`
	FilePath  string   `json:"file_path"`
	SizeBytes int64    `json:"size_bytes"`
	Meta      Metadata `json:"meta"`
	ModTime   time.Time
}

// ReadResult 组合 Entry 与正文 Reader，便于代理层直接将 Body 流式返回。
type ReadResult struct {
	Entry  Entry
	Reader io.ReadSeekCloser
}

// ErrNotFound 表示缓存不存在。
var ErrNotFound = errors.New("cache entry not found")

// ErrInvalidPartition 表示分区名称为空或包含路径分隔符。
var ErrInvalidPartition = errors.New("invalid partition name")
