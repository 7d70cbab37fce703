package cache

import (
	"context"
	"errors"
	"io"
	"sync"
)

// ErrStoreUnavailable 表示当前 worker 未注入缓存存储实例。
var ErrStoreUnavailable = errors.New("cache store unavailable")

// errIncompleteBody 表示读取方在 EOF 之前关闭了正文，此时丢弃半截写入。
var errIncompleteBody = errors.New("response body closed before EOF")

// Writer 封装 best-effort 的缓存写入，写入失败只通过 onError 回调上报。
type Writer struct {
	store   Store
	onError func(Locator, error)
}

// NewWriter 构造写入器，store 为空时所有写入都会被跳过。
func NewWriter(store Store) Writer {
	return Writer{store: store}
}

// WithErrorHandler 返回带错误回调的副本，回调用于记录日志/指标。
func (w Writer) WithErrorHandler(fn func(Locator, error)) Writer {
	w.onError = fn
	return w
}

// Enabled 返回当前是否具备缓存写入能力。
func (w Writer) Enabled() bool {
	return w.store != nil
}

// Put 同步写入缓存正文，并保持与 Store 相同的语义。
func (w Writer) Put(ctx context.Context, locator Locator, body io.Reader, opts PutOptions) (*Entry, error) {
	if w.store == nil {
		return nil, ErrStoreUnavailable
	}
	entry, err := w.store.Put(ctx, locator, body, opts)
	if err != nil {
		w.report(locator, err)
	}
	return entry, err
}

// Tee 返回一个新的 body：调用方读取的同时把字节写入缓存。只有读到 EOF
// 后 Close 才会提交条目；提前 Close 会丢弃写入。Close 会等待写入结束。
func (w Writer) Tee(ctx context.Context, locator Locator, opts PutOptions, body io.ReadCloser) io.ReadCloser {
	if w.store == nil || body == nil {
		return body
	}

	pr, pw := io.Pipe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := w.store.Put(context.WithoutCancel(ctx), locator, pr, opts)
		pr.CloseWithError(err)
		if err != nil {
			w.report(locator, err)
		}
	}()

	return &teeBody{src: body, pw: pw, done: done}
}

func (w Writer) report(locator Locator, err error) {
	if w.onError != nil {
		w.onError(locator, err)
	}
}

type teeBody struct {
	src    io.ReadCloser
	pw     *io.PipeWriter
	done   chan struct{}
	once   sync.Once
	eof    bool
	failed bool
}

func (t *teeBody) Read(p []byte) (int, error) {
	n, err := t.src.Read(p)
	if n > 0 && !t.failed {
		if _, werr := t.pw.Write(p[:n]); werr != nil {
			t.failed = true
		}
	}
	if errors.Is(err, io.EOF) {
		t.eof = true
	} else if err != nil && !t.failed {
		t.pw.CloseWithError(err)
		t.failed = true
	}
	return n, err
}

func (t *teeBody) Close() error {
	err := t.src.Close()
	t.once.Do(func() {
		if t.eof && !t.failed {
			t.pw.Close()
		} else {
			t.pw.CloseWithError(errIncompleteBody)
		}
		<-t.done
	})
	return err
}
