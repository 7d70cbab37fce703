package proxy

import (
	"errors"
	"fmt"
	"strings"

	"github.com/fintrack/cachehub/internal/server"
)

// ProfileRegistration 把 worker profile key 绑定到专用的 ProxyHandler，
// 用于替换某类站点的默认派发逻辑。内置的 multitier/static 都走 Forwarder 的默认 handler。
type ProfileRegistration struct {
	Key     string
	Handler server.ProxyHandler
}

// ErrProfileHandlerExists 表示该 profile 已绑定 handler。
var ErrProfileHandlerExists = errors.New("profile handler already registered")

// Validate 校验 key 与 handler 均已提供。
func (r ProfileRegistration) Validate() error {
	if strings.TrimSpace(r.Key) == "" {
		return errors.New("profile key required")
	}
	if r.Handler == nil {
		return errors.New("profile handler required")
	}
	return nil
}

// RegisterProfileHandler 注册 profile 专用 handler，重复注册返回 ErrProfileHandlerExists。
func RegisterProfileHandler(reg ProfileRegistration) error {
	if err := reg.Validate(); err != nil {
		return err
	}
	normalized := normalizeProfileKey(reg.Key)
	if _, loaded := profileHandlers.LoadOrStore(normalized, reg.Handler); loaded {
		return fmt.Errorf("%w: %s", ErrProfileHandlerExists, normalized)
	}
	return nil
}

// MustRegisterProfileHandler 注册失败时 panic，适合在 init() 中调用。
func MustRegisterProfileHandler(reg ProfileRegistration) {
	if err := RegisterProfileHandler(reg); err != nil {
		panic(err)
	}
}
