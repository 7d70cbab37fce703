package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/fintrack/cachehub/internal/cache"
)

// Observer 接收生命周期与缓存事件，通常由 metrics 包实现。
type Observer interface {
	WorkerState(site, key, version string, state State)
	CacheWriteFailed(site, partition string)
	PartitionsPruned(site string, names []string)
}

type nopObserver struct{}

func (nopObserver) WorkerState(string, string, string, State) {}
func (nopObserver) CacheWriteFailed(string, string)           {}
func (nopObserver) PartitionsPruned(string, []string)         {}

// Options 描述创建 Registration 所需的依赖。
type Options struct {
	Site     string
	Origin   *url.URL
	Store    cache.Store
	Network  Network
	Logger   *logrus.Logger
	Observer Observer
}

// Instance 是注册表中的一个 worker 版本。
type Instance struct {
	handler     Handler
	scope       *Scope
	state       State
	skipWaiting bool
	changedAt   time.Time
}

// Registration 管理单个站点的 worker 版本：installing/waiting/active 三个槽位。
type Registration struct {
	site     string
	origin   *url.URL
	store    cache.Store
	network  Network
	clients  *Clients
	logger   *logrus.Logger
	observer Observer

	// installMu 串行化安装；gate 让新的 fetch 等待激活（prune + 切换）完成。
	installMu sync.Mutex
	gate      sync.RWMutex

	mu         sync.Mutex
	installing *Instance
	waiting    *Instance
	active     *Instance
}

// NewRegistration 校验依赖并创建空注册表。
func NewRegistration(opts Options) (*Registration, error) {
	if opts.Site == "" {
		return nil, errors.New("site name is required")
	}
	if opts.Origin == nil {
		return nil, errors.New("site origin is required")
	}
	if opts.Network == nil {
		return nil, errors.New("network is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}
	observer := opts.Observer
	if observer == nil {
		observer = nopObserver{}
	}
	return &Registration{
		site:     opts.Site,
		origin:   opts.Origin,
		store:    opts.Store,
		network:  opts.Network,
		clients:  NewClients(),
		logger:   logger,
		observer: observer,
	}, nil
}

// Site 返回站点名称。
func (r *Registration) Site() string {
	return r.site
}

// Clients 返回页面客户端集合。
func (r *Registration) Clients() *Clients {
	return r.clients
}

// Register 安装新版本；安装成功后按等待规则决定是否立即激活。
func (r *Registration) Register(ctx context.Context, h Handler) error {
	if h == nil {
		return errors.New("worker handler is required")
	}
	r.installMu.Lock()
	defer r.installMu.Unlock()

	inst := r.newInstance(h)

	r.mu.Lock()
	r.installing = inst
	r.setState(inst, StateInstalling)
	r.mu.Unlock()

	if err := h.Install(ctx, inst.scope); err != nil {
		r.mu.Lock()
		r.installing = nil
		r.setState(inst, StateRedundant)
		r.mu.Unlock()
		inst.scope.Logger.WithError(err).WithField("action", "install").Error("worker_install_failed")
		return fmt.Errorf("install %s@%s: %w", h.Key(), h.Version(), err)
	}

	r.mu.Lock()
	r.installing = nil
	if r.waiting != nil {
		r.setState(r.waiting, StateRedundant)
	}
	r.waiting = inst
	r.setState(inst, StateInstalled)
	r.mu.Unlock()

	return r.tryActivate(ctx)
}

// Fetch 将请求派发给 active worker；没有 active worker 时 handled=false。
func (r *Registration) Fetch(ctx context.Context, req *Request) (*Response, bool) {
	// 只在选取 active 版本时持有 gate，handler 执行（包括网络请求）期间不持锁。
	r.gate.RLock()
	r.mu.Lock()
	inst := r.active
	r.mu.Unlock()
	r.gate.RUnlock()
	if inst == nil {
		return nil, false
	}
	return inst.handler.Fetch(ctx, inst.scope, req)
}

// PostMessage 投递页面消息：优先 waiting，其次 installing，最后 active。
func (r *Registration) PostMessage(ctx context.Context, msg Message) error {
	r.mu.Lock()
	target := r.waiting
	if target == nil {
		target = r.installing
	}
	if target == nil {
		target = r.active
	}
	r.mu.Unlock()

	if target == nil {
		return ErrNoActiveWorker
	}
	target.handler.Message(ctx, target.scope, msg)
	return nil
}

// Connect 注册一个页面，若已有 active worker 则页面立即受控。
func (r *Registration) Connect(pageURL string) *Client {
	r.mu.Lock()
	controlled := r.active != nil
	r.mu.Unlock()
	return r.clients.Connect(pageURL, controlled)
}

// Disconnect 关闭页面；最后一个受控页面离开时激活 waiting 版本。
func (r *Registration) Disconnect(ctx context.Context, id string) error {
	if !r.clients.Disconnect(id) {
		return nil
	}
	if r.clients.Controlled() > 0 {
		return nil
	}
	return r.tryActivate(ctx)
}

// Sync 派发 background sync 事件。
func (r *Registration) Sync(ctx context.Context, tag string) error {
	inst, err := r.activeInstance()
	if err != nil {
		return err
	}
	h, ok := inst.handler.(SyncHandler)
	if !ok {
		return ErrUnsupported
	}
	return h.Sync(ctx, inst.scope, tag)
}

// Push 派发 push 事件，返回展示的通知。
func (r *Registration) Push(ctx context.Context, payload string) (*Notification, error) {
	inst, err := r.activeInstance()
	if err != nil {
		return nil, err
	}
	h, ok := inst.handler.(PushHandler)
	if !ok {
		return nil, ErrUnsupported
	}
	return h.Push(ctx, inst.scope, payload)
}

// NotificationClick 派发通知点击事件，返回需要打开的地址（可能为空）。
func (r *Registration) NotificationClick(ctx context.Context, action string) (string, error) {
	inst, err := r.activeInstance()
	if err != nil {
		return "", err
	}
	h, ok := inst.handler.(NotificationClickHandler)
	if !ok {
		return "", ErrUnsupported
	}
	return h.NotificationClick(ctx, inst.scope, action)
}

// WorkerInfo 是单个版本的诊断快照。
type WorkerInfo struct {
	Key        string    `json:"key"`
	Version    string    `json:"version"`
	State      State     `json:"state"`
	CacheNames []string  `json:"cache_names"`
	ChangedAt  time.Time `json:"changed_at"`
}

// Snapshot 汇总注册表状态，供 /-/sites 诊断接口输出。
type Snapshot struct {
	Site       string       `json:"site"`
	Origin     string       `json:"origin"`
	Installing *WorkerInfo  `json:"installing,omitempty"`
	Waiting    *WorkerInfo  `json:"waiting,omitempty"`
	Active     *WorkerInfo  `json:"active,omitempty"`
	Clients    []ClientInfo `json:"clients"`
}

// Snapshot 返回当前注册表快照。
func (r *Registration) Snapshot() Snapshot {
	r.mu.Lock()
	snap := Snapshot{
		Site:       r.site,
		Origin:     r.origin.String(),
		Installing: r.installing.info(),
		Waiting:    r.waiting.info(),
		Active:     r.active.info(),
	}
	r.mu.Unlock()
	snap.Clients = r.clients.List()
	return snap
}

func (r *Registration) activeInstance() (*Instance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active == nil {
		return nil, ErrNoActiveWorker
	}
	return r.active, nil
}

func (r *Registration) newInstance(h Handler) *Instance {
	inst := &Instance{handler: h, state: StateParsed}
	inst.scope = &Scope{
		Site:    r.site,
		Origin:  r.origin,
		Caches:  r.store,
		Network: r.network,
		Clients: r.clients,
		Logger: r.logger.WithFields(logrus.Fields{
			"site":       r.site,
			"worker_key": h.Key(),
			"version":    h.Version(),
		}),
		reg:  r,
		inst: inst,
	}
	return inst
}

func (r *Registration) skipWaiting(ctx context.Context, inst *Instance) {
	r.mu.Lock()
	inst.skipWaiting = true
	isWaiting := r.waiting == inst
	r.mu.Unlock()
	if isWaiting {
		_ = r.tryActivate(ctx)
	}
}

func (r *Registration) tryActivate(ctx context.Context) error {
	r.mu.Lock()
	inst := r.waiting
	if inst == nil {
		r.mu.Unlock()
		return nil
	}
	if r.active != nil && !inst.skipWaiting && r.clients.Controlled() > 0 {
		r.mu.Unlock()
		inst.scope.Logger.WithField("action", "activate").Info("worker_waiting")
		return nil
	}
	r.mu.Unlock()
	return r.activate(ctx, inst)
}

func (r *Registration) activate(ctx context.Context, inst *Instance) error {
	r.gate.Lock()
	defer r.gate.Unlock()

	r.mu.Lock()
	if r.waiting != inst {
		r.mu.Unlock()
		return nil
	}
	r.waiting = nil
	prev := r.active
	r.setState(inst, StateActivating)
	r.mu.Unlock()

	err := inst.handler.Activate(ctx, inst.scope)

	r.mu.Lock()
	if prev != nil {
		r.setState(prev, StateRedundant)
	}
	r.active = inst
	r.setState(inst, StateActivated)
	r.mu.Unlock()

	if err != nil {
		inst.scope.Logger.WithError(err).WithField("action", "activate").Warn("worker_activate_failed")
		return fmt.Errorf("activate %s@%s: %w", inst.handler.Key(), inst.handler.Version(), err)
	}
	return nil
}

// setState 需在持有 r.mu 时调用。
func (r *Registration) setState(inst *Instance, state State) {
	inst.state = state
	inst.changedAt = time.Now().UTC()
	r.observer.WorkerState(r.site, inst.handler.Key(), inst.handler.Version(), state)
	inst.scope.Logger.WithFields(logrus.Fields{
		"action": "lifecycle",
		"state":  string(state),
	}).Info("worker_state_changed")
}

func (i *Instance) info() *WorkerInfo {
	if i == nil {
		return nil
	}
	return &WorkerInfo{
		Key:        i.handler.Key(),
		Version:    i.handler.Version(),
		State:      i.state,
		CacheNames: append([]string(nil), i.handler.CacheNames()...),
		ChangedAt:  i.changedAt,
	}
}
