// Package host 模拟 worker 的宿主运行时：负责生命周期推进（install → activate）、
// 在 worker 接管前直连网络、窗口与通知管理，以及后台同步的重试调度。
package host

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/poultry-farm/shellcache/internal/cache"
	"github.com/poultry-farm/shellcache/internal/logging"
	"github.com/poultry-farm/shellcache/internal/metrics"
	"github.com/poultry-farm/shellcache/internal/worker"
)

// State 是 worker 的生命周期状态。
type State string

const (
	StateParsed     State = "parsed"
	StateInstalling State = "installing"
	StateInstalled  State = "installed"
	StateActivating State = "activating"
	StateActivated  State = "activated"
	StateRedundant  State = "redundant"
)

// OutcomeUncontrolled 标记 worker 接管前直接走网络的请求。
const OutcomeUncontrolled worker.Outcome = "uncontrolled"

var (
	// ErrPassthroughBlocked 表示跨域放行被配置关闭。
	ErrPassthroughBlocked = errors.New("cross-origin passthrough disabled")
)

// Network 是宿主直连网络的能力：同源请求映射到上游，跨域请求原样转发。
type Network interface {
	worker.Fetcher
	Passthrough(ctx context.Context, req *worker.Request) (*worker.Response, error)
}

// Options 描述 Host 的依赖与重试参数。
type Options struct {
	Worker        *worker.Worker
	Network       Network
	Storage       cache.Storage
	Clients       *ClientRegistry
	Notifications *NotificationCenter
	Logger        *logrus.Logger

	MaxRetries       int
	InitialBackoff   time.Duration
	AllowPassthrough bool
}

// Installation 描述已安装但尚未激活的 worker 版本。
type Installation struct {
	Version     string    `json:"version"`
	InstalledAt time.Time `json:"installed_at"`
}

// Status 是 /-/status 使用的快照。
type Status struct {
	Version       string        `json:"version"`
	Origin        string        `json:"origin"`
	State         State         `json:"state"`
	Waiting       *Installation `json:"waiting,omitempty"`
	Generations   []string      `json:"generations"`
	Handlers      []string      `json:"handlers"`
	Clients       int           `json:"clients"`
	Notifications int           `json:"notifications"`
	LastError     string        `json:"last_error,omitempty"`
}

// Host 持有 worker 与宿主侧状态。
type Host struct {
	worker        *worker.Worker
	network       Network
	storage       cache.Storage
	clients       *ClientRegistry
	notifications *NotificationCenter
	logger        *logrus.Logger

	maxRetries       int
	initialBackoff   time.Duration
	allowPassthrough bool

	mu      sync.RWMutex
	state   State
	waiting *Installation
	lastErr error

	ctx    context.Context
	cancel context.CancelFunc
	syncs  sync.WaitGroup

	sleep func(ctx context.Context, d time.Duration) error
}

// New 创建 Host，此时 worker 处于 parsed 状态，需调用 Start 推进生命周期。
func New(opts Options) (*Host, error) {
	if opts.Worker == nil {
		return nil, errors.New("host: worker is required")
	}
	if opts.Network == nil {
		return nil, errors.New("host: network is required")
	}
	if opts.Storage == nil {
		return nil, errors.New("host: storage is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	clients := opts.Clients
	if clients == nil {
		clients = NewClientRegistry()
	}
	notifications := opts.Notifications
	if notifications == nil {
		notifications = NewNotificationCenter()
	}
	backoff := opts.InitialBackoff
	if backoff <= 0 {
		backoff = time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Host{
		worker:           opts.Worker,
		network:          opts.Network,
		storage:          opts.Storage,
		clients:          clients,
		notifications:    notifications,
		logger:           logger,
		maxRetries:       opts.MaxRetries,
		initialBackoff:   backoff,
		allowPassthrough: opts.AllowPassthrough,
		state:            StateParsed,
		ctx:              ctx,
		cancel:           cancel,
		sleep:            sleepContext,
	}, nil
}

// Start 推进生命周期：已有完整代际时直接恢复，否则带重试 install，
// 成功后立即 activate（skip-waiting）并接管窗口。install 最终失败时
// worker 变为 redundant，请求继续直连网络。
func (h *Host) Start(ctx context.Context) error {
	resumed, err := h.worker.Resume(ctx)
	if err != nil {
		h.log("install").WithError(err).Warn("resume check failed, reinstalling")
	}
	if resumed {
		h.log("install").Info("reusing precached generation")
		return h.activate(ctx)
	}

	h.setState(StateInstalling, nil)
	if err := h.installWithRetry(ctx); err != nil {
		h.setState(StateRedundant, err)
		h.log("install").WithError(err).Error("install abandoned, serving from network")
		return err
	}

	h.mu.Lock()
	h.waiting = &Installation{Version: h.worker.Version(), InstalledAt: time.Now().UTC()}
	h.state = StateInstalled
	h.mu.Unlock()

	return h.activate(ctx)
}

func (h *Host) installWithRetry(ctx context.Context) error {
	backoff := h.initialBackoff
	for attempt := 0; ; attempt++ {
		_, err := h.worker.Install(ctx)
		if err == nil {
			return nil
		}
		if attempt >= h.maxRetries {
			return fmt.Errorf("after %d attempts: %w", attempt+1, err)
		}
		h.log("install").
			WithFields(logrus.Fields{"attempt": attempt + 1, "backoff": backoff.String()}).
			WithError(err).
			Warn("install failed, retrying")
		if err := h.sleep(ctx, backoff); err != nil {
			return err
		}
		backoff *= 2
	}
}

func (h *Host) activate(ctx context.Context) error {
	h.setState(StateActivating, nil)
	_, err := h.worker.Activate(ctx)
	if err != nil && !errors.Is(err, worker.ErrStaleDeleteFailed) {
		h.setState(StateInstalled, err)
		h.log("activate").WithError(err).Error("activation failed")
		return err
	}
	if err != nil {
		h.log("activate").WithError(err).Warn("some stale generations were not deleted")
	}

	h.mu.Lock()
	h.waiting = nil
	h.state = StateActivated
	h.lastErr = nil
	h.mu.Unlock()
	metrics.SetWorkerActive(true)
	h.log("activate").Info("worker activated")
	return nil
}

// Fetch 处理一次被拦截的请求。worker 接管前请求直连网络。
func (h *Host) Fetch(ctx context.Context, req *worker.Request) (*worker.Response, worker.Outcome, error) {
	if !h.Active() {
		return h.direct(ctx, req)
	}
	res, err := h.worker.Fetch(ctx, req)
	if errors.Is(err, worker.ErrNotActive) {
		return h.direct(ctx, req)
	}
	if err != nil {
		return nil, "", err
	}
	if res.Outcome == worker.OutcomePassthrough {
		resp, err := h.passthrough(ctx, req)
		return resp, worker.OutcomePassthrough, err
	}
	return res.Response, res.Outcome, nil
}

func (h *Host) direct(ctx context.Context, req *worker.Request) (*worker.Response, worker.Outcome, error) {
	if !h.worker.SameOrigin(req.URL) {
		resp, err := h.passthrough(ctx, req)
		return resp, OutcomeUncontrolled, err
	}
	resp, err := h.network.Fetch(ctx, req)
	return resp, OutcomeUncontrolled, err
}

func (h *Host) passthrough(ctx context.Context, req *worker.Request) (*worker.Response, error) {
	if !h.allowPassthrough {
		return nil, ErrPassthroughBlocked
	}
	return h.network.Passthrough(ctx, req)
}

// TriggerSync 调度一次后台同步，失败按指数退避重试至 MaxRetries。
func (h *Host) TriggerSync(tag string) error {
	if !h.Active() {
		return worker.ErrNotActive
	}
	h.syncs.Add(1)
	go func() {
		defer h.syncs.Done()
		backoff := h.initialBackoff
		for attempt := 0; ; attempt++ {
			_, err := h.worker.Sync(h.ctx, tag)
			if err == nil {
				return
			}
			if h.ctx.Err() != nil {
				return
			}
			if attempt >= h.maxRetries {
				h.log("sync").WithField("tag", tag).WithError(err).Error("sync abandoned")
				return
			}
			h.log("sync").
				WithFields(logrus.Fields{"tag": tag, "attempt": attempt + 1, "backoff": backoff.String()}).
				WithError(err).
				Warn("sync failed, rescheduling")
			if h.sleep(h.ctx, backoff) != nil {
				return
			}
			backoff *= 2
		}
	}()
	return nil
}

// Push 将推送消息投递给 worker。
func (h *Host) Push(ctx context.Context, data []byte) (*worker.Result, error) {
	if !h.Active() {
		return nil, worker.ErrNotActive
	}
	return h.worker.Push(ctx, data)
}

// ClickNotification 模拟用户点击通知；每条通知只能被点击一次。
func (h *Host) ClickNotification(ctx context.Context, id string) (*worker.Result, error) {
	if !h.Active() {
		return nil, worker.ErrNotActive
	}
	n, ok := h.notifications.Get(id)
	if !ok {
		return nil, ErrNotificationNotFound
	}
	if n.Closed {
		return nil, ErrNotificationClosed
	}
	return h.worker.NotificationClick(ctx, n)
}

// OpenClient 记录一个新打开的页面；worker 已激活时页面直接受控。
func (h *Host) OpenClient(rawURL string) worker.Client {
	return h.clients.Register(h.worker.Resolve(rawURL), h.Active())
}

// CloseClient 关闭窗口，ID 不存在时返回 false。
func (h *Host) CloseClient(id string) bool {
	return h.clients.Remove(id)
}

func (h *Host) Clients() []worker.Client {
	return h.clients.List()
}

func (h *Host) Notifications() []worker.Notification {
	return h.notifications.List()
}

// State 返回当前生命周期状态。
func (h *Host) State() State {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.state
}

// Active 报告 worker 是否已接管请求。
func (h *Host) Active() bool {
	return h.State() == StateActivated
}

// Status 汇总诊断信息。
func (h *Host) Status(ctx context.Context) Status {
	h.mu.RLock()
	status := Status{
		Version: h.worker.Version(),
		Origin:  h.worker.Origin(),
		State:   h.state,
	}
	if h.waiting != nil {
		w := *h.waiting
		status.Waiting = &w
	}
	if h.lastErr != nil {
		status.LastError = h.lastErr.Error()
	}
	h.mu.RUnlock()

	status.Handlers = h.worker.Handlers()
	status.Clients = len(h.clients.List())
	status.Notifications = len(h.notifications.List())
	if names, err := h.storage.Keys(ctx); err == nil {
		status.Generations = names
	} else {
		status.Generations = []string{}
		h.log("status").WithError(err).Warn("list generations failed")
	}
	return status
}

// Close 停止后台同步并等待挂起的缓存写入完成。
func (h *Host) Close() {
	h.cancel()
	h.syncs.Wait()
	h.worker.Wait()
	metrics.SetWorkerActive(false)
}

func (h *Host) setState(state State, err error) {
	h.mu.Lock()
	h.state = state
	if err != nil {
		h.lastErr = err
	}
	h.mu.Unlock()
}

func (h *Host) log(event string) *logrus.Entry {
	return h.logger.WithFields(logging.EventFields(strings.ToLower(event), h.worker.Version(), ""))
}
