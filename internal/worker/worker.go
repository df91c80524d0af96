package worker

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/poultry-farm/shellcache/internal/cache"
	"github.com/poultry-farm/shellcache/internal/logging"
)

var (
	// ErrInstallFailed 表示预缓存批次中至少一项失败，代际未写入任何条目。
	ErrInstallFailed = errors.New("install failed")
	// ErrOfflineUnavailable 表示网络失败且当前代际中没有离线页。
	ErrOfflineUnavailable = errors.New("offline document unavailable")
	// ErrNotActive 表示 worker 尚未完成 install，无法处理 fetch。
	ErrNotActive = errors.New("worker not active")
	// ErrStaleDeleteFailed 表示 activate 期间部分旧代际删除失败（非致命）。
	ErrStaleDeleteFailed = errors.New("stale generation delete failed")
	// ErrDuplicateHandler 表示同一 EventKind 重复注册。
	ErrDuplicateHandler = errors.New("handler already registered")
	// ErrNoHandler 表示分发表中没有对应事件的处理函数。
	ErrNoHandler = errors.New("no handler registered")
)

// HandlerFunc 处理单个事件，副作用记录在传入的 Result 上。
type HandlerFunc func(ctx context.Context, ev Event, res *Result) error

// Options 描述构建 Worker 所需的依赖与参数。
type Options struct {
	Version      string
	Origin       string
	Precache     []string
	OfflinePage  string
	SyncTag      string
	Notification NotificationOptions

	Storage  cache.Storage
	Fetcher  Fetcher
	Clients  Clients
	Notifier Notifier
	Sync     SyncFunc
	Logger   *logrus.Logger
}

// Worker 持有分发表与当前缓存代际。
type Worker struct {
	version      string
	origin       *url.URL
	precache     []string
	offlinePage  string
	syncTag      string
	notification NotificationOptions

	storage  cache.Storage
	fetcher  Fetcher
	clients  Clients
	notifier Notifier
	sync     SyncFunc
	logger   *logrus.Logger

	handlers map[EventKind]HandlerFunc

	mu  sync.RWMutex
	gen cache.Cache

	pending sync.WaitGroup
}

// New 校验依赖并注册全部事件处理函数。
func New(opts Options) (*Worker, error) {
	if opts.Storage == nil {
		return nil, errors.New("worker: storage is required")
	}
	if opts.Fetcher == nil {
		return nil, errors.New("worker: fetcher is required")
	}
	if strings.TrimSpace(opts.Version) == "" {
		return nil, errors.New("worker: version is required")
	}
	origin, err := url.Parse(strings.TrimRight(opts.Origin, "/"))
	if err != nil || origin.Scheme == "" || origin.Host == "" {
		return nil, fmt.Errorf("worker: invalid origin %q", opts.Origin)
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	w := &Worker{
		version:      opts.Version,
		origin:       origin,
		precache:     append([]string(nil), opts.Precache...),
		offlinePage:  opts.OfflinePage,
		syncTag:      opts.SyncTag,
		notification: opts.Notification,
		storage:      opts.Storage,
		fetcher:      opts.Fetcher,
		clients:      opts.Clients,
		notifier:     opts.Notifier,
		sync:         opts.Sync,
		logger:       logger,
		handlers:     make(map[EventKind]HandlerFunc),
	}

	w.mustRegister(EventInstall, w.handleInstall)
	w.mustRegister(EventActivate, w.handleActivate)
	w.mustRegister(EventFetch, w.handleFetch)
	w.mustRegister(EventSync, w.handleSync)
	w.mustRegister(EventPush, w.handlePush)
	w.mustRegister(EventNotificationClick, w.handleNotificationClick)
	return w, nil
}

func (w *Worker) register(kind EventKind, fn HandlerFunc) error {
	key := EventKind(strings.ToLower(strings.TrimSpace(string(kind))))
	if key == "" {
		return errors.New("event kind required")
	}
	if _, exists := w.handlers[key]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateHandler, key)
	}
	w.handlers[key] = fn
	return nil
}

func (w *Worker) mustRegister(kind EventKind, fn HandlerFunc) {
	if err := w.register(kind, fn); err != nil {
		panic(err)
	}
}

// Handlers 返回已注册的事件类型（排序后），供诊断接口展示。
func (w *Worker) Handlers() []string {
	out := make([]string, 0, len(w.handlers))
	for kind := range w.handlers {
		out = append(out, string(kind))
	}
	sort.Strings(out)
	return out
}

// Dispatch 按事件类型查表并执行处理函数。出错时 Result 仍包含出错前记录的副作用。
func (w *Worker) Dispatch(ctx context.Context, ev Event) (*Result, error) {
	if ev == nil {
		return nil, errors.New("worker: nil event")
	}
	res := &Result{}
	handler, ok := w.handlers[ev.Kind()]
	if !ok {
		return res, fmt.Errorf("%w: %s", ErrNoHandler, ev.Kind())
	}
	err := handler(ctx, ev, res)
	return res, err
}

// Install 派发 install 事件。
func (w *Worker) Install(ctx context.Context) (*Result, error) {
	return w.Dispatch(ctx, InstallEvent{})
}

// Activate 派发 activate 事件。
func (w *Worker) Activate(ctx context.Context) (*Result, error) {
	return w.Dispatch(ctx, ActivateEvent{})
}

// Fetch 派发 fetch 事件。
func (w *Worker) Fetch(ctx context.Context, req *Request) (*Result, error) {
	return w.Dispatch(ctx, FetchEvent{Request: req})
}

// Sync 派发 sync 事件。
func (w *Worker) Sync(ctx context.Context, tag string) (*Result, error) {
	return w.Dispatch(ctx, SyncEvent{Tag: tag})
}

// Push 派发 push 事件。
func (w *Worker) Push(ctx context.Context, data []byte) (*Result, error) {
	return w.Dispatch(ctx, PushEvent{Data: data})
}

// NotificationClick 派发 notificationclick 事件。
func (w *Worker) NotificationClick(ctx context.Context, n Notification) (*Result, error) {
	return w.Dispatch(ctx, NotificationClickEvent{Notification: n})
}

// Version 返回当前代际名。
func (w *Worker) Version() string {
	return w.version
}

// Origin 返回 worker 的作用域源（不含结尾 /）。
func (w *Worker) Origin() string {
	return w.origin.String()
}

// Installed 报告是否已持有可用的缓存代际。
func (w *Worker) Installed() bool {
	return w.generation() != nil
}

// Wait 阻塞直到所有后台缓存写入完成。
func (w *Worker) Wait() {
	w.pending.Wait()
}

func (w *Worker) generation() cache.Cache {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.gen
}

func (w *Worker) setGeneration(gen cache.Cache) {
	w.mu.Lock()
	w.gen = gen
	w.mu.Unlock()
}

// Resolve 将相对路径解析为 worker 作用域下的绝对 URL，绝对 URL 原样返回。
func (w *Worker) Resolve(ref string) string {
	parsed, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return w.origin.ResolveReference(parsed).String()
}

// SameOrigin 判断 rawURL 是否与 worker 同源（scheme + host + port）。
func (w *Worker) SameOrigin(rawURL string) bool {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return false
	}
	return originKey(parsed) == originKey(w.origin)
}

func originKey(u *url.URL) string {
	scheme := strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	port := u.Port()
	if port == "" {
		switch scheme {
		case "http":
			port = "80"
		case "https":
			port = "443"
		}
	}
	return scheme + "://" + host + ":" + port
}

func (w *Worker) eventLog(event EventKind, target string) *logrus.Entry {
	return w.logger.WithFields(logging.EventFields(string(event), w.version, target))
}
