package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"testing"

	"github.com/poultry-farm/shellcache/internal/cache"
	"github.com/poultry-farm/shellcache/internal/logging"
)

const testOrigin = "http://farm.local"

var errOffline = errors.New("network unreachable")

// stubNetwork 按路径返回预设响应，记录每个路径的调用次数。
type stubNetwork struct {
	mu        sync.Mutex
	responses map[string]*Response
	failing   map[string]bool
	offline   bool
	calls     map[string]int
}

func newStubNetwork() *stubNetwork {
	return &stubNetwork{
		responses: make(map[string]*Response),
		failing:   make(map[string]bool),
		calls:     make(map[string]int),
	}
}

func (s *stubNetwork) serve(path string, status int, body string) {
	s.serveTyped(path, status, body, TypeBasic)
}

func (s *stubNetwork) serveTyped(path string, status int, body string, typ ResponseType) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses[path] = &Response{
		Status:     status,
		StatusText: http.StatusText(status),
		Header:     http.Header{"Content-Type": {"text/plain"}},
		Body:       []byte(body),
		Type:       typ,
	}
}

func (s *stubNetwork) fail(path string) {
	s.mu.Lock()
	s.failing[path] = true
	s.mu.Unlock()
}

func (s *stubNetwork) setOffline(offline bool) {
	s.mu.Lock()
	s.offline = offline
	s.mu.Unlock()
}

func (s *stubNetwork) count(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[path]
}

func (s *stubNetwork) Fetch(ctx context.Context, req *Request) (*Response, error) {
	parsed, err := url.Parse(req.URL)
	if err != nil {
		return nil, err
	}
	key := parsed.Path
	if parsed.Host != "farm.local" {
		key = parsed.Host + parsed.Path
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[key]++
	if s.offline || s.failing[key] {
		return nil, errOffline
	}
	resp, ok := s.responses[key]
	if !ok {
		return &Response{URL: req.URL, Status: http.StatusNotFound, StatusText: "Not Found", Header: http.Header{}, Type: TypeBasic}, nil
	}
	out := resp.Clone()
	out.URL = req.URL
	return out, nil
}

// stubClients 记录窗口的聚焦与打开。
type stubClients struct {
	mu      sync.Mutex
	windows []Client
	claimed bool
	opened  []string
	focused []string
}

func (c *stubClients) MatchAll(context.Context) ([]Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Client(nil), c.windows...), nil
}

func (c *stubClients) Focus(_ context.Context, id string) (Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.windows {
		if c.windows[i].ID == id {
			c.windows[i].Focused = true
			c.focused = append(c.focused, id)
			return c.windows[i], nil
		}
	}
	return Client{}, fmt.Errorf("client %s not found", id)
}

func (c *stubClients) OpenWindow(_ context.Context, target string) (Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	client := Client{ID: fmt.Sprintf("w%d", len(c.windows)+1), URL: target, Focused: true}
	c.windows = append(c.windows, client)
	c.opened = append(c.opened, target)
	return client, nil
}

func (c *stubClients) Claim(context.Context) error {
	c.mu.Lock()
	c.claimed = true
	c.mu.Unlock()
	return nil
}

// stubNotifier 保存展示过的通知。
type stubNotifier struct {
	mu     sync.Mutex
	shown  []Notification
	closed []string
}

func (n *stubNotifier) Show(_ context.Context, note Notification) (Notification, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	note.ID = fmt.Sprintf("n%d", len(n.shown)+1)
	n.shown = append(n.shown, note)
	return note, nil
}

func (n *stubNotifier) Close(_ context.Context, id string) error {
	n.mu.Lock()
	n.closed = append(n.closed, id)
	n.mu.Unlock()
	return nil
}

type fixture struct {
	worker   *Worker
	storage  cache.Storage
	network  *stubNetwork
	clients  *stubClients
	notifier *stubNotifier
	syncs    int
	syncErr  error
}

var testManifest = []string{"/", "/index.html", "/dashboard.html", "/styles.css", "/offline.html"}

func newFixture(t *testing.T, version string, precache []string) *fixture {
	t.Helper()
	storage, err := cache.NewStorage("bolt", t.TempDir())
	if err != nil {
		t.Fatalf("storage error: %v", err)
	}
	t.Cleanup(func() { _ = storage.Close() })
	return newFixtureWithStorage(t, storage, version, precache)
}

func newFixtureWithStorage(t *testing.T, storage cache.Storage, version string, precache []string) *fixture {
	t.Helper()
	network := newStubNetwork()
	for _, path := range precache {
		network.serve(path, http.StatusOK, "shell:"+path)
	}
	f := &fixture{
		storage:  storage,
		network:  network,
		clients:  &stubClients{},
		notifier: &stubNotifier{},
	}
	w, err := New(Options{
		Version:     version,
		Origin:      testOrigin,
		Precache:    precache,
		OfflinePage: "/offline.html",
		SyncTag:     "pending-data-sync",
		Notification: NotificationOptions{
			Icon:    "/icons/icon-192x192.png",
			Badge:   "/icons/icon-72x72.png",
			Vibrate: []int{200, 100, 200},
		},
		Storage:  storage,
		Fetcher:  network,
		Clients:  f.clients,
		Notifier: f.notifier,
		Sync: func(context.Context) error {
			f.syncs++
			return f.syncErr
		},
		Logger: logging.Discard(),
	})
	if err != nil {
		t.Fatalf("new worker error: %v", err)
	}
	t.Cleanup(w.Wait)
	f.worker = w
	return f
}

func (f *fixture) install(t *testing.T) {
	t.Helper()
	if _, err := f.worker.Install(context.Background()); err != nil {
		t.Fatalf("install error: %v", err)
	}
}

func get(path string) *Request {
	return &Request{URL: testOrigin + path, Method: http.MethodGet, Mode: ModeSameOrigin, Header: http.Header{}}
}
