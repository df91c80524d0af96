package host

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/poultry-farm/shellcache/internal/worker"
)

// ClientRegistry 记录当前打开的应用窗口，实现 worker.Clients。
type ClientRegistry struct {
	mu      sync.RWMutex
	clients map[string]*worker.Client
	now     func() time.Time
}

// NewClientRegistry 创建空的窗口注册表。
func NewClientRegistry() *ClientRegistry {
	return &ClientRegistry{
		clients: make(map[string]*worker.Client),
		now:     time.Now,
	}
}

// Register 记录一个新打开的窗口；controlled 为 false 时直到 Claim 才受控。
func (r *ClientRegistry) Register(url string, controlled bool) worker.Client {
	r.mu.Lock()
	defer r.mu.Unlock()
	client := &worker.Client{
		ID:         uuid.NewString(),
		URL:        url,
		Controlled: controlled,
		OpenedAt:   r.now().UTC(),
	}
	r.clients[client.ID] = client
	return *client
}

// Remove 关闭窗口。
func (r *ClientRegistry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.clients[id]; !ok {
		return false
	}
	delete(r.clients, id)
	return true
}

// List 按打开时间返回全部窗口。
func (r *ClientRegistry) List() []worker.Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]worker.Client, 0, len(r.clients))
	for _, c := range r.clients {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].OpenedAt.Equal(out[j].OpenedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].OpenedAt.Before(out[j].OpenedAt)
	})
	return out
}

func (r *ClientRegistry) MatchAll(ctx context.Context) ([]worker.Client, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return r.List(), nil
}

// Focus 聚焦指定窗口，其余窗口失去焦点。
func (r *ClientRegistry) Focus(ctx context.Context, id string) (worker.Client, error) {
	if err := ctx.Err(); err != nil {
		return worker.Client{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	target, ok := r.clients[id]
	if !ok {
		return worker.Client{}, fmt.Errorf("client %s not found", id)
	}
	for _, c := range r.clients {
		c.Focused = false
	}
	target.Focused = true
	return *target, nil
}

// OpenWindow 打开新窗口并聚焦；新窗口由已激活的 worker 控制。
func (r *ClientRegistry) OpenWindow(ctx context.Context, url string) (worker.Client, error) {
	if err := ctx.Err(); err != nil {
		return worker.Client{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.clients {
		c.Focused = false
	}
	client := &worker.Client{
		ID:         uuid.NewString(),
		URL:        url,
		Focused:    true,
		Controlled: true,
		OpenedAt:   r.now().UTC(),
	}
	r.clients[client.ID] = client
	return *client, nil
}

// Claim 将全部已打开窗口标记为受控。
func (r *ClientRegistry) Claim(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.clients {
		c.Controlled = true
	}
	return nil
}
