package host

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/poultry-farm/shellcache/internal/worker"
)

var (
	// ErrNotificationNotFound 表示通知 ID 不存在。
	ErrNotificationNotFound = errors.New("notification not found")
	// ErrNotificationClosed 表示通知已被点击或关闭，不能再次触发。
	ErrNotificationClosed = errors.New("notification already closed")
)

// NotificationCenter 保存已展示的通知，实现 worker.Notifier。
type NotificationCenter struct {
	mu    sync.RWMutex
	items map[string]worker.Notification
}

func NewNotificationCenter() *NotificationCenter {
	return &NotificationCenter{items: make(map[string]worker.Notification)}
}

func (c *NotificationCenter) Show(ctx context.Context, n worker.Notification) (worker.Notification, error) {
	if err := ctx.Err(); err != nil {
		return worker.Notification{}, err
	}
	n.ID = uuid.NewString()
	c.mu.Lock()
	c.items[n.ID] = n
	c.mu.Unlock()
	return n, nil
}

func (c *NotificationCenter) Close(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, ok := c.items[id]
	if !ok {
		return ErrNotificationNotFound
	}
	n.Closed = true
	c.items[id] = n
	return nil
}

func (c *NotificationCenter) Get(id string) (worker.Notification, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n, ok := c.items[id]
	return n, ok
}

// List 按展示时间倒序返回通知。
func (c *NotificationCenter) List() []worker.Notification {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]worker.Notification, 0, len(c.items))
	for _, n := range c.items {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ShownAt.Equal(out[j].ShownAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].ShownAt.After(out[j].ShownAt)
	})
	return out
}
