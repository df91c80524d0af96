package cache

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Storage 管理全部缓存代际。Open 在代际不存在时创建，Delete 删除整个代际。
type Storage interface {
	// Open 打开（必要时创建）名为 name 的代际。
	Open(ctx context.Context, name string) (Cache, error)

	// Has 判断代际是否存在。
	Has(ctx context.Context, name string) (bool, error)

	// Keys 按名称排序返回所有代际名称。
	Keys(ctx context.Context) ([]string, error)

	// Delete 删除代际及其全部条目，代际不存在时返回 false。
	Delete(ctx context.Context, name string) (bool, error)

	Close() error
}

// Cache 是单个代际内的 URL → Record 映射。
type Cache interface {
	Name() string

	// Match 返回 key 对应的条目，不存在时返回 ErrNotFound。
	Match(ctx context.Context, key string) (*Record, error)

	// Put 写入或覆盖单个条目。
	Put(ctx context.Context, rec Record) error

	// PutAll 批量写入，驱动尽可能在一次存储操作内完成。
	PutAll(ctx context.Context, recs []Record) error

	// Delete 删除单个条目，条目不存在时返回 false。
	Delete(ctx context.Context, key string) (bool, error)

	// Keys 返回代际内全部条目 key（排序后）。
	Keys(ctx context.Context) ([]string, error)
}

// Record 是一份完整的响应表示。Key 由 URL 派生。
type Record struct {
	URL        string      `json:"url"`
	Status     int         `json:"status"`
	StatusText string      `json:"status_text,omitempty"`
	Header     http.Header `json:"header,omitempty"`
	Body       []byte      `json:"body,omitempty"`
	Type       string      `json:"type,omitempty"`
	StoredAt   time.Time   `json:"stored_at"`
}

// Key 返回该条目在代际中的存储键。
func (r Record) Key() string {
	return Key(r.URL)
}

var (
	// ErrNotFound 表示缓存条目不存在。
	ErrNotFound = errors.New("cache entry not found")
	// ErrGenerationMissing 表示代际已被删除或从未创建。
	ErrGenerationMissing = errors.New("cache generation missing")
	// ErrMethodNotCacheable 表示只有 GET 请求可以写入或命中缓存。
	ErrMethodNotCacheable = errors.New("only GET requests are cacheable")
)

// Key 将请求 URL 规范化为存储键：去掉 fragment，scheme/host 转小写并省略默认端口，
// path 与 query 原样保留。
func Key(rawURL string) string {
	if idx := strings.IndexByte(rawURL, '#'); idx >= 0 {
		rawURL = rawURL[:idx]
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	parsed.Scheme = strings.ToLower(parsed.Scheme)
	host := strings.ToLower(parsed.Host)
	switch {
	case parsed.Scheme == "http" && strings.HasSuffix(host, ":80"):
		host = strings.TrimSuffix(host, ":80")
	case parsed.Scheme == "https" && strings.HasSuffix(host, ":443"):
		host = strings.TrimSuffix(host, ":443")
	}
	parsed.Host = host
	if parsed.Path == "" && parsed.Host != "" {
		parsed.Path = "/"
	}
	return parsed.String()
}

// RequestKey 返回请求的存储键；非 GET 请求返回 ErrMethodNotCacheable。
func RequestKey(method, rawURL string) (string, error) {
	if method != "" && !strings.EqualFold(method, http.MethodGet) {
		return "", fmt.Errorf("%w: %s", ErrMethodNotCacheable, method)
	}
	return Key(rawURL), nil
}

// NewStorage 按驱动名称在 basePath 下创建存储，整个进程复用一份实例。
func NewStorage(driver, basePath string) (Storage, error) {
	if basePath == "" {
		return nil, errors.New("storage path required")
	}
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "bolt":
		return NewBoltStorage(basePath)
	case "leveldb":
		return NewLevelStorage(basePath)
	case "fs":
		return NewFileStorage(basePath)
	default:
		return nil, fmt.Errorf("unsupported storage driver: %s", driver)
	}
}

func validateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return errors.New("generation name required")
	}
	if strings.ContainsAny(name, "/\\\x00") || name == "." || name == ".." {
		return fmt.Errorf("invalid generation name: %q", name)
	}
	return nil
}

func checkContext(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}
