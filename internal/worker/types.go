package worker

import (
	"context"
	"net/http"
	"time"

	"github.com/poultry-farm/shellcache/internal/cache"
)

// Mode 对应页面发起请求时的 request mode。
type Mode string

const (
	ModeNavigate   Mode = "navigate"
	ModeSameOrigin Mode = "same-origin"
	ModeNoCORS     Mode = "no-cors"
	ModeCORS       Mode = "cors"
)

// ResponseType 描述响应对请求方的可见性。
type ResponseType string

const (
	TypeBasic          ResponseType = "basic"
	TypeCORS           ResponseType = "cors"
	TypeOpaque         ResponseType = "opaque"
	TypeOpaqueRedirect ResponseType = "opaqueredirect"
	TypeError          ResponseType = "error"
)

// Request 是一次被拦截的页面请求，URL 必须是绝对地址。
type Request struct {
	URL    string
	Method string
	Mode   Mode
	Header http.Header
	Body   []byte
}

// Response 是完整的响应表示（正文已读入内存）。
type Response struct {
	URL        string
	Status     int
	StatusText string
	Header     http.Header
	Body       []byte
	Type       ResponseType
}

// OK 对应 2xx 状态。
func (r *Response) OK() bool {
	return r != nil && r.Status >= 200 && r.Status < 300
}

// Clone 复制响应，两份副本互不共享 Header 与正文。
func (r *Response) Clone() *Response {
	if r == nil {
		return nil
	}
	cloned := *r
	cloned.Header = r.Header.Clone()
	if r.Body != nil {
		cloned.Body = append([]byte(nil), r.Body...)
	}
	return &cloned
}

func (r *Response) record(url string) cache.Record {
	return cache.Record{
		URL:        url,
		Status:     r.Status,
		StatusText: r.StatusText,
		Header:     r.Header.Clone(),
		Body:       r.Body,
		Type:       string(r.Type),
		StoredAt:   time.Now().UTC(),
	}
}

func responseFromRecord(rec *cache.Record) *Response {
	return &Response{
		URL:        rec.URL,
		Status:     rec.Status,
		StatusText: rec.StatusText,
		Header:     rec.Header.Clone(),
		Body:       rec.Body,
		Type:       ResponseType(rec.Type),
	}
}

// Fetcher 发起真实网络请求。返回 error 表示网络层失败（离线、连接被拒等），
// 任何 HTTP 状态码都应以 Response 形式返回。
type Fetcher interface {
	Fetch(ctx context.Context, req *Request) (*Response, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, req *Request) (*Response, error)

// Fetch makes FetcherFunc satisfy Fetcher.
func (f FetcherFunc) Fetch(ctx context.Context, req *Request) (*Response, error) {
	return f(ctx, req)
}

// Client 是一个打开的应用窗口。
type Client struct {
	ID         string    `json:"id"`
	URL        string    `json:"url"`
	Focused    bool      `json:"focused"`
	Controlled bool      `json:"controlled"`
	OpenedAt   time.Time `json:"opened_at"`
}

// Clients 由宿主提供，负责窗口的枚举、聚焦与打开。
type Clients interface {
	MatchAll(ctx context.Context) ([]Client, error)
	Focus(ctx context.Context, id string) (Client, error)
	OpenWindow(ctx context.Context, url string) (Client, error)
	Claim(ctx context.Context) error
}

// Notification 是展示给用户的系统通知。
type Notification struct {
	ID      string    `json:"id"`
	Title   string    `json:"title"`
	Body    string    `json:"body"`
	Icon    string    `json:"icon,omitempty"`
	Badge   string    `json:"badge,omitempty"`
	Vibrate []int     `json:"vibrate,omitempty"`
	URL     string    `json:"url"`
	Closed  bool      `json:"closed"`
	ShownAt time.Time `json:"shown_at"`
}

// Notifier 由宿主提供，负责通知的展示与关闭。
type Notifier interface {
	Show(ctx context.Context, n Notification) (Notification, error)
	Close(ctx context.Context, id string) error
}

// NotificationOptions 是推送通知的默认展示选项。
type NotificationOptions struct {
	Icon    string
	Badge   string
	Vibrate []int
}

// SyncFunc 是后台同步例程，返回 nil 表示同步完成。
type SyncFunc func(ctx context.Context) error

// PushPayload 是推送消息正文的约定结构。
type PushPayload struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	URL   string `json:"url,omitempty"`
}
