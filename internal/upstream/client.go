package upstream

import (
	"net"
	"net/http"
	"time"

	"golang.org/x/net/http2"
)

// newTransport 返回共享的 HTTP transport：复用长连接、集中配置拨号与 TLS 超时，
// 并显式启用 HTTP/2。
func newTransport() *http.Transport {
	tr := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ForceAttemptHTTP2:     true,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}
	_ = http2.ConfigureTransport(tr)
	return tr
}

// NewClient 返回上游 http.Client。timeout 为 0 时不设整体超时，
// 仅受拨号/TLS 超时与请求 context 约束。
func NewClient(timeout time.Duration) *http.Client {
	if timeout < 0 {
		timeout = 0
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: newTransport(),
	}
}
