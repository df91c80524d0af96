// Package upstream 负责真实网络访问：同源请求映射到配置的上游站点，
// 跨域请求按原 URL 转发。
package upstream

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/poultry-farm/shellcache/internal/logging"
	"github.com/poultry-farm/shellcache/internal/worker"
)

const maxRedirects = 10

// Fetcher 实现 worker.Fetcher 与 host.Network。
type Fetcher struct {
	origin      *url.URL
	upstream    *url.URL
	client      *http.Client
	passthrough *http.Client
	logger      *logrus.Logger
}

// New 构建 Fetcher。origin 是页面看到的站点地址，upstream 是实际提供内容的服务。
func New(origin, upstream string, timeout time.Duration, logger *logrus.Logger) (*Fetcher, error) {
	originURL, err := parseBase(origin)
	if err != nil {
		return nil, fmt.Errorf("origin: %w", err)
	}
	upstreamURL, err := parseBase(upstream)
	if err != nil {
		return nil, fmt.Errorf("upstream: %w", err)
	}
	if logger == nil {
		logger = logging.Discard()
	}

	client := NewClient(timeout)
	passthrough := *client
	f := &Fetcher{
		origin:      originURL,
		upstream:    upstreamURL,
		client:      client,
		passthrough: &passthrough,
		logger:      logger,
	}
	client.CheckRedirect = f.sameHostRedirect
	return f, nil
}

func parseBase(raw string) (*url.URL, error) {
	parsed, err := url.Parse(strings.TrimRight(strings.TrimSpace(raw), "/"))
	if err != nil {
		return nil, err
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid base url %q", raw)
	}
	return parsed, nil
}

// sameHostRedirect 只在上游站点内部跟随重定向，离开上游时返回最后一个响应，
// 调用方将其标记为 opaqueredirect。
func (f *Fetcher) sameHostRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return fmt.Errorf("stopped after %d redirects", maxRedirects)
	}
	if !strings.EqualFold(req.URL.Host, f.upstream.Host) {
		return http.ErrUseLastResponse
	}
	return nil
}

// Fetch 将同源请求映射到上游并返回完整响应。
func (f *Fetcher) Fetch(ctx context.Context, req *worker.Request) (*worker.Response, error) {
	target, err := f.upstreamURL(req.URL)
	if err != nil {
		return nil, err
	}
	resp, err := f.do(ctx, f.client, target, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	out, err := readResponse(resp)
	if err != nil {
		return nil, err
	}
	out.URL = f.originURL(resp.Request.URL)
	out.Type = worker.TypeBasic
	if isRedirect(resp.StatusCode) && resp.Header.Get("Location") != "" {
		out.Type = worker.TypeOpaqueRedirect
	}
	f.logger.WithFields(logrus.Fields{
		"action":   "upstream",
		"url":      req.URL,
		"upstream": target,
		"status":   out.Status,
	}).Debug("upstream fetch")
	return out, nil
}

// Passthrough 按原 URL 转发跨域请求，结果不参与缓存。
func (f *Fetcher) Passthrough(ctx context.Context, req *worker.Request) (*worker.Response, error) {
	resp, err := f.do(ctx, f.passthrough, req.URL, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	out, err := readResponse(resp)
	if err != nil {
		return nil, err
	}
	out.URL = resp.Request.URL.String()
	out.Type = worker.TypeOpaque
	if req.Mode == worker.ModeCORS {
		out.Type = worker.TypeCORS
	}
	return out, nil
}

func (f *Fetcher) do(ctx context.Context, client *http.Client, target string, req *worker.Request) (*http.Response, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	outReq, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, err
	}
	if req.Header != nil {
		CopyHeaders(outReq.Header, req.Header)
	}
	outReq.Header.Del("Host")
	outReq.Header.Set("X-Forwarded-Host", f.origin.Host)
	outReq.Header.Set("X-Forwarded-Proto", f.origin.Scheme)
	return client.Do(outReq)
}

// upstreamURL 将同源 URL 的 path/query 拼接到上游地址上，host 部分由调用方保证同源。
func (f *Fetcher) upstreamURL(raw string) (string, error) {
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	target := *f.upstream
	target.Path = f.upstream.Path + parsed.Path
	target.RawPath = ""
	target.RawQuery = parsed.RawQuery
	target.Fragment = ""
	return target.String(), nil
}

// originURL 将上游最终地址映射回页面看到的同源地址。
func (f *Fetcher) originURL(final *url.URL) string {
	if final == nil {
		return ""
	}
	if !strings.EqualFold(final.Host, f.upstream.Host) {
		return final.String()
	}
	mapped := *f.origin
	mapped.Path = strings.TrimPrefix(final.Path, f.upstream.Path)
	if mapped.Path == "" {
		mapped.Path = "/"
	}
	mapped.RawPath = ""
	mapped.RawQuery = final.RawQuery
	return mapped.String()
}

func readResponse(resp *http.Response) (*worker.Response, error) {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read upstream body: %w", err)
	}
	header := http.Header{}
	CopyHeaders(header, resp.Header)
	return &worker.Response{
		Status:     resp.StatusCode,
		StatusText: http.StatusText(resp.StatusCode),
		Header:     header,
		Body:       body,
	}, nil
}

func isRedirect(status int) bool {
	return status >= 300 && status < 400
}
