package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/poultry-farm/shellcache/internal/worker"
)

// FetchHandler describes the component that answers intercepted requests.
// host.Host satisfies it; tests inject fakes.
type FetchHandler interface {
	Fetch(ctx context.Context, req *worker.Request) (*worker.Response, worker.Outcome, error)
}

// FetchHandlerFunc adapts a function to the FetchHandler interface.
type FetchHandlerFunc func(ctx context.Context, req *worker.Request) (*worker.Response, worker.Outcome, error)

// Fetch makes FetchHandlerFunc satisfy FetchHandler.
func (f FetchHandlerFunc) Fetch(ctx context.Context, req *worker.Request) (*worker.Response, worker.Outcome, error) {
	return f(ctx, req)
}

// AppOptions controls how the Fiber application should behave.
type AppOptions struct {
	Logger     *logrus.Logger
	Handler    FetchHandler
	ListenPort int
	// Origin 是 worker 的作用域源；非 absolute-form 请求都解析到该源下。
	Origin string
	// Version 仅用于日志中的 generation 字段。
	Version string
}

const (
	contextKeyRequestID = "_shellcache_request_id"
	contextKeyRequest   = "_shellcache_request"
)

// NewApp builds a Fiber application with request-ID middleware, panic
// recovery and the interception catch-all.
func NewApp(opts AppOptions) (*fiber.App, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.Handler == nil {
		return nil, errors.New("fetch handler is required")
	}
	if opts.ListenPort <= 0 {
		return nil, fmt.Errorf("invalid listen port: %d", opts.ListenPort)
	}
	origin, err := url.Parse(strings.TrimRight(opts.Origin, "/"))
	if err != nil || origin.Scheme == "" || origin.Host == "" {
		return nil, fmt.Errorf("invalid origin: %q", opts.Origin)
	}

	app := fiber.New(fiber.Config{
		CaseSensitive: true,
	})

	app.Use(recover.New())
	app.Use(requestContextMiddleware(origin))

	interceptor := NewInterceptor(opts.Handler, opts.Logger, opts.Version)
	app.All("/*", func(c fiber.Ctx) error {
		if isDiagnosticsPath(string(c.Request().URI().Path())) {
			return c.Next()
		}
		req, _ := getRequestFromContext(c)
		if req == nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "request_invalid"})
		}
		return interceptor.Handle(c, req)
	})

	return app, nil
}

// requestContextMiddleware 负责生成请求 ID，并把入站请求转换为 worker.Request。
func requestContextMiddleware(origin *url.URL) fiber.Handler {
	return func(c fiber.Ctx) error {
		reqID := uuid.NewString()
		c.Locals(contextKeyRequestID, reqID)
		c.Set("X-Request-ID", reqID)

		if isDiagnosticsPath(string(c.Request().URI().Path())) {
			return c.Next()
		}

		c.Locals(contextKeyRequest, buildRequest(c, origin))
		return c.Next()
	}
}

// buildRequest 还原页面发起的请求：absolute-form 的 request-target 保留原 URL
// （可能跨域），其余一律视为作用域源下的路径。
func buildRequest(c fiber.Ctx, origin *url.URL) *worker.Request {
	target := string(c.Request().Header.RequestURI())
	if !isAbsoluteURI(target) {
		if !strings.HasPrefix(target, "/") {
			target = "/" + target
		}
		target = origin.Scheme + "://" + origin.Host + target
	}

	header := http.Header{}
	c.Request().Header.VisitAll(func(key, value []byte) {
		header.Add(string(key), string(value))
	})

	var body []byte
	if raw := c.Body(); len(raw) > 0 {
		body = append([]byte(nil), raw...)
	}

	return &worker.Request{
		URL:    target,
		Method: c.Method(),
		Mode:   requestMode(c),
		Header: header,
		Body:   body,
	}
}

func isAbsoluteURI(target string) bool {
	lower := strings.ToLower(target)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

// requestMode 优先采用浏览器的 Sec-Fetch-Mode，缺省时按 Accept 推断导航请求。
func requestMode(c fiber.Ctx) worker.Mode {
	if mode := strings.ToLower(strings.TrimSpace(c.Get("Sec-Fetch-Mode"))); mode != "" {
		switch worker.Mode(mode) {
		case worker.ModeNavigate, worker.ModeSameOrigin, worker.ModeNoCORS, worker.ModeCORS:
			return worker.Mode(mode)
		}
	}
	if c.Method() == fiber.MethodGet && strings.Contains(c.Get(fiber.HeaderAccept), "text/html") {
		return worker.ModeNavigate
	}
	return worker.ModeNoCORS
}

func getRequestFromContext(c fiber.Ctx) (*worker.Request, bool) {
	if value := c.Locals(contextKeyRequest); value != nil {
		if req, ok := value.(*worker.Request); ok {
			return req, true
		}
	}
	return nil, false
}

// RequestID returns the request identifier stored by the router middleware.
func RequestID(c fiber.Ctx) string {
	if value := c.Locals(contextKeyRequestID); value != nil {
		if reqID, ok := value.(string); ok {
			return reqID
		}
	}
	return ""
}

func isDiagnosticsPath(path string) bool {
	return strings.HasPrefix(path, "/-/")
}
