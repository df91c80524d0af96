package server

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"
	"github.com/valyala/fasthttp"

	"github.com/poultry-farm/shellcache/internal/host"
	"github.com/poultry-farm/shellcache/internal/worker"
)

func TestRouterResolvesRequestAgainstOrigin(t *testing.T) {
	app := newTestApp(t, func(_ context.Context, req *worker.Request) (*worker.Response, worker.Outcome, error) {
		return &worker.Response{
			Status: http.StatusOK,
			Header: http.Header{"Content-Type": {"text/html"}, "Connection": {"close"}},
			Body:   []byte("<h1>dashboard</h1>"),
			Type:   worker.TypeBasic,
		}, worker.OutcomeCacheHit, nil
	})

	req := httptest.NewRequest("GET", "http://localhost:5000/dashboard.html?coop=3", nil)
	req.RequestURI = "/dashboard.html?coop=3"
	req.Header.Set("Accept", "text/html")

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != fiber.StatusOK || string(body) != "<h1>dashboard</h1>" {
		t.Fatalf("unexpected response %d %s", resp.StatusCode, string(body))
	}
	if got := resp.Header.Get(OutcomeHeader); got != "cache-hit" {
		t.Fatalf("expected outcome header cache-hit, got %q", got)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Fatalf("expected X-Request-ID header to be set")
	}

	last := app.recorder.last()
	if last.URL != "http://farm.local/dashboard.html?coop=3" {
		t.Fatalf("request should be resolved against the origin, got %s", last.URL)
	}
	if last.Mode != worker.ModeNavigate {
		t.Fatalf("html GET should be a navigation, got %s", last.Mode)
	}
}

func TestRouterKeepsAbsoluteFormTarget(t *testing.T) {
	app := newTestApp(t, func(context.Context, *worker.Request) (*worker.Response, worker.Outcome, error) {
		return &worker.Response{Status: http.StatusOK, Body: []byte("chart")}, worker.OutcomePassthrough, nil
	})

	req := httptest.NewRequest("GET", "https://cdn.example.com/chart.js", nil)
	req.Header.Set("Sec-Fetch-Mode", "cors")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.Header.Get(OutcomeHeader) != "passthrough" {
		t.Fatalf("expected passthrough outcome, got %q", resp.Header.Get(OutcomeHeader))
	}
	last := app.recorder.last()
	if last.URL != "https://cdn.example.com/chart.js" || last.Mode != worker.ModeCORS {
		t.Fatalf("absolute-form target should be kept: %+v", last)
	}
}

func TestRouterForwardsMethodAndBody(t *testing.T) {
	app := newTestApp(t, func(context.Context, *worker.Request) (*worker.Response, worker.Outcome, error) {
		return &worker.Response{Status: http.StatusCreated}, worker.OutcomeNetwork, nil
	})

	req := httptest.NewRequest("POST", "http://farm.local/api/eggs", strings.NewReader(`{"count":12}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	last := app.recorder.last()
	if last.Method != "POST" || string(last.Body) != `{"count":12}` || last.Header.Get("Content-Type") != "application/json" {
		t.Fatalf("unexpected forwarded request %+v", last)
	}
}

func TestRouterMapsErrors(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{fmt.Errorf("wrap: %w", host.ErrPassthroughBlocked), fiber.StatusForbidden, "cross_origin_blocked"},
		{fmt.Errorf("wrap: %w", worker.ErrOfflineUnavailable), fiber.StatusServiceUnavailable, "offline_unavailable"},
		{fmt.Errorf("dial tcp: connection refused"), fiber.StatusBadGateway, "upstream_failed"},
	}
	for _, tc := range cases {
		app := newTestApp(t, func(context.Context, *worker.Request) (*worker.Response, worker.Outcome, error) {
			return nil, "", tc.err
		})
		resp, err := app.Test(httptest.NewRequest("GET", "http://farm.local/reports", nil))
		if err != nil {
			t.Fatalf("app.Test failed: %v", err)
		}
		body, _ := io.ReadAll(resp.Body)
		if resp.StatusCode != tc.status || !bytes.Contains(body, []byte(tc.code)) {
			t.Fatalf("expected %d %s, got %d %s", tc.status, tc.code, resp.StatusCode, string(body))
		}
	}
}

func TestRouterSkipsDiagnosticsPaths(t *testing.T) {
	app := newTestApp(t, func(context.Context, *worker.Request) (*worker.Response, worker.Outcome, error) {
		t.Fatalf("diagnostics paths must not be intercepted")
		return nil, "", nil
	})
	app.Get("/-/ping", func(c fiber.Ctx) error {
		return c.SendString("pong")
	})

	resp, err := app.Test(httptest.NewRequest("GET", "http://farm.local/-/ping", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "pong" {
		t.Fatalf("expected pong, got %s", string(body))
	}
}

func TestInterceptorRecoversPanic(t *testing.T) {
	app := fiber.New()
	defer app.Shutdown()
	ctx := app.AcquireCtx(new(fasthttp.RequestCtx))
	defer app.ReleaseCtx(ctx)
	ctx.Locals(contextKeyRequestID, "panic-req")

	logger := logrus.New()
	logBuf := &bytes.Buffer{}
	logger.SetOutput(logBuf)

	interceptor := NewInterceptor(FetchHandlerFunc(func(context.Context, *worker.Request) (*worker.Response, worker.Outcome, error) {
		panic("boom")
	}), logger, "poultry-farm-v3")

	if err := interceptor.Handle(ctx, &worker.Request{URL: "http://farm.local/", Method: "GET"}); err != nil {
		t.Fatalf("Handle returned unexpected error: %v", err)
	}
	if status := ctx.Response().StatusCode(); status != fiber.StatusInternalServerError {
		t.Fatalf("expected 500 for handler panic, got %d", status)
	}
	if body := string(ctx.Response().Body()); !strings.Contains(body, "handler_panic") {
		t.Fatalf("expected error body to mention handler_panic, got %s", body)
	}
	if got := string(ctx.Response().Header.Peek("X-Request-ID")); got != "panic-req" {
		t.Fatalf("expected request id header panic-req, got %s", got)
	}
	if !strings.Contains(logBuf.String(), "panic-req") {
		t.Fatalf("expected log to include panic request id, got %s", logBuf.String())
	}
}

func TestNewAppValidatesOptions(t *testing.T) {
	logger := logrus.New()
	handler := FetchHandlerFunc(func(context.Context, *worker.Request) (*worker.Response, worker.Outcome, error) {
		return nil, "", nil
	})
	if _, err := NewApp(AppOptions{Handler: handler, ListenPort: 5000, Origin: "http://farm.local"}); err == nil {
		t.Fatalf("expected logger error")
	}
	if _, err := NewApp(AppOptions{Logger: logger, Handler: handler, ListenPort: 5000, Origin: "farm.local"}); err == nil {
		t.Fatalf("expected origin error")
	}
}

type testApp struct {
	*fiber.App
	recorder *requestRecorder
}

type requestRecorder struct {
	mu       sync.Mutex
	requests []*worker.Request
}

func (r *requestRecorder) record(req *worker.Request) {
	r.mu.Lock()
	r.requests = append(r.requests, req)
	r.mu.Unlock()
}

func (r *requestRecorder) last() *worker.Request {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.requests) == 0 {
		return &worker.Request{}
	}
	return r.requests[len(r.requests)-1]
}

func newTestApp(t *testing.T, fn FetchHandlerFunc) *testApp {
	t.Helper()

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	recorder := &requestRecorder{}
	app, err := NewApp(AppOptions{
		Logger: logger,
		Handler: FetchHandlerFunc(func(ctx context.Context, req *worker.Request) (*worker.Response, worker.Outcome, error) {
			recorder.record(req)
			return fn(ctx, req)
		}),
		ListenPort: 5000,
		Origin:     "http://farm.local",
		Version:    "poultry-farm-v3",
	})
	if err != nil {
		t.Fatalf("failed to create app: %v", err)
	}
	return &testApp{App: app, recorder: recorder}
}
