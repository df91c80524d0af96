package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/poultry-farm/shellcache/internal/host"
	"github.com/poultry-farm/shellcache/internal/logging"
	"github.com/poultry-farm/shellcache/internal/metrics"
	"github.com/poultry-farm/shellcache/internal/upstream"
	"github.com/poultry-farm/shellcache/internal/worker"
)

// OutcomeHeader 携带本次请求的拦截结果（cache-hit、network-stored、offline 等）。
const OutcomeHeader = "X-Shellcache-Outcome"

// Interceptor 将 worker.Request 交给 FetchHandler，并把结果写回 fiber 响应。
type Interceptor struct {
	handler FetchHandler
	logger  *logrus.Logger
	version string
}

// NewInterceptor 创建 Interceptor，logger 为空时丢弃日志。
func NewInterceptor(handler FetchHandler, logger *logrus.Logger, version string) *Interceptor {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Interceptor{handler: handler, logger: logger, version: version}
}

// Handle 处理一次被拦截的请求；handler panic 时返回 500 handler_panic。
func (i *Interceptor) Handle(c fiber.Ctx, req *worker.Request) (err error) {
	requestID := RequestID(c)
	started := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = i.respondError(c, req, requestID, fiber.StatusInternalServerError, "handler_panic", fmt.Errorf("panic: %v", r))
		}
		metrics.ObserveRequest(req.Method, strconv.Itoa(c.Response().StatusCode()), time.Since(started))
	}()

	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	resp, outcome, fetchErr := i.handler.Fetch(ctx, req)
	switch {
	case errors.Is(fetchErr, host.ErrPassthroughBlocked):
		return i.respondError(c, req, requestID, fiber.StatusForbidden, "cross_origin_blocked", fetchErr)
	case errors.Is(fetchErr, worker.ErrOfflineUnavailable):
		return i.respondError(c, req, requestID, fiber.StatusServiceUnavailable, "offline_unavailable", fetchErr)
	case fetchErr != nil:
		return i.respondError(c, req, requestID, fiber.StatusBadGateway, "upstream_failed", fetchErr)
	case resp == nil:
		return i.respondError(c, req, requestID, fiber.StatusBadGateway, "empty_response", nil)
	}

	writeResponse(c, resp)
	c.Set(OutcomeHeader, string(outcome))
	setRequestIDHeader(c, requestID)
	i.logResult(req, requestID, string(outcome), resp.Status, started)
	return nil
}

func writeResponse(c fiber.Ctx, resp *worker.Response) {
	for key, values := range resp.Header {
		if upstream.IsHopByHopHeader(key) || http.CanonicalHeaderKey(key) == fiber.HeaderContentLength {
			continue
		}
		c.Response().Header.Del(key)
		for _, value := range values {
			c.Response().Header.Add(key, value)
		}
	}
	status := resp.Status
	if status == 0 {
		status = fiber.StatusOK
	}
	c.Status(status)
	if c.Method() == http.MethodHead {
		return
	}
	c.Response().SetBodyRaw(resp.Body)
}

func (i *Interceptor) respondError(c fiber.Ctx, req *worker.Request, requestID string, status int, code string, err error) error {
	fields := logging.RequestFields(i.version, req.URL, requestID, "")
	fields["action"] = "intercept"
	fields["method"] = req.Method
	fields["error"] = code
	entry := i.logger.WithFields(fields)
	if err != nil {
		entry = entry.WithError(err)
	}
	if status >= fiber.StatusInternalServerError {
		entry.Error("request failed")
	} else {
		entry.Warn("request rejected")
	}

	setRequestIDHeader(c, requestID)
	return c.Status(status).JSON(fiber.Map{"error": code})
}

func (i *Interceptor) logResult(req *worker.Request, requestID, outcome string, status int, started time.Time) {
	fields := logging.RequestFields(i.version, req.URL, requestID, outcome)
	fields["action"] = "intercept"
	fields["method"] = req.Method
	fields["status"] = status
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	i.logger.WithFields(fields).Info("request served")
}

func setRequestIDHeader(c fiber.Ctx, requestID string) {
	if requestID != "" {
		c.Set("X-Request-ID", requestID)
	}
}
