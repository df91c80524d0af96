package routes

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"

	"github.com/poultry-farm/shellcache/internal/host"
	"github.com/poultry-farm/shellcache/internal/metrics"
	"github.com/poultry-farm/shellcache/internal/worker"
)

// Runtime 是控制接口依赖的宿主能力，host.Host 实现该接口。
type Runtime interface {
	Status(ctx context.Context) host.Status
	TriggerSync(tag string) error
	Push(ctx context.Context, data []byte) (*worker.Result, error)
	Notifications() []worker.Notification
	ClickNotification(ctx context.Context, id string) (*worker.Result, error)
	Clients() []worker.Client
	OpenClient(url string) worker.Client
	CloseClient(id string) bool
}

// RegisterControlRoutes 暴露 /-/ 下的诊断与事件投递接口。
func RegisterControlRoutes(app *fiber.App, rt Runtime, syncTag string) {
	if app == nil || rt == nil {
		return
	}

	app.Get("/-/status", func(c fiber.Ctx) error {
		return c.JSON(rt.Status(c.Context()))
	})

	app.Post("/-/sync", func(c fiber.Ctx) error {
		var payload struct {
			Tag string `json:"tag"`
		}
		if body := c.Body(); len(body) > 0 {
			if err := json.Unmarshal(body, &payload); err != nil {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_json"})
			}
		}
		tag := strings.TrimSpace(payload.Tag)
		if tag == "" {
			tag = syncTag
		}
		if err := rt.TriggerSync(tag); err != nil {
			return renderRuntimeError(c, err)
		}
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"tag": tag, "scheduled": true})
	})

	app.Post("/-/push", func(c fiber.Ctx) error {
		res, err := rt.Push(c.Context(), c.Body())
		if err != nil {
			return renderRuntimeError(c, err)
		}
		return c.JSON(encodeResult(res))
	})

	app.Get("/-/notifications", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{"notifications": rt.Notifications()})
	})

	app.Post("/-/notifications/:id/click", func(c fiber.Ctx) error {
		id := strings.TrimSpace(c.Params("id"))
		if id == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "notification_id_required"})
		}
		res, err := rt.ClickNotification(c.Context(), id)
		if err != nil {
			return renderRuntimeError(c, err)
		}
		return c.JSON(encodeResult(res))
	})

	app.Get("/-/clients", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{"clients": rt.Clients()})
	})

	app.Post("/-/clients", func(c fiber.Ctx) error {
		var payload struct {
			URL string `json:"url"`
		}
		if err := json.Unmarshal(c.Body(), &payload); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_json"})
		}
		if strings.TrimSpace(payload.URL) == "" {
			payload.URL = "/"
		}
		return c.Status(fiber.StatusCreated).JSON(rt.OpenClient(payload.URL))
	})

	app.Delete("/-/clients/:id", func(c fiber.Ctx) error {
		if !rt.CloseClient(c.Params("id")) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "client_not_found"})
		}
		return c.SendStatus(fiber.StatusNoContent)
	})

	app.Get("/-/metrics", adaptor.HTTPHandler(metrics.Handler()))
}

type resultPayload struct {
	Effects []worker.Effect `json:"effects"`
}

func encodeResult(res *worker.Result) resultPayload {
	if res == nil || len(res.Effects) == 0 {
		return resultPayload{Effects: []worker.Effect{}}
	}
	return resultPayload{Effects: res.Effects}
}

func renderRuntimeError(c fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, worker.ErrNotActive):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "worker_not_active"})
	case errors.Is(err, host.ErrNotificationNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "notification_not_found"})
	case errors.Is(err, host.ErrNotificationClosed):
		return c.Status(fiber.StatusGone).JSON(fiber.Map{"error": "notification_closed"})
	case errors.Is(err, worker.ErrBadPushPayload):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_push_payload"})
	default:
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "event_failed"})
	}
}
