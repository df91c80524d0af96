package host

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/poultry-farm/shellcache/internal/worker"
)

// NewSyncRoutine 构建后台同步例程：配置了 path 时向上游 POST 该路径并要求 2xx，
// 否则等待 delay 后视为完成。
func NewSyncRoutine(origin, path string, delay time.Duration, fetcher worker.Fetcher) worker.SyncFunc {
	if strings.TrimSpace(path) == "" {
		return func(ctx context.Context) error {
			return sleepContext(ctx, delay)
		}
	}
	target := strings.TrimRight(origin, "/") + path
	return func(ctx context.Context) error {
		resp, err := fetcher.Fetch(ctx, &worker.Request{
			URL:    target,
			Method: http.MethodPost,
			Mode:   worker.ModeSameOrigin,
			Header: http.Header{"Content-Type": {"application/json"}},
			Body:   []byte("{}"),
		})
		if err != nil {
			return err
		}
		if !resp.OK() {
			return fmt.Errorf("sync endpoint returned %d", resp.Status)
		}
		return nil
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
