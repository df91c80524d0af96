package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/poultry-farm/shellcache/internal/cache"
	"github.com/poultry-farm/shellcache/internal/metrics"
)

// handleInstall 并发拉取全部预缓存 URL，全部成功后一次性写入当前代际。
func (w *Worker) handleInstall(ctx context.Context, _ Event, res *Result) error {
	gen, err := w.storage.Open(ctx, w.version)
	if err != nil {
		metrics.IncInstall("failure")
		return fmt.Errorf("%w: open generation %s: %w", ErrInstallFailed, w.version, err)
	}

	records := make([]cache.Record, len(w.precache))
	g, gctx := errgroup.WithContext(ctx)
	for i, path := range w.precache {
		target := w.Resolve(path)
		g.Go(func() error {
			resp, err := w.fetcher.Fetch(gctx, &Request{
				URL:    target,
				Method: http.MethodGet,
				Mode:   ModeSameOrigin,
				Header: http.Header{},
			})
			if err != nil {
				return fmt.Errorf("precache %s: %w", path, err)
			}
			if !resp.OK() {
				return fmt.Errorf("precache %s: unexpected status %d", path, resp.Status)
			}
			records[i] = resp.record(target)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		metrics.IncInstall("failure")
		w.eventLog(EventInstall, "").WithError(err).Warn("precache failed")
		return fmt.Errorf("%w: %w", ErrInstallFailed, err)
	}

	if err := gen.PutAll(ctx, records); err != nil {
		metrics.IncInstall("failure")
		return fmt.Errorf("%w: store precache: %w", ErrInstallFailed, err)
	}
	for _, rec := range records {
		res.add(EffectCachePut, rec.URL)
	}
	w.setGeneration(gen)
	res.add(EffectSkipWaiting, "")
	metrics.IncInstall("success")
	w.eventLog(EventInstall, "").WithField("entries", len(records)).Info("precache stored")
	return nil
}

// handleActivate 删除除当前版本外的全部代际，单个失败不中断，最后接管窗口。
func (w *Worker) handleActivate(ctx context.Context, _ Event, res *Result) error {
	names, err := w.storage.Keys(ctx)
	if err != nil {
		return fmt.Errorf("list generations: %w", err)
	}

	var deleteErr error
	for _, name := range names {
		if name == w.version {
			continue
		}
		if _, err := w.storage.Delete(ctx, name); err != nil {
			metrics.IncGenerationDeleted("failure")
			w.eventLog(EventActivate, "").WithField("stale", name).WithError(err).Warn("delete stale generation failed")
			deleteErr = multierr.Append(deleteErr, fmt.Errorf("delete %s: %w", name, err))
			continue
		}
		metrics.IncGenerationDeleted("success")
		res.add(EffectCacheDelete, name)
		w.eventLog(EventActivate, "").WithField("stale", name).Info("stale generation deleted")
	}

	if w.clients != nil {
		if err := w.clients.Claim(ctx); err != nil {
			return fmt.Errorf("claim clients: %w", err)
		}
	}
	res.add(EffectClaim, "")

	if deleteErr != nil {
		return fmt.Errorf("%w: %w", ErrStaleDeleteFailed, deleteErr)
	}
	return nil
}

// Resume 复用已完整预缓存的当前代际，跳过 install；代际缺失或缺少任一
// 预缓存条目时返回 false。
func (w *Worker) Resume(ctx context.Context) (bool, error) {
	exists, err := w.storage.Has(ctx, w.version)
	if err != nil || !exists {
		return false, err
	}
	gen, err := w.storage.Open(ctx, w.version)
	if err != nil {
		return false, err
	}
	for _, path := range w.precache {
		if _, err := gen.Match(ctx, w.Resolve(path)); err != nil {
			if errors.Is(err, cache.ErrNotFound) {
				return false, nil
			}
			return false, err
		}
	}
	w.setGeneration(gen)
	return true, nil
}
