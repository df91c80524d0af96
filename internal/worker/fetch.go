package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/poultry-farm/shellcache/internal/cache"
	"github.com/poultry-farm/shellcache/internal/logging"
	"github.com/poultry-farm/shellcache/internal/metrics"
)

// handleFetch 实现拦截策略：跨域放行 → 缓存优先 → 网络（择机回填）→ 离线页。
func (w *Worker) handleFetch(ctx context.Context, ev Event, res *Result) error {
	fe, ok := ev.(FetchEvent)
	if !ok || fe.Request == nil {
		return errors.New("fetch event without request")
	}
	req := fe.Request
	if req.Method == "" {
		req.Method = http.MethodGet
	}

	if !w.SameOrigin(req.URL) {
		res.Outcome = OutcomePassthrough
		metrics.IncFetchOutcome(string(res.Outcome))
		return nil
	}

	gen := w.generation()
	if gen == nil {
		return ErrNotActive
	}

	key, keyErr := cache.RequestKey(req.Method, req.URL)
	if keyErr == nil {
		hit, err := gen.Match(ctx, key)
		switch {
		case err == nil:
			res.Response = responseFromRecord(hit)
			res.Outcome = OutcomeCacheHit
			metrics.IncFetchOutcome(string(res.Outcome))
			return nil
		case !errors.Is(err, cache.ErrNotFound):
			w.eventLog(EventFetch, req.URL).WithError(err).Warn("cache lookup failed")
			return w.serveOffline(ctx, gen, req, res, err)
		}
	}

	resp, err := w.fetcher.Fetch(ctx, req)
	if err != nil {
		return w.serveOffline(ctx, gen, req, res, err)
	}

	res.Response = resp
	res.Outcome = OutcomeNetwork
	if cacheable(resp) {
		if keyErr != nil {
			metrics.IncCacheStoreFailure()
			w.logger.WithFields(logging.EventFields(string(EventFetch), w.version, req.URL)).
				WithField("error", "cache_store_failed").
				Warn(keyErr.Error())
		} else {
			w.storeAsync(ctx, gen, key, resp.Clone())
			res.add(EffectCachePut, key)
			res.Outcome = OutcomeNetworkStored
		}
	}
	metrics.IncFetchOutcome(string(res.Outcome))
	return nil
}

// cacheable 只接受状态码恰为 200 且类型为 basic 的响应。
func cacheable(resp *Response) bool {
	return resp != nil && resp.Status == http.StatusOK && resp.Type == TypeBasic
}

// storeAsync 在后台写入缓存，不受请求取消影响；失败只记日志。
func (w *Worker) storeAsync(ctx context.Context, gen cache.Cache, key string, dup *Response) {
	storeCtx := context.WithoutCancel(ctx)
	w.pending.Add(1)
	go func() {
		defer w.pending.Done()
		if err := gen.Put(storeCtx, dup.record(key)); err != nil {
			metrics.IncCacheStoreFailure()
			w.logger.WithFields(logging.EventFields(string(EventFetch), gen.Name(), key)).
				WithField("error", "cache_store_failed").
				Warn(err.Error())
		}
	}()
}

func (w *Worker) serveOffline(ctx context.Context, gen cache.Cache, req *Request, res *Result, cause error) error {
	offlineURL := w.Resolve(w.offlinePage)
	rec, err := gen.Match(ctx, offlineURL)
	if err != nil {
		w.eventLog(EventFetch, req.URL).WithError(cause).Error("offline document missing")
		return fmt.Errorf("%w: %w (network: %v)", ErrOfflineUnavailable, err, cause)
	}
	res.Response = responseFromRecord(rec)
	res.Outcome = OutcomeOffline
	metrics.IncFetchOutcome(string(res.Outcome))
	w.eventLog(EventFetch, req.URL).WithError(cause).Info("serving offline document")
	return nil
}
