package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/poultry-farm/shellcache/internal/cache"
	"github.com/poultry-farm/shellcache/internal/metrics"
)

// ErrBadPushPayload 表示推送正文不是合法 JSON。
var ErrBadPushPayload = errors.New("invalid push payload")

func (w *Worker) handleSync(ctx context.Context, ev Event, res *Result) error {
	se, _ := ev.(SyncEvent)
	if se.Tag != w.syncTag {
		w.eventLog(EventSync, "").WithField("tag", se.Tag).Debug("sync tag ignored")
		return nil
	}
	res.add(EffectSync, se.Tag)
	if w.sync == nil {
		return nil
	}
	if err := w.sync(ctx); err != nil {
		metrics.IncSync("failure")
		return fmt.Errorf("sync %s: %w", se.Tag, err)
	}
	metrics.IncSync("success")
	w.eventLog(EventSync, "").WithField("tag", se.Tag).Info("background sync completed")
	return nil
}

func (w *Worker) handlePush(ctx context.Context, ev Event, res *Result) error {
	pe, _ := ev.(PushEvent)
	if len(bytes.TrimSpace(pe.Data)) == 0 {
		return nil
	}
	var payload PushPayload
	if err := json.Unmarshal(pe.Data, &payload); err != nil {
		return fmt.Errorf("%w: %w", ErrBadPushPayload, err)
	}
	if payload.URL == "" {
		payload.URL = "/"
	}
	if w.notifier == nil {
		return errors.New("push: notifier not configured")
	}

	shown, err := w.notifier.Show(ctx, Notification{
		Title:   payload.Title,
		Body:    payload.Body,
		Icon:    w.notification.Icon,
		Badge:   w.notification.Badge,
		Vibrate: append([]int(nil), w.notification.Vibrate...),
		URL:     payload.URL,
		ShownAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("show notification: %w", err)
	}
	res.add(EffectShowNotification, shown.ID)
	metrics.IncNotification("shown")
	w.eventLog(EventPush, payload.URL).WithField("notification", shown.ID).Info("notification shown")
	return nil
}

// handleNotificationClick 先关闭通知，再聚焦 URL 相同的窗口，没有则新开窗口。
func (w *Worker) handleNotificationClick(ctx context.Context, ev Event, res *Result) error {
	ne, _ := ev.(NotificationClickEvent)
	n := ne.Notification

	if w.notifier != nil {
		if err := w.notifier.Close(ctx, n.ID); err != nil {
			w.eventLog(EventNotificationClick, "").WithField("notification", n.ID).WithError(err).Warn("close notification failed")
		}
	}
	res.add(EffectCloseNotification, n.ID)
	metrics.IncNotification("clicked")

	if w.clients == nil {
		return errors.New("notificationclick: clients not configured")
	}
	ref := n.URL
	if ref == "" {
		ref = "/"
	}
	target := w.Resolve(ref)

	windows, err := w.clients.MatchAll(ctx)
	if err != nil {
		return fmt.Errorf("match clients: %w", err)
	}
	for _, client := range windows {
		if cache.Key(client.URL) != cache.Key(target) {
			continue
		}
		focused, err := w.clients.Focus(ctx, client.ID)
		if err != nil {
			return fmt.Errorf("focus client %s: %w", client.ID, err)
		}
		res.add(EffectFocusClient, focused.ID)
		w.eventLog(EventNotificationClick, target).WithField("client", focused.ID).Info("client focused")
		return nil
	}

	opened, err := w.clients.OpenWindow(ctx, target)
	if err != nil {
		return fmt.Errorf("open window: %w", err)
	}
	res.add(EffectOpenWindow, opened.URL)
	w.eventLog(EventNotificationClick, target).WithField("client", opened.ID).Info("window opened")
	return nil
}
