package worker

// EventKind 是分发表的键。
type EventKind string

const (
	EventInstall           EventKind = "install"
	EventActivate          EventKind = "activate"
	EventFetch             EventKind = "fetch"
	EventSync              EventKind = "sync"
	EventPush              EventKind = "push"
	EventNotificationClick EventKind = "notificationclick"
)

// Event 是宿主投递给 worker 的生命周期或功能事件。
type Event interface {
	Kind() EventKind
}

type InstallEvent struct{}

type ActivateEvent struct{}

type FetchEvent struct {
	Request *Request
}

type SyncEvent struct {
	Tag string
}

// PushEvent.Data 为空表示推送没有携带正文。
type PushEvent struct {
	Data []byte
}

type NotificationClickEvent struct {
	Notification Notification
}

func (InstallEvent) Kind() EventKind           { return EventInstall }
func (ActivateEvent) Kind() EventKind          { return EventActivate }
func (FetchEvent) Kind() EventKind             { return EventFetch }
func (SyncEvent) Kind() EventKind              { return EventSync }
func (PushEvent) Kind() EventKind              { return EventPush }
func (NotificationClickEvent) Kind() EventKind { return EventNotificationClick }

// Outcome 记录一次 fetch 的终态。
type Outcome string

const (
	OutcomePassthrough   Outcome = "passthrough"
	OutcomeCacheHit      Outcome = "cache-hit"
	OutcomeNetworkStored Outcome = "network-stored"
	OutcomeNetwork       Outcome = "network"
	OutcomeOffline       Outcome = "offline"
)

// EffectKind 标识事件处理过程中执行的副作用。
type EffectKind string

const (
	EffectCachePut          EffectKind = "cache-put"
	EffectCacheDelete       EffectKind = "cache-delete"
	EffectSkipWaiting       EffectKind = "skip-waiting"
	EffectClaim             EffectKind = "claim"
	EffectShowNotification  EffectKind = "show-notification"
	EffectCloseNotification EffectKind = "close-notification"
	EffectFocusClient       EffectKind = "focus-client"
	EffectOpenWindow        EffectKind = "open-window"
	EffectSync              EffectKind = "sync"
)

// Effect 是一条已执行（或已调度）的副作用，Target 为 URL、代际名或通知 ID。
type Effect struct {
	Kind   EffectKind `json:"kind"`
	Target string     `json:"target,omitempty"`
}

// Result 是事件处理结果：可选的响应、fetch 终态与按顺序记录的副作用。
type Result struct {
	Response *Response
	Outcome  Outcome
	Effects  []Effect
}

func (r *Result) add(kind EffectKind, target string) {
	r.Effects = append(r.Effects, Effect{Kind: kind, Target: target})
}

// Has 报告结果中是否包含指定副作用。
func (r *Result) Has(kind EffectKind) bool {
	if r == nil {
		return false
	}
	for _, e := range r.Effects {
		if e.Kind == kind {
			return true
		}
	}
	return false
}
