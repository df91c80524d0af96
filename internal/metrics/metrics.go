package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	requestTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "shellcache",
			Name:      "http_requests_total",
			Help:      "Total number of intercepted HTTP requests",
		},
		[]string{"method", "code"},
	)

	requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "shellcache",
			Name:      "http_request_duration_seconds",
			Help:      "Duration of intercepted HTTP requests",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	fetchOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "shellcache",
			Name:      "fetch_outcomes_total",
			Help:      "Fetch events by interception outcome",
		},
		[]string{"outcome"},
	)

	cacheStoreFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "shellcache",
			Name:      "cache_store_failures_total",
			Help:      "Background cache writes that failed",
		},
	)

	installAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "shellcache",
			Name:      "install_attempts_total",
			Help:      "Precache install attempts by result",
		},
		[]string{"result"},
	)

	generationsDeleted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "shellcache",
			Name:      "generations_deleted_total",
			Help:      "Stale cache generations removed on activation",
		},
		[]string{"result"},
	)

	syncRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "shellcache",
			Name:      "sync_runs_total",
			Help:      "Background sync routine runs by result",
		},
		[]string{"result"},
	)

	notifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "shellcache",
			Name:      "notifications_total",
			Help:      "Notifications shown and clicked",
		},
		[]string{"action"},
	)

	workerActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "shellcache",
			Name:      "worker_active",
			Help:      "1 when the worker controls intercepted traffic",
		},
	)

	initOnce sync.Once
)

// Init 注册全部指标，可重复调用。
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			requestTotal,
			requestDuration,
			fetchOutcomes,
			cacheStoreFailures,
			installAttempts,
			generationsDeleted,
			syncRuns,
			notifications,
			workerActive,
		)
	})
}

func Handler() http.Handler {
	return promhttp.Handler()
}

func ObserveRequest(method, code string, d time.Duration) {
	requestTotal.WithLabelValues(method, code).Inc()
	requestDuration.WithLabelValues(method).Observe(d.Seconds())
}

func IncFetchOutcome(outcome string) {
	fetchOutcomes.WithLabelValues(outcome).Inc()
}

func IncCacheStoreFailure() {
	cacheStoreFailures.Inc()
}

func IncInstall(result string) {
	installAttempts.WithLabelValues(result).Inc()
}

func IncGenerationDeleted(result string) {
	generationsDeleted.WithLabelValues(result).Inc()
}

func IncSync(result string) {
	syncRuns.WithLabelValues(result).Inc()
}

func IncNotification(action string) {
	notifications.WithLabelValues(action).Inc()
}

func SetWorkerActive(active bool) {
	if active {
		workerActive.Set(1)
		return
	}
	workerActive.Set(0)
}
