package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultCacheVersion 是参考构建中使用的缓存代际名称。
	DefaultCacheVersion = "poultry-farm-v3"
	// DefaultOfflinePage 是所有失败路径共用的离线文档。
	DefaultOfflinePage = "/offline.html"
	// DefaultSyncTag 是后台同步事件唯一响应的标签。
	DefaultSyncTag = "pending-data-sync"
)

// DefaultPrecache 返回应用外壳的预缓存清单（顺序固定）。
func DefaultPrecache() []string {
	urls := []string{
		"/",
		"/index.html",
		"/login.html",
		"/dashboard.html",
		DefaultOfflinePage,
		"/styles.css",
		"/app.js",
		"/script.js",
		"/pwa-install.js",
		"/manifest.json",
	}
	for _, size := range []int{72, 96, 128, 144, 152, 192, 384, 512} {
		urls = append(urls, fmt.Sprintf("/icons/icon-%dx%d.png", size, size))
	}
	return urls
}

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"5m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if parsed, err := time.ParseDuration(raw); err == nil {
		*d = Duration(parsed)
		return nil
	}

	if intVal, err := parseInt(raw); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// GlobalConfig 描述进程级行为：监听端口、日志、缓存存储与上游。
type GlobalConfig struct {
	ListenPort       int      `mapstructure:"ListenPort"`
	LogLevel         string   `mapstructure:"LogLevel"`
	LogFilePath      string   `mapstructure:"LogFilePath"`
	LogMaxSize       int      `mapstructure:"LogMaxSize"`
	LogMaxBackups    int      `mapstructure:"LogMaxBackups"`
	LogCompress      bool     `mapstructure:"LogCompress"`
	StoragePath      string   `mapstructure:"StoragePath"`
	StorageDriver    string   `mapstructure:"StorageDriver"`
	Origin           string   `mapstructure:"Origin"`
	Upstream         string   `mapstructure:"Upstream"`
	AllowPassthrough bool     `mapstructure:"AllowPassthrough"`
	MaxRetries       int      `mapstructure:"MaxRetries"`
	InitialBackoff   Duration `mapstructure:"InitialBackoff"`
	UpstreamTimeout  Duration `mapstructure:"UpstreamTimeout"`
}

// WorkerConfig 决定缓存代际、预缓存清单与后台同步行为。
type WorkerConfig struct {
	CacheVersion string   `mapstructure:"CacheVersion"`
	OfflinePage  string   `mapstructure:"OfflinePage"`
	Precache     []string `mapstructure:"Precache"`
	ManifestFile string   `mapstructure:"ManifestFile"`
	SyncTag      string   `mapstructure:"SyncTag"`
	SyncPath     string   `mapstructure:"SyncPath"`
	SyncDelay    Duration `mapstructure:"SyncDelay"`
}

// NotificationConfig 是推送通知的展示选项。
type NotificationConfig struct {
	Icon    string `mapstructure:"Icon"`
	Badge   string `mapstructure:"Badge"`
	Vibrate []int  `mapstructure:"Vibrate"`
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global       GlobalConfig       `mapstructure:",squash"`
	Worker       WorkerConfig       `mapstructure:"Worker"`
	Notification NotificationConfig `mapstructure:"Notification"`
}

// EffectiveOrigin 返回拦截判定使用的站点 origin，未配置时回退到本地监听地址。
func (c *Config) EffectiveOrigin() string {
	if origin := strings.TrimRight(strings.TrimSpace(c.Global.Origin), "/"); origin != "" {
		return origin
	}
	return fmt.Sprintf("http://localhost:%d", c.Global.ListenPort)
}

// StorageSummary 输出 `driver:path`，供启动日志使用。
func (c *Config) StorageSummary() string {
	return c.Global.StorageDriver + ":" + c.Global.StoragePath
}
