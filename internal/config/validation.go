package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var supportedStorageDrivers = map[string]struct{}{
	"bolt":    {},
	"leveldb": {},
	"fs":      {},
}

const supportedStorageDriverList = "bolt|leveldb|fs"

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 1-65535")
	}
	if g.StoragePath == "" {
		return newFieldError("Global.StoragePath", "不能为空")
	}
	if _, ok := supportedStorageDrivers[g.StorageDriver]; !ok {
		return newFieldError("Global.StorageDriver", "仅支持 "+supportedStorageDriverList)
	}
	if err := validateOrigin(g.Upstream); err != nil {
		return fmt.Errorf("Global.Upstream: %w", err)
	}
	if g.Origin != "" {
		if err := validateOrigin(g.Origin); err != nil {
			return fmt.Errorf("Global.Origin: %w", err)
		}
		if err := requireBareOrigin(g.Origin); err != nil {
			return fmt.Errorf("Global.Origin: %w", err)
		}
	}
	if g.MaxRetries < 0 {
		return newFieldError("Global.MaxRetries", "不能为负数")
	}
	if g.InitialBackoff.DurationValue() <= 0 {
		return newFieldError("Global.InitialBackoff", "必须大于 0")
	}
	if g.UpstreamTimeout.DurationValue() < 0 {
		return newFieldError("Global.UpstreamTimeout", "不能为负数")
	}

	return c.Worker.validate()
}

func (w WorkerConfig) validate() error {
	if strings.TrimSpace(w.CacheVersion) == "" {
		return newFieldError("Worker.CacheVersion", "不能为空")
	}
	if strings.ContainsAny(w.CacheVersion, "/\\") {
		return newFieldError("Worker.CacheVersion", "不允许包含路径分隔符")
	}
	if !strings.HasPrefix(w.OfflinePage, "/") || strings.HasPrefix(w.OfflinePage, "//") {
		return newFieldError("Worker.OfflinePage", "必须以 / 开头")
	}
	if len(w.Precache) == 0 {
		return newFieldError("Worker.Precache", "不能为空")
	}

	seen := make(map[string]struct{}, len(w.Precache))
	offlineListed := false
	for i, entry := range w.Precache {
		if !strings.HasPrefix(entry, "/") || strings.HasPrefix(entry, "//") {
			return newFieldError(precacheField(i), "必须是以 / 开头的同源路径")
		}
		if _, dup := seen[entry]; dup {
			return newFieldError(precacheField(i), "重复: "+entry)
		}
		seen[entry] = struct{}{}
		if entry == w.OfflinePage {
			offlineListed = true
		}
	}
	if !offlineListed {
		return newFieldError("Worker.OfflinePage", "必须出现在 Precache 清单中")
	}

	if strings.TrimSpace(w.SyncTag) == "" {
		return newFieldError("Worker.SyncTag", "不能为空")
	}
	if w.SyncPath != "" && !strings.HasPrefix(w.SyncPath, "/") {
		return newFieldError("Worker.SyncPath", "必须以 / 开头")
	}
	return nil
}

func validateOrigin(raw string) error {
	if raw == "" {
		return errors.New("缺少地址")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("仅支持 http/https: %s", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("缺少 Host: %s", raw)
	}
	return nil
}

// requireBareOrigin 要求 origin 只包含 scheme 与 host，作用域始终是站点根。
func requireBareOrigin(raw string) error {
	parsed, err := url.Parse(strings.TrimRight(raw, "/"))
	if err != nil {
		return err
	}
	if parsed.Path != "" || parsed.RawQuery != "" || parsed.Fragment != "" {
		return fmt.Errorf("origin 不能包含路径或查询: %s", raw)
	}
	return nil
}
