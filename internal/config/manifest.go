package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Manifest 是外部预缓存清单文件的结构，字段均可选，非空时覆盖 [Worker] 中的同名配置。
//
//	version: poultry-farm-v4
//	offline: /offline.html
//	urls:
//	  - /
//	  - /dashboard.html
type Manifest struct {
	Version string   `yaml:"version"`
	Offline string   `yaml:"offline"`
	URLs    []string `yaml:"urls"`
}

// LoadManifest 读取 YAML 清单文件。
func LoadManifest(path string) (*Manifest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取预缓存清单失败: %w", err)
	}
	var m Manifest
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("解析预缓存清单失败: %w", err)
	}
	return &m, nil
}

func (m *Manifest) applyTo(w *WorkerConfig) {
	if v := strings.TrimSpace(m.Version); v != "" {
		w.CacheVersion = v
	}
	if v := strings.TrimSpace(m.Offline); v != "" {
		w.OfflinePage = v
	}
	if len(m.URLs) > 0 {
		w.Precache = append([]string(nil), m.URLs...)
	}
}
