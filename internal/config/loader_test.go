package config

import "testing"

func TestLoadFailsWithMissingFields(t *testing.T) {
	if _, err := Load(testConfigPath(t, "missing.toml")); err == nil {
		t.Fatalf("缺失字段的配置应返回错误")
	}
}

func TestLoadRejectsInvalidDuration(t *testing.T) {
	cfg := `
LogLevel = "info"
StoragePath = "./data"
Upstream = "http://127.0.0.1:8080"
InitialBackoff = "boom"
`
	path := writeTempConfig(t, cfg)
	if _, err := Load(path); err == nil {
		t.Fatalf("无效 Duration 应失败")
	}
}

func TestLoadAcceptsSecondsAsDuration(t *testing.T) {
	cfg := `
StoragePath = "./data"
Upstream = "http://127.0.0.1:8080"
UpstreamTimeout = 15

[Worker]
SyncDelay = "250ms"
`
	loaded, err := Load(writeTempConfig(t, cfg))
	if err != nil {
		t.Fatalf("Load 返回错误: %v", err)
	}
	if got := loaded.Global.UpstreamTimeout.DurationValue().Seconds(); got != 15 {
		t.Fatalf("纯秒值应被解析，得到 %v", got)
	}
	if got := loaded.Worker.SyncDelay.DurationValue().Milliseconds(); got != 250 {
		t.Fatalf("SyncDelay 应为 250ms，得到 %v", got)
	}
}

func TestLoadRejectsMissingManifestFile(t *testing.T) {
	cfg := `
StoragePath = "./data"
Upstream = "http://127.0.0.1:8080"

[Worker]
ManifestFile = "does-not-exist.yaml"
`
	if _, err := Load(writeTempConfig(t, cfg)); err == nil {
		t.Fatalf("清单文件缺失时应失败")
	}
}
