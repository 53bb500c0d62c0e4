package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// testConfigPath 返回 testdata 下的夹具路径，文件不存在时由调用方断言失败。
func testConfigPath(t *testing.T, name string) string {
	t.Helper()
	return filepath.Join("testdata", name)
}

// writeTempConfig 把 TOML 片段写入临时目录中的 config.toml。
func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(strings.TrimSpace(content)+"\n"), 0o600); err != nil {
		t.Fatalf("写入临时配置失败: %v", err)
	}
	return path
}

// validConfig 构造一份能通过 Validate 的最小配置，测试在其基础上逐项破坏。
func validConfig() *Config {
	return &Config{
		Global: GlobalConfig{
			ListenPort:          5000,
			LogLevel:            "info",
			RegistryURL:         DefaultRegistryURL,
			UpstreamTimeout:     Duration(time.Second),
			MetadataCacheSize:   1024,
			MetadataCacheShards: 4,
			PositiveTTL:         Duration(time.Minute),
			NegativeTTL:         Duration(5 * time.Minute),
		},
	}
}
