package main

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

// repoRoot 通过向上查找 go.mod 定位，测试可能在任意工作目录下运行（t.Chdir）。
var repoRoot = findRepoRoot()

func findRepoRoot() string {
	_, file, _, ok := runtime.Caller(0)
	if !ok {
		return ""
	}
	for dir := filepath.Dir(file); ; {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// configFixture 返回 internal/config/testdata 下的配置夹具绝对路径。
func configFixture(t *testing.T, name string) string {
	t.Helper()
	if repoRoot == "" {
		t.Fatal("无法定位项目根目录")
	}
	return filepath.Join(repoRoot, "internal", "config", "testdata", name)
}
