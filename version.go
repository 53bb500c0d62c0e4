package main

import (
	"fmt"
	"runtime"

	"github.com/any-hub/pkgcdn/internal/version"
)

// printVersion 输出 `pkgcdn <version> (<commit>)` 以及构建所用的 Go 版本与平台。
func printVersion() {
	fmt.Fprintf(stdOut, "%s %s %s/%s\n", version.Full(), runtime.Version(), runtime.GOOS, runtime.GOARCH)
}
