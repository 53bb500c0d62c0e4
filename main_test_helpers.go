package main

import (
	"bytes"
	"testing"
)

// useBufferWriters 在测试期间把 stdOut/stdErr 替换为内存缓冲，
// 便于断言 CLI 输出，结束时自动恢复。
func useBufferWriters(t *testing.T) {
	t.Helper()

	prevOut, prevErr := stdOut, stdErr
	stdOut, stdErr = &bytes.Buffer{}, &bytes.Buffer{}

	t.Cleanup(func() {
		stdOut, stdErr = prevOut, prevErr
	})
}

// stdOutBuffer 返回 useBufferWriters 注入的 stdout 缓冲；未注入时返回空缓冲。
func stdOutBuffer() *bytes.Buffer {
	if buf, ok := stdOut.(*bytes.Buffer); ok {
		return buf
	}
	return &bytes.Buffer{}
}

// stdErrBuffer 返回 useBufferWriters 注入的 stderr 缓冲；未注入时返回空缓冲。
func stdErrBuffer() *bytes.Buffer {
	if buf, ok := stdErr.(*bytes.Buffer); ok {
		return buf
	}
	return &bytes.Buffer{}
}
