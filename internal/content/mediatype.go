package content

import (
	"mime"
	"path"
	"regexp"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

const (
	// TextPlain 是无法识别时的兜底类型。
	TextPlain = "text/plain"
	// JavaScript 是 js/mjs/cjs 文件的类型。
	JavaScript = "application/javascript"
)

// 形如 .eslintrc、.gitattributes、.npmignore、yarn.lock 的文件按文本处理。
var textFilePattern = regexp.MustCompile(`(?i)/?(\.[a-z]*rc|\.git[a-z]*|\.[a-z]*ignore|\.lock)$`)

// builtinTypes 覆盖 npm 包中常见但系统 mime 表缺失或不一致的扩展名/文件名。
var builtinTypes = map[string]string{
	"js":       JavaScript,
	"mjs":      JavaScript,
	"cjs":      JavaScript,
	"json":     "application/json",
	"map":      "application/json",
	"css":      "text/css",
	"html":     "text/html",
	"htm":      "text/html",
	"md":       "text/markdown",
	"markdown": "text/markdown",
	"svg":      "image/svg+xml",
	"wasm":     "application/wasm",
	"ts":       TextPlain,
	"tsx":      TextPlain,
	"mts":      TextPlain,
	"cts":      TextPlain,
	"flow":     TextPlain,
	"jsx":      TextPlain,
	"txt":      TextPlain,
	"authors":  TextPlain,
	"changes":  TextPlain,
	"license":  TextPlain,
	"licence":  TextPlain,
	"makefile": TextPlain,
	"patents":  TextPlain,
	"readme":   TextPlain,
}

// MediaType 依次按文本文件名规则、内置表、系统 mime 表与内容嗅探推断类型，
// 全部失败时返回 text/plain。head 可以为空或只包含文件开头部分。
func MediaType(name string, head []byte) string {
	if textFilePattern.MatchString(name) {
		return TextPlain
	}

	base := strings.ToLower(path.Base(name))
	ext := strings.TrimPrefix(path.Ext(base), ".")
	if ext == "" {
		ext = base
	}
	if t, ok := builtinTypes[ext]; ok {
		return t
	}
	if t, ok := builtinTypes[base]; ok {
		return t
	}

	if ext != base {
		if t := mime.TypeByExtension("." + ext); t != "" {
			return stripParams(t)
		}
	}

	if len(head) > 0 {
		detected := mimetype.Detect(head)
		if detected != nil && !detected.Is("application/octet-stream") {
			return stripParams(detected.String())
		}
	}
	return TextPlain
}

// HeaderValue 把媒体类型转换为 Content-Type 头，JavaScript 附带 utf-8 字符集。
func HeaderValue(mediaType string) string {
	if mediaType == JavaScript {
		return mediaType + "; charset=utf-8"
	}
	return mediaType
}

func stripParams(t string) string {
	if idx := strings.IndexByte(t, ';'); idx >= 0 {
		return strings.TrimSpace(t[:idx])
	}
	return t
}
