package pkgpath

import (
	"fmt"
	"regexp"
	"strings"
)

const maxNameLength = 214

var (
	hexValue      = regexp.MustCompile(`(?i)^[a-f0-9]+$`)
	scopedPattern = regexp.MustCompile(`^@([^/]+)/(.+)$`)
	specialChars  = regexp.MustCompile(`[~'!()*]`)
)

var blacklistedNames = map[string]struct{}{
	"node_modules": {},
	"favicon.ico":  {},
}

// nodeBuiltins 是 Node 内置模块名，npm 不允许发布同名的新包。
var nodeBuiltins = map[string]struct{}{
	"assert": {}, "buffer": {}, "child_process": {}, "cluster": {}, "console": {},
	"constants": {}, "crypto": {}, "dgram": {}, "dns": {}, "domain": {}, "events": {},
	"fs": {}, "http": {}, "http2": {}, "https": {}, "module": {}, "net": {}, "os": {},
	"path": {}, "perf_hooks": {}, "process": {}, "punycode": {}, "querystring": {},
	"readline": {}, "repl": {}, "stream": {}, "string_decoder": {}, "sys": {},
	"timers": {}, "tls": {}, "tty": {}, "url": {}, "util": {}, "v8": {}, "vm": {},
	"worker_threads": {}, "zlib": {},
}

// NameError 描述包名不合法的原因。
type NameError struct {
	Name    string
	Reasons []string
}

func (e *NameError) Error() string {
	return fmt.Sprintf("Invalid package name %q (%s)", e.Name, strings.Join(e.Reasons, ", "))
}

// IsHash 判断名字是否是 32 位十六进制串。
func IsHash(name string) bool {
	return len(name) == 32 && hexValue.MatchString(name)
}

// ValidateName 按 npm 新包命名规则校验包名，返回 *NameError。
func ValidateName(name string) error {
	if IsHash(name) {
		return &NameError{Name: name, Reasons: []string{"cannot be a hash"}}
	}

	var reasons []string
	if name == "" {
		reasons = append(reasons, "name length must be greater than zero")
	}
	if strings.HasPrefix(name, ".") {
		reasons = append(reasons, "name cannot start with a period")
	}
	if strings.HasPrefix(name, "_") {
		reasons = append(reasons, "name cannot start with an underscore")
	}
	if strings.TrimSpace(name) != name {
		reasons = append(reasons, "name cannot contain leading or trailing spaces")
	}
	if _, ok := blacklistedNames[strings.ToLower(name)]; ok {
		reasons = append(reasons, name+" is a blacklisted name")
	}
	if _, ok := nodeBuiltins[strings.ToLower(name)]; ok {
		reasons = append(reasons, name+" is a core module name")
	}
	if len(name) > maxNameLength {
		reasons = append(reasons, "name can no longer contain more than 214 characters")
	}
	if strings.ToLower(name) != name {
		reasons = append(reasons, "name can no longer contain capital letters")
	}
	base := name
	if m := scopedPattern.FindStringSubmatch(name); m != nil {
		base = m[2]
		if !urlSafe(m[1]) || !urlSafe(m[2]) {
			reasons = append(reasons, "name can only contain URL-friendly characters")
		}
	} else if !urlSafe(name) {
		reasons = append(reasons, "name can only contain URL-friendly characters")
	}
	if specialChars.MatchString(base) {
		reasons = append(reasons, `name can no longer contain special characters ("~\'!()*")`)
	}

	if len(reasons) > 0 {
		return &NameError{Name: name, Reasons: reasons}
	}
	return nil
}

// urlSafe 判断片段经 encodeURIComponent 式编码后是否保持不变。
func urlSafe(part string) bool {
	for i := 0; i < len(part); i++ {
		c := part[i]
		switch {
		case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		case strings.IndexByte("-_.!~*'()", c) >= 0:
		default:
			return false
		}
	}
	return true
}
