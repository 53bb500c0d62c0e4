package tarball

import (
	"strings"
	"time"

	"github.com/opencontainers/go-digest"
)

// Entry 是索引中的一个路径。目录条目只有 Path 与 Kind；
// Content 只会出现在最终选中的文件上。
type Entry struct {
	Path         string
	Kind         Kind
	MediaType    string
	Integrity    string
	Digest       digest.Digest
	LastModified time.Time
	Size         int64
	Content      []byte
}

// Result 是一次扫描的产物。
type Result struct {
	// Filename 是请求的路径。
	Filename string
	// Found 为最佳匹配：文件，或者与请求同名的目录，或者 nil。
	Found *Entry
	// Index 包含所有以 Filename 为前缀的文件及其祖先目录。
	Index map[string]*Entry
}

// Action 描述调用方应当如何响应一次查找。
type Action int

const (
	// ActionServe 直接返回 Entry 的内容。
	ActionServe Action = iota
	// ActionRedirectFile 通过后缀补全找到文件，需要重定向到 Entry.Path。
	ActionRedirectFile
	// ActionRedirectIndex 请求的是目录，需要重定向到其中的 index 文件。
	ActionRedirectIndex
	// ActionMissingEntry 归档中不存在匹配路径。
	ActionMissingEntry
	// ActionMissingIndex 目录存在但没有 index.js / index.json。
	ActionMissingIndex
)

func (a Action) String() string {
	switch a {
	case ActionServe:
		return "serve"
	case ActionRedirectFile:
		return "file_redirect"
	case ActionRedirectIndex:
		return "index_redirect"
	case ActionMissingEntry:
		return "missing_entry"
	case ActionMissingIndex:
		return "missing_index"
	default:
		return "unknown"
	}
}

// Decision 是 Decide 的结果，Entry 在 Missing* 时为 nil。
type Decision struct {
	Action Action
	Entry  *Entry
}

// Decide 根据扫描结果给出响应动作。目录请求会在已有索引中依次查找
// <dir>/index.js 与 <dir>/index.json，不会再次扫描归档。
func (r *Result) Decide() Decision {
	if r == nil || r.Found == nil {
		return Decision{Action: ActionMissingEntry}
	}
	found := r.Found
	switch found.Kind {
	case KindFile:
		if found.Path != r.Filename {
			return Decision{Action: ActionRedirectFile, Entry: found}
		}
		return Decision{Action: ActionServe, Entry: found}
	case KindDirectory:
		base := strings.TrimSuffix(found.Path, "/")
		for _, name := range []string{base + "/index.js", base + "/index.json"} {
			if entry, ok := r.Index[name]; ok && entry.Kind == KindFile {
				return Decision{Action: ActionRedirectIndex, Entry: entry}
			}
		}
		return Decision{Action: ActionMissingIndex}
	default:
		return Decision{Action: ActionMissingEntry}
	}
}
