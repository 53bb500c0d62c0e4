package tarball

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"iter"
	"path"
	"strings"
	"time"
)

// ErrCorruptArchive 表示解压或 tar 解析中途失败（截断、校验错误等）。
var ErrCorruptArchive = errors.New("corrupt package archive")

// Kind 区分归档成员的类型。
type Kind int

const (
	KindOther Kind = iota
	KindFile
	KindDirectory
)

func (k Kind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindDirectory:
		return "directory"
	default:
		return "other"
	}
}

// Member 是归档中的一个成员。Body 仅在产出它的那次迭代内有效。
type Member struct {
	Path    string
	Kind    Kind
	Size    int64
	ModTime time.Time
	Body    io.Reader
}

// Members 返回归档成员的惰性序列。下一个头部只会在循环体返回后读取，
// 未读完的 Body 由 tar.Reader 自动丢弃。出错时产出一次 (nil, err) 并结束。
func Members(r io.Reader) iter.Seq2[*Member, error] {
	return func(yield func(*Member, error) bool) {
		tr := tar.NewReader(r)
		for {
			hdr, err := tr.Next()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(nil, fmt.Errorf("%w: %w", ErrCorruptArchive, err))
				return
			}
			member := &Member{
				Path:    memberPath(hdr.Name),
				Kind:    memberKind(hdr.Typeflag),
				Size:    hdr.Size,
				ModTime: hdr.ModTime,
				Body:    tr,
			}
			if !yield(member, nil) {
				return
			}
		}
	}
}

// memberPath 去掉第一层目录（通常是 package/，但发布者可以任意命名），
// 返回以 / 开头的规范化路径。
func memberPath(name string) string {
	name = strings.TrimPrefix(name, "./")
	idx := strings.IndexByte(name, '/')
	if idx < 0 {
		return "/"
	}
	return path.Clean("/" + name[idx+1:])
}

func memberKind(flag byte) Kind {
	switch flag {
	case tar.TypeReg, tar.TypeRegA:
		return KindFile
	case tar.TypeDir:
		return KindDirectory
	default:
		return KindOther
	}
}
