package tarball

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/pkgcdn/internal/content"
	"github.com/any-hub/pkgcdn/internal/logging"
)

// ErrFileTooLarge 表示候选文件超过了 WithMaxFileSize 的限制。
var ErrFileTooLarge = errors.New("package file too large")

// sniffLen 是内容嗅探时保留的文件头长度。
const sniffLen = 512

type searchOptions struct {
	maxFileSize int64
	logger      logrus.FieldLogger
}

// Option 调整 Search 的行为。
type Option func(*searchOptions)

// WithMaxFileSize 限制可被缓冲的候选文件大小，n <= 0 表示不限制。
func WithMaxFileSize(n int64) Option {
	return func(o *searchOptions) {
		o.maxFileSize = n
	}
}

// WithLogger 注入调试日志。
func WithLogger(logger logrus.FieldLogger) Option {
	return func(o *searchOptions) {
		o.logger = logger
	}
}

// rank 是候选优先级，数值越大优先级越高；相同优先级不会替换已选中的条目。
type rank int

const (
	rankNone rank = iota
	rankJSON
	rankJS
	rankExact
)

// selection 是单次扫描的候选状态机：none 或 holding(entry, rank)。
// oversized 表示当前选中条目超过大小限制，内容没有被缓冲。
type selection struct {
	filename  string
	entry     *Entry
	rank      rank
	oversized bool
}

func (s *selection) rankOf(p string) rank {
	switch p {
	case s.filename:
		return rankExact
	case s.filename + ".js":
		return rankJS
	case s.filename + ".json":
		return rankJSON
	default:
		return rankNone
	}
}

// offer 在 r 严格高于当前优先级时切换选中条目，并释放旧条目的内容。
func (s *selection) offer(entry *Entry, r rank) bool {
	if r == rankNone || r <= s.rank {
		return false
	}
	if s.entry != nil {
		s.entry.Content = nil
	}
	s.entry = entry
	s.rank = r
	s.oversized = false
	return true
}

// Search 单次扫描解压后的 tar 流，查找 filename（以 / 开头）。
// 精确匹配优先于 <filename>.js，再优先于 <filename>.json；都没有时退回
// 与 filename 同名的目录。扫描失败时返回 ErrCorruptArchive 包装的错误，
// 已缓冲的内容全部丢弃。
func Search(ctx context.Context, r io.Reader, filename string, opts ...Option) (*Result, error) {
	o := searchOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	logger := logging.OrDiscard(o.logger)

	sel := &selection{filename: filename}
	index := make(map[string]*Entry)
	if filename == "/" {
		index["/"] = &Entry{Path: "/", Kind: KindDirectory}
	}

	scanned := 0
	for member, err := range Members(r) {
		if err != nil {
			return nil, err
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		scanned++
		if member.Kind != KindFile || member.Path == "/" || !strings.HasPrefix(member.Path, filename) {
			continue
		}

		entry := &Entry{
			Path:         member.Path,
			Kind:         KindFile,
			LastModified: member.ModTime,
		}
		index[entry.Path] = entry
		addParents(index, entry.Path)

		candidate := sel.offer(entry, sel.rankOf(entry.Path))
		// 超限的候选只计算摘要，后续更高优先级的条目仍可替换它。
		if candidate && o.maxFileSize > 0 && member.Size > o.maxFileSize {
			sel.oversized = true
			candidate = false
		}
		if err := readEntry(entry, member.Body, candidate); err != nil {
			return nil, err
		}
	}

	if sel.entry != nil && sel.oversized {
		return nil, fmt.Errorf("%w: %s is %d bytes", ErrFileTooLarge, sel.entry.Path, sel.entry.Size)
	}

	found := sel.entry
	if found == nil {
		found = index[dirKey(filename)]
	}
	logger.WithFields(logrus.Fields{
		"action":   "tarball_search",
		"filename": filename,
		"scanned":  scanned,
		"indexed":  len(index),
		"found":    found != nil,
	}).Debug("tarball_search_complete")

	return &Result{
		Filename: filename,
		Found:    found,
		Index:    index,
	}, nil
}

// readEntry 计算摘要、大小与媒体类型；只有 keep 为 true 时保留完整内容。
func readEntry(entry *Entry, body io.Reader, keep bool) error {
	digester := content.NewDigester()
	head := &headWriter{limit: sniffLen}
	writers := []io.Writer{digester, head}

	var buf *bytes.Buffer
	if keep {
		buf = &bytes.Buffer{}
		writers = append(writers, buf)
	}
	if _, err := io.Copy(io.MultiWriter(writers...), body); err != nil {
		entry.Content = nil
		return fmt.Errorf("%w: read %s: %w", ErrCorruptArchive, entry.Path, err)
	}

	entry.Size = digester.Size()
	entry.Integrity = digester.Integrity()
	entry.Digest = digester.Digest()
	entry.MediaType = content.MediaType(entry.Path, head.buf)
	if keep {
		entry.Content = buf.Bytes()
	}
	return nil
}

// addParents 为文件的每一级祖先目录补齐目录条目，包括根目录。
func addParents(index map[string]*Entry, p string) {
	for dir := path.Dir(p); ; dir = path.Dir(dir) {
		if _, ok := index[dir]; !ok {
			index[dir] = &Entry{Path: dir, Kind: KindDirectory}
		}
		if dir == "/" {
			return
		}
	}
}

// dirKey 把 "/lib/" 这类带尾部斜杠的请求映射为索引中的目录键。
func dirKey(filename string) string {
	if len(filename) > 1 {
		return strings.TrimSuffix(filename, "/")
	}
	return filename
}

// headWriter 只保留写入数据的前 limit 字节。
type headWriter struct {
	buf   []byte
	limit int
}

func (w *headWriter) Write(p []byte) (int, error) {
	if room := w.limit - len(w.buf); room > 0 {
		if len(p) < room {
			room = len(p)
		}
		w.buf = append(w.buf, p[:room]...)
	}
	return len(p), nil
}
