package registry

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound 表示包、版本或元数据不存在。
	ErrNotFound = errors.New("package not found")
	// ErrInconsistent 表示版本列表中存在该版本，但 Registry 没有返回对应的元数据。
	ErrInconsistent = fmt.Errorf("%w: version metadata missing", ErrNotFound)
)

// UpstreamError 描述一次失败的 Registry 请求（非 200/404 状态、网络错误或非法 JSON）。
// 对调用方而言它等价于 ErrNotFound，但不会被写入负缓存。
type UpstreamError struct {
	Op     string
	URL    string
	Status int
	Body   string
	Err    error
}

func (e *UpstreamError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("registry %s %s: %v", e.Op, e.URL, e.Err)
	default:
		return fmt.Sprintf("registry %s %s: unexpected status %d", e.Op, e.URL, e.Status)
	}
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// Is 让 errors.Is(err, ErrNotFound) 对传输错误同样成立。
func (e *UpstreamError) Is(target error) bool {
	return target == ErrNotFound
}

// IsTransient 判断错误是否来自传输层，这类结果不应写入负缓存。
func IsTransient(err error) bool {
	var upstream *UpstreamError
	return errors.As(err, &upstream)
}
