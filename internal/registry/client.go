package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/any-hub/pkgcdn/internal/logging"
)

// maxErrorBody 限制失败响应中记录到日志的正文长度。
const maxErrorBody = 4 << 10

// Packument 是 Registry 返回的包文档中本服务关心的部分。
type Packument struct {
	Name     string                     `json:"name"`
	DistTags map[string]string          `json:"dist-tags"`
	Versions map[string]json.RawMessage `json:"versions"`
}

// ClientOptions 配置 Registry 客户端。
type ClientOptions struct {
	// BaseURL 为 Registry 根地址，例如 https://registry.npmjs.org。
	BaseURL string
	// HTTPClient 为空时使用 http.DefaultClient。
	HTTPClient *http.Client
	Logger     logrus.FieldLogger
	// Coalesce 为 true 时，同一包名的并发 packument 请求共享一次回源。
	Coalesce bool
}

// Client 负责与 Registry 的 HTTP 交互。
type Client struct {
	base     string
	http     *http.Client
	logger   logrus.FieldLogger
	coalesce bool
	group    singleflight.Group
}

// NewClient 校验 BaseURL 并构造客户端。
func NewClient(opts ClientOptions) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	parsed, err := url.Parse(base)
	if err != nil || parsed.Host == "" || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return nil, fmt.Errorf("invalid registry url %q", opts.BaseURL)
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		base:     base,
		http:     httpClient,
		logger:   logging.OrDiscard(opts.Logger),
		coalesce: opts.Coalesce,
	}, nil
}

// BaseURL 返回去掉尾部斜杠的 Registry 地址。
func (c *Client) BaseURL() string {
	return c.base
}

// FetchPackument 获取完整包文档。404 返回 ErrNotFound，其余失败返回 *UpstreamError。
func (c *Client) FetchPackument(ctx context.Context, name string) (*Packument, error) {
	if !c.coalesce {
		return c.fetchPackument(ctx, name)
	}

	// 共享请求不随单个调用方取消；调用方自己的 ctx 只决定是否继续等待。
	ch := c.group.DoChan(name, func() (any, error) {
		return c.fetchPackument(context.WithoutCancel(ctx), name)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Packument), nil
	}
}

func (c *Client) fetchPackument(ctx context.Context, name string) (*Packument, error) {
	target := c.base + "/" + EncodeName(name)
	logger := c.logger.WithFields(logrus.Fields{"action": "registry_fetch", "package": name, "url": target})
	logger.Debug("registry_fetch_packument")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, &UpstreamError{Op: "packument", URL: target, Err: err}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		logger.WithError(err).Error("registry_fetch_failed")
		return nil, &UpstreamError{Op: "packument", URL: target, Err: err}
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, ErrNotFound
	default:
		return nil, c.statusError(logger, "packument", target, resp)
	}

	var doc Packument
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		logger.WithError(err).Error("registry_decode_failed")
		return nil, &UpstreamError{Op: "packument", URL: target, Status: resp.StatusCode, Err: err}
	}
	return &doc, nil
}

// statusError 记录非预期状态码及响应正文，并构造 UpstreamError。
func (c *Client) statusError(logger logrus.FieldLogger, op, target string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	logger.WithFields(logrus.Fields{
		"status": resp.StatusCode,
		"body":   string(body),
	}).Error("registry_unexpected_status")
	return &UpstreamError{Op: op, URL: target, Status: resp.StatusCode, Body: string(body)}
}

// IsScoped 判断包名是否带 @scope/ 前缀。
func IsScoped(name string) bool {
	return strings.HasPrefix(name, "@")
}

// EncodeName 将包名编码为 packument URL 的路径段，作用域包保留 @ 并把 / 转义为 %2F。
func EncodeName(name string) string {
	if IsScoped(name) {
		return "@" + url.PathEscape(name[1:])
	}
	return url.PathEscape(name)
}

// TarballURL 返回 <base>/<name>/-/<unscoped>-<version>.tgz。
func (c *Client) TarballURL(name, version string) string {
	base := name
	if IsScoped(name) {
		if idx := strings.IndexByte(name, '/'); idx >= 0 {
			base = name[idx+1:]
		}
	}
	return fmt.Sprintf("%s/%s/-/%s-%s.tgz", c.base, name, base, version)
}

// isNotFound 区分确定的 "不存在" 与传输失败。
func isNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) && !IsTransient(err)
}
