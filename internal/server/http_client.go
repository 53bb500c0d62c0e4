package server

import (
	"net"
	"net/http"
	"time"

	"github.com/any-hub/pkgcdn/internal/config"
	"github.com/any-hub/pkgcdn/internal/version"
)

// defaultUpstreamTimeout 在配置缺省时限制单次 Registry 请求（含 tarball 下载）的总时长。
const defaultUpstreamTimeout = 30 * time.Second

// registryTransport 只与一个 Registry 通信，因此空闲连接全部留给同一 host。
var registryTransport = &http.Transport{
	Proxy:                 http.ProxyFromEnvironment,
	MaxIdleConns:          128,
	MaxIdleConnsPerHost:   128,
	IdleConnTimeout:       90 * time.Second,
	TLSHandshakeTimeout:   10 * time.Second,
	ExpectContinueTimeout: time.Second,
	ForceAttemptHTTP2:     true,
	// tarball 由 registry 包按 gzip 魔数自行解压，Transport 不得透明解压。
	DisableCompression: true,
	DialContext: (&net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
	}).DialContext,
}

// userAgentTransport 为没有显式 User-Agent 的请求补上 pkgcdn 标识，便于 Registry 侧排查流量。
type userAgentTransport struct {
	base      http.RoundTripper
	userAgent string
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") != "" {
		return t.base.RoundTrip(req)
	}
	clone := req.Clone(req.Context())
	clone.Header.Set("User-Agent", t.userAgent)
	return t.base.RoundTrip(clone)
}

// NewUpstreamClient 返回访问 Registry 的 http.Client，每个实例持有独立的 Transport 副本。
func NewUpstreamClient(cfg *config.Config) *http.Client {
	timeout := defaultUpstreamTimeout
	if cfg != nil && cfg.Global.UpstreamTimeout.DurationValue() > 0 {
		timeout = cfg.Global.UpstreamTimeout.DurationValue()
	}

	return &http.Client{
		Timeout: timeout,
		Transport: &userAgentTransport{
			base:      registryTransport.Clone(),
			userAgent: "pkgcdn/" + version.Version,
		},
	}
}
