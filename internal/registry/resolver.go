package registry

import (
	"context"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/pkgcdn/internal/cache"
	"github.com/any-hub/pkgcdn/internal/logging"
)

// PackumentFetcher 抽象 packument 获取，便于在测试中替换。
type PackumentFetcher interface {
	FetchPackument(ctx context.Context, name string) (*Packument, error)
}

// TarballOpener 抽象 tarball 获取。
type TarballOpener interface {
	OpenTarball(ctx context.Context, name, version string) (io.ReadCloser, error)
}

const (
	versionsKeyPrefix = "versions-"
	configKeyPrefix   = "config-"
)

// Resolver 在 MetadataCache 之上解析版本与包描述。缓存实例由调用方构造并注入，
// 进程启动时为空，退出时无需刷写。
type Resolver struct {
	fetcher PackumentFetcher
	cache   cache.PolicyWriter
	logger  logrus.FieldLogger
}

// NewResolver 组装解析器；store 为 nil 时每次都回源。
func NewResolver(fetcher PackumentFetcher, store cache.Store, policy cache.Policy, logger logrus.FieldLogger) *Resolver {
	return &Resolver{
		fetcher: fetcher,
		cache:   cache.NewPolicyWriter(store, policy),
		logger:  logging.OrDiscard(logger),
	}
}

func versionsKey(name string) string {
	return versionsKeyPrefix + name
}

func configKey(name, version string) string {
	return configKeyPrefix + name + "-" + version
}

// remember 按结果写入缓存：成功写正向条目，确定的不存在写负向条目，传输失败不写。
func (r *Resolver) remember(key string, value []byte, err error) {
	if !r.cache.Enabled() {
		return
	}
	var writeErr error
	switch {
	case err == nil:
		writeErr = r.cache.Put(key, value)
	case isNotFound(err):
		writeErr = r.cache.PutMissing(key)
	default:
		return
	}
	if writeErr != nil {
		r.logger.WithError(writeErr).WithField("key", key).Warn("metadata_cache_write_failed")
	}
}
