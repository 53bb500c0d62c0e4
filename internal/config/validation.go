package config

import (
	"errors"
	"fmt"
	"net/url"
)

const maxCacheShards = 256

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError(globalField("ListenPort"), "必须在 1-65535")
	}
	if err := validateUpstream(g.RegistryURL); err != nil {
		return fmt.Errorf("%s: %w", globalField("RegistryURL"), err)
	}
	if g.UpstreamTimeout.DurationValue() <= 0 {
		return newFieldError(globalField("UpstreamTimeout"), "必须大于 0")
	}
	if g.MetadataCacheSize <= 0 {
		return newFieldError(globalField("MetadataCacheSize"), "必须大于 0")
	}
	if g.MetadataCacheShards < 1 || g.MetadataCacheShards > maxCacheShards {
		return newFieldError(globalField("MetadataCacheShards"), fmt.Sprintf("必须在 1-%d", maxCacheShards))
	}
	if g.PositiveTTL.DurationValue() <= 0 {
		return newFieldError(globalField("PositiveTTL"), "必须大于 0")
	}
	if g.NegativeTTL.DurationValue() <= 0 {
		return newFieldError(globalField("NegativeTTL"), "必须大于 0")
	}
	if g.MaxFileSize < 0 {
		return newFieldError(globalField("MaxFileSize"), "不能为负数")
	}

	return nil
}

func validateUpstream(raw string) error {
	if raw == "" {
		return errors.New("缺少上游地址")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("仅支持 http/https，上游: %s", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("上游缺少 Host: %s", raw)
	}
	return nil
}
