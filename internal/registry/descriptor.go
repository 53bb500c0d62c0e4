package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
)

// excludedConfigKeys 是包描述中与文件服务无关、需要剔除的字段。
var excludedConfigKeys = map[string]struct{}{
	"browserify":  {},
	"bugs":        {},
	"directories": {},
	"engines":     {},
	"files":       {},
	"homepage":    {},
	"keywords":    {},
	"maintainers": {},
	"scripts":     {},
}

// Descriptor 是清理后的 package.json 字段。
type Descriptor map[string]any

// StringField 返回字符串字段，缺失或类型不符时返回空串。
func (d Descriptor) StringField(key string) string {
	if v, ok := d[key].(string); ok {
		return v
	}
	return ""
}

// Sanitize 剔除下划线开头的内部字段和 excludedConfigKeys，返回新的映射。
func Sanitize(raw map[string]any) Descriptor {
	out := make(Descriptor, len(raw))
	for key, value := range raw {
		if strings.HasPrefix(key, "_") {
			continue
		}
		if _, skip := excludedConfigKeys[key]; skip {
			continue
		}
		out[key] = value
	}
	return out
}

// PackageConfig 返回 name@version 的清理后描述。版本索引里存在而元数据缺失时
// 返回 ErrInconsistent，并且不会改用其他版本。
func (r *Resolver) PackageConfig(ctx context.Context, name, version string) (Descriptor, error) {
	key := configKey(name, version)
	if entry, ok := r.cache.Lookup(key); ok {
		if entry.Negative {
			return nil, ErrNotFound
		}
		var desc Descriptor
		if err := json.Unmarshal(entry.Value, &desc); err == nil {
			return desc, nil
		}
	}

	desc, err := r.fetchDescriptor(ctx, name, version)
	var payload []byte
	if err == nil {
		payload, err = json.Marshal(desc)
		if err != nil {
			return nil, fmt.Errorf("encode package config: %w", err)
		}
	}
	r.remember(key, payload, err)
	if err != nil {
		return nil, err
	}
	return desc, nil
}

func (r *Resolver) fetchDescriptor(ctx context.Context, name, version string) (Descriptor, error) {
	doc, err := r.fetcher.FetchPackument(ctx, name)
	if err != nil {
		return nil, err
	}
	raw, ok := doc.Versions[version]
	if !ok {
		r.logger.WithFields(logrus.Fields{
			"action":  "package_config",
			"package": name,
			"version": version,
		}).Warn("version_metadata_missing")
		return nil, ErrInconsistent
	}

	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		r.logger.WithFields(logrus.Fields{
			"action":  "package_config",
			"package": name,
			"version": version,
		}).Warn("version_metadata_malformed")
		return nil, ErrInconsistent
	}
	return Sanitize(fields), nil
}
