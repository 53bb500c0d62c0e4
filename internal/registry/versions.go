package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/Masterminds/semver/v3"
	"github.com/sirupsen/logrus"
)

// VersionIndex 是某个包全部已发布版本与 dist-tags 的快照，刷新时整体替换。
type VersionIndex struct {
	Versions []string          `json:"versions"`
	Tags     map[string]string `json:"tags"`
}

// Has 判断 version 是否逐字出现在已发布版本中。
func (idx *VersionIndex) Has(version string) bool {
	for _, v := range idx.Versions {
		if v == version {
			return true
		}
	}
	return false
}

// MaxSatisfying 返回满足 rng 的最高语义化版本；无法解析为 semver 的版本被忽略。
func (idx *VersionIndex) MaxSatisfying(rng *versionRange) (string, bool) {
	var best *semver.Version
	bestRaw := ""
	for _, raw := range idx.Versions {
		v, err := semver.StrictNewVersion(raw)
		if err != nil {
			continue
		}
		if !rng.Check(v) {
			continue
		}
		if best == nil || v.GreaterThan(best) {
			best = v
			bestRaw = raw
		}
	}
	return bestRaw, best != nil
}

// versionRange 按 npm 规则解释范围：|| 分隔的每一组单独求值，
// 预发布版本只有在同组中存在相同 major.minor.patch 的预发布边界时才可能命中。
type versionRange struct {
	groups []rangeGroup
}

type rangeGroup struct {
	constraint  *semver.Constraints
	prereleases map[[3]uint64]struct{}
}

// parseRange 解析版本范围，语法由 Masterminds/semver 校验。
func parseRange(raw string) (*versionRange, error) {
	rng := &versionRange{}
	for _, part := range strings.Split(raw, "||") {
		part = strings.TrimSpace(part)
		if part == "" {
			part = "*"
		}
		constraint, err := semver.NewConstraint(part)
		if err != nil {
			return nil, err
		}
		group := rangeGroup{constraint: constraint}
		for _, token := range strings.FieldsFunc(part, isRangeSeparator) {
			bound, err := semver.NewVersion(strings.TrimLeft(token, "<>=~^vV"))
			if err != nil || bound.Prerelease() == "" {
				continue
			}
			if group.prereleases == nil {
				group.prereleases = make(map[[3]uint64]struct{})
			}
			group.prereleases[releaseTuple(bound)] = struct{}{}
		}
		rng.groups = append(rng.groups, group)
	}
	return rng, nil
}

// Check 报告 v 是否落在任一组内。
func (r *versionRange) Check(v *semver.Version) bool {
	for _, group := range r.groups {
		if !group.constraint.Check(v) {
			continue
		}
		if v.Prerelease() == "" {
			return true
		}
		if _, ok := group.prereleases[releaseTuple(v)]; ok {
			return true
		}
	}
	return false
}

func releaseTuple(v *semver.Version) [3]uint64 {
	return [3]uint64{v.Major(), v.Minor(), v.Patch()}
}

func isRangeSeparator(r rune) bool {
	return r == ',' || unicode.IsSpace(r)
}

// Resolution 是版本解析的结果。Redirect 表示解析结果与请求不同，
// 调用方应重定向到规范 URL。
type Resolution struct {
	Name      string
	Requested string
	Version   string
	Redirect  bool
}

// VersionsAndTags 读取（必要时回源并缓存）包的版本索引。
func (r *Resolver) VersionsAndTags(ctx context.Context, name string) (*VersionIndex, error) {
	key := versionsKey(name)
	if entry, ok := r.cache.Lookup(key); ok {
		if entry.Negative {
			return nil, ErrNotFound
		}
		var idx VersionIndex
		if err := json.Unmarshal(entry.Value, &idx); err == nil {
			return &idx, nil
		}
	}

	idx, err := r.fetchVersionIndex(ctx, name)
	var payload []byte
	if err == nil {
		payload, err = json.Marshal(idx)
		if err != nil {
			return nil, fmt.Errorf("encode version index: %w", err)
		}
	}
	r.remember(key, payload, err)
	if err != nil {
		return nil, err
	}
	return idx, nil
}

func (r *Resolver) fetchVersionIndex(ctx context.Context, name string) (*VersionIndex, error) {
	doc, err := r.fetcher.FetchPackument(ctx, name)
	if err != nil {
		return nil, err
	}
	if len(doc.Versions) == 0 {
		return nil, ErrNotFound
	}
	idx := &VersionIndex{
		Versions: make([]string, 0, len(doc.Versions)),
		Tags:     make(map[string]string, len(doc.DistTags)),
	}
	for v := range doc.Versions {
		idx.Versions = append(idx.Versions, v)
	}
	sort.Strings(idx.Versions)
	for tag, v := range doc.DistTags {
		idx.Tags[tag] = v
	}
	return idx, nil
}

// ResolveVersion 把 tag 或版本范围解析为具体版本：先替换 tag，再逐字匹配已发布
// 版本（非 semver 的版本号也能命中），最后按语义化范围取最大满足版本。
func (r *Resolver) ResolveVersion(ctx context.Context, name, requested string) (Resolution, error) {
	res := Resolution{Name: name, Requested: requested}

	idx, err := r.VersionsAndTags(ctx, name)
	if err != nil {
		return res, err
	}

	candidate := requested
	if tagged, ok := idx.Tags[candidate]; ok {
		candidate = tagged
	}

	if idx.Has(candidate) {
		res.Version = candidate
		res.Redirect = candidate != requested
		return res, nil
	}

	rng, err := parseRange(candidate)
	if err != nil {
		return res, fmt.Errorf("%w: invalid version range %q", ErrNotFound, candidate)
	}
	best, ok := idx.MaxSatisfying(rng)
	if !ok {
		return res, fmt.Errorf("%w: no version of %s satisfies %q", ErrNotFound, name, candidate)
	}

	r.logger.WithFields(logrus.Fields{
		"action":    "resolve_version",
		"package":   name,
		"requested": requested,
		"version":   best,
	}).Debug("version_range_resolved")

	res.Version = best
	res.Redirect = best != requested
	return res, nil
}
