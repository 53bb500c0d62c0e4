package pkgpath

import (
	"errors"
	"net/url"
	"regexp"
	"strings"
)

// DefaultVersion 是 URL 未携带版本时使用的 tag。
const DefaultVersion = "latest"

// ErrInvalidPathname 表示请求路径不符合 /(@scope/)name(@version)(/file) 格式。
var ErrInvalidPathname = errors.New("invalid package pathname")

var (
	pathnameFormat = regexp.MustCompile(`^/((?:@[^/@]+/)?[^/@]+)(?:@([^/]+))?(/.*)?$`)
	repeatedSlash  = regexp.MustCompile(`//+`)
)

// Coordinate 是从 URL 中解析出的包请求。Filename 为空表示未指定文件。
type Coordinate struct {
	Name     string
	Version  string
	Filename string
}

// Spec 返回 name@version。
func (c Coordinate) Spec() string {
	return c.Name + "@" + c.Version
}

// URL 返回该坐标的规范路径。
func (c Coordinate) URL() string {
	return PackageURL(c.Name, c.Version, c.Filename)
}

// ParsePathname 解码并解析原始请求路径。
func ParsePathname(raw string) (Coordinate, error) {
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return Coordinate{}, ErrInvalidPathname
	}
	match := pathnameFormat.FindStringSubmatch(decoded)
	if match == nil {
		return Coordinate{}, ErrInvalidPathname
	}

	coord := Coordinate{
		Name:     match[1],
		Version:  match[2],
		Filename: repeatedSlash.ReplaceAllString(match[3], "/"),
	}
	if coord.Version == "" {
		coord.Version = DefaultVersion
	}
	return coord, nil
}

// PackageURL 拼接 /<name>[@<version>][<filename>]。
func PackageURL(name, version, filename string) string {
	var b strings.Builder
	b.WriteString("/")
	b.WriteString(name)
	if version != "" {
		b.WriteString("@")
		b.WriteString(version)
	}
	b.WriteString(filename)
	return b.String()
}

var leadingDots = regexp.MustCompile(`^[./]*`)

// EntryFilename 返回未指定文件时应重定向到的入口：优先 unpkg 字段，其次 main，
// 最后 /index.js。开头的 ./ 与 / 统一替换为单个 /。
func EntryFilename(unpkg, main string) string {
	filename := "/index.js"
	switch {
	case unpkg != "":
		filename = unpkg
	case main != "":
		filename = main
	}
	return leadingDots.ReplaceAllString(filename, "/")
}
