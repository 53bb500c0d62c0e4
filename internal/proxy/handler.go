package proxy

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"
	"github.com/valyala/fasthttp"

	"github.com/any-hub/pkgcdn/internal/content"
	"github.com/any-hub/pkgcdn/internal/logging"
	"github.com/any-hub/pkgcdn/internal/pkgpath"
	"github.com/any-hub/pkgcdn/internal/registry"
	"github.com/any-hub/pkgcdn/internal/server"
	"github.com/any-hub/pkgcdn/internal/tarball"
)

const (
	cacheForever = "public, max-age=31536000"
	cacheSemver  = "public, s-maxage=600, max-age=60"
	cacheNone    = "no-store"

	headerCacheTag = "Cache-Tag"
	textPlain      = "text/plain; charset=utf-8"
)

// VersionResolver 是 Handler 依赖的元数据解析能力，由 registry.Resolver 实现。
type VersionResolver interface {
	ResolveVersion(ctx context.Context, name, requested string) (registry.Resolution, error)
	PackageConfig(ctx context.Context, name, version string) (registry.Descriptor, error)
}

// Handler 负责 "解析路径 → 解析版本 → 读取 package.json → 扫描 tarball → 响应" 的全流程，
// 所有失败都收敛为 404/403/500 文本响应，不向客户端透出上游错误细节。
type Handler struct {
	resolver    VersionResolver
	tarballs    registry.TarballOpener
	logger      *logrus.Logger
	maxFileSize int64
}

// NewHandler constructs a package handler. maxFileSize <= 0 disables the size limit.
func NewHandler(resolver VersionResolver, tarballs registry.TarballOpener, logger *logrus.Logger, maxFileSize int64) *Handler {
	return &Handler{
		resolver:    resolver,
		tarballs:    tarballs,
		logger:      logger,
		maxFileSize: maxFileSize,
	}
}

// requestState 在一次请求内累积日志字段。
type requestState struct {
	started   time.Time
	requestID string
	coord     pkgpath.Coordinate
	outcome   string
}

// Handle 实现 server.PackageHandler。
func (h *Handler) Handle(c fiber.Ctx) error {
	state := &requestState{
		started:   time.Now(),
		requestID: server.RequestID(c),
	}
	uri := c.Request().URI()
	rawPath := string(uri.PathOriginal())
	if rawPath == "" {
		rawPath = "/"
	}

	// 去掉查询参数以提高 CDN 命中率。
	if len(uri.QueryString()) > 0 {
		state.outcome = "query_redirect"
		h.logResult(state, fiber.StatusFound, nil)
		return c.Redirect().Status(fiber.StatusFound).To(rawPath)
	}

	coord, err := pkgpath.ParsePathname(rawPath)
	if err != nil {
		state.outcome = "invalid_url"
		h.logResult(state, fiber.StatusForbidden, nil)
		return h.writeError(c, fiber.StatusForbidden, fmt.Sprintf("Invalid URL: %s", rawPath))
	}
	state.coord = coord

	if err := pkgpath.ValidateName(coord.Name); err != nil {
		state.outcome = "invalid_name"
		h.logResult(state, fiber.StatusForbidden, nil)
		return h.sendText(c, fiber.StatusForbidden, "", "", err.Error())
	}

	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	resolution, err := h.resolver.ResolveVersion(ctx, coord.Name, coord.Version)
	if err != nil {
		state.outcome = "missing_version"
		h.logResult(state, fiber.StatusNotFound, err)
		return h.sendText(c, fiber.StatusNotFound, "", "", fmt.Sprintf("Cannot find package %s", coord.Spec()))
	}
	if resolution.Redirect {
		state.outcome = "semver_redirect"
		h.logResult(state, fiber.StatusFound, nil)
		return h.redirect(c, cacheSemver, "redirect, semver-redirect",
			pkgpath.PackageURL(coord.Name, resolution.Version, coord.Filename))
	}

	desc, err := h.resolver.PackageConfig(ctx, coord.Name, coord.Version)
	if err != nil {
		state.outcome = "missing_config"
		h.logResult(state, fiber.StatusInternalServerError, err)
		return h.sendText(c, fiber.StatusInternalServerError, cacheNone, "",
			fmt.Sprintf("Cannot get config for package %s", coord.Spec()))
	}

	if coord.Filename == "" {
		state.outcome = "filename_redirect"
		h.logResult(state, fiber.StatusFound, nil)
		filename := pkgpath.EntryFilename(desc.StringField("unpkg"), desc.StringField("main"))
		return h.redirect(c, cacheForever, "redirect, filename-redirect",
			pkgpath.PackageURL(coord.Name, coord.Version, filename))
	}

	return h.findEntry(ctx, c, state)
}

// findEntry 打开 tarball、扫描并根据 Decision 响应。
func (h *Handler) findEntry(ctx context.Context, c fiber.Ctx, state *requestState) error {
	coord := state.coord

	stream, err := h.tarballs.OpenTarball(ctx, coord.Name, coord.Version)
	if err != nil {
		state.outcome = "missing_package"
		h.logResult(state, fiber.StatusNotFound, err)
		cacheControl := cacheForever
		if registry.IsTransient(err) || ctx.Err() != nil {
			cacheControl = cacheNone
		}
		return h.sendText(c, fiber.StatusNotFound, cacheControl, "missing, missing-package",
			fmt.Sprintf("Cannot find package %s", coord.Spec()))
	}
	defer stream.Close()

	result, err := tarball.Search(ctx, stream, coord.Filename,
		tarball.WithMaxFileSize(h.maxFileSize),
		tarball.WithLogger(h.logger),
	)
	if err != nil {
		if errors.Is(err, tarball.ErrFileTooLarge) {
			state.outcome = "file_too_large"
			h.logResult(state, fiber.StatusForbidden, err)
			return h.sendText(c, fiber.StatusForbidden, cacheNone, "",
				fmt.Sprintf("File %q in %s is too large", coord.Filename, coord.Spec()))
		}
		state.outcome = "stream_failed"
		h.logResult(state, fiber.StatusNotFound, err)
		return h.sendText(c, fiber.StatusNotFound, cacheNone, "missing, missing-package",
			fmt.Sprintf("Cannot read package %s", coord.Spec()))
	}

	decision := result.Decide()
	state.outcome = decision.Action.String()
	switch decision.Action {
	case tarball.ActionServe:
		return h.serveFile(c, state, decision.Entry)
	case tarball.ActionRedirectFile:
		h.logResult(state, fiber.StatusFound, nil)
		return h.redirect(c, cacheForever, "redirect, file-redirect",
			pkgpath.PackageURL(coord.Name, coord.Version, decision.Entry.Path))
	case tarball.ActionRedirectIndex:
		h.logResult(state, fiber.StatusFound, nil)
		return h.redirect(c, cacheForever, "redirect, index-redirect",
			pkgpath.PackageURL(coord.Name, coord.Version, decision.Entry.Path))
	case tarball.ActionMissingIndex:
		h.logResult(state, fiber.StatusNotFound, nil)
		return h.sendText(c, fiber.StatusNotFound, cacheForever, "missing, missing-index",
			fmt.Sprintf("Cannot find an index in %q in %s", coord.Filename, coord.Spec()))
	default:
		h.logResult(state, fiber.StatusNotFound, nil)
		return h.sendText(c, fiber.StatusNotFound, cacheForever, "missing, missing-entry",
			fmt.Sprintf("Cannot find %q in %s", coord.Filename, coord.Spec()))
	}
}

func (h *Handler) serveFile(c fiber.Ctx, state *requestState, entry *tarball.Entry) error {
	if entry == nil || entry.Content == nil {
		state.outcome = "missing_content"
		h.logResult(state, fiber.StatusNotFound, nil)
		return h.sendText(c, fiber.StatusNotFound, cacheForever, "missing, file-redirect",
			fmt.Sprintf("Cannot find file in %s", state.coord.Spec()))
	}

	tags := []string{"file"}
	if ext := strings.TrimPrefix(path.Ext(entry.Path), "."); ext != "" {
		tags = append(tags, ext+"-file")
	}
	etag := content.ETag(entry.Content)

	mediaType := entry.MediaType
	if mediaType == "" {
		mediaType = content.TextPlain
	}
	c.Set(fiber.HeaderContentType, content.HeaderValue(mediaType))
	c.Set(fiber.HeaderCacheControl, cacheForever)
	c.Set(fiber.HeaderETag, etag)
	c.Set(headerCacheTag, strings.Join(tags, ", "))
	if !entry.LastModified.IsZero() {
		c.Set(fiber.HeaderLastModified, string(fasthttp.AppendHTTPDate(nil, entry.LastModified)))
	}

	if notModified(c, etag, entry.LastModified) {
		h.logResult(state, fiber.StatusNotModified, nil)
		return c.SendStatus(fiber.StatusNotModified)
	}

	h.logResult(state, fiber.StatusOK, nil)
	return c.Status(fiber.StatusOK).Send(entry.Content)
}

// notModified 实现条件请求：If-None-Match 优先，其次 If-Modified-Since。
func notModified(c fiber.Ctx, etag string, lastModified time.Time) bool {
	if match := c.Get(fiber.HeaderIfNoneMatch); match != "" {
		return match == etag || match == "*"
	}
	since := c.Get(fiber.HeaderIfModifiedSince)
	if since == "" || lastModified.IsZero() {
		return false
	}
	parsed, err := fasthttp.ParseHTTPDate([]byte(since))
	if err != nil {
		return false
	}
	return !lastModified.Truncate(time.Second).After(parsed)
}

func (h *Handler) redirect(c fiber.Ctx, cacheControl, cacheTag, location string) error {
	c.Set(fiber.HeaderCacheControl, cacheControl)
	c.Set(headerCacheTag, cacheTag)
	return c.Redirect().Status(fiber.StatusFound).To(location)
}

func (h *Handler) sendText(c fiber.Ctx, status int, cacheControl, cacheTag, body string) error {
	if cacheControl != "" {
		c.Set(fiber.HeaderCacheControl, cacheControl)
	}
	if cacheTag != "" {
		c.Set(headerCacheTag, cacheTag)
	}
	c.Set(fiber.HeaderContentType, textPlain)
	return c.Status(status).SendString(body)
}

func (h *Handler) writeError(c fiber.Ctx, status int, code string) error {
	return c.Status(status).JSON(fiber.Map{"error": code})
}

func (h *Handler) logResult(state *requestState, status int, err error) {
	if h.logger == nil {
		return
	}
	fields := logging.RequestFields(state.coord.Name, state.coord.Version, state.coord.Filename)
	fields["action"] = "package_request"
	fields["status"] = status
	fields["outcome"] = state.outcome
	fields["elapsed_ms"] = time.Since(state.started).Milliseconds()
	if state.requestID != "" {
		fields["request_id"] = state.requestID
	}
	if err != nil {
		fields["error"] = err.Error()
		if status >= fiber.StatusInternalServerError || state.outcome == "stream_failed" || registry.IsTransient(err) {
			h.logger.WithFields(fields).Error("package_request_failed")
			return
		}
		h.logger.WithFields(fields).Warn("package_request_missing")
		return
	}
	h.logger.WithFields(fields).Info("package_request_complete")
}
