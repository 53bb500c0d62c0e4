package proxy

import (
	"archive/tar"
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/klauspost/compress/gzip"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"github.com/any-hub/pkgcdn/internal/cache"
	"github.com/any-hub/pkgcdn/internal/registry"
	"github.com/any-hub/pkgcdn/internal/server"
)

var fileModTime = time.Date(2021, 6, 1, 8, 30, 0, 0, time.UTC)

const pkgPackument = `{
  "name": "pkg",
  "dist-tags": {"latest": "1.0.0", "beta": "1.1.0-beta.1"},
  "versions": {
    "0.9.0": {"name": "pkg", "version": "0.9.0"},
    "1.0.0": {"name": "pkg", "version": "1.0.0", "main": "./index.js", "scripts": {"test": "x"}},
    "1.1.0-beta.1": {"name": "pkg", "version": "1.1.0-beta.1", "unpkg": "dist/pkg.umd.js"},
    "2.0.0": {"name": "pkg", "version": "2.0.0"}
  }
}`

// upstream 是带请求计数的假 Registry。
type upstream struct {
	server *httptest.Server

	mu     sync.Mutex
	routes map[string]func(http.ResponseWriter)
	hits   map[string]int
}

func newUpstream(t *testing.T) *upstream {
	t.Helper()
	u := &upstream{
		routes: make(map[string]func(http.ResponseWriter)),
		hits:   make(map[string]int),
	}
	u.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := r.URL.EscapedPath()
		u.mu.Lock()
		u.hits[p]++
		route, ok := u.routes[p]
		u.mu.Unlock()
		if !ok {
			http.NotFound(w, r)
			return
		}
		route(w)
	}))
	t.Cleanup(u.server.Close)
	return u
}

func (u *upstream) serve(p string, status int, body []byte) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.routes[p] = func(w http.ResponseWriter) {
		w.WriteHeader(status)
		_, _ = w.Write(body)
	}
}

func (u *upstream) hitCount(p string) int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.hits[p]
}

type tarFile struct {
	name string
	body string
}

func gzipTar(t *testing.T, files ...tarFile) []byte {
	t.Helper()
	var raw bytes.Buffer
	tw := tar.NewWriter(&raw)
	for _, f := range files {
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name:     f.name,
			Mode:     0o644,
			Size:     int64(len(f.body)),
			ModTime:  fileModTime,
			Typeflag: tar.TypeReg,
		}))
		_, err := tw.Write([]byte(f.body))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write(raw.Bytes())
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

type fixture struct {
	app      *fiber.App
	upstream *upstream
	hook     *logtest.Hook
}

type fixtureOptions struct {
	maxFileSize int64
	resolver    VersionResolver
}

func newFixture(t *testing.T, opts fixtureOptions) *fixture {
	t.Helper()
	up := newUpstream(t)
	up.serve("/pkg", http.StatusOK, []byte(pkgPackument))
	up.serve("/pkg/-/pkg-1.0.0.tgz", http.StatusOK, gzipTar(t,
		tarFile{name: "pkg/package.json", body: `{"name":"pkg","main":"./index.js"}`},
		tarFile{name: "pkg/index.js", body: "module.exports = require('./lib/util');\n"},
		tarFile{name: "pkg/lib/util.js", body: "module.exports = {};\n"},
		tarFile{name: "pkg/lib/data.json", body: `{"ok":true}`},
		tarFile{name: "pkg/docs/guide.md", body: "# guide\n"},
	))

	logger, hook := logtest.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	client, err := registry.NewClient(registry.ClientOptions{
		BaseURL:    up.server.URL,
		HTTPClient: up.server.Client(),
		Logger:     logger,
		Coalesce:   true,
	})
	require.NoError(t, err)

	resolver := opts.resolver
	if resolver == nil {
		store, err := cache.NewMemoryStore(cache.Options{MaxBytes: 1 << 20, Shards: 4})
		require.NoError(t, err)
		resolver = registry.NewResolver(client, store, cache.DefaultPolicy(), logger)
	}

	app, err := server.NewApp(server.AppOptions{
		Logger:     logger,
		Handler:    NewHandler(resolver, client, logger, opts.maxFileSize),
		ListenPort: 5000,
		EnableCORS: true,
	})
	require.NoError(t, err)

	return &fixture{app: app, upstream: up, hook: hook}
}

func (f *fixture) get(t *testing.T, target string, headers ...string) (*http.Response, string) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "http://cdn.local"+target, nil)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp, err := f.app.Test(req)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(body)
}

func TestHandlerScenario(t *testing.T) {
	f := newFixture(t, fixtureOptions{})

	resp, _ := f.get(t, "/pkg@1.0.0/lib/util")
	require.Equal(t, fiber.StatusFound, resp.StatusCode)
	require.Equal(t, "/pkg@1.0.0/lib/util.js", resp.Header.Get("Location"))
	require.Equal(t, "redirect, file-redirect", resp.Header.Get("Cache-Tag"))
	require.Equal(t, "public, max-age=31536000", resp.Header.Get("Cache-Control"))

	resp, _ = f.get(t, "/pkg@1.0.0/")
	require.Equal(t, fiber.StatusFound, resp.StatusCode)
	require.Equal(t, "/pkg@1.0.0/index.js", resp.Header.Get("Location"))
	require.Equal(t, "redirect, index-redirect", resp.Header.Get("Cache-Tag"))

	resp, body := f.get(t, "/pkg@1.0.0/index.js")
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	require.Equal(t, "module.exports = require('./lib/util');\n", body)
	require.Equal(t, "application/javascript; charset=utf-8", resp.Header.Get("Content-Type"))
	require.Equal(t, "file, js-file", resp.Header.Get("Cache-Tag"))
	require.Equal(t, "public, max-age=31536000", resp.Header.Get("Cache-Control"))
	require.Equal(t, fileModTime.Format(http.TimeFormat), resp.Header.Get("Last-Modified"))
	require.NotEmpty(t, resp.Header.Get("ETag"))
	require.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	resp, body = f.get(t, "/pkg@1.0.0/missing.js")
	require.Equal(t, fiber.StatusNotFound, resp.StatusCode)
	require.Equal(t, "missing, missing-entry", resp.Header.Get("Cache-Tag"))
	require.Equal(t, `Cannot find "/missing.js" in pkg@1.0.0`, body)
}

func TestHandlerSuffixResolutionToJSON(t *testing.T) {
	f := newFixture(t, fixtureOptions{})

	resp, _ := f.get(t, "/pkg@1.0.0/lib/data")
	require.Equal(t, fiber.StatusFound, resp.StatusCode)
	require.Equal(t, "/pkg@1.0.0/lib/data.json", resp.Header.Get("Location"))

	resp, body := f.get(t, "/pkg@1.0.0/lib/data.json")
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	require.Equal(t, `{"ok":true}`, body)
	require.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	require.Equal(t, "file, json-file", resp.Header.Get("Cache-Tag"))
}

func TestHandlerMissingIndex(t *testing.T) {
	f := newFixture(t, fixtureOptions{})

	resp, body := f.get(t, "/pkg@1.0.0/docs")
	require.Equal(t, fiber.StatusNotFound, resp.StatusCode)
	require.Equal(t, "missing, missing-index", resp.Header.Get("Cache-Tag"))
	require.Contains(t, body, `Cannot find an index in "/docs"`)
}

func TestHandlerSemverRedirects(t *testing.T) {
	f := newFixture(t, fixtureOptions{})

	cases := map[string]string{
		"/pkg":                "/pkg@1.0.0",
		"/pkg/index.js":       "/pkg@1.0.0/index.js",
		"/pkg@latest/lib/x":   "/pkg@1.0.0/lib/x",
		"/pkg@%5E1.0.0/a.js":  "/pkg@1.0.0/a.js",
		"/pkg@1/a.js":         "/pkg@1.0.0/a.js",
		"/pkg@beta/a.js":      "/pkg@1.1.0-beta.1/a.js",
		"/pkg@%3C1/index.js":  "/pkg@0.9.0/index.js",
		"/pkg@%3E%3D1.0.0/ok": "/pkg@2.0.0/ok",
	}
	for target, location := range cases {
		resp, _ := f.get(t, target)
		require.Equal(t, fiber.StatusFound, resp.StatusCode, target)
		require.Equal(t, location, resp.Header.Get("Location"), target)
		require.Equal(t, "public, s-maxage=600, max-age=60", resp.Header.Get("Cache-Control"), target)
		require.Equal(t, "redirect, semver-redirect", resp.Header.Get("Cache-Tag"), target)
	}
	require.Equal(t, 1, f.upstream.hitCount("/pkg"))
}

func TestHandlerFilenameRedirect(t *testing.T) {
	f := newFixture(t, fixtureOptions{})

	resp, _ := f.get(t, "/pkg@1.0.0")
	require.Equal(t, fiber.StatusFound, resp.StatusCode)
	require.Equal(t, "/pkg@1.0.0/index.js", resp.Header.Get("Location"))
	require.Equal(t, "redirect, filename-redirect", resp.Header.Get("Cache-Tag"))

	resp, _ = f.get(t, "/pkg@1.1.0-beta.1")
	require.Equal(t, "/pkg@1.1.0-beta.1/dist/pkg.umd.js", resp.Header.Get("Location"))

	resp, _ = f.get(t, "/pkg@2.0.0")
	require.Equal(t, "/pkg@2.0.0/index.js", resp.Header.Get("Location"))
}

func TestHandlerStripsQuery(t *testing.T) {
	f := newFixture(t, fixtureOptions{})

	resp, _ := f.get(t, "/pkg@1.0.0/index.js?module&v=2")
	require.Equal(t, fiber.StatusFound, resp.StatusCode)
	require.Equal(t, "/pkg@1.0.0/index.js", resp.Header.Get("Location"))
	require.Zero(t, f.upstream.hitCount("/pkg"))
}

func TestHandlerRejectsInvalidRequests(t *testing.T) {
	f := newFixture(t, fixtureOptions{})

	resp, body := f.get(t, "/")
	require.Equal(t, fiber.StatusForbidden, resp.StatusCode)
	require.Contains(t, body, `"error":"Invalid URL: /"`)

	resp, body = f.get(t, "/d41d8cd98f00b204e9800998ecf8427e")
	require.Equal(t, fiber.StatusForbidden, resp.StatusCode)
	require.Contains(t, body, "cannot be a hash")

	resp, body = f.get(t, "/BadName@1.0.0/index.js")
	require.Equal(t, fiber.StatusForbidden, resp.StatusCode)
	require.Contains(t, body, "capital letters")

	resp, _ = f.get(t, "/_private/index.js")
	require.Equal(t, fiber.StatusForbidden, resp.StatusCode)
}

func TestHandlerUnknownPackageIsNegativeCached(t *testing.T) {
	f := newFixture(t, fixtureOptions{})

	for i := 0; i < 3; i++ {
		resp, body := f.get(t, "/ghost@1.0.0/index.js")
		require.Equal(t, fiber.StatusNotFound, resp.StatusCode)
		require.Equal(t, "Cannot find package ghost@1.0.0", body)
	}
	require.Equal(t, 1, f.upstream.hitCount("/ghost"))
}

func TestHandlerUnknownVersion(t *testing.T) {
	f := newFixture(t, fixtureOptions{})

	resp, body := f.get(t, "/pkg@9.9.9/index.js")
	require.Equal(t, fiber.StatusNotFound, resp.StatusCode)
	require.Equal(t, "Cannot find package pkg@9.9.9", body)
}

func TestHandlerMissingTarball(t *testing.T) {
	f := newFixture(t, fixtureOptions{})

	resp, body := f.get(t, "/pkg@0.9.0/index.js")
	require.Equal(t, fiber.StatusNotFound, resp.StatusCode)
	require.Equal(t, "missing, missing-package", resp.Header.Get("Cache-Tag"))
	require.Equal(t, "public, max-age=31536000", resp.Header.Get("Cache-Control"))
	require.Equal(t, "Cannot find package pkg@0.9.0", body)
}

func TestHandlerTarballUpstreamFailureIsNotCacheable(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	f.upstream.serve("/pkg/-/pkg-2.0.0.tgz", http.StatusBadGateway, []byte("bad gateway"))

	resp, _ := f.get(t, "/pkg@2.0.0/index.js")
	require.Equal(t, fiber.StatusNotFound, resp.StatusCode)
	require.Equal(t, "no-store", resp.Header.Get("Cache-Control"))

	var failed bool
	for _, entry := range f.hook.AllEntries() {
		if entry.Message == "registry_unexpected_status" {
			failed = true
			require.Equal(t, http.StatusBadGateway, entry.Data["status"])
			require.Equal(t, "bad gateway", entry.Data["body"])
		}
	}
	require.True(t, failed, "upstream failure should be logged with status and body")
}

func TestHandlerCorruptTarball(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	archive := gzipTar(t, tarFile{name: "pkg/index.js", body: strings.Repeat("x", 4096)})
	f.upstream.serve("/pkg/-/pkg-2.0.0.tgz", http.StatusOK, archive[:len(archive)/2])

	resp, body := f.get(t, "/pkg@2.0.0/index.js")
	require.Equal(t, fiber.StatusNotFound, resp.StatusCode)
	require.Equal(t, "no-store", resp.Header.Get("Cache-Control"))
	require.Equal(t, "Cannot read package pkg@2.0.0", body)

	entry := f.hook.LastEntry()
	require.NotNil(t, entry)
	require.Equal(t, "package_request_failed", entry.Message)
	require.Equal(t, "stream_failed", entry.Data["outcome"])
}

func TestHandlerMaxFileSize(t *testing.T) {
	f := newFixture(t, fixtureOptions{maxFileSize: 8})

	resp, _ := f.get(t, "/pkg@1.0.0/index.js")
	require.Equal(t, fiber.StatusForbidden, resp.StatusCode)
	require.Equal(t, "no-store", resp.Header.Get("Cache-Control"))
}

func TestHandlerConditionalRequests(t *testing.T) {
	f := newFixture(t, fixtureOptions{})

	resp, _ := f.get(t, "/pkg@1.0.0/lib/util.js")
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	etag := resp.Header.Get("ETag")

	resp, body := f.get(t, "/pkg@1.0.0/lib/util.js", "If-None-Match", etag)
	require.Equal(t, fiber.StatusNotModified, resp.StatusCode)
	require.Empty(t, body)

	resp, _ = f.get(t, "/pkg@1.0.0/lib/util.js", "If-None-Match", `"stale"`)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	resp, _ = f.get(t, "/pkg@1.0.0/lib/util.js", "If-Modified-Since", fileModTime.Add(time.Hour).Format(http.TimeFormat))
	require.Equal(t, fiber.StatusNotModified, resp.StatusCode)

	resp, _ = f.get(t, "/pkg@1.0.0/lib/util.js", "If-Modified-Since", fileModTime.Add(-time.Hour).Format(http.TimeFormat))
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestHandlerLogsRequestFields(t *testing.T) {
	f := newFixture(t, fixtureOptions{})

	f.get(t, "/pkg@1.0.0/index.js")
	entry := f.hook.LastEntry()
	require.NotNil(t, entry)
	require.Equal(t, "package_request_complete", entry.Message)
	require.Equal(t, "package_request", entry.Data["action"])
	require.Equal(t, "pkg", entry.Data["package"])
	require.Equal(t, "1.0.0", entry.Data["version"])
	require.Equal(t, "/index.js", entry.Data["filename"])
	require.Equal(t, "serve", entry.Data["outcome"])
	require.NotEmpty(t, entry.Data["request_id"])
}

// inconsistentResolver 模拟版本索引与元数据不一致的 Registry。
type inconsistentResolver struct{}

func (inconsistentResolver) ResolveVersion(_ context.Context, name, requested string) (registry.Resolution, error) {
	return registry.Resolution{Name: name, Requested: requested, Version: requested}, nil
}

func (inconsistentResolver) PackageConfig(context.Context, string, string) (registry.Descriptor, error) {
	return nil, registry.ErrInconsistent
}

func TestHandlerMissingConfig(t *testing.T) {
	f := newFixture(t, fixtureOptions{resolver: inconsistentResolver{}})

	resp, body := f.get(t, "/pkg@1.0.0/index.js")
	require.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)
	require.Equal(t, "Cannot get config for package pkg@1.0.0", body)
}
