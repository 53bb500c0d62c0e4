package registry

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/klauspost/compress/gzip"
	"github.com/sirupsen/logrus"
)

// OpenTarball 以流式方式打开某个版本的 tarball，返回解压后的 tar 字节流。
// 响应体以 gzip 魔数开头时解压，否则原样透传。调用方必须 Close；
// 取消 ctx 会中止传输。
func (c *Client) OpenTarball(ctx context.Context, name, version string) (io.ReadCloser, error) {
	target := c.TarballURL(name, version)
	logger := c.logger.WithFields(logrus.Fields{
		"action":  "registry_fetch",
		"package": name,
		"version": version,
		"url":     target,
	})
	logger.Debug("registry_fetch_tarball")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, &UpstreamError{Op: "tarball", URL: target, Err: err}
	}
	resp, err := c.http.Do(req)
	if err != nil {
		logger.WithError(err).Error("registry_fetch_failed")
		return nil, &UpstreamError{Op: "tarball", URL: target, Err: err}
	}

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		resp.Body.Close()
		return nil, ErrNotFound
	default:
		err := c.statusError(logger, "tarball", target, resp)
		resp.Body.Close()
		return nil, err
	}

	buffered := bufio.NewReader(resp.Body)
	magic, _ := buffered.Peek(2)
	if len(magic) < 2 || magic[0] != 0x1f || magic[1] != 0x8b {
		return &tarballStream{Reader: buffered, body: resp.Body}, nil
	}

	gz, err := gzip.NewReader(buffered)
	if err != nil {
		resp.Body.Close()
		logger.WithError(err).Error("registry_gzip_failed")
		return nil, &UpstreamError{Op: "tarball", URL: target, Status: resp.StatusCode, Err: err}
	}
	return &tarballStream{Reader: gz, body: resp.Body, gz: gz}, nil
}

type tarballStream struct {
	io.Reader
	body io.Closer
	gz   *gzip.Reader
}

func (s *tarballStream) Close() error {
	var gzErr error
	if s.gz != nil {
		gzErr = s.gz.Close()
	}
	return errors.Join(gzErr, s.body.Close())
}
