package tarball

import (
	"archive/tar"
	"bytes"
	"testing"
	"time"
)

var testModTime = time.Date(2020, 5, 1, 12, 0, 0, 0, time.UTC)

type testMember struct {
	name     string
	body     string
	typeflag byte
	linkname string
}

func file(name, body string) testMember {
	return testMember{name: name, body: body, typeflag: tar.TypeReg}
}

func dir(name string) testMember {
	return testMember{name: name, typeflag: tar.TypeDir}
}

func symlink(name, target string) testMember {
	return testMember{name: name, typeflag: tar.TypeSymlink, linkname: target}
}

func buildTar(t *testing.T, members ...testMember) []byte {
	t.Helper()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for _, m := range members {
		hdr := &tar.Header{
			Name:     m.name,
			Typeflag: m.typeflag,
			Mode:     0o644,
			ModTime:  testModTime,
			Linkname: m.linkname,
		}
		if m.typeflag == tar.TypeReg {
			hdr.Size = int64(len(m.body))
		}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatalf("write header %s: %v", m.name, err)
		}
		if m.typeflag == tar.TypeReg {
			if _, err := tw.Write([]byte(m.body)); err != nil {
				t.Fatalf("write body %s: %v", m.name, err)
			}
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("close tar: %v", err)
	}
	return buf.Bytes()
}
