package content

import (
	"crypto/sha1"
	"encoding/base64"
	"strconv"
)

// ETag 生成强校验 ETag："<长度十六进制>-<sha1 base64 前 27 位>"。
func ETag(b []byte) string {
	sum := sha1.Sum(b)
	hash := base64.StdEncoding.EncodeToString(sum[:])[:27]
	return `"` + strconv.FormatInt(int64(len(b)), 16) + "-" + hash + `"`
}
