package content

import (
	_ "crypto/sha512" // 注册 sha384，go-digest 依赖 crypto.Hash 可用
	"encoding/base64"
	"hash"

	"github.com/opencontainers/go-digest"
)

// Algorithm 是 Subresource Integrity 使用的摘要算法。
const Algorithm = digest.SHA384

// Digester 以流式方式计算文件摘要，同时提供 SRI 与 go-digest 两种表示。
type Digester struct {
	d digest.Digester
	n int64
}

// NewDigester 返回一个空的 sha384 digester。
func NewDigester() *Digester {
	return &Digester{d: Algorithm.Digester()}
}

// Write 实现 io.Writer，永不返回错误。
func (d *Digester) Write(p []byte) (int, error) {
	n, err := d.d.Hash().Write(p)
	d.n += int64(n)
	return n, err
}

// Size 返回累计写入的字节数。
func (d *Digester) Size() int64 {
	return d.n
}

// Integrity 返回 "sha384-<base64>" 形式的 SRI 字符串。
func (d *Digester) Integrity() string {
	return sri(d.d.Hash())
}

// Digest 返回 "sha384:<hex>" 形式的内容摘要。
func (d *Digester) Digest() digest.Digest {
	return d.d.Digest()
}

// Integrity 一次性计算 b 的 SRI 字符串。
func Integrity(b []byte) string {
	h := Algorithm.Hash()
	h.Write(b)
	return sri(h)
}

// Digest 一次性计算 b 的内容摘要。
func Digest(b []byte) digest.Digest {
	return Algorithm.FromBytes(b)
}

func sri(h hash.Hash) string {
	return string(Algorithm) + "-" + base64.StdEncoding.EncodeToString(h.Sum(nil))
}
