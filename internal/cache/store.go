package cache

import (
	"time"
)

// Store 负责管理元数据缓存的读写，所有方法都必须支持多个解析请求并发调用。
type Store interface {
	// Get 返回未过期的缓存条目；过期条目视为不存在，与 LRU 顺序无关。
	Get(key string) (Entry, bool)

	// Set 以整体替换的方式写入正向结果，value 会被复制，调用方之后修改原切片不影响缓存。
	Set(key string, value []byte, ttl time.Duration)

	// SetNegative 记录 "该 key 已确认不存在"，拥有独立的过期时间。
	SetNegative(key string, ttl time.Duration)

	// Remove 删除条目，不存在时静默返回。
	Remove(key string)

	// Stats 返回当前的容量与命中统计，供 /-/status 诊断输出。
	Stats() Stats
}

// Entry 表示一次缓存命中结果。Value 为只读切片，调用方不得修改。
type Entry struct {
	Value     []byte
	Negative  bool
	ExpiresAt time.Time
}

// Stats 汇总所有分片的统计数据，Evictions 同时包含容量淘汰与过期清理。
type Stats struct {
	Entries   int   `json:"entries"`
	Bytes     int64 `json:"bytes"`
	MaxBytes  int64 `json:"max_bytes"`
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
	Shards    int   `json:"shards"`
}
