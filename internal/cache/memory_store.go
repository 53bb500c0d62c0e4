package cache

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/hashicorp/golang-lru/v2/simplelru"
)

// negativeFootprint 是负缓存条目在字节预算中占用的估算值。
const negativeFootprint = int64(len("not-found"))

// maxEntriesPerShard 只是 simplelru 要求的条目上限，真正的淘汰依据是字节预算。
const maxEntriesPerShard = 1 << 24

// Options 控制内存缓存的容量、分片数与时钟。
type Options struct {
	// MaxBytes 为所有分片合计的字节上限。
	MaxBytes int64
	// Shards 为分片数量，0 时使用 16。
	Shards int
	// Now 可在测试中注入假时钟，默认 time.Now。
	Now func() time.Time
}

// NewMemoryStore 构建按 key 哈希分片的内存缓存。每个分片拥有独立锁与 LRU 链表，
// 不同分片上的写入互不阻塞；单个 key 的读改写在分片锁内原子完成。
func NewMemoryStore(opts Options) (Store, error) {
	if opts.MaxBytes <= 0 {
		return nil, errors.New("cache max bytes must be positive")
	}
	if opts.Shards == 0 {
		opts.Shards = 16
	}
	if opts.Shards < 0 {
		return nil, fmt.Errorf("invalid shard count: %d", opts.Shards)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	perShard := opts.MaxBytes / int64(opts.Shards)
	if perShard <= 0 {
		return nil, fmt.Errorf("cache max bytes %d too small for %d shards", opts.MaxBytes, opts.Shards)
	}

	store := &memoryStore{
		shards:   make([]*shard, opts.Shards),
		maxBytes: perShard * int64(opts.Shards),
		now:      opts.Now,
	}
	for i := range store.shards {
		s, err := newShard(perShard, &store.evictions)
		if err != nil {
			return nil, err
		}
		store.shards[i] = s
	}
	return store, nil
}

type memoryStore struct {
	shards   []*shard
	maxBytes int64
	now      func() time.Time

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
}

type item struct {
	value     []byte
	negative  bool
	expiresAt time.Time
	size      int64
}

type shard struct {
	mu       sync.Mutex
	lru      *simplelru.LRU[string, *item]
	bytes    int64
	maxBytes int64
}

func newShard(maxBytes int64, evictions *atomic.Int64) (*shard, error) {
	s := &shard{maxBytes: maxBytes}
	lru, err := simplelru.NewLRU[string, *item](maxEntriesPerShard, func(_ string, it *item) {
		// 回调总在持有 s.mu 时触发。
		s.bytes -= it.size
		evictions.Add(1)
	})
	if err != nil {
		return nil, fmt.Errorf("create lru shard: %w", err)
	}
	s.lru = lru
	return s, nil
}

func (m *memoryStore) shardFor(key string) *shard {
	return m.shards[xxhash.Sum64String(key)%uint64(len(m.shards))]
}

func (m *memoryStore) Get(key string) (Entry, bool) {
	s := m.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	it, ok := s.lru.Get(key)
	if !ok {
		m.misses.Add(1)
		return Entry{}, false
	}
	if !m.now().Before(it.expiresAt) {
		s.lru.Remove(key)
		m.misses.Add(1)
		return Entry{}, false
	}

	m.hits.Add(1)
	return Entry{
		Value:     it.value,
		Negative:  it.negative,
		ExpiresAt: it.expiresAt,
	}, true
}

func (m *memoryStore) Set(key string, value []byte, ttl time.Duration) {
	copied := make([]byte, len(value))
	copy(copied, value)
	m.put(key, &item{
		value: copied,
		size:  int64(len(key) + len(copied)),
	}, ttl)
}

func (m *memoryStore) SetNegative(key string, ttl time.Duration) {
	m.put(key, &item{
		negative: true,
		size:     int64(len(key)) + negativeFootprint,
	}, ttl)
}

func (m *memoryStore) put(key string, it *item, ttl time.Duration) {
	s := m.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	if ttl <= 0 || it.size > s.maxBytes {
		s.lru.Remove(key)
		return
	}
	it.expiresAt = m.now().Add(ttl)

	// simplelru 覆盖已有 key 时不会触发淘汰回调，需要手动扣减旧条目的体积。
	if old, ok := s.lru.Peek(key); ok {
		s.bytes -= old.size
	}
	s.lru.Add(key, it)
	s.bytes += it.size

	for s.bytes > s.maxBytes {
		if _, _, ok := s.lru.RemoveOldest(); !ok {
			break
		}
	}
}

func (m *memoryStore) Remove(key string) {
	s := m.shardFor(key)
	s.mu.Lock()
	s.lru.Remove(key)
	s.mu.Unlock()
}

func (m *memoryStore) Stats() Stats {
	stats := Stats{
		MaxBytes:  m.maxBytes,
		Hits:      m.hits.Load(),
		Misses:    m.misses.Load(),
		Evictions: m.evictions.Load(),
		Shards:    len(m.shards),
	}
	for _, s := range m.shards {
		s.mu.Lock()
		stats.Entries += s.lru.Len()
		stats.Bytes += s.bytes
		s.mu.Unlock()
	}
	return stats
}
