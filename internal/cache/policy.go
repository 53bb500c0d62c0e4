package cache

import (
	"errors"
	"time"
)

// ErrStoreUnavailable 表示调用方未注入缓存存储实例。
var ErrStoreUnavailable = errors.New("cache store unavailable")

// Policy 描述正向/负向结果各自的 TTL。正向结果 TTL 较短以限制与 Registry 的
// 数据偏差；"不存在" 变化频率更低，使用更长的 TTL 减少无效回源。
type Policy struct {
	PositiveTTL time.Duration
	NegativeTTL time.Duration
}

// DefaultPolicy 返回 1 分钟正向 / 5 分钟负向的默认策略。
func DefaultPolicy() Policy {
	return Policy{
		PositiveTTL: time.Minute,
		NegativeTTL: 5 * time.Minute,
	}
}

// PolicyWriter 把 TTL 策略注入 Store 的读写，解析器无需关心具体过期时间。
type PolicyWriter struct {
	store  Store
	policy Policy
}

// NewPolicyWriter 构造策略感知的读写器；非正数 TTL 回退到默认策略。
func NewPolicyWriter(store Store, policy Policy) PolicyWriter {
	defaults := DefaultPolicy()
	if policy.PositiveTTL <= 0 {
		policy.PositiveTTL = defaults.PositiveTTL
	}
	if policy.NegativeTTL <= 0 {
		policy.NegativeTTL = defaults.NegativeTTL
	}
	return PolicyWriter{
		store:  store,
		policy: policy,
	}
}

// Enabled 返回当前是否具备缓存能力。
func (w PolicyWriter) Enabled() bool {
	return w.store != nil
}

// Policy 返回生效中的 TTL 策略。
func (w PolicyWriter) Policy() Policy {
	return w.policy
}

// Lookup 读取缓存；未注入 Store 时总是未命中。
func (w PolicyWriter) Lookup(key string) (Entry, bool) {
	if w.store == nil {
		return Entry{}, false
	}
	return w.store.Get(key)
}

// Put 以正向 TTL 写入序列化后的值。
func (w PolicyWriter) Put(key string, value []byte) error {
	if w.store == nil {
		return ErrStoreUnavailable
	}
	w.store.Set(key, value, w.policy.PositiveTTL)
	return nil
}

// PutMissing 以负向 TTL 记录 "不存在"。
func (w PolicyWriter) PutMissing(key string) error {
	if w.store == nil {
		return ErrStoreUnavailable
	}
	w.store.SetNegative(key, w.policy.NegativeTTL)
	return nil
}
