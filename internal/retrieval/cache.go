package retrieval

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// 缓存探测结果 / probe outcomes
type CacheStatus int

const (
	CacheFresh CacheStatus = iota
	CacheExpired
	CacheMissing
)

// CacheEntry 缓存值：写入时间、片段与完整结果对象。
type CacheEntry struct {
	StoredAt time.Time
	Snippet  string
	Result   map[string]any
}

// ContextCache 进程内 TTL 缓存，容量超限按写入时间淘汰最旧。
// 单实例部署场景，不做跨副本一致性。
type ContextCache struct {
	mu      sync.Mutex
	entries map[string]CacheEntry
	ttl     time.Duration
	max     int
}

func NewContextCache(ttl time.Duration, max int) *ContextCache {
	if ttl <= 0 {
		ttl = 20 * time.Second
	}
	if max <= 0 {
		max = 256
	}
	return &ContextCache{
		entries: make(map[string]CacheEntry),
		ttl:     ttl,
		max:     max,
	}
}

// CacheKey 三段键：用户、规范化关键词、画像版本。
func CacheKey(user, normalizedKeyword, profileVersion string) string {
	return user + "||" + normalizedKeyword + "||" + profileVersion
}

// Get 探测缓存；过期条目当场淘汰并报告 expired。
func (c *ContextCache) Get(key string, now time.Time) (CacheEntry, CacheStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return CacheEntry{}, CacheMissing
	}
	if now.Sub(e.StoredAt) > c.ttl {
		delete(c.entries, key)
		return CacheEntry{}, CacheExpired
	}
	return e, CacheFresh
}

// Put 写入后按容量上限淘汰最旧条目。
func (c *ContextCache) Put(key string, now time.Time, snippet string, result map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = CacheEntry{StoredAt: now, Snippet: snippet, Result: result}
	if len(c.entries) <= c.max {
		return
	}
	type aged struct {
		key string
		at  time.Time
	}
	all := make([]aged, 0, len(c.entries))
	for k, e := range c.entries {
		all = append(all, aged{k, e.StoredAt})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].at.Before(all[j].at) })
	for _, a := range all[:len(c.entries)-c.max] {
		delete(c.entries, a.key)
	}
}

// HasOtherProfile 判断同一 (user, keyword) 是否存在其他画像版本的条目，
// 兼容早期没有画像段的两段键。
func (c *ContextCache) HasOtherProfile(user, normalizedKeyword, profileVersion string) bool {
	prefix := user + "||" + normalizedKeyword
	current := CacheKey(user, normalizedKeyword, profileVersion)

	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.entries {
		if k == current {
			continue
		}
		// prefix 本身是早期的两段键
		if k == prefix || strings.HasPrefix(k, prefix+"||") {
			return true
		}
	}
	return false
}

// Len 供调试输出使用。
func (c *ContextCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
