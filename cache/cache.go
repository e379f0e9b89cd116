// Package cache 进程内缓存与 ORM 使用的缓存存储。
//
// Cache 是带容量上限的泛型 LRU 缓存，条目在写入时确定过期时间；
// Store 是面向 ORM 的字节级存储接口，支持失效标记时间与标签批量失效。
package cache

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
)

// Cache 泛型 LRU 缓存。读取不会续期；并发安全。
//
//	c := cache.New[string, []byte](cache.Config{Name: "orm.records", MaxSize: 10000, TTL: time.Minute})
//	c.SetWithTTL("task:1", payload, 5*time.Second)
type Cache[K comparable, V any] struct {
	name   string
	config Config

	mu    sync.Mutex
	lru   *simplelru.LRU[K, entry[V]]
	stats CacheStats
	now   func() time.Time
}

type entry[V any] struct {
	value     V
	createdAt time.Time
	expiresAt time.Time // 零值表示永不过期
}

// Config 缓存配置
type Config struct {
	Name string
	// MaxSize 最大条目数，0 表示不限
	MaxSize int
	// TTL 默认过期时间，0 表示永不过期
	TTL time.Duration
	// OnEvict 条目被驱逐、过期或删除时回调；持锁调用，回调内不得访问同一缓存
	OnEvict func(key, value any)
}

// CacheStats 缓存统计
type CacheStats struct {
	Hits      int64
	Misses    int64
	Evictions int64 // 容量驱逐
	Expires   int64 // 过期删除
	Size      int
}

// New 创建缓存
func New[K comparable, V any](config Config) *Cache[K, V] {
	if config.Name == "" {
		config.Name = "unnamed"
	}
	size := config.MaxSize
	if size <= 0 {
		size = math.MaxInt32
	}
	var onEvict simplelru.EvictCallback[K, entry[V]]
	if config.OnEvict != nil {
		onEvict = func(key K, e entry[V]) { config.OnEvict(key, e.value) }
	}
	// size 恒为正数，NewLRU 不会失败
	l, _ := simplelru.NewLRU[K, entry[V]](size, onEvict)
	return &Cache[K, V]{name: config.Name, config: config, lru: l, now: time.Now}
}

// Get 读取缓存值，过期条目视为未命中并被删除
func (c *Cache[K, V]) Get(key K) (V, bool) {
	value, _, found := c.GetWithTime(key)
	return value, found
}

// GetWithTime 读取缓存值及其写入时间
func (c *Cache[K, V]) GetWithTime(key K) (value V, createdAt time.Time, found bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.lru.Get(key)
	switch {
	case !ok:
		c.stats.Misses++
		return value, createdAt, false
	case e.expired(c.now()):
		c.lru.Remove(key)
		c.stats.Misses++
		c.stats.Expires++
		return value, createdAt, false
	}
	c.stats.Hits++
	return e.value, e.createdAt, true
}

// Set 使用默认 TTL 写入
func (c *Cache[K, V]) Set(key K, value V) {
	c.SetWithTTL(key, value, 0)
}

// SetWithTTL 写入缓存值，ttl <= 0 时使用默认 TTL。覆盖已有条目会刷新写入时间。
func (c *Cache[K, V]) SetWithTTL(key K, value V, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if ttl <= 0 {
		ttl = c.config.TTL
	}
	e := entry[V]{value: value, createdAt: now}
	if ttl > 0 {
		e.expiresAt = now.Add(ttl)
	}
	if evicted := c.lru.Add(key, e); evicted {
		c.stats.Evictions++
	}
}

// Delete 删除条目，返回是否存在
func (c *Cache[K, V]) Delete(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Remove(key)
}

// Clear 清空缓存，每个条目都会触发 OnEvict
func (c *Cache[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Purge()
}

// CleanExpired 删除已过期条目，返回删除数量
func (c *Cache[K, V]) CleanExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	cleaned := 0
	for _, key := range c.lru.Keys() {
		if e, ok := c.lru.Peek(key); ok && e.expired(now) {
			c.lru.Remove(key)
			cleaned++
		}
	}
	c.stats.Expires += int64(cleaned)
	return cleaned
}

// Stats 统计信息副本
func (c *Cache[K, V]) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	stats := c.stats
	stats.Size = c.lru.Len()
	return stats
}

func (c *Cache[K, V]) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

func (c *Cache[K, V]) HitRate() float64 {
	stats := c.Stats()
	total := stats.Hits + stats.Misses
	if total == 0 {
		return 0
	}
	return float64(stats.Hits) / float64(total)
}

func (e entry[V]) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

func (c *Cache[K, V]) String() string {
	stats := c.Stats()
	return fmt.Sprintf("Cache[%s]: size=%d/%d, hits=%d, misses=%d, hit_rate=%.2f%%, evictions=%d, expires=%d",
		c.name, stats.Size, c.config.MaxSize, stats.Hits, stats.Misses,
		c.HitRate()*100, stats.Evictions, stats.Expires)
}
