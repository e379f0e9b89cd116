package cache

import (
	"context"
	"sync"
	"time"
)

// MemoryStore 基于进程内 LRU 缓存的 Store 实现，额外维护标签索引用于批量失效
type MemoryStore struct {
	entries *Cache[string, []byte]

	mu   sync.Mutex
	tags map[string]map[string]struct{}
}

// NewMemoryStore 创建内存存储；config.TTL 作为未指定 TTL 时的默认值
func NewMemoryStore(config Config) *MemoryStore {
	if config.Name == "" {
		config.Name = "orm.memory"
	}
	return &MemoryStore{
		entries: New[string, []byte](config),
		tags:    make(map[string]map[string]struct{}),
	}
}

func (s *MemoryStore) Get(ctx context.Context, key string, marker time.Time) ([]byte, bool, error) {
	value, createdAt, found := s.entries.GetWithTime(key)
	if !found {
		return nil, false, nil
	}
	if StaleByMarker(createdAt, marker) {
		s.entries.Delete(key)
		return nil, false, nil
	}
	out := make([]byte, len(value))
	copy(out, value)
	return out, true, nil
}

func (s *MemoryStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration, tags ...string) (bool, error) {
	stored := make([]byte, len(value))
	copy(stored, value)
	s.entries.SetWithTTL(key, stored, ttl)

	if len(tags) > 0 {
		s.mu.Lock()
		for _, tag := range tags {
			keys, ok := s.tags[tag]
			if !ok {
				keys = make(map[string]struct{})
				s.tags[tag] = keys
			}
			keys[key] = struct{}{}
		}
		s.mu.Unlock()
	}
	return true, nil
}

func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	s.entries.Delete(key)
	return nil
}

// InvalidateTags 标签索引可能包含已过期或已驱逐的键，删除不存在的键无副作用
func (s *MemoryStore) InvalidateTags(ctx context.Context, tags ...string) error {
	s.mu.Lock()
	var keys []string
	for _, tag := range tags {
		for key := range s.tags[tag] {
			keys = append(keys, key)
		}
		delete(s.tags, tag)
	}
	s.mu.Unlock()

	for _, key := range keys {
		s.entries.Delete(key)
	}
	return nil
}

func (s *MemoryStore) Clear(ctx context.Context) error {
	s.entries.Clear()
	s.mu.Lock()
	s.tags = make(map[string]map[string]struct{})
	s.mu.Unlock()
	return nil
}

// Stats 返回底层缓存统计
func (s *MemoryStore) Stats() CacheStats {
	return s.entries.Stats()
}
