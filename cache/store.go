package cache

import (
	"context"
	"time"
)

// Store ORM 使用的缓存存储
//
// 值为已序列化的字节。marker 为失效标记时间：写入时间早于 marker 的条目视为未命中，
// 即使尚未到期；marker 为零值时忽略。
type Store interface {
	Get(ctx context.Context, key string, marker time.Time) ([]byte, bool, error)
	// Set 写入条目并关联标签，ttl <= 0 表示使用存储默认值
	Set(ctx context.Context, key string, value []byte, ttl time.Duration, tags ...string) (bool, error)
	Delete(ctx context.Context, key string) error
	// InvalidateTags 删除关联任一标签的全部条目
	InvalidateTags(ctx context.Context, tags ...string) error
	Clear(ctx context.Context) error
}

// StaleByMarker 判断写入时间是否早于失效标记
func StaleByMarker(createdAt, marker time.Time) bool {
	if marker.IsZero() {
		return false
	}
	return createdAt.Before(marker)
}

// NoopStore 不缓存任何内容，所有读取都未命中
type NoopStore struct{}

// NewNoopStore 创建空实现
func NewNoopStore() *NoopStore { return &NoopStore{} }

func (NoopStore) Get(ctx context.Context, key string, marker time.Time) ([]byte, bool, error) {
	return nil, false, nil
}

func (NoopStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration, tags ...string) (bool, error) {
	return true, nil
}

func (NoopStore) Delete(ctx context.Context, key string) error             { return nil }
func (NoopStore) InvalidateTags(ctx context.Context, tags ...string) error { return nil }
func (NoopStore) Clear(ctx context.Context) error                          { return nil }
