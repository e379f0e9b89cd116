package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMemoryStore(ttl time.Duration) (*MemoryStore, *fakeClock) {
	clock := newFakeClock()
	s := NewMemoryStore(Config{MaxSize: 100, TTL: ttl})
	s.entries.now = clock.Now
	return s, clock
}

func TestNoopStore_NeverHits(t *testing.T) {
	ctx := context.Background()
	var s Store = NewNoopStore()

	ok, err := s.Set(ctx, "k", []byte("v"), time.Minute, "tag")
	require.NoError(t, err)
	assert.True(t, ok)

	_, found, err := s.Get(ctx, "k", time.Time{})
	require.NoError(t, err)
	assert.False(t, found)

	assert.NoError(t, s.Delete(ctx, "k"))
	assert.NoError(t, s.InvalidateTags(ctx, "tag"))
	assert.NoError(t, s.Clear(ctx))
}

func TestMemoryStore_GetSet(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestMemoryStore(0)

	ok, err := s.Set(ctx, "user:1", []byte(`{"id":1}`), 0)
	require.NoError(t, err)
	assert.True(t, ok)

	value, found, err := s.Get(ctx, "user:1", time.Time{})
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, `{"id":1}`, string(value))

	// 返回副本，外部修改不影响缓存
	value[0] = 'x'
	again, _, _ := s.Get(ctx, "user:1", time.Time{})
	assert.Equal(t, `{"id":1}`, string(again))

	require.NoError(t, s.Delete(ctx, "user:1"))
	_, found, _ = s.Get(ctx, "user:1", time.Time{})
	assert.False(t, found)
}

func TestMemoryStore_TTL(t *testing.T) {
	ctx := context.Background()
	s, clock := newTestMemoryStore(time.Minute)

	_, _ = s.Set(ctx, "a", []byte("1"), 5*time.Second)
	_, _ = s.Set(ctx, "b", []byte("2"), 0)

	clock.Advance(10 * time.Second)
	_, found, _ := s.Get(ctx, "a", time.Time{})
	assert.False(t, found, "显式 TTL 到期")
	_, found, _ = s.Get(ctx, "b", time.Time{})
	assert.True(t, found, "默认 TTL 未到期")
}

func TestMemoryStore_MarkerOverridesTTL(t *testing.T) {
	ctx := context.Background()
	s, clock := newTestMemoryStore(time.Hour)

	_, _ = s.Set(ctx, "q", []byte("rows"), 0)
	clock.Advance(time.Second)
	marker := clock.Now()

	_, found, err := s.Get(ctx, "q", marker)
	require.NoError(t, err)
	assert.False(t, found, "早于标记的条目视为未命中")

	clock.Advance(time.Second)
	_, _ = s.Set(ctx, "q", []byte("fresh"), 0)
	value, found, _ := s.Get(ctx, "q", marker)
	require.True(t, found)
	assert.Equal(t, "fresh", string(value))
}

func TestMemoryStore_InvalidateTags(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestMemoryStore(0)

	_, _ = s.Set(ctx, "user:1", []byte("1"), 0, "user")
	_, _ = s.Set(ctx, "user:2", []byte("2"), 0, "user", "admin")
	_, _ = s.Set(ctx, "post:1", []byte("3"), 0, "post")

	require.NoError(t, s.InvalidateTags(ctx, "user"))

	for _, key := range []string{"user:1", "user:2"} {
		_, found, _ := s.Get(ctx, key, time.Time{})
		assert.False(t, found, key)
	}
	_, found, _ := s.Get(ctx, "post:1", time.Time{})
	assert.True(t, found)

	require.NoError(t, s.InvalidateTags(ctx, "missing"))
	require.NoError(t, s.Clear(ctx))
	_, found, _ = s.Get(ctx, "post:1", time.Time{})
	assert.False(t, found)
}

func TestStaleByMarker(t *testing.T) {
	now := time.Now()
	assert.False(t, StaleByMarker(now, time.Time{}))
	assert.True(t, StaleByMarker(now, now.Add(time.Millisecond)))
	assert.False(t, StaleByMarker(now, now))
}
