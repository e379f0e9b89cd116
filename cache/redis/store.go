// Package redis 提供基于 Redis 的 cache.Store 实现
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"gorecord/cache"
	"gorecord/logging"
)

// client 仅包含 Store 依赖的 go-redis 命令（便于测试替换）
type client interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	SAdd(ctx context.Context, key string, members ...any) *redis.IntCmd
	SMembers(ctx context.Context, key string) *redis.StringSliceCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
	Scan(ctx context.Context, cursor uint64, match string, count int64) *redis.ScanCmd
	Close() error
}

// Config Redis 缓存存储配置
type Config struct {
	Client    redis.UniversalClient
	Addr      string
	Username  string
	Password  string
	DB        int
	KeyPrefix string
	// DefaultTTL 未指定 TTL 时使用，默认 5 分钟
	DefaultTTL time.Duration
	// TagTTL 标签集合的过期时间，默认 24 小时
	TagTTL time.Duration
	Logger logging.Logger
}

// Store 以 JSON 信封保存值与写入时间，标签以 Redis Set 维护成员键
type Store struct {
	cfg       Config
	client    client
	ownClient bool
	logger    logging.Logger
	now       func() time.Time
}

type envelope struct {
	Value     []byte `json:"value"`
	CreatedAt int64  `json:"created_at"`
}

// NewStore 创建 Redis 存储；未提供 Client 时按 Addr 建立连接
func NewStore(cfg Config) (*Store, error) {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "orm:"
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = 5 * time.Minute
	}
	if cfg.TagTTL <= 0 {
		cfg.TagTTL = 24 * time.Hour
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.ComponentLogger("cache.redis")
	}

	var c client = cfg.Client
	ownClient := false
	if cfg.Client == nil {
		if cfg.Addr == "" {
			return nil, errors.New("redis cache: Addr or Client is required")
		}
		c = redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Username: cfg.Username,
			Password: cfg.Password,
			DB:       cfg.DB,
		})
		ownClient = true
	}

	return newStoreWithClient(cfg, c, ownClient, logger), nil
}

func newStoreWithClient(cfg Config, c client, own bool, logger logging.Logger) *Store {
	return &Store{cfg: cfg, client: c, ownClient: own, logger: logger, now: time.Now}
}

func (s *Store) key(key string) string    { return s.cfg.KeyPrefix + key }
func (s *Store) tagKey(tag string) string { return s.cfg.KeyPrefix + "tag:" + tag }

func (s *Store) Get(ctx context.Context, key string, marker time.Time) ([]byte, bool, error) {
	raw, err := s.client.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis cache get %s: %w", key, err)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		// 损坏的条目按未命中处理并清除
		s.logger.Warn(ctx, "drop malformed cache entry", logging.String("key", key), logging.Error(err))
		_ = s.client.Del(ctx, s.key(key)).Err()
		return nil, false, nil
	}
	if cache.StaleByMarker(time.Unix(0, env.CreatedAt), marker) {
		return nil, false, nil
	}
	return env.Value, true, nil
}

func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration, tags ...string) (bool, error) {
	if ttl <= 0 {
		ttl = s.cfg.DefaultTTL
	}
	payload, err := json.Marshal(envelope{Value: value, CreatedAt: s.now().UnixNano()})
	if err != nil {
		return false, err
	}
	if err := s.client.Set(ctx, s.key(key), payload, ttl).Err(); err != nil {
		return false, fmt.Errorf("redis cache set %s: %w", key, err)
	}
	for _, tag := range tags {
		tk := s.tagKey(tag)
		if err := s.client.SAdd(ctx, tk, s.key(key)).Err(); err != nil {
			return false, fmt.Errorf("redis cache tag %s: %w", tag, err)
		}
		if err := s.client.Expire(ctx, tk, s.cfg.TagTTL).Err(); err != nil {
			s.logger.Warn(ctx, "tag expire failed", logging.String("tag", tag), logging.Error(err))
		}
	}
	return true, nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("redis cache del %s: %w", key, err)
	}
	return nil
}

func (s *Store) InvalidateTags(ctx context.Context, tags ...string) error {
	for _, tag := range tags {
		tk := s.tagKey(tag)
		members, err := s.client.SMembers(ctx, tk).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return fmt.Errorf("redis cache tag members %s: %w", tag, err)
		}
		keys := append(members, tk)
		if err := s.client.Del(ctx, keys...).Err(); err != nil {
			return fmt.Errorf("redis cache invalidate %s: %w", tag, err)
		}
	}
	return nil
}

// Clear 按前缀扫描并删除全部键
func (s *Store) Clear(ctx context.Context) error {
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, s.cfg.KeyPrefix+"*", 256).Result()
		if err != nil {
			return fmt.Errorf("redis cache scan: %w", err)
		}
		if len(keys) > 0 {
			if err := s.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("redis cache clear: %w", err)
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

// Close 仅关闭由 Store 自行创建的连接
func (s *Store) Close() error {
	if s.ownClient {
		return s.client.Close()
	}
	return nil
}

var _ cache.Store = (*Store)(nil)
