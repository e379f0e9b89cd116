package retry

import (
	"context"
	"math"
	"time"
)

// Operation 可重试的操作，attempt 从 1 开始
type Operation func(ctx context.Context, attempt int) error

// Config 重试配置
type Config struct {
	MaxAttempts   int           // 最大尝试次数（包括首次）
	InitialDelay  time.Duration // 初始退避延迟
	BackoffFactor float64       // 指数退避倍数
	MaxDelay      time.Duration // 单次延迟上限

	// Retryable 为 nil 时所有错误都重试
	Retryable func(error) bool
}

// DefaultConfig 1 次初始 + 1 次重试，2ms 起步，2 倍退避，上限 1s
func DefaultConfig() Config {
	return Config{
		MaxAttempts:   2,
		InitialDelay:  2 * time.Millisecond,
		BackoffFactor: 2.0,
		MaxDelay:      time.Second,
	}
}

// IsZero 未配置
func (c Config) IsZero() bool { return c.MaxAttempts == 0 }

// Delay 第 attempt 次失败后的等待时长
func (c Config) Delay(attempt int) time.Duration {
	factor := c.BackoffFactor
	if factor <= 0 {
		factor = 1
	}
	delay := time.Duration(float64(c.InitialDelay) * math.Pow(factor, float64(attempt-1)))
	if c.MaxDelay > 0 && delay > c.MaxDelay {
		delay = c.MaxDelay
	}
	return delay
}

// Do 执行操作直到成功、次数用尽、错误不可重试或上下文取消。
// 返回最后一次的错误。
//
//	err := retry.Do(ctx, func(ctx context.Context, _ int) error {
//	    return bus.Publish(ctx, msg)
//	}, retry.DefaultConfig())
func Do(ctx context.Context, op Operation, cfg Config) error {
	attempts := max(cfg.MaxAttempts, 1)
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = op(ctx, attempt)
		if lastErr == nil {
			return nil
		}
		if cfg.Retryable != nil && !cfg.Retryable(lastErr) {
			return lastErr
		}
		if attempt == attempts {
			break
		}
		timer := time.NewTimer(cfg.Delay(attempt))
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
	return lastErr
}
