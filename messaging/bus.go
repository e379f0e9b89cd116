package messaging

import (
	"context"
	"fmt"
	"sync"
)

// IMiddleware 发布侧中间件，调用 next 继续链路，不调用即丢弃消息
type IMiddleware interface {
	Handle(ctx context.Context, message IMessage, next HandlerFunc) error
	Name() string
}

// MessageBus 在 Publisher 之上叠加发布侧中间件。
// 中间件按注册顺序执行，最后交给底层传输。
type MessageBus struct {
	publisher Publisher

	mu          sync.RWMutex
	middlewares []IMiddleware
}

// NewMessageBus 创建消息总线
func NewMessageBus(publisher Publisher) *MessageBus {
	return &MessageBus{publisher: publisher}
}

// Use 追加中间件，nil 被忽略
func (bus *MessageBus) Use(middlewares ...IMiddleware) {
	bus.mu.Lock()
	defer bus.mu.Unlock()
	for _, mw := range middlewares {
		if mw != nil {
			bus.middlewares = append(bus.middlewares, mw)
		}
	}
}

// Middlewares 已注册中间件的名字
func (bus *MessageBus) Middlewares() []string {
	bus.mu.RLock()
	defer bus.mu.RUnlock()
	names := make([]string, len(bus.middlewares))
	for i, mw := range bus.middlewares {
		names[i] = mw.Name()
	}
	return names
}

// Publish 经过中间件后交给传输层
func (bus *MessageBus) Publish(ctx context.Context, message IMessage) error {
	return bus.chain(bus.publisher.Publish)(ctx, message)
}

// PublishAll 每条消息分别经过中间件，通过的消息一次性批量发布
func (bus *MessageBus) PublishAll(ctx context.Context, messages []IMessage) error {
	if len(messages) == 0 {
		return nil
	}
	batch := make([]IMessage, 0, len(messages))
	collect := bus.chain(func(_ context.Context, msg IMessage) error {
		batch = append(batch, msg)
		return nil
	})
	for _, message := range messages {
		if err := collect(ctx, message); err != nil {
			return fmt.Errorf("publish message %s: %w", message.GetID(), err)
		}
	}
	if len(batch) == 0 {
		return nil
	}
	if err := bus.publisher.PublishAll(ctx, batch); err != nil {
		return fmt.Errorf("publish batch of %d messages: %w", len(batch), err)
	}
	return nil
}

func (bus *MessageBus) chain(final HandlerFunc) HandlerFunc {
	bus.mu.RLock()
	middlewares := bus.middlewares
	bus.mu.RUnlock()

	next := final
	for i := len(middlewares) - 1; i >= 0; i-- {
		mw, inner := middlewares[i], next
		next = func(ctx context.Context, msg IMessage) error {
			return mw.Handle(ctx, msg, inner)
		}
	}
	return next
}

// MiddlewareFunc 函数式中间件
type MiddlewareFunc struct {
	Label string
	Fn    func(ctx context.Context, message IMessage, next HandlerFunc) error
}

func (m MiddlewareFunc) Handle(ctx context.Context, message IMessage, next HandlerFunc) error {
	return m.Fn(ctx, message, next)
}

func (m MiddlewareFunc) Name() string { return m.Label }

// MetadataMiddleware 发布前把 extract 返回的键值写入消息元数据，已有键不覆盖
func MetadataMiddleware(extract func(ctx context.Context) map[string]any) IMiddleware {
	return MiddlewareFunc{
		Label: "metadata",
		Fn: func(ctx context.Context, message IMessage, next HandlerFunc) error {
			if extract == nil {
				return next(ctx, message)
			}
			meta := message.GetMetadata()
			if meta == nil {
				return next(ctx, message)
			}
			for k, v := range extract(ctx) {
				if _, exists := meta[k]; !exists {
					meta[k] = v
				}
			}
			return next(ctx, message)
		},
	}
}
