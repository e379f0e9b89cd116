// Package sync 提供同步的进程内消息传输实现
package sync

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"gorecord/messaging"
)

var (
	_ messaging.Transport     = (*SyncTransport)(nil)
	_ messaging.StatsProvider = (*SyncTransport)(nil)
)

// ErrNotRunning 未 Start 或已 Close
var ErrNotRunning = errors.New("sync transport is not running")

// SyncTransport 在发布者的 goroutine 中依次调用匹配的处理器，
// 精确类型的处理器先于通配处理器执行。处理器 panic 被转换为错误。
type SyncTransport struct {
	mu       sync.RWMutex
	handlers map[string][]messaging.IMessageHandler
	running  bool
}

func NewSyncTransport() *SyncTransport {
	return &SyncTransport{handlers: make(map[string][]messaging.IMessageHandler)}
}

// matching 返回本次派发的处理器快照
func (t *SyncTransport) matching(messageType string) ([]messaging.IMessageHandler, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if !t.running {
		return nil, ErrNotRunning
	}
	out := slices.Clone(t.handlers[messageType])
	if messageType != messaging.WildcardType {
		out = append(out, t.handlers[messaging.WildcardType]...)
	}
	return out, nil
}

// Publish 所有处理器都会执行，错误汇总后返回
func (t *SyncTransport) Publish(ctx context.Context, message messaging.IMessage) error {
	handlers, err := t.matching(message.GetType())
	if err != nil {
		return err
	}
	var errs []error
	for _, h := range handlers {
		if err := invoke(ctx, h, message); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", h.Type(), err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("message %s handled with %d errors: %w", message.GetID(), len(errs), errors.Join(errs...))
	}
	return nil
}

func invoke(ctx context.Context, h messaging.IMessageHandler, message messaging.IMessage) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h.Handle(ctx, message)
}

// PublishAll 逐条发布，遇到错误立即返回
func (t *SyncTransport) PublishAll(ctx context.Context, messages []messaging.IMessage) error {
	for _, message := range messages {
		if err := t.Publish(ctx, message); err != nil {
			return err
		}
	}
	return nil
}

func (t *SyncTransport) Subscribe(messageType string, handler messaging.IMessageHandler) error {
	if handler == nil {
		return errors.New("sync transport: nil handler")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers[messageType] = append(t.handlers[messageType], handler)
	return nil
}

func (t *SyncTransport) Unsubscribe(messageType string, handler messaging.IMessageHandler) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	handlers := t.handlers[messageType]
	i := slices.Index(handlers, handler)
	if i < 0 {
		return fmt.Errorf("handler not found for message type %s", messageType)
	}
	if handlers = slices.Delete(slices.Clone(handlers), i, i+1); len(handlers) == 0 {
		delete(t.handlers, messageType)
	} else {
		t.handlers[messageType] = handlers
	}
	return nil
}

// Start 幂等
func (t *SyncTransport) Start(context.Context) error {
	t.mu.Lock()
	t.running = true
	t.mu.Unlock()
	return nil
}

// Close 幂等，保留已注册的处理器
func (t *SyncTransport) Close() error {
	t.mu.Lock()
	t.running = false
	t.mu.Unlock()
	return nil
}

func (t *SyncTransport) Stats() messaging.TransportStats {
	t.mu.RLock()
	defer t.mu.RUnlock()
	stats := messaging.TransportStats{Running: t.running, MessageTypes: make([]string, 0, len(t.handlers))}
	for mt, hs := range t.handlers {
		stats.MessageTypes = append(stats.MessageTypes, mt)
		stats.HandlerCount += len(hs)
	}
	slices.Sort(stats.MessageTypes)
	return stats
}
