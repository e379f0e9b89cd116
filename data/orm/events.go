package orm

import (
	"context"
	"slices"

	"gorecord/logging"
	"gorecord/messaging"
	"gorecord/patterns/retry"
)

// 模型生命周期事件
const (
	EventInit   = "init"
	EventCreate = "create"
	EventUpdate = "update"
	EventUnlink = "unlink"
)

// Event 生命周期事件；init 事件不带记录
type Event struct {
	Name   string
	Model  string
	Record *Record
}

// Listener 同步监听器，返回错误会中断触发它的操作
type Listener func(ctx context.Context, e Event) error

// On 注册监听器。监听器在模型重新注册后仍然保留。
func (m *Model) On(event string, l Listener) {
	if l == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners[event] = append(m.listeners[event], l)
}

func (m *Model) listenerSnapshot() map[string][]Listener {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string][]Listener, len(m.listeners))
	for name, ls := range m.listeners {
		out[name] = slices.Clone(ls)
	}
	return out
}

// emit 先依次调用监听器，全部成功后发布到消息总线
func (m *Model) emit(ctx context.Context, name string, rec *Record) error {
	m.mu.Lock()
	ls := slices.Clone(m.listeners[name])
	m.mu.Unlock()

	e := Event{Name: name, Model: m.name, Record: rec}
	for _, l := range ls {
		if err := l(ctx, e); err != nil {
			return err
		}
	}
	m.repo.publish(ctx, e)
	return nil
}

// EventType 事件在消息总线上的类型：orm.<model>.<event>
func EventType(model, event string) string {
	return "orm." + model + "." + event
}

// publish 事务内进入发件箱，提交后统一发布；发布失败只记录日志
func (r *Repository) publish(ctx context.Context, e Event) {
	if r.bus == nil || e.Name == EventInit {
		return
	}
	payload := map[string]any{
		"model": e.Model,
		"event": e.Name,
	}
	if e.Record != nil {
		payload["id"] = e.Record.ID()
		payload["record"] = e.Record.ToJSON()
	}
	msg := messaging.NewMessage(EventType(e.Model, e.Name), payload)

	if r.outer != nil {
		r.txMu.Lock()
		r.outbox = append(r.outbox, msg)
		r.txMu.Unlock()
		return
	}
	r.deliver(ctx, []messaging.IMessage{msg})
}

// deliver 按 PublishRetry 重试整批发布，最终失败只记录日志
func (r *Repository) deliver(ctx context.Context, msgs []messaging.IMessage) {
	err := retry.Do(ctx, func(ctx context.Context, attempt int) error {
		if attempt > 1 {
			r.baseLogger.Debug(ctx, "retrying event publish", logging.Int("attempt", attempt))
		}
		if len(msgs) == 1 {
			return r.bus.Publish(ctx, msgs[0])
		}
		return r.bus.PublishAll(ctx, msgs)
	}, r.cfg.PublishRetry)
	if err != nil {
		r.baseLogger.Warn(ctx, "event publish failed",
			logging.String("type", msgs[0].GetType()),
			logging.Int("messages", len(msgs)),
			logging.Error(err))
	}
}

// contextMetadata 把日志上下文字段带到消息元数据
func contextMetadata(ctx context.Context) map[string]any {
	fields := logging.FieldsFromContext(ctx)
	if len(fields) == 0 {
		return nil
	}
	out := make(map[string]any, len(fields))
	for _, f := range fields {
		out[f.Key] = f.Value
	}
	return out
}
