// Package natsjetstream 把模型事件投递到 NATS JetStream。
//
// 主题为 SubjectPrefix + 事件类型（如 events.orm.task.create），
// 每个事件类型对应一个持久化队列消费者，多个进程共享消费。
package natsjetstream

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"gorecord/logging"
	"gorecord/messaging"
)

// HeaderType 携带事件类型的消息头，解码时优先于消息体内的类型
const HeaderType = "Gorecord-Type"

// ErrNotRunning 未 Start 或已 Close 时发布
var ErrNotRunning = errors.New("nats transport not running")

var (
	_ messaging.Transport     = (*Transport)(nil)
	_ messaging.StatsProvider = (*Transport)(nil)
)

// Config JetStream 传输配置
type Config struct {
	URL           string
	Stream        string
	SubjectPrefix string
	DurablePrefix string
	AckWait       time.Duration
	MaxAckPending int
	Logger        logging.Logger
	// Conn 外部连接，Close 时不关闭
	Conn *nats.Conn

	Retention string // workqueue|limits|interest，默认 limits
	MaxBytes  int64
	Replicas  int
}

func (c *Config) normalize() {
	if c.Stream == "" {
		c.Stream = "GORECORD"
	}
	if c.SubjectPrefix == "" {
		c.SubjectPrefix = "events."
	}
	if !strings.HasSuffix(c.SubjectPrefix, ".") {
		c.SubjectPrefix += "."
	}
	if c.DurablePrefix == "" {
		c.DurablePrefix = "gorecord-"
	}
	if c.AckWait <= 0 {
		c.AckWait = 30 * time.Second
	}
	if c.MaxAckPending <= 0 {
		c.MaxAckPending = 1024
	}
	if c.Logger == nil {
		c.Logger = logging.ComponentLogger("transport.nats")
	}
}

// streamConfig 流覆盖整个主题前缀
func (c Config) streamConfig() *nats.StreamConfig {
	sc := &nats.StreamConfig{
		Name:      c.Stream,
		Subjects:  []string{c.SubjectPrefix + ">"},
		Retention: retentionPolicy(c.Retention),
	}
	if c.MaxBytes > 0 {
		sc.MaxBytes = c.MaxBytes
	}
	if c.Replicas > 0 {
		sc.Replicas = c.Replicas
	}
	return sc
}

// jetStream 用到的 JetStream 子集，测试中替换
type jetStream interface {
	PublishMsg(m *nats.Msg, opts ...nats.PubOpt) (*nats.PubAck, error)
	StreamInfo(stream string, opts ...nats.JSOpt) (*nats.StreamInfo, error)
	AddStream(cfg *nats.StreamConfig, opts ...nats.JSOpt) (*nats.StreamInfo, error)
	QueueSubscribe(subj, queue string, cb nats.MsgHandler, opts ...nats.SubOpt) (*nats.Subscription, error)
}

// Transport JetStream 传输
type Transport struct {
	cfg      Config
	logger   logging.Logger
	conn     *nats.Conn
	js       jetStream
	ownsConn bool

	mu       sync.RWMutex
	handlers map[string][]messaging.IMessageHandler
	subs     map[string]*nats.Subscription
	running  bool
}

// NewTransport 创建传输，Start 时才连接
func NewTransport(cfg Config) *Transport {
	cfg.normalize()
	return &Transport{
		cfg:      cfg,
		logger:   cfg.Logger,
		handlers: make(map[string][]messaging.IMessageHandler),
		subs:     make(map[string]*nats.Subscription),
	}
}

// Publish 以消息 ID 作为去重键发布
func (t *Transport) Publish(ctx context.Context, message messaging.IMessage) error {
	t.mu.RLock()
	js, running := t.js, t.running
	t.mu.RUnlock()
	if !running || js == nil {
		return ErrNotRunning
	}
	out, err := t.encode(message)
	if err != nil {
		return err
	}
	if _, err := js.PublishMsg(out, nats.Context(ctx), nats.MsgId(message.GetID())); err != nil {
		return fmt.Errorf("publish %s: %w", out.Subject, err)
	}
	return nil
}

// PublishAll 逐条发布，失败时停在出错的那条
func (t *Transport) PublishAll(ctx context.Context, messages []messaging.IMessage) error {
	for i, msg := range messages {
		if err := t.Publish(ctx, msg); err != nil {
			return fmt.Errorf("message %d/%d: %w", i+1, len(messages), err)
		}
	}
	return nil
}

func (t *Transport) encode(message messaging.IMessage) (*nats.Msg, error) {
	data, err := messaging.Encode(message)
	if err != nil {
		return nil, err
	}
	out := nats.NewMsg(t.subject(message.GetType()))
	out.Data = data
	out.Header.Set(HeaderType, message.GetType())
	return out, nil
}

func (t *Transport) Subscribe(messageType string, handler messaging.IMessageHandler) error {
	if handler == nil {
		return errors.New("nil handler")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers[messageType] = append(t.handlers[messageType], handler)
	if t.running {
		return t.consumeLocked(messageType)
	}
	return nil
}

// Unsubscribe 最后一个处理器移除时排空对应的消费者
func (t *Transport) Unsubscribe(messageType string, handler messaging.IMessageHandler) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	handlers := t.handlers[messageType]
	i := slices.Index(handlers, handler)
	if i < 0 {
		return fmt.Errorf("handler not subscribed to %q", messageType)
	}
	handlers = slices.Delete(handlers, i, i+1)
	if len(handlers) > 0 {
		t.handlers[messageType] = handlers
		return nil
	}
	delete(t.handlers, messageType)
	if sub, ok := t.subs[messageType]; ok {
		delete(t.subs, messageType)
		if err := sub.Drain(); err != nil {
			t.logger.Warn(context.Background(), "drain subscription failed",
				logging.String("type", messageType), logging.Error(err))
		}
	}
	return nil
}

// Start 连接、确保流存在，并为已登记的事件类型建立消费者
func (t *Transport) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		return nil
	}
	if err := t.connectLocked(); err != nil {
		return fmt.Errorf("connect nats: %w", err)
	}
	if err := t.ensureStream(); err != nil {
		return fmt.Errorf("ensure stream %s: %w", t.cfg.Stream, err)
	}
	for mt := range t.handlers {
		if err := t.consumeLocked(mt); err != nil {
			return err
		}
	}
	t.running = true
	t.logger.Info(ctx, "nats transport started",
		logging.String("stream", t.cfg.Stream), logging.Int("consumers", len(t.subs)))
	return nil
}

func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.running = false
	var errs []error
	for mt, sub := range t.subs {
		if err := sub.Drain(); err != nil {
			errs = append(errs, fmt.Errorf("drain %s: %w", mt, err))
		}
		delete(t.subs, mt)
	}
	if t.ownsConn && t.conn != nil {
		t.conn.Close()
	}
	t.conn, t.js = nil, nil
	return errors.Join(errs...)
}

func (t *Transport) Stats() messaging.TransportStats {
	t.mu.RLock()
	defer t.mu.RUnlock()
	stats := messaging.TransportStats{Running: t.running, MessageTypes: make([]string, 0, len(t.handlers))}
	for mt, hs := range t.handlers {
		stats.HandlerCount += len(hs)
		stats.MessageTypes = append(stats.MessageTypes, mt)
	}
	sort.Strings(stats.MessageTypes)
	return stats
}

func (t *Transport) connectLocked() error {
	if t.js != nil {
		return nil
	}
	conn := t.cfg.Conn
	if conn == nil {
		url := t.cfg.URL
		if url == "" {
			url = nats.DefaultURL
		}
		c, err := nats.Connect(url, nats.Name("gorecord"))
		if err != nil {
			return err
		}
		conn = c
		t.ownsConn = true
	}
	js, err := conn.JetStream()
	if err != nil {
		if t.ownsConn {
			conn.Close()
		}
		return err
	}
	t.conn, t.js = conn, js
	return nil
}

func (t *Transport) ensureStream() error {
	_, err := t.js.StreamInfo(t.cfg.Stream)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, nats.ErrStreamNotFound), strings.Contains(err.Error(), "stream not found"):
		_, err = t.js.AddStream(t.cfg.streamConfig())
		return err
	default:
		return err
	}
}

func retentionPolicy(name string) nats.RetentionPolicy {
	switch strings.ToLower(name) {
	case "workqueue":
		return nats.WorkQueuePolicy
	case "interest":
		return nats.InterestPolicy
	default:
		return nats.LimitsPolicy
	}
}

func (t *Transport) consumeLocked(messageType string) error {
	if _, exists := t.subs[messageType]; exists {
		return nil
	}
	durable := t.durable(messageType)
	sub, err := t.js.QueueSubscribe(t.subject(messageType), durable, t.onMessage,
		nats.ManualAck(),
		nats.Durable(durable),
		nats.AckWait(t.cfg.AckWait),
		nats.MaxAckPending(t.cfg.MaxAckPending))
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", messageType, err)
	}
	t.subs[messageType] = sub
	return nil
}

// onMessage 解码失败终止投递，处理失败 Nak 等待重投
func (t *Transport) onMessage(msg *nats.Msg) {
	ctx := context.Background()
	decoded, err := t.decode(msg)
	if err != nil {
		t.logger.Warn(ctx, "decode nats message failed", logging.String("subject", msg.Subject), logging.Error(err))
		_ = msg.Term()
		return
	}
	if err := t.dispatch(ctx, decoded); err != nil {
		t.logger.Warn(ctx, "event handler failed", logging.String("type", decoded.Type), logging.Error(err))
		_ = msg.Nak()
		return
	}
	if err := msg.Ack(); err != nil {
		t.logger.Warn(ctx, "nats ack failed", logging.Error(err))
	}
}

func (t *Transport) decode(msg *nats.Msg) (*messaging.Message, error) {
	decoded, err := messaging.Decode(msg.Data)
	if err != nil {
		return nil, err
	}
	if typ := msg.Header.Get(HeaderType); typ != "" {
		decoded.Type = typ
	} else if decoded.Type == "" {
		decoded.Type = strings.TrimPrefix(msg.Subject, t.cfg.SubjectPrefix)
	}
	return decoded, nil
}

// dispatch 精确类型的处理器先于通配处理器
func (t *Transport) dispatch(ctx context.Context, message messaging.IMessage) error {
	t.mu.RLock()
	handlers := slices.Concat(t.handlers[message.GetType()], t.handlers[messaging.WildcardType])
	t.mu.RUnlock()

	var errs []error
	for _, h := range handlers {
		if err := h.Handle(ctx, message); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (t *Transport) subject(messageType string) string {
	if messageType == messaging.WildcardType {
		return t.cfg.SubjectPrefix + ">"
	}
	return t.cfg.SubjectPrefix + messageType
}

// durable 名称不能含 '.'、'*'、'>'
func (t *Transport) durable(messageType string) string {
	return t.cfg.DurablePrefix + durableReplacer.Replace(messageType)
}

var durableReplacer = strings.NewReplacer(".", "_", "*", "all", ">", "all")
