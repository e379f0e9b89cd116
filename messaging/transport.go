package messaging

import "context"

// WildcardType 订阅该类型的处理器接收全部消息
const WildcardType = "*"

// Publisher 发布侧能力，MessageBus 只依赖它
type Publisher interface {
	Publish(ctx context.Context, message IMessage) error
	// PublishAll 按顺序发布，遇到第一个错误即返回
	PublishAll(ctx context.Context, messages []IMessage) error
}

// Subscriber 订阅侧能力
type Subscriber interface {
	Subscribe(messageType string, handler IMessageHandler) error
	Unsubscribe(messageType string, handler IMessageHandler) error
}

// Transport 完整的消息传输：发布、订阅与生命周期
type Transport interface {
	Publisher
	Subscriber
	Start(ctx context.Context) error
	Close() error
}

// StatsProvider 可选实现，报告传输层运行状况
type StatsProvider interface {
	Stats() TransportStats
}

// TransportStats 传输层统计信息
type TransportStats struct {
	Running      bool     `json:"running"`
	HandlerCount int      `json:"handler_count"`
	MessageTypes []string `json:"message_types"`
}
