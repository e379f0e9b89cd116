// Package messaging 提供消息、处理器与传输层抽象，ORM 模型事件经由此处对外发布
package messaging

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// IMessage 消息接口
type IMessage interface {
	GetID() string
	GetType() string
	GetTimestamp() time.Time
	GetPayload() any
	GetMetadata() map[string]any
}

// Message 消息基础实现
type Message struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   any            `json:"payload"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

func (m *Message) GetID() string           { return m.ID }
func (m *Message) GetType() string         { return m.Type }
func (m *Message) GetTimestamp() time.Time { return m.Timestamp }
func (m *Message) GetPayload() any         { return m.Payload }

// GetMetadata 获取元数据，惰性初始化
func (m *Message) GetMetadata() map[string]any {
	if m.Metadata == nil {
		m.Metadata = make(map[string]any)
	}
	return m.Metadata
}

// SetMetadata 设置元数据
func (m *Message) SetMetadata(key string, value any) {
	m.GetMetadata()[key] = value
}

// NewMessage 创建新消息，ID 为随机 UUID
func NewMessage(messageType string, payload any) *Message {
	return &Message{
		ID:        uuid.NewString(),
		Type:      messageType,
		Timestamp: time.Now(),
		Payload:   payload,
		Metadata:  make(map[string]any),
	}
}

type wireMessage struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
	Metadata  map[string]any  `json:"metadata"`
}

// Encode 将消息编码为 JSON，时间戳以纳秒整数传输
func Encode(msg IMessage) ([]byte, error) {
	payload, err := json.Marshal(msg.GetPayload())
	if err != nil {
		return nil, err
	}
	ts := msg.GetTimestamp()
	if ts.IsZero() {
		ts = time.Now()
	}
	metadata := msg.GetMetadata()
	if metadata == nil {
		metadata = make(map[string]any)
	}
	return json.Marshal(wireMessage{
		ID:        msg.GetID(),
		Type:      msg.GetType(),
		Timestamp: ts.UnixNano(),
		Payload:   payload,
		Metadata:  metadata,
	})
}

// Decode 解码 Encode 产生的数据；JSON 数字解码为 float64
func Decode(data []byte) (*Message, error) {
	var wire wireMessage
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, err
	}
	var payload any
	if len(wire.Payload) > 0 {
		if err := json.Unmarshal(wire.Payload, &payload); err != nil {
			return nil, err
		}
	}
	if wire.Metadata == nil {
		wire.Metadata = make(map[string]any)
	}
	return &Message{
		ID:        wire.ID,
		Type:      wire.Type,
		Timestamp: time.Unix(0, wire.Timestamp),
		Payload:   payload,
		Metadata:  wire.Metadata,
	}, nil
}
