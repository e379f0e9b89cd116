package messaging

import "context"

// IMessageHandler 消息处理器接口
type IMessageHandler interface {
	Handle(ctx context.Context, message IMessage) error

	// Type 返回处理器类型（用于日志和调试）
	Type() string
}

// HandlerFunc 是中间件链中的基本执行单元
type HandlerFunc func(ctx context.Context, message IMessage) error

// FuncHandler 将函数包装为 IMessageHandler
type FuncHandler struct {
	Name string
	Fn   HandlerFunc
}

func (h *FuncHandler) Handle(ctx context.Context, message IMessage) error {
	return h.Fn(ctx, message)
}

func (h *FuncHandler) Type() string { return h.Name }
