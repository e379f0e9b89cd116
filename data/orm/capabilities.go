package orm

import (
	"slices"
	"strings"

	"gorecord/storage/database/dialect"
)

// Capability 仓储按配置与方言启用的可选能力
type Capability string

const (
	// CapabilityReturning INSERT ... RETURNING 取回主键
	CapabilityReturning Capability = "returning"
	// CapabilityCache 配置了缓存存储
	CapabilityCache Capability = "cache"
	// CapabilityEvents 配置了消息传输，模型事件会被发布
	CapabilityEvents Capability = "events"
	// CapabilityTransaction 支持 Repository.Transaction
	CapabilityTransaction Capability = "transaction"
)

// Capabilities 能力集合
type Capabilities map[Capability]bool

func (c Capabilities) Supports(cap Capability) bool { return c[cap] }

// List 按名称排序的已启用能力
func (c Capabilities) List() []Capability {
	out := make([]Capability, 0, len(c))
	for cap, on := range c {
		if on {
			out = append(out, cap)
		}
	}
	slices.Sort(out)
	return out
}

func (c Capabilities) String() string {
	names := make([]string, 0, len(c))
	for _, cap := range c.List() {
		names = append(names, string(cap))
	}
	return strings.Join(names, ",")
}

func NewCapabilities(caps ...Capability) Capabilities {
	set := make(Capabilities, len(caps))
	for _, cap := range caps {
		set[cap] = true
	}
	return set
}

// detectCapabilities 事务总是可用，其余取决于方言与是否配置了缓存、传输
func detectCapabilities(cfg Config, d dialect.Dialect) Capabilities {
	caps := NewCapabilities(CapabilityTransaction)
	caps[CapabilityReturning] = d.SupportsReturning()
	caps[CapabilityCache] = cfg.Cache != nil
	caps[CapabilityEvents] = cfg.Transport != nil
	return caps
}
