// Package keygen 提供应用侧主键生成器（雪花 ID、UUID）
package keygen

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Generator 生成一个新的主键值
type Generator interface {
	NextKey() (any, error)
}

// GeneratorFunc 函数适配器
type GeneratorFunc func() (any, error)

func (f GeneratorFunc) NextKey() (any, error) { return f() }

// 雪花 ID 布局：41 位毫秒时间戳 | 5 位数据中心 | 5 位节点 | 12 位序列
const (
	epochMillis int64 = 1672531200000 // 2023-01-01 00:00:00 UTC

	nodeBits       = 5
	datacenterBits = 5
	sequenceBits   = 12

	maxNode       = -1 ^ (-1 << nodeBits)
	maxDatacenter = -1 ^ (-1 << datacenterBits)
	sequenceMask  = -1 ^ (-1 << sequenceBits)

	nodeShift       = sequenceBits
	datacenterShift = sequenceBits + nodeBits
	timeShift       = sequenceBits + nodeBits + datacenterBits
)

var (
	ErrNodeRange      = errors.New("keygen: node id out of range")
	ErrClockBackwards = errors.New("keygen: clock moved backwards")
)

// Snowflake 单调递增的 int64 主键生成器
type Snowflake struct {
	mu         sync.Mutex
	datacenter int64
	node       int64
	sequence   int64
	lastMillis int64
	clock      func() int64
}

// NewSnowflake 创建雪花生成器，datacenter 与 node 取值范围均为 [0, 31]
func NewSnowflake(datacenter, node int64) (*Snowflake, error) {
	if datacenter < 0 || datacenter > maxDatacenter || node < 0 || node > maxNode {
		return nil, ErrNodeRange
	}
	return &Snowflake{
		datacenter: datacenter,
		node:       node,
		lastMillis: -1,
		clock:      func() int64 { return time.Now().UnixMilli() },
	}, nil
}

// Next 生成下一个 ID；同一毫秒序列耗尽时自旋到下一毫秒
func (s *Snowflake) Next() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	if now < s.lastMillis {
		return 0, ErrClockBackwards
	}

	if now == s.lastMillis {
		s.sequence = (s.sequence + 1) & sequenceMask
		if s.sequence == 0 {
			for now <= s.lastMillis {
				now = s.clock()
			}
		}
	} else {
		s.sequence = 0
	}
	s.lastMillis = now

	return (now-epochMillis)<<timeShift |
		s.datacenter<<datacenterShift |
		s.node<<nodeShift |
		s.sequence, nil
}

// NextKey 实现 Generator
func (s *Snowflake) NextKey() (any, error) {
	return s.Next()
}

// Parts 雪花 ID 拆解结果
type Parts struct {
	Time       time.Time
	Datacenter int64
	Node       int64
	Sequence   int64
}

// Decode 拆解雪花 ID
func Decode(id int64) Parts {
	return Parts{
		Time:       time.UnixMilli((id >> timeShift) + epochMillis),
		Datacenter: (id >> datacenterShift) & maxDatacenter,
		Node:       (id >> nodeShift) & maxNode,
		Sequence:   id & sequenceMask,
	}
}

var (
	defaultOnce      sync.Once
	defaultSnowflake *Snowflake
)

// DefaultSnowflake 进程级默认生成器（datacenter=1, node=1）
func DefaultSnowflake() *Snowflake {
	defaultOnce.Do(func() {
		defaultSnowflake, _ = NewSnowflake(1, 1)
	})
	return defaultSnowflake
}

// UUID 生成 v4 UUID 字符串
type UUID struct{}

func (UUID) NextKey() (any, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return nil, err
	}
	return id.String(), nil
}
