// Package orm 实现活动记录对象层：模型注册与继承解析、记录生命周期与脏跟踪、
// 作用域组合以及查询结果包装。
package orm

import "context"

// Field 描述一个模式属性或关系，负责值在存储形态与内存形态之间的转换，
// 并承载字段级生命周期钩子。
//
// 同一阶段内，一条记录的全部字段钩子并发执行，钩子之间不得有顺序依赖。
type Field interface {
	Name() string
	Column() string
	Type() FieldType
	Def() FieldDef
	Model() *Model

	// IsStored 是否参与写入负载
	IsStored() bool
	IsPrimary() bool
	IsDiscriminator() bool
	IsRelation() bool

	// Deserialize 存储/外部值转换为内存值，不产生副作用
	Deserialize(rec *Record, raw any) (any, error)
	// Serialize 读取记录当前值并转换为存储值；ok=false 表示不写入该列
	Serialize(rec *Record) (value any, ok bool, err error)
	// Encode 将内存值转换为存储值
	Encode(value any) (any, error)
	// Validate 在 pre 钩子之后、序列化之前执行
	Validate(ctx context.Context, rec *Record) error
	ToJSON(rec *Record) (any, bool)
	// PostAttach 模型初始化完成后调用
	PostAttach(m *Model) error

	PreCreate(ctx context.Context, rec *Record) error
	PostCreate(ctx context.Context, rec *Record) error
	PreUpdate(ctx context.Context, rec *Record) error
	PostUpdate(ctx context.Context, rec *Record) error
	PreUnlink(ctx context.Context, rec *Record) error
	PostUnlink(ctx context.Context, rec *Record) error
}
