package orm

import (
	"context"
	"time"

	"gorecord/codegen/keygen"
	"gorecord/data/orm/scope"
)

// FieldType 字段语义类型
type FieldType string

const (
	// TypePrimary 自增整数主键的简写
	TypePrimary FieldType = "primary"

	TypeString   FieldType = "string"
	TypeText     FieldType = "text"
	TypeInteger  FieldType = "integer"
	TypeFloat    FieldType = "float"
	TypeBoolean  FieldType = "boolean"
	TypeDatetime FieldType = "datetime"
	TypeJSON     FieldType = "json"
	TypeUUID     FieldType = "uuid"

	// TypeReference 取值为模型名的字符串列，继承中的类型鉴别列使用此类型
	TypeReference FieldType = "reference"

	TypeManyToOne  FieldType = "many-to-one"
	TypeOneToMany  FieldType = "one-to-many"
	TypeManyToMany FieldType = "many-to-many"
)

// DefaultDiscriminator 父模型上自动创建的鉴别列名
const DefaultDiscriminator = "_type"

// FieldHookFunc 字段级生命周期钩子
type FieldHookFunc func(ctx context.Context, rec *Record) error

// FieldHooks 字段钩子覆盖点，未设置的阶段为空操作
type FieldHooks struct {
	PreCreate  FieldHookFunc
	PostCreate FieldHookFunc
	PreUpdate  FieldHookFunc
	PostUpdate FieldHookFunc
	PreUnlink  FieldHookFunc
	PostUnlink FieldHookFunc
}

// FieldDef 声明一个字段。
//
// Column 为空时与 Name 相同；Virtual 字段只存在于内存，不参与写入。
// 关系字段：
//   - many-to-one: Model 为目标模型，列中保存目标主键；
//   - one-to-many: Model 为目标模型，ForeignKey 为目标表中指向本模型的列；
//   - many-to-many: JoinTable 中 ForeignKey 指向本模型，OtherKey 指向目标模型。
type FieldDef struct {
	Name          string
	Type          FieldType
	Column        string
	Primary       bool
	Required      bool
	Unique        bool
	Virtual       bool
	Discriminator bool
	Size          int
	Values        []string
	// Default 为固定值或 func() any
	Default   any
	Generator keygen.Generator
	// Check 约束表达式，环境变量为 value 与 record
	Check string

	Model      string
	ForeignKey string
	JoinTable  string
	OtherKey   string

	Hooks FieldHooks
}

// ColumnName 返回存储列名
func (d FieldDef) ColumnName() string {
	if d.Column != "" {
		return d.Column
	}
	return d.Name
}

// Index 索引声明，初始化时校验字段存在
type Index struct {
	Name   string
	Fields []string
	Unique bool
}

// HookFunc 模型级生命周期钩子
type HookFunc func(ctx context.Context, rec *Record) error

// Hooks 模型级钩子；多次注册（扩展、混入）时按注册顺序依次执行
type Hooks struct {
	PreCreate   HookFunc
	PostCreate  HookFunc
	PreUpdate   HookFunc
	PostUpdate  HookFunc
	PreUnlink   HookFunc
	PostUnlink  HookFunc
	PreValidate HookFunc
}

// Method 记录上的命名行为
type Method func(ctx context.Context, rec *Record, args ...any) (any, error)

// Definition 一次模型注册。同名再次注册视为扩展，按注册顺序折叠为同一个运行时模型。
type Definition struct {
	Name     string
	Table    string
	Inherits string
	Mixins   []string
	Abstract bool

	// CacheTTL > 0 时模型启用缓存
	CacheTTL time.Duration
	// InvalidateOnWrite 写入后推进模型级失效标记
	InvalidateOnWrite bool

	Fields       []FieldDef
	Indexes      []Index
	Scopes       map[string]scope.Definition
	DefaultScope *scope.Definition
	Hooks        Hooks
	Methods      map[string]Method
}

// GenerateSnowflake 进程级雪花主键生成器
func GenerateSnowflake() keygen.Generator { return keygen.DefaultSnowflake() }

// GenerateUUID v4 UUID 生成器
func GenerateUUID() keygen.Generator { return keygen.UUID{} }
