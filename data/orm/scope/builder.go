package scope

import (
	"sort"

	"gorecord/data/orm/criteria"
	"gorecord/errors"
)

// Query 作用域函数可直接修改的在途查询
type Query interface {
	ModelName() string
	AddWhere(cond *criteria.Condition)
	AddJoin(kind, table, on string, args ...any)
	AddOrder(column string, desc bool)
}

// Func 参数化作用域。返回 nil 选项表示已直接修改查询，不再贡献选项。
type Func func(q Query, args ...any) (*Options, error)

// Definition 静态选项或参数化函数，二选一
type Definition struct {
	Static *Options
	Fn     Func
}

// Static 以固定选项定义作用域
func Static(o Options) Definition { return Definition{Static: &o} }

// Dynamic 以函数定义作用域
func Dynamic(fn Func) Definition { return Definition{Fn: fn} }

// Request 调用方请求的一个作用域（可带参数）
type Request struct {
	Name string
	Args []any
}

// Named 构造作用域请求
func Named(name string, args ...any) Request {
	return Request{Name: name, Args: args}
}

// Builder 单个模型的作用域注册表
type Builder struct {
	model        string
	scopes       map[string]Definition
	defaultScope *Definition
}

// NewBuilder 创建作用域构建器；scopes 会被复制
func NewBuilder(model string, scopes map[string]Definition, defaultScope *Definition) *Builder {
	copied := make(map[string]Definition, len(scopes))
	for name, def := range scopes {
		copied[name] = def
	}
	return &Builder{model: model, scopes: copied, defaultScope: defaultScope}
}

// HasScope 是否定义了指定名称的作用域
func (b *Builder) HasScope(name string) bool {
	_, ok := b.scopes[name]
	return ok
}

// HasDefault 是否定义了默认作用域
func (b *Builder) HasDefault() bool {
	return b.defaultScope != nil
}

// ScopeNames 按名称排序
func (b *Builder) ScopeNames() []string {
	names := make([]string, 0, len(b.scopes))
	for name := range b.scopes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ApplyScopes 先合并默认作用域（如请求且已定义），再按调用方顺序合并各请求
func (b *Builder) ApplyScopes(q Query, requests []Request, includeDefault bool) (Options, error) {
	var acc Options

	if includeDefault && b.defaultScope != nil {
		opts, err := b.normalize(q, "default", *b.defaultScope, nil)
		if err != nil {
			return Options{}, err
		}
		acc = acc.Merge(opts)
	}

	for _, req := range requests {
		def, ok := b.scopes[req.Name]
		if !ok {
			return Options{}, errors.Newf(errors.ErrCodeScope,
				"scope %q is not defined on model %q", req.Name, b.model).
				With("scope", req.Name).
				With("model", b.model)
		}
		opts, err := b.normalize(q, req.Name, def, req.Args)
		if err != nil {
			return Options{}, err
		}
		acc = acc.Merge(opts)
	}
	return acc, nil
}

func (b *Builder) normalize(q Query, name string, def Definition, args []any) (Options, error) {
	switch {
	case def.Fn != nil:
		opts, err := def.Fn(q, args...)
		if err != nil {
			return Options{}, errors.WrapError(err, errors.ErrCodeScope,
				"scope "+name+" on model "+b.model+" failed")
		}
		if opts == nil {
			return Options{}, nil
		}
		return opts.Clone(), nil
	case def.Static != nil:
		return def.Static.Clone(), nil
	default:
		return Options{}, nil
	}
}
