// Package scope 将命名/默认/参数化作用域规整为统一的查询选项并按确定规则合并
package scope

import (
	"time"

	"gorecord/data/orm/criteria"
)

// Include 关联标记，(Relation, As) 唯一
type Include struct {
	Relation string
	As       string
	Include  []Include
}

// Cache 缓存指令；TTL 为 0 时使用查询默认值
type Cache struct {
	Enabled bool
	TTL     time.Duration
}

// Order 排序项
type Order struct {
	Column string
	Desc   bool
}

// Asc / Desc 排序构造
func Asc(column string) Order  { return Order{Column: column} }
func Desc(column string) Order { return Order{Column: column, Desc: true} }

// Options 作用域合并结果。指针/切片为 nil 表示未设置；
// Cache/Order/Limit/Offset/Attributes 以最后一个设置者为准。
type Options struct {
	Where      *criteria.Condition
	Include    []Include
	Cache      *Cache
	Order      []Order
	Limit      *int
	Offset     *int
	Attributes []string
}

// IntPtr 便于声明 Limit/Offset
func IntPtr(n int) *int { return &n }

// Clone 深拷贝，避免作用域定义被合并过程修改
func (o Options) Clone() Options {
	cp := Options{Where: o.Where.Clone()}
	if o.Include != nil {
		cp.Include = cloneIncludes(o.Include)
	}
	if o.Cache != nil {
		c := *o.Cache
		cp.Cache = &c
	}
	if o.Order != nil {
		cp.Order = append([]Order{}, o.Order...)
	}
	if o.Limit != nil {
		cp.Limit = IntPtr(*o.Limit)
	}
	if o.Offset != nil {
		cp.Offset = IntPtr(*o.Offset)
	}
	if o.Attributes != nil {
		cp.Attributes = append([]string{}, o.Attributes...)
	}
	return cp
}

// Merge 把 incoming 合并进 o 并返回结果，o 的 Where 可能被原地追加
func (o Options) Merge(incoming Options) Options {
	o.Where = MergeWhere(o.Where, incoming.Where)
	o.Include = MergeIncludes(o.Include, incoming.Include)
	if incoming.Cache != nil {
		o.Cache = incoming.Cache
	}
	if incoming.Order != nil {
		o.Order = incoming.Order
	}
	if incoming.Limit != nil {
		o.Limit = incoming.Limit
	}
	if incoming.Offset != nil {
		o.Offset = incoming.Offset
	}
	if incoming.Attributes != nil {
		o.Attributes = incoming.Attributes
	}
	return o
}

// MergeWhere 以 AND 累积：base 已是顶层 AND 时追加，否则包装为 AND[base, incoming]
func MergeWhere(base, incoming *criteria.Condition) *criteria.Condition {
	switch {
	case incoming.IsEmpty():
		return base
	case base.IsEmpty():
		return incoming
	case base.Op == criteria.OpAnd:
		base.Children = append(base.Children, incoming)
		return base
	default:
		return criteria.And(base, incoming)
	}
}

// MergeIncludes 拼接并按 (Relation, As) 去重，重复项的嵌套 include 递归合并
func MergeIncludes(base, incoming []Include) []Include {
	if len(incoming) == 0 {
		return base
	}
	out := base
	for _, inc := range incoming {
		idx := -1
		for i := range out {
			if out[i].Relation == inc.Relation && out[i].As == inc.As {
				idx = i
				break
			}
		}
		if idx < 0 {
			out = append(out, cloneInclude(inc))
			continue
		}
		out[idx].Include = MergeIncludes(out[idx].Include, inc.Include)
	}
	return out
}

func cloneInclude(inc Include) Include {
	cp := Include{Relation: inc.Relation, As: inc.As}
	if inc.Include != nil {
		cp.Include = cloneIncludes(inc.Include)
	}
	return cp
}

func cloneIncludes(list []Include) []Include {
	out := make([]Include, len(list))
	for i, inc := range list {
		out[i] = cloneInclude(inc)
	}
	return out
}
