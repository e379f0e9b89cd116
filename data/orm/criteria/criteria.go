// Package criteria 描述查询谓词树，并按方言编译为 SQL 片段
package criteria

import (
	"fmt"
	"sort"
	"strings"
)

// Op 谓词操作符
type Op string

const (
	OpEq         Op = "="
	OpNe         Op = "<>"
	OpGt         Op = ">"
	OpGte        Op = ">="
	OpLt         Op = "<"
	OpLte        Op = "<="
	OpIn         Op = "IN"
	OpNotIn      Op = "NOT IN"
	OpBetween    Op = "BETWEEN"
	OpNotBetween Op = "NOT BETWEEN"
	OpLike       Op = "LIKE"
	OpNotLike    Op = "NOT LIKE"
	OpILike      Op = "ILIKE"
	OpNotILike   Op = "NOT ILIKE"
	OpIsNull     Op = "IS NULL"
	OpNotNull    Op = "IS NOT NULL"
	OpAnd        Op = "AND"
	OpOr         Op = "OR"
	OpNot        Op = "NOT"
	OpRaw        Op = "RAW"
)

// Condition 谓词树节点。叶子节点使用 Field/Value(s)，逻辑节点使用 Children，
// Raw 节点以 SQL 字段保存原样片段。
type Condition struct {
	Op       Op
	Field    string
	Value    any
	Values   []any
	SQL      string
	Children []*Condition
}

func leaf(op Op, field string, value any) *Condition {
	return &Condition{Op: op, Field: field, Value: value}
}

func Eq(field string, value any) *Condition  { return leaf(OpEq, field, value) }
func Ne(field string, value any) *Condition  { return leaf(OpNe, field, value) }
func Gt(field string, value any) *Condition  { return leaf(OpGt, field, value) }
func Gte(field string, value any) *Condition { return leaf(OpGte, field, value) }
func Lt(field string, value any) *Condition  { return leaf(OpLt, field, value) }
func Lte(field string, value any) *Condition { return leaf(OpLte, field, value) }

func Like(field, pattern string) *Condition     { return leaf(OpLike, field, pattern) }
func NotLike(field, pattern string) *Condition  { return leaf(OpNotLike, field, pattern) }
func ILike(field, pattern string) *Condition    { return leaf(OpILike, field, pattern) }
func NotILike(field, pattern string) *Condition { return leaf(OpNotILike, field, pattern) }

func IsNull(field string) *Condition  { return &Condition{Op: OpIsNull, Field: field} }
func NotNull(field string) *Condition { return &Condition{Op: OpNotNull, Field: field} }

// In 集合成员；切片参数会被展开
func In(field string, values ...any) *Condition {
	return &Condition{Op: OpIn, Field: field, Values: flatten(values)}
}

func NotIn(field string, values ...any) *Condition {
	return &Condition{Op: OpNotIn, Field: field, Values: flatten(values)}
}

// Between 闭区间
func Between(field string, low, high any) *Condition {
	return &Condition{Op: OpBetween, Field: field, Values: []any{low, high}}
}

// NotBetween 区间外（不含端点）
func NotBetween(field string, low, high any) *Condition {
	return &Condition{Op: OpNotBetween, Field: field, Values: []any{low, high}}
}

// Raw 原样 SQL 片段，占位符使用 ?
func Raw(sql string, args ...any) *Condition {
	return &Condition{Op: OpRaw, SQL: sql, Values: args}
}

// And 忽略 nil 子节点
func And(children ...*Condition) *Condition {
	return &Condition{Op: OpAnd, Children: compact(children)}
}

func Or(children ...*Condition) *Condition {
	return &Condition{Op: OpOr, Children: compact(children)}
}

func Not(child *Condition) *Condition {
	return &Condition{Op: OpNot, Children: compact([]*Condition{child})}
}

// Match 将字段到值的映射转换为按键名排序的等值 AND
func Match(values map[string]any) *Condition {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	children := make([]*Condition, 0, len(keys))
	for _, k := range keys {
		children = append(children, Eq(k, values[k]))
	}
	return And(children...)
}

// IsEmpty 空 AND 或 nil 视为无条件
func (c *Condition) IsEmpty() bool {
	if c == nil {
		return true
	}
	return c.Op == OpAnd && len(c.Children) == 0
}

// Clone 深拷贝节点结构（值本身不复制）
func (c *Condition) Clone() *Condition {
	if c == nil {
		return nil
	}
	cp := *c
	if c.Values != nil {
		cp.Values = append([]any(nil), c.Values...)
	}
	if c.Children != nil {
		cp.Children = make([]*Condition, len(c.Children))
		for i, ch := range c.Children {
			cp.Children[i] = ch.Clone()
		}
	}
	return &cp
}

// Fields 返回树中引用的全部字段名（按出现顺序去重）
func (c *Condition) Fields() []string {
	var out []string
	seen := map[string]bool{}
	var walk func(*Condition)
	walk = func(n *Condition) {
		if n == nil {
			return
		}
		if n.Field != "" && !seen[n.Field] {
			seen[n.Field] = true
			out = append(out, n.Field)
		}
		for _, ch := range n.Children {
			walk(ch)
		}
	}
	walk(c)
	return out
}

// String 便于调试的非 SQL 表示
func (c *Condition) String() string {
	if c == nil {
		return "<nil>"
	}
	switch c.Op {
	case OpAnd, OpOr:
		parts := make([]string, len(c.Children))
		for i, ch := range c.Children {
			parts[i] = ch.String()
		}
		return "(" + strings.Join(parts, " "+string(c.Op)+" ") + ")"
	case OpNot:
		if len(c.Children) == 0 {
			return "NOT ()"
		}
		return "NOT " + c.Children[0].String()
	case OpRaw:
		return fmt.Sprintf("%s %v", c.SQL, c.Values)
	case OpIsNull, OpNotNull:
		return c.Field + " " + string(c.Op)
	case OpIn, OpNotIn, OpBetween, OpNotBetween:
		return fmt.Sprintf("%s %s %v", c.Field, c.Op, c.Values)
	default:
		return fmt.Sprintf("%s %s %v", c.Field, c.Op, c.Value)
	}
}

func compact(children []*Condition) []*Condition {
	out := make([]*Condition, 0, len(children))
	for _, ch := range children {
		if ch != nil {
			out = append(out, ch)
		}
	}
	return out
}

func flatten(values []any) []any {
	out := make([]any, 0, len(values))
	for _, v := range values {
		switch vs := v.(type) {
		case []any:
			out = append(out, vs...)
		case []string:
			for _, s := range vs {
				out = append(out, s)
			}
		case []int:
			for _, n := range vs {
				out = append(out, n)
			}
		case []int64:
			for _, n := range vs {
				out = append(out, n)
			}
		default:
			out = append(out, v)
		}
	}
	return out
}
