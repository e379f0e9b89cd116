package criteria

import (
	"fmt"
	"strings"

	"gorecord/storage/database/dialect"
)

// ColumnResolver 将字段名解析为已转义的列表达式
type ColumnResolver func(field string) (string, error)

// Compiler 按方言把谓词树编译为带 ? 占位符的 SQL
type Compiler struct {
	Dialect dialect.Dialect
	Resolve ColumnResolver
}

// QuoteResolver 默认解析器：字段名即列名，按方言转义
func QuoteResolver(d dialect.Dialect) ColumnResolver {
	return func(field string) (string, error) {
		if field == "" {
			return "", fmt.Errorf("criteria: empty field name")
		}
		return d.QuoteIdentifier(field), nil
	}
}

// Compile 空条件返回空字符串
func (c Compiler) Compile(cond *Condition) (string, []any, error) {
	if cond.IsEmpty() {
		return "", nil, nil
	}
	resolve := c.Resolve
	if resolve == nil {
		resolve = QuoteResolver(c.Dialect)
	}
	var args []any
	sql, err := c.compile(cond, resolve, &args)
	if err != nil {
		return "", nil, err
	}
	return sql, args, nil
}

func (c Compiler) compile(n *Condition, resolve ColumnResolver, args *[]any) (string, error) {
	switch n.Op {
	case OpAnd, OpOr:
		parts := make([]string, 0, len(n.Children))
		for _, ch := range n.Children {
			if ch.IsEmpty() {
				continue
			}
			s, err := c.compile(ch, resolve, args)
			if err != nil {
				return "", err
			}
			parts = append(parts, s)
		}
		switch {
		case len(parts) == 0 && n.Op == OpAnd:
			return "1=1", nil
		case len(parts) == 0:
			return "1=0", nil
		case len(parts) == 1:
			return parts[0], nil
		}
		return "(" + strings.Join(parts, " "+string(n.Op)+" ") + ")", nil

	case OpNot:
		if len(n.Children) == 0 {
			return "1=1", nil
		}
		s, err := c.compile(n.Children[0], resolve, args)
		if err != nil {
			return "", err
		}
		return "NOT (" + s + ")", nil

	case OpRaw:
		*args = append(*args, n.Values...)
		return "(" + n.SQL + ")", nil
	}

	col, err := resolve(n.Field)
	if err != nil {
		return "", err
	}

	switch n.Op {
	case OpEq, OpNe:
		if n.Value == nil {
			if n.Op == OpEq {
				return col + " IS NULL", nil
			}
			return col + " IS NOT NULL", nil
		}
		*args = append(*args, n.Value)
		return col + " " + string(n.Op) + " ?", nil

	case OpGt, OpGte, OpLt, OpLte, OpLike, OpNotLike:
		*args = append(*args, n.Value)
		return col + " " + string(n.Op) + " ?", nil

	case OpILike, OpNotILike:
		*args = append(*args, n.Value)
		return c.Dialect.CaseInsensitiveLike(col, n.Op == OpNotILike), nil

	case OpIsNull, OpNotNull:
		return col + " " + string(n.Op), nil

	case OpIn, OpNotIn:
		if len(n.Values) == 0 {
			// 空集合：IN 恒假，NOT IN 恒真
			if n.Op == OpIn {
				return "1=0", nil
			}
			return "1=1", nil
		}
		*args = append(*args, n.Values...)
		placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(n.Values)), ", ")
		return col + " " + string(n.Op) + " (" + placeholders + ")", nil

	case OpBetween, OpNotBetween:
		if len(n.Values) != 2 {
			return "", fmt.Errorf("criteria: %s on %q needs exactly two bounds", n.Op, n.Field)
		}
		*args = append(*args, n.Values[0], n.Values[1])
		return col + " " + string(n.Op) + " ? AND ?", nil
	}

	return "", fmt.Errorf("criteria: unsupported operator %q", n.Op)
}
