package sql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strings"
)

type assignment struct {
	column string // 为空时 expr 为原始 SET 片段
	expr   string
	args   []any
}

type updateBuilder struct {
	target

	table string
	sets  []assignment
	where conditions
}

func (b *updateBuilder) Set(col string, val any) IUpdateBuilder {
	if col != "" {
		b.sets = append(b.sets, assignment{column: col, args: []any{val}})
	}
	return b
}

func (b *updateBuilder) SetMap(values map[string]any) IUpdateBuilder {
	cols := make([]string, 0, len(values))
	for col := range values {
		cols = append(cols, col)
	}
	slices.Sort(cols)
	for _, col := range cols {
		b.Set(col, values[col])
	}
	return b
}

func (b *updateBuilder) SetExpr(expr string, args ...any) IUpdateBuilder {
	if expr != "" {
		b.sets = append(b.sets, assignment{expr: expr, args: args})
	}
	return b
}

func (b *updateBuilder) Where(cond string, args ...any) IUpdateBuilder {
	b.where.and(cond, args...)
	return b
}

func (b *updateBuilder) Build() (string, []any, error) {
	if len(b.sets) == 0 {
		return "", nil, errors.New("update: nothing to set")
	}
	if err := CheckIdentifier("table", b.table); err != nil {
		return "", nil, fmt.Errorf("update: %w", err)
	}

	var sb strings.Builder
	sb.WriteString("UPDATE ")
	sb.WriteString(b.dialect.QuoteIdentifier(b.table))
	sb.WriteString(" SET ")

	args := make([]any, 0, len(b.sets)+len(b.where.args))
	for i, a := range b.sets {
		if i > 0 {
			sb.WriteString(", ")
		}
		if a.column == "" {
			sb.WriteString(a.expr)
		} else {
			if err := CheckIdentifier("column", a.column); err != nil {
				return "", nil, fmt.Errorf("update: %w", err)
			}
			sb.WriteString(b.dialect.QuoteIdentifier(a.column))
			sb.WriteString(" = ?")
		}
		args = append(args, a.args...)
	}
	args = b.where.write(&sb, args)
	return sb.String(), args, nil
}

func (b *updateBuilder) Exec(ctx context.Context) (sql.Result, error) {
	return b.exec(ctx, b.Build)
}

func (b *updateBuilder) Affected(ctx context.Context) (int64, error) {
	return affected(ctx, b)
}
