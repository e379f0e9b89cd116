package sql

import (
	"context"
	"strings"

	core "gorecord/storage/database"
	"gorecord/storage/database/dialect"
)

type joinClause struct {
	kind  string
	table string
	on    string
	args  []any
}

type selectBuilder struct {
	target

	cols     []string
	distinct bool
	table    string
	joins    []joinClause
	where    conditions
	groupBy  []string
	orderBy  []string
	limit    int
	offset   int
}

func (b *selectBuilder) From(table string) ISelectBuilder {
	b.table = table
	return b
}

func (b *selectBuilder) Distinct() ISelectBuilder {
	b.distinct = true
	return b
}

func (b *selectBuilder) Join(kind, table, on string, args ...any) ISelectBuilder {
	if table == "" {
		return b
	}
	kind = strings.ToUpper(strings.TrimSpace(kind))
	if kind == "" {
		kind = "INNER"
	}
	b.joins = append(b.joins, joinClause{kind: kind, table: table, on: on, args: args})
	return b
}

func (b *selectBuilder) Where(cond string, args ...any) ISelectBuilder {
	b.where.and(cond, args...)
	return b
}

func (b *selectBuilder) And(cond string, args ...any) ISelectBuilder {
	return b.Where(cond, args...)
}

func (b *selectBuilder) Or(cond string, args ...any) ISelectBuilder {
	b.where.or(cond, args...)
	return b
}

func (b *selectBuilder) GroupBy(cols ...string) ISelectBuilder {
	if len(cols) > 0 {
		b.groupBy = append(b.groupBy, cols...)
	}
	return b
}

func (b *selectBuilder) OrderBy(exprs ...string) ISelectBuilder {
	for _, expr := range exprs {
		if expr != "" {
			b.orderBy = append(b.orderBy, expr)
		}
	}
	return b
}

func (b *selectBuilder) Limit(n int) ISelectBuilder {
	b.limit = n
	return b
}

func (b *selectBuilder) Offset(n int) ISelectBuilder {
	b.offset = n
	return b
}

func (b *selectBuilder) Build() (string, []any) {
	var sb strings.Builder
	sb.WriteString("SELECT ")
	if b.distinct {
		sb.WriteString("DISTINCT ")
	}
	sb.WriteString(strings.Join(b.cols, ", "))
	sb.WriteString(" FROM ")
	sb.WriteString(b.table)

	// 局部 args，Build 可重复调用
	args := make([]any, 0, len(b.where.args)+2)
	for _, j := range b.joins {
		sb.WriteByte(' ')
		sb.WriteString(j.kind)
		sb.WriteString(" JOIN ")
		sb.WriteString(j.table)
		if j.on != "" {
			sb.WriteString(" ON ")
			sb.WriteString(j.on)
		}
		args = append(args, j.args...)
	}
	args = b.where.write(&sb, args)
	if len(b.groupBy) > 0 {
		sb.WriteString(" GROUP BY ")
		sb.WriteString(strings.Join(b.groupBy, ", "))
	}
	if len(b.orderBy) > 0 {
		sb.WriteString(" ORDER BY ")
		sb.WriteString(strings.Join(b.orderBy, ", "))
	}
	if b.limit > 0 {
		sb.WriteString(" LIMIT ?")
		args = append(args, b.limit)
	}
	if b.offset > 0 {
		if b.limit <= 0 {
			// SQLite/MySQL 不允许无 LIMIT 的 OFFSET
			switch b.dialect.Name() {
			case dialect.NameMySQL:
				sb.WriteString(" LIMIT 18446744073709551615")
			case dialect.NamePostgres:
			default:
				sb.WriteString(" LIMIT -1")
			}
		}
		sb.WriteString(" OFFSET ?")
		args = append(args, b.offset)
	}
	return sb.String(), args
}

func (b *selectBuilder) Query(ctx context.Context) (core.IRows, error) {
	q, args := b.Build()
	return b.db.Query(ctx, q, args...)
}

func (b *selectBuilder) QueryRow(ctx context.Context) core.IRow {
	q, args := b.Build()
	return b.db.QueryRow(ctx, q, args...)
}
