package sql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

type deleteBuilder struct {
	target

	table string
	where conditions
	limit int
}

func (b *deleteBuilder) Where(cond string, args ...any) IDeleteBuilder {
	b.where.and(cond, args...)
	return b
}

// Limit 仅在方言支持 DELETE ... LIMIT 时生效
func (b *deleteBuilder) Limit(n int) IDeleteBuilder {
	b.limit = n
	return b
}

func (b *deleteBuilder) Build() (string, []any, error) {
	if err := CheckIdentifier("table", b.table); err != nil {
		return "", nil, fmt.Errorf("delete: %w", err)
	}
	var sb strings.Builder
	sb.WriteString("DELETE FROM ")
	sb.WriteString(b.dialect.QuoteIdentifier(b.table))
	args := b.where.write(&sb, nil)
	if b.limit > 0 && b.dialect.SupportsDeleteLimit() {
		sb.WriteString(" LIMIT ?")
		args = append(args, b.limit)
	}
	return sb.String(), args, nil
}

func (b *deleteBuilder) Exec(ctx context.Context) (sql.Result, error) {
	return b.exec(ctx, b.Build)
}

func (b *deleteBuilder) Affected(ctx context.Context) (int64, error) {
	return affected(ctx, b)
}
