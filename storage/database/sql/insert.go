package sql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	core "gorecord/storage/database"
)

type insertBuilder struct {
	target

	table     string
	columns   []string
	rows      [][]any
	returning []string
}

func (b *insertBuilder) Columns(cols ...string) IInsertBuilder {
	b.columns = cols
	return b
}

// Values 追加一行，空参数忽略
func (b *insertBuilder) Values(vals ...any) IInsertBuilder {
	if len(vals) > 0 {
		b.rows = append(b.rows, vals)
	}
	return b
}

func (b *insertBuilder) Returning(cols ...string) IInsertBuilder {
	b.returning = append(b.returning, cols...)
	return b
}

// returns RETURNING 是否会出现在语句中
func (b *insertBuilder) returns() bool {
	return len(b.returning) > 0 && b.dialect.SupportsReturning()
}

func (b *insertBuilder) Build() (string, []any, error) {
	if err := CheckIdentifier("table", b.table); err != nil {
		return "", nil, fmt.Errorf("insert: %w", err)
	}

	var sb strings.Builder
	sb.WriteString("INSERT INTO ")
	sb.WriteString(b.dialect.QuoteIdentifier(b.table))

	var args []any
	if len(b.columns) == 0 {
		sb.WriteString(" DEFAULT VALUES")
	} else {
		var err error
		if args, err = b.writeValues(&sb); err != nil {
			return "", nil, fmt.Errorf("insert into %s: %w", b.table, err)
		}
	}

	if b.returns() {
		cols, err := quoteColumns(b.dialect, "returning column", b.returning)
		if err != nil {
			return "", nil, fmt.Errorf("insert: %w", err)
		}
		sb.WriteString(" RETURNING ")
		sb.WriteString(strings.Join(cols, ", "))
	}
	return sb.String(), args, nil
}

// writeValues 写入 " (cols) VALUES (...), (...)"，每行的值个数必须与列数一致
func (b *insertBuilder) writeValues(sb *strings.Builder) ([]any, error) {
	if len(b.rows) == 0 {
		return nil, errors.New("no rows to insert")
	}
	cols, err := quoteColumns(b.dialect, "column", b.columns)
	if err != nil {
		return nil, err
	}
	sb.WriteString(" (")
	sb.WriteString(strings.Join(cols, ", "))
	sb.WriteString(") VALUES ")

	tuple := "(?" + strings.Repeat(", ?", len(cols)-1) + ")"
	args := make([]any, 0, len(b.rows)*len(cols))
	for i, row := range b.rows {
		if len(row) != len(cols) {
			return nil, fmt.Errorf("row %d has %d values for %d columns", i+1, len(row), len(cols))
		}
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(tuple)
		args = append(args, row...)
	}
	return args, nil
}

func (b *insertBuilder) Exec(ctx context.Context) (sql.Result, error) {
	return b.exec(ctx, b.Build)
}

// QueryRow 执行带 RETURNING 的插入；方言不支持时返回错误，调用方改用 Exec
func (b *insertBuilder) QueryRow(ctx context.Context) (core.IRow, error) {
	if !b.returns() {
		return nil, fmt.Errorf("insert: RETURNING is not available for dialect %q", b.dialect.Name())
	}
	q, args, err := b.Build()
	if err != nil {
		return nil, err
	}
	return b.db.QueryRow(ctx, q, args...), nil
}
