package sql

import (
	"context"
	"database/sql"
	"strings"

	core "gorecord/storage/database"
	"gorecord/storage/database/dialect"
)

// conditions WHERE 片段与参数，多段之间以 AND 连接
type conditions struct {
	exprs []string
	args  []any
}

func (c *conditions) and(cond string, args ...any) {
	if cond == "" {
		return
	}
	c.exprs = append(c.exprs, cond)
	c.args = append(c.args, args...)
}

// or 与最后一段合并为 (last OR cond)
func (c *conditions) or(cond string, args ...any) {
	if cond == "" {
		return
	}
	if len(c.exprs) == 0 {
		c.and(cond, args...)
		return
	}
	last := len(c.exprs) - 1
	c.exprs[last] = "(" + c.exprs[last] + " OR " + cond + ")"
	c.args = append(c.args, args...)
}

// write 追加 " WHERE ..."，返回追加了条件参数的 args
func (c *conditions) write(sb *strings.Builder, args []any) []any {
	if len(c.exprs) == 0 {
		return args
	}
	sb.WriteString(" WHERE ")
	sb.WriteString(strings.Join(c.exprs, " AND "))
	return append(args, c.args...)
}

type execer interface {
	Exec(ctx context.Context) (sql.Result, error)
}

// affected 执行并返回受影响行数；驱动不支持时返回 -1
func affected(ctx context.Context, e execer) (int64, error) {
	res, err := e.Exec(ctx)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return -1, nil
	}
	return n, nil
}

// target 构建器的执行目标与方言；db 为 nil 时只能 Build
type target struct {
	db      core.IDatabase
	dialect dialect.Dialect
}

func (t target) exec(ctx context.Context, build func() (string, []any, error)) (sql.Result, error) {
	q, args, err := build()
	if err != nil {
		return nil, err
	}
	return t.db.Exec(ctx, q, args...)
}
