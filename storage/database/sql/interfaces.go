package sql

import (
	"context"
	"database/sql"

	core "gorecord/storage/database"
	"gorecord/storage/database/dialect"
)

// ISql SQL 构建器入口。
//
// SELECT 的片段原样拼接，调用方负责按方言转义；
// INSERT/UPDATE/DELETE 会校验并转义表名与列名，非法标识符在 Build 时报错。
type ISql interface {
	Select(columns ...string) ISelectBuilder
	InsertInto(table string) IInsertBuilder
	Update(table string) IUpdateBuilder
	DeleteFrom(table string) IDeleteBuilder

	Dialect() dialect.Dialect
	GetDB() core.IDatabase
}

// ISelectBuilder SELECT 语句
type ISelectBuilder interface {
	From(table string) ISelectBuilder
	Distinct() ISelectBuilder
	// Join 追加连接子句，kind 为 INNER/LEFT 等，为空时视为 INNER
	Join(kind, table, on string, args ...any) ISelectBuilder
	Where(cond string, args ...any) ISelectBuilder
	And(cond string, args ...any) ISelectBuilder
	Or(cond string, args ...any) ISelectBuilder
	GroupBy(cols ...string) ISelectBuilder
	// OrderBy 追加排序表达式，可多次调用
	OrderBy(exprs ...string) ISelectBuilder
	Limit(n int) ISelectBuilder
	Offset(n int) ISelectBuilder
	Build() (query string, args []any)
	Query(ctx context.Context) (core.IRows, error)
	QueryRow(ctx context.Context) core.IRow
}

// IInsertBuilder INSERT 语句，可一次插入多行
type IInsertBuilder interface {
	Columns(cols ...string) IInsertBuilder
	Values(vals ...any) IInsertBuilder
	// Returning 在方言支持时追加 RETURNING 子句
	Returning(cols ...string) IInsertBuilder
	Build() (query string, args []any, err error)
	Exec(ctx context.Context) (sql.Result, error)
	QueryRow(ctx context.Context) (core.IRow, error)
}

// IUpdateBuilder UPDATE 语句，SET 按调用顺序输出
type IUpdateBuilder interface {
	Set(column string, val any) IUpdateBuilder
	// SetMap 按列名排序追加，保证生成的 SQL 稳定
	SetMap(values map[string]any) IUpdateBuilder
	// SetExpr 直接追加原始 SET 片段（例如 "version = version + 1"），
	// 由调用方保证表达式合法性与参数顺序安全。
	SetExpr(expr string, args ...any) IUpdateBuilder
	Where(cond string, args ...any) IUpdateBuilder
	Build() (query string, args []any, err error)
	Exec(ctx context.Context) (sql.Result, error)
	// Affected 执行并返回受影响行数，驱动不支持时为 -1
	Affected(ctx context.Context) (int64, error)
}

// IDeleteBuilder DELETE 语句
type IDeleteBuilder interface {
	Where(cond string, args ...any) IDeleteBuilder
	Limit(n int) IDeleteBuilder
	Build() (query string, args []any, err error)
	Exec(ctx context.Context) (sql.Result, error)
	Affected(ctx context.Context) (int64, error)
}

type builders struct {
	target
}

// New 按 db 推断方言
func New(db core.IDatabase) ISql {
	return &builders{target{db: db, dialect: dialect.FromDatabase(db)}}
}

// NewWithDialect 显式指定方言；db 可为 nil，此时只用于生成 SQL
func NewWithDialect(db core.IDatabase, d dialect.Dialect) ISql {
	return &builders{target{db: db, dialect: d}}
}

// Select 未指定列时为 *
func (s *builders) Select(columns ...string) ISelectBuilder {
	if len(columns) == 0 {
		columns = []string{"*"}
	}
	return &selectBuilder{target: s.target, cols: columns}
}

func (s *builders) InsertInto(table string) IInsertBuilder {
	return &insertBuilder{target: s.target, table: table}
}

func (s *builders) Update(table string) IUpdateBuilder {
	return &updateBuilder{target: s.target, table: table}
}

func (s *builders) DeleteFrom(table string) IDeleteBuilder {
	return &deleteBuilder{target: s.target, table: table}
}

func (s *builders) Dialect() dialect.Dialect { return s.dialect }

func (s *builders) GetDB() core.IDatabase { return s.db }
