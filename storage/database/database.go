// Package database 定义 ORM 与 SQL 构建器依赖的数据库抽象。
//
// 具体驱动在 basic 包中基于 database/sql 实现；占位符统一写作 ?，
// 由实现按方言改写。
package database

import (
	"context"
	"database/sql"
	"time"
)

// Executor 语句执行能力，数据库与事务共有
type Executor interface {
	Query(ctx context.Context, query string, args ...any) (IRows, error)
	QueryRow(ctx context.Context, query string, args ...any) IRow
	Exec(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// IDatabase 数据库连接
type IDatabase interface {
	Executor

	Begin(ctx context.Context) (ITransaction, error)
	BeginTx(ctx context.Context, opts *sql.TxOptions) (ITransaction, error)

	Ping(ctx context.Context) error
	Close() error

	// Raw 返回底层 *sql.DB 或 *sql.Tx
	Raw() any
}

// IDialectNameProvider 可选实现，返回 "mysql"、"sqlite"、"postgres" 等驱动名，
// 供上层推断 RETURNING、ILIKE、唯一键冲突识别等方言能力
type IDialectNameProvider interface {
	GetDialectName() string
}

// ITransaction 事务；不支持嵌套，Begin 返回错误
type ITransaction interface {
	IDatabase
	Commit() error
	Rollback() error
}

// IRows 查询结果集
type IRows interface {
	Next() bool
	Scan(dest ...any) error
	Close() error
	Err() error
	Columns() ([]string, error)
}

// IRow 单行结果
type IRow interface {
	Scan(dest ...any) error
	Err() error
}

// DBConfig 数据库配置
type DBConfig struct {
	Driver   string // sqlite, postgres, mysql；为空时 sqlite
	Database string // DSN；sqlite 下为文件路径或 :memory:

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration

	// PingTimeout 打开连接后的连通性检查超时，默认 3s
	PingTimeout time.Duration
}

// WithDefaults 返回补齐默认值的副本
func (c DBConfig) WithDefaults() DBConfig {
	if c.Driver == "" {
		c.Driver = "sqlite"
	}
	if c.PingTimeout <= 0 {
		c.PingTimeout = 3 * time.Second
	}
	return c
}

// ScanMaps 把结果集逐行扫描为 列名 -> 值，并关闭 rows。
// []byte 复制为 string，驱动可能复用底层缓冲区。
func ScanMaps(rows IRows) ([]map[string]any, error) {
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var out []map[string]any
	for rows.Next() {
		row, err := scanRow(rows, cols)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func scanRow(rows IRows, cols []string) (map[string]any, error) {
	values := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, err
	}
	row := make(map[string]any, len(cols))
	for i, col := range cols {
		if b, ok := values[i].([]byte); ok {
			row[col] = string(b)
		} else {
			row[col] = values[i]
		}
	}
	return row, nil
}
