// Package basic 基于 database/sql 的 IDatabase 实现
package basic

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"gorecord/logging"
	core "gorecord/storage/database"
	"gorecord/storage/database/dialect"
)

// ErrNestedTx 在事务上再次 Begin
var ErrNestedTx = errors.New("nested transactions are not supported")

var (
	_ core.IDatabase            = (*DB)(nil)
	_ core.ITransaction         = (*Tx)(nil)
	_ core.IDialectNameProvider = (*DB)(nil)
	_ core.IDialectNameProvider = (*Tx)(nil)
)

// sqlConn *sql.DB 与 *sql.Tx 共有的执行方法
type sqlConn interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// executor 改写占位符后交给 conn 执行，DB 与 Tx 共用
type executor struct {
	conn    sqlConn
	driver  string
	dialect dialect.Dialect
	logger  logging.Logger
}

func (e *executor) Query(ctx context.Context, query string, args ...any) (core.IRows, error) {
	rows, err := e.conn.QueryContext(ctx, e.dialect.Rebind(query), args...)
	if err != nil {
		return nil, err
	}
	return &Rows{rows: rows}, nil
}

func (e *executor) QueryRow(ctx context.Context, query string, args ...any) core.IRow {
	return &Row{row: e.conn.QueryRowContext(ctx, e.dialect.Rebind(query), args...)}
}

func (e *executor) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return e.conn.ExecContext(ctx, e.dialect.Rebind(query), args...)
}

// GetDialectName 返回打开连接时的驱动名
func (e *executor) GetDialectName() string { return e.driver }

// Dialect 返回驱动对应的方言
func (e *executor) Dialect() dialect.Dialect { return e.dialect }

// DB 连接池
type DB struct {
	executor
	db *sql.DB
}

// New 打开连接并检查连通性。Driver 需已通过空导入注册，例如 _ "modernc.org/sqlite"。
func New(config core.DBConfig) (core.IDatabase, error) {
	config = config.WithDefaults()
	db, err := sql.Open(config.Driver, config.Database)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", config.Driver, err)
	}
	configurePool(db, config)

	ctx, cancel := context.WithTimeout(context.Background(), config.PingTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", config.Driver, err)
	}
	return Wrap(db, config.Driver), nil
}

func configurePool(db *sql.DB, config core.DBConfig) {
	if config.MaxOpenConns > 0 {
		db.SetMaxOpenConns(config.MaxOpenConns)
	} else if dialect.New(config.Driver).Name() == dialect.NameSQLite {
		// sqlite 内存库每个连接各自独立，固定单连接
		db.SetMaxOpenConns(1)
	}
	if config.MaxIdleConns > 0 {
		db.SetMaxIdleConns(config.MaxIdleConns)
	}
	if config.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(config.ConnMaxLifetime)
	}
	if config.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(config.ConnMaxIdleTime)
	}
}

// Wrap 包装已打开的 *sql.DB
func Wrap(db *sql.DB, driver string) *DB {
	return &DB{
		executor: executor{
			conn:    db,
			driver:  driver,
			dialect: dialect.New(driver),
			logger:  logging.ComponentLogger("database"),
		},
		db: db,
	}
}

func (d *DB) Begin(ctx context.Context) (core.ITransaction, error) {
	return d.BeginTx(ctx, nil)
}

func (d *DB) BeginTx(ctx context.Context, opts *sql.TxOptions) (core.ITransaction, error) {
	tx, err := d.db.BeginTx(ctx, opts)
	if err != nil {
		return nil, err
	}
	d.logger.Debug(ctx, "transaction begun")
	return &Tx{executor: d.executor.with(tx), db: d.db, tx: tx, started: time.Now()}, nil
}

func (d *DB) Ping(ctx context.Context) error { return d.db.PingContext(ctx) }
func (d *DB) Close() error                   { return d.db.Close() }
func (d *DB) Raw() any                       { return d.db }

// ExecDDL 逐条执行建表等 DDL，遇错即停
func (d *DB) ExecDDL(ctx context.Context, stmts ...string) error {
	for i, stmt := range stmts {
		if _, err := d.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ddl statement %d: %w", i+1, err)
		}
	}
	return nil
}

// with 复制配置并换用另一个连接
func (e *executor) with(conn sqlConn) executor {
	cp := *e
	cp.conn = conn
	return cp
}
