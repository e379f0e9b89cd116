package basic

import (
	"context"
	"database/sql"
	"time"

	"gorecord/logging"
	core "gorecord/storage/database"
)

// Tx 事务，同时满足 IDatabase 以便交给只认数据库接口的组件
type Tx struct {
	executor
	db      *sql.DB
	tx      *sql.Tx
	started time.Time
}

// Begin 不支持嵌套事务，由上层协调事务边界
func (t *Tx) Begin(ctx context.Context) (core.ITransaction, error) {
	return nil, ErrNestedTx
}

func (t *Tx) BeginTx(ctx context.Context, opts *sql.TxOptions) (core.ITransaction, error) {
	return nil, ErrNestedTx
}

func (t *Tx) Ping(ctx context.Context) error { return t.db.PingContext(ctx) }

// Close 事务的生命周期由 Commit/Rollback 结束
func (t *Tx) Close() error { return nil }
func (t *Tx) Raw() any     { return t.tx }

func (t *Tx) Commit() error {
	err := t.tx.Commit()
	t.finished("commit", err)
	return err
}

func (t *Tx) Rollback() error {
	err := t.tx.Rollback()
	t.finished("rollback", err)
	return err
}

func (t *Tx) finished(how string, err error) {
	fields := []logging.Field{logging.String("end", how), logging.Duration("elapsed", time.Since(t.started))}
	if err != nil {
		fields = append(fields, logging.Error(err))
	}
	t.logger.Debug(context.Background(), "transaction finished", fields...)
}
