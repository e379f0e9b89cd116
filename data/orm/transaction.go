package orm

import (
	"context"
	"maps"
	"slices"

	"gorecord/errors"
	"gorecord/logging"
	"gorecord/storage/database"
	"gorecord/storage/database/sql"
)

// TxFunc 在事务仓储上执行的函数
type TxFunc func(ctx context.Context, tx *Repository) error

// Transaction 在独立的事务仓储上执行 fn。
//
// 事务仓储拥有空的身份映射和上下文快照；fn 返回错误或 panic 时回滚。
// 提交后写入推迟的缓存条目，同步外层身份映射中的同主键记录，并发布事务内产生的事件。
// 在事务仓储上再次调用时直接复用当前事务。
func (r *Repository) Transaction(ctx context.Context, fn TxFunc) (err error) {
	if r.outer != nil {
		return fn(ctx, r)
	}

	dbtx, err := r.db.Begin(ctx)
	if err != nil {
		return errors.WrapDatabaseError(ctx, r.baseLogger, err, "begin transaction", r.dialect.IsUniqueViolation)
	}
	tx := r.derive(dbtx)

	defer func() {
		if p := recover(); p != nil {
			_ = dbtx.Rollback()
			panic(p)
		}
	}()

	if err := fn(ctx, tx); err != nil {
		if rbErr := dbtx.Rollback(); rbErr != nil {
			r.baseLogger.Warn(ctx, "transaction rollback failed", logging.Error(rbErr))
		}
		return err
	}
	if err := dbtx.Commit(); err != nil {
		return errors.WrapDatabaseError(ctx, r.baseLogger, err, "commit transaction", r.dialect.IsUniqueViolation)
	}
	r.reconcile(ctx, tx)
	return nil
}

// derive 复制注册历史与上下文，模型重新构建
func (r *Repository) derive(dbtx database.ITransaction) *Repository {
	r.mu.RLock()
	defs := make(map[string][]Definition, len(r.defs))
	for name, list := range r.defs {
		defs[name] = slices.Clone(list)
	}
	order := slices.Clone(r.order)
	r.mu.RUnlock()

	r.ctxMu.RLock()
	values := maps.Clone(r.values)
	r.ctxMu.RUnlock()

	return &Repository{
		cfg:         r.cfg,
		db:          dbtx,
		sql:         sql.NewWithDialect(dbtx, r.dialect),
		dialect:     r.dialect,
		cache:       r.cache,
		bus:         r.bus,
		baseLogger:  r.baseLogger.WithFields(logging.Bool("tx", true)),
		caps:        r.caps,
		defs:        defs,
		order:       order,
		models:      make(map[string]*Model),
		values:      values,
		outer:       r,
		invalidated: make(map[string]bool),
	}
}

// reconcile 提交后把事务内的结果反映到外层
func (r *Repository) reconcile(ctx context.Context, tx *Repository) {
	tx.txMu.Lock()
	deferred := tx.deferred
	outbox := tx.outbox
	invalidated := make([]string, 0, len(tx.invalidated))
	for name := range tx.invalidated {
		invalidated = append(invalidated, name)
	}
	tx.deferred, tx.outbox = nil, nil
	tx.txMu.Unlock()

	for _, d := range deferred {
		outer := r.existingModel(d.model)
		if d.unlink {
			if outer == nil {
				continue
			}
			if rec := outer.Resident(d.id); rec != nil {
				outer.untrack(rec, d.id)
				rec.mu.Lock()
				rec.detached = true
				rec.mu.Unlock()
			}
			continue
		}

		d.rec.owner.writeCache(ctx, d.rec)
		if outer == nil {
			continue
		}
		if resident := outer.Resident(d.rec.ID()); resident != nil && !resident.IsDetached() {
			if err := resident.Sync(d.rec.ToJSON()); err != nil {
				outer.logger.Warn(ctx, "sync after commit failed", logging.Any("id", d.rec.ID()), logging.Error(err))
			}
		}
	}

	for _, name := range invalidated {
		if m := r.existingModel(name); m != nil {
			m.invalidate()
		}
	}
	if len(outbox) > 0 && r.bus != nil {
		r.deliver(ctx, outbox)
	}
}
