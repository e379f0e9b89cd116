package orm

import (
	"context"
	"encoding/json"

	"gorecord/errors"
	"gorecord/logging"
)

// Flush 将未提交的修改写入存储。无修改时为空操作；校验或存储失败时记录保持脏状态。
func (r *Record) Flush(ctx context.Context) error {
	if r.IsDetached() {
		return errors.Newf(errors.ErrCodeInvalidInput, "record of model %q is detached", r.owner.name)
	}
	if r.ID() == nil {
		return errors.Newf(errors.ErrCodeInvalidInput,
			"record of model %q has no primary key, use Create to persist it", r.owner.name)
	}
	if !r.IsDirty() {
		return nil
	}
	if r.parent != nil {
		if err := r.parent.Flush(ctx); err != nil {
			return err
		}
	}
	r.mu.RLock()
	own := len(r.changes) > 0
	r.mu.RUnlock()
	if !own {
		return nil
	}

	m := r.owner
	if err := m.runHooks(ctx, r, hookPreUpdate); err != nil {
		return err
	}
	if err := m.runHooks(ctx, r, hookPreValidate); err != nil {
		return err
	}
	if err := fanOut(ctx, m.fields, r, phasePreUpdate); err != nil {
		return err
	}

	payload := make(map[string]any)
	for _, f := range m.storedFields() {
		if f.IsPrimary() || !r.hasChange(f.Name()) {
			continue
		}
		if err := f.Validate(ctx, r); err != nil {
			return err
		}
		v, ok, err := f.Serialize(r)
		if err != nil {
			return err
		}
		if ok {
			payload[f.Column()] = v
		}
	}

	if len(payload) > 0 {
		key, err := m.primary.Encode(r.ID())
		if err != nil {
			return err
		}
		d := m.repo.dialect
		n, err := m.repo.sql.Update(m.table).
			SetMap(payload).
			Where(d.QuoteIdentifier(m.primary.Column())+" = ?", key).
			Affected(ctx)
		if err != nil {
			return m.storeErr(ctx, err, "update "+m.name)
		}
		if n == 0 {
			m.logger.Warn(ctx, "update matched no row", logging.Any("id", r.ID()))
		}
	}

	r.reconcile()
	m.cacheRecord(ctx, r)

	if err := fanOut(ctx, m.fields, r, phasePostUpdate); err != nil {
		return err
	}
	if err := m.runHooks(ctx, r, hookPostUpdate); err != nil {
		return err
	}
	if err := m.emit(ctx, EventUpdate, r); err != nil {
		return err
	}
	if m.invalidateOnWrite {
		m.invalidate()
	}
	m.logger.Debug(ctx, "record flushed",
		logging.Any("id", r.ID()),
		logging.Int("columns", len(payload)))
	return nil
}

// Write 赋值已知字段，其余交给父记录；仍有未知字段时报错，否则刷新
func (r *Record) Write(ctx context.Context, data map[string]any) error {
	rest, err := r.assign(data)
	if err != nil {
		return err
	}
	if len(rest) > 0 {
		return errRemainder(r.owner.name, rest)
	}
	return r.Flush(ctx)
}

func (r *Record) assign(data map[string]any) (map[string]any, error) {
	rest := make(map[string]any)
	for k, v := range data {
		f, ok := r.owner.ownField(k)
		if !ok {
			rest[k] = v
			continue
		}
		if err := r.setLocal(f, v); err != nil {
			return nil, err
		}
	}
	if len(rest) > 0 && r.parent != nil {
		return r.parent.assign(rest)
	}
	return rest, nil
}

// Unlink 删除记录。记录先与模型分离，随后删除存储行并级联到父记录。
func (r *Record) Unlink(ctx context.Context) (err error) {
	r.mu.Lock()
	if r.detached {
		r.mu.Unlock()
		return nil
	}
	r.detached = true
	r.mu.Unlock()

	m := r.owner
	id := r.ID()
	if id == nil {
		return nil
	}

	deleted := false
	defer func() {
		if err != nil && !deleted {
			r.mu.Lock()
			r.detached = false
			r.mu.Unlock()
		}
	}()

	if err = m.runHooks(ctx, r, hookPreUnlink); err != nil {
		return err
	}
	if err = m.runHooks(ctx, r, hookPreValidate); err != nil {
		return err
	}
	if err = fanOut(ctx, m.fields, r, phasePreUnlink); err != nil {
		return err
	}

	key, err := m.primary.Encode(id)
	if err != nil {
		return err
	}
	d := m.repo.dialect
	n, err := m.repo.sql.DeleteFrom(m.table).
		Where(d.QuoteIdentifier(m.primary.Column())+" = ?", key).
		Affected(ctx)
	if err != nil {
		return m.storeErr(ctx, err, "delete "+m.name)
	}
	if n == 0 {
		m.logger.Warn(ctx, "delete matched no row", logging.Any("id", id))
	}
	deleted = true

	if r.parent != nil {
		if err = r.parent.Unlink(ctx); err != nil {
			return err
		}
	}

	if err = fanOut(ctx, m.fields, r, phasePostUnlink); err != nil {
		return err
	}
	if err = m.runHooks(ctx, r, hookPostUnlink); err != nil {
		return err
	}
	if err = m.emit(ctx, EventUnlink, r); err != nil {
		return err
	}

	if m.caches() {
		if cerr := m.repo.cache.Delete(ctx, m.recordKey(id)); cerr != nil {
			m.logger.Warn(ctx, "cache delete failed", logging.Any("id", id), logging.Error(cerr))
		}
	}
	if m.invalidateOnWrite {
		m.invalidate()
	}
	m.untrack(r, id)
	m.repo.deferUnlink(m.name, id)
	return nil
}

// cacheRecord 事务内只登记，提交后统一写入缓存并同步外层驻留记录
func (m *Model) cacheRecord(ctx context.Context, rec *Record) {
	if m.repo.deferFlush(rec) {
		return
	}
	m.writeCache(ctx, rec)
}

func (m *Model) writeCache(ctx context.Context, rec *Record) {
	id := rec.ID()
	if id == nil || !m.caches() {
		return
	}
	payload, err := json.Marshal(rec.ToRawJSON())
	if err != nil {
		m.logger.Warn(ctx, "cache encode failed", logging.Any("id", id), logging.Error(err))
		return
	}
	if _, err := m.repo.cache.Set(ctx, m.recordKey(id), payload, m.cacheTTL, m.name); err != nil {
		m.logger.Warn(ctx, "cache write failed", logging.Any("id", id), logging.Error(err))
	}
}
