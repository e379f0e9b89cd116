package orm

import (
	"context"
	"encoding/json"

	"gorecord/errors"
	"gorecord/logging"
	"gorecord/storage/database"
	"gorecord/storage/database/sql"
)

type allocateOptions struct {
	ignoreDiscriminator bool
	infer               bool
}

// AllocateOption 调整 Allocate 的路由行为
type AllocateOption func(*allocateOptions)

// IgnoreDiscriminator 按当前模型分配，不按鉴别字段路由到子模型
func IgnoreDiscriminator() AllocateOption {
	return func(o *allocateOptions) { o.ignoreDiscriminator = true }
}

// InferDiscriminator 行数据缺少鉴别值时，按子模型声明顺序根据独有字段推断类型
func InferDiscriminator() AllocateOption {
	return func(o *allocateOptions) { o.infer = true }
}

// Allocate 把行数据变为记录。
//
// 已属于本模型（或其子模型）的记录原样返回；身份映射中已有同主键记录时合并数据并返回该实例；
// 仅含部分存储列的行会延迟水合，首次 Ready 时补齐。
func (m *Model) Allocate(data any, opts ...AllocateOption) (*Record, error) {
	if err := m.ready(); err != nil {
		return nil, err
	}
	o := allocateOptions{infer: m.repo.cfg.InferDiscriminator}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	switch v := data.(type) {
	case *Record:
		if v.owner == m || v.owner.descendsFrom(m) {
			return v, nil
		}
		return m.allocate(v.ToJSON(), o)
	case map[string]any:
		return m.allocate(v, o)
	case nil:
		return m.allocate(map[string]any{}, o)
	default:
		return nil, errors.Newf(errors.ErrCodeInvalidInput, "cannot allocate %T as record of model %q", data, m.name)
	}
}

func (m *Model) allocate(row map[string]any, o allocateOptions) (*Record, error) {
	if !o.ignoreDiscriminator {
		target, err := m.route(row, o)
		if err != nil {
			return nil, err
		}
		if target != m {
			return target.allocate(row, allocateOptions{ignoreDiscriminator: true})
		}
	}

	if key, err := m.primaryKeyOf(row); err != nil {
		return nil, err
	} else if key != nil {
		if rec := m.Resident(key); rec != nil {
			if err := rec.Sync(row); err != nil {
				return nil, err
			}
			return rec, nil
		}
	}

	rec, err := m.instantiate(row)
	if err != nil {
		return nil, err
	}
	m.track(rec)
	return rec, nil
}

func (m *Model) primaryKeyOf(row map[string]any) (any, error) {
	raw, ok := pick(row, m.primary)
	if !ok {
		return nil, nil
	}
	v, err := m.primary.Deserialize(nil, raw)
	if err != nil {
		return nil, err
	}
	return identityKey(v), nil
}

// route 根据鉴别值选出最具体的模型
func (m *Model) route(row map[string]any, o allocateOptions) (*Model, error) {
	if m.discriminator == nil {
		return m, nil
	}
	raw, ok := pick(row, m.discriminator)
	if !ok {
		if o.infer {
			return m.infer(row)
		}
		return m, nil
	}
	return m.descendant(raw)
}

// descendant 把鉴别值解析为本模型或其后代
func (m *Model) descendant(raw any) (*Model, error) {
	v, err := m.discriminator.Deserialize(nil, raw)
	if err != nil {
		return nil, err
	}
	name, _ := v.(string)
	if name == "" {
		return nil, errors.Newf(errors.ErrCodeSchema, "discriminator %q of model %q is empty",
			m.discriminator.Name(), m.name)
	}
	if name == m.name {
		return m, nil
	}
	child, err := m.repo.Model(name)
	if err != nil {
		return nil, err
	}
	if err := child.ensureInit(); err != nil {
		return nil, err
	}
	if !child.descendsFrom(m) {
		return nil, errors.Newf(errors.ErrCodeSchema, "model %q named by discriminator %q does not inherit from %q",
			name, m.discriminator.Name(), m.name)
	}
	return child, nil
}

// infer 启发式：第一个在行中出现了独有字段的后代
func (m *Model) infer(row map[string]any) (*Model, error) {
	for _, name := range m.repo.descendantsOf(m.name) {
		child, err := m.repo.Model(name)
		if err != nil {
			return nil, err
		}
		if err := child.ensureInit(); err != nil {
			return nil, err
		}
		for _, f := range child.fields {
			if f.IsPrimary() {
				continue
			}
			if _, inherited := m.accessors[f.Name()]; inherited {
				continue
			}
			if _, ok := pick(row, f); ok {
				m.logger.Debug(context.Background(), "discriminator inferred", logging.String("target", name))
				return child, nil
			}
		}
	}
	return m, nil
}

// instantiate 沿继承链构造新记录，父子共享主键；不查身份映射也不路由
func (m *Model) instantiate(row map[string]any) (*Record, error) {
	rec := newRecord(m)
	if m.parent != nil {
		p, err := m.parent.instantiate(row)
		if err != nil {
			return nil, err
		}
		rec.parent = p
	}

	for _, f := range m.fields {
		raw, ok := pick(row, f)
		if !ok {
			continue
		}
		v, err := f.Deserialize(rec, raw)
		if err != nil {
			return nil, err
		}
		rec.data[f.Name()] = v
	}

	switch id := rec.ID(); {
	case id == nil && rec.parent != nil && rec.parent.ID() != nil:
		if err := rec.setKey(rec.parent.ID()); err != nil {
			return nil, err
		}
	case id != nil && rec.parent != nil:
		if err := rec.parent.setKey(id); err != nil {
			return nil, err
		}
	}

	rec.pending = rec.ID() != nil && !rec.completeLocked()
	return rec, nil
}

// hydrate 按主键补齐自身存储列：先查缓存，再查存储；查不到时为软未命中
func (m *Model) hydrate(ctx context.Context, rec *Record) error {
	id := rec.ID()
	if id == nil {
		rec.markReady()
		return nil
	}

	if m.caches() {
		raw, hit, err := m.repo.cache.Get(ctx, m.recordKey(id), m.marker())
		switch {
		case err != nil:
			m.logger.Warn(ctx, "cache read failed", logging.Any("id", id), logging.Error(err))
		case hit:
			var row map[string]any
			if err := json.Unmarshal(raw, &row); err == nil {
				if err := rec.syncOwn(row); err != nil {
					return err
				}
				rec.markReady()
				return nil
			}
		}
	}

	key, err := m.primary.Encode(id)
	if err != nil {
		return err
	}
	d := m.repo.dialect
	rows, err := m.repo.sql.Select(m.qualifiedColumns()...).
		From(d.QuoteIdentifier(m.table)).
		Where(sql.Qualify(d, m.table, m.primary.Column())+" = ?", key).
		Limit(1).
		Query(ctx)
	if err != nil {
		return m.storeErr(ctx, err, "hydrate "+m.name)
	}
	found, err := database.ScanMaps(rows)
	if err != nil {
		return m.storeErr(ctx, err, "hydrate "+m.name)
	}
	if len(found) == 0 {
		m.logger.Debug(ctx, "stale primary key", logging.Any("id", id))
		rec.softMiss()
		return nil
	}
	if err := rec.syncOwn(found[0]); err != nil {
		return err
	}
	rec.markReady()
	if !m.repo.InTransaction() {
		m.writeCache(ctx, rec)
	}
	return nil
}

// qualifiedColumns 带表名限定的自身存储列
func (m *Model) qualifiedColumns() []string {
	d := m.repo.dialect
	stored := m.storedFields()
	cols := make([]string, len(stored))
	for i, f := range stored {
		cols[i] = sql.Qualify(d, m.table, f.Column())
	}
	return cols
}
