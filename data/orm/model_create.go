package orm

import (
	"context"
	"maps"

	"gorecord/errors"
	"gorecord/logging"
	"gorecord/storage/database"
)

// Create 插入新记录。鉴别值指向子模型时转交子模型创建；
// 继承模型先创建父记录（写入鉴别值），子记录复用父记录的主键。
func (m *Model) Create(ctx context.Context, data map[string]any) (*Record, error) {
	if err := m.ready(); err != nil {
		return nil, err
	}
	if m.discriminator != nil {
		if raw, ok := pick(data, m.discriminator); ok {
			target, err := m.descendant(raw)
			if err != nil {
				return nil, err
			}
			if target != m {
				rest := maps.Clone(data)
				delete(rest, m.discriminator.Name())
				delete(rest, m.discriminator.Column())
				return target.Create(ctx, rest)
			}
		}
	}
	return m.create(ctx, data)
}

func (m *Model) create(ctx context.Context, data map[string]any) (*Record, error) {
	own, rest := m.splitOwn(data)
	rec := newRecord(m)

	if m.parent != nil {
		parentData := rest
		if disc := m.discriminator; disc != nil {
			if _, ok := pick(parentData, disc); !ok {
				parentData[disc.Name()] = m.name
			}
		}
		if id, ok := own[m.primary.Name()]; ok {
			parentData[m.parent.primary.Name()] = id
		}
		p, err := m.parent.create(ctx, parentData)
		if err != nil {
			return nil, err
		}
		rec.parent = p
		own[m.primary.Name()] = p.ID()
	} else {
		if len(rest) > 0 {
			return nil, errRemainder(m.name, rest)
		}
		if disc := m.discriminator; disc != nil {
			if _, ok := own[disc.Name()]; !ok {
				own[disc.Name()] = m.name
			}
		}
	}

	for name, v := range own {
		if err := rec.setLocal(m.byName[name], v); err != nil {
			return nil, err
		}
	}
	if err := m.applyDefaults(rec); err != nil {
		return nil, err
	}

	if err := m.runHooks(ctx, rec, hookPreCreate); err != nil {
		return nil, err
	}
	if err := m.runHooks(ctx, rec, hookPreValidate); err != nil {
		return nil, err
	}
	if err := fanOut(ctx, m.fields, rec, phasePreCreate); err != nil {
		return nil, err
	}

	var (
		cols []string
		vals []any
	)
	for _, f := range m.storedFields() {
		if f.IsPrimary() {
			if v, _ := rec.value(f.Name()); v == nil {
				continue
			}
		}
		if err := f.Validate(ctx, rec); err != nil {
			return nil, err
		}
		v, ok, err := f.Serialize(rec)
		if err != nil {
			return nil, err
		}
		if ok {
			cols = append(cols, f.Column())
			vals = append(vals, v)
		}
	}

	provided := rec.ID() != nil
	key, err := m.insert(ctx, cols, vals, !provided)
	if err != nil {
		return nil, err
	}
	rec.reconcile()
	if !provided {
		if err := rec.setKey(key); err != nil {
			return nil, err
		}
	}

	m.track(rec)
	m.cacheRecord(ctx, rec)

	if err := fanOut(ctx, m.fields, rec, phasePostCreate); err != nil {
		return nil, err
	}
	if err := m.runHooks(ctx, rec, hookPostCreate); err != nil {
		return nil, err
	}
	if err := m.emit(ctx, EventCreate, rec); err != nil {
		return nil, err
	}
	if m.invalidateOnWrite {
		m.invalidate()
	}
	m.logger.Debug(ctx, "record created", logging.Any("id", rec.ID()))
	return rec, nil
}

// splitOwn 按本模型字段拆分输入：字段名优先于列名
func (m *Model) splitOwn(data map[string]any) (own, rest map[string]any) {
	own = make(map[string]any, len(data))
	rest = make(map[string]any)
	for k, v := range data {
		if f, ok := m.ownField(k); ok {
			if _, dup := own[f.Name()]; dup && k != f.Name() {
				continue
			}
			own[f.Name()] = v
			continue
		}
		rest[k] = v
	}
	return own, rest
}

// applyDefaults 为未赋值字段填充生成器或默认值
func (m *Model) applyDefaults(rec *Record) error {
	for _, f := range m.fields {
		if _, present := rec.value(f.Name()); present {
			continue
		}
		def := f.Def()
		var (
			v   any
			set bool
		)
		switch {
		case def.Generator != nil:
			key, err := def.Generator.NextKey()
			if err != nil {
				return errors.WrapError(err, errors.ErrCodeInternal, "generate value for "+m.name+"."+f.Name())
			}
			v, set = key, true
		case def.Default != nil:
			if fn, ok := def.Default.(func() any); ok {
				v = fn()
			} else {
				v = def.Default
			}
			set = true
		}
		if !set {
			continue
		}
		if err := rec.setLocal(f, v); err != nil {
			return err
		}
	}
	return nil
}

// insert 写入一行；needKey 时依次尝试 RETURNING、LastInsertId 与按主键倒序回查
func (m *Model) insert(ctx context.Context, cols []string, vals []any, needKey bool) (any, error) {
	d := m.repo.dialect
	op := "insert " + m.name
	ib := m.repo.sql.InsertInto(m.table).Columns(cols...).Values(vals...)
	pk := m.primary.Column()

	if needKey && m.repo.caps.Supports(CapabilityReturning) {
		row, err := ib.Returning(pk).QueryRow(ctx)
		if err != nil {
			return nil, m.storeErr(ctx, err, op)
		}
		var id any
		if err := row.Scan(&id); err != nil {
			return nil, m.storeErr(ctx, err, op)
		}
		return id, nil
	}

	res, err := ib.Exec(ctx)
	if err != nil {
		return nil, m.storeErr(ctx, err, op)
	}
	if !needKey {
		return nil, nil
	}
	if id, err := res.LastInsertId(); err == nil && id > 0 {
		return id, nil
	}

	var id any
	err = m.repo.sql.Select(d.QuoteIdentifier(pk)).
		From(d.QuoteIdentifier(m.table)).
		OrderBy(d.QuoteIdentifier(pk) + " DESC").
		Limit(1).
		QueryRow(ctx).
		Scan(&id)
	if err != nil {
		return nil, m.storeErr(ctx, err, op)
	}
	return id, nil
}

// valueTaken 唯一性检查：是否已有其他行使用该值
func (m *Model) valueTaken(ctx context.Context, f Field, v any, exceptID any) (bool, error) {
	d := m.repo.dialect
	enc, err := f.Encode(v)
	if err != nil {
		return false, err
	}
	sb := m.repo.sql.Select("1").
		From(d.QuoteIdentifier(m.table)).
		Where(d.QuoteIdentifier(f.Column())+" = ?", enc)
	if exceptID != nil {
		key, err := m.primary.Encode(exceptID)
		if err != nil {
			return false, err
		}
		sb = sb.Where(d.QuoteIdentifier(m.primary.Column())+" <> ?", key)
	}
	rows, err := sb.Limit(1).Query(ctx)
	if err != nil {
		return false, m.storeErr(ctx, err, "unique check "+m.name)
	}
	found, err := database.ScanMaps(rows)
	if err != nil {
		return false, m.storeErr(ctx, err, "unique check "+m.name)
	}
	return len(found) > 0, nil
}
