package orm

import (
	"context"

	"gorecord/data/orm/criteria"
	"gorecord/errors"
	"gorecord/storage/database/sql"
)

// relationField 关系字段。many-to-one 存储目标主键，其余两种只在内存中存在，
// 通过 Record.Related 在首次访问时加载。
type relationField struct {
	baseField
}

func (f *relationField) IsRelation() bool { return true }

func (f *relationField) Deserialize(_ *Record, raw any) (any, error) {
	if f.def.Type != TypeManyToOne || raw == nil {
		return raw, nil
	}
	if b, ok := raw.([]byte); ok {
		return string(b), nil
	}
	if i, ok := toInt64(raw); ok {
		return i, nil
	}
	return raw, nil
}

func (f *relationField) Serialize(rec *Record) (any, bool, error) {
	if !f.IsStored() {
		return nil, false, nil
	}
	v, ok := rec.value(f.def.Name)
	if !ok {
		return nil, false, nil
	}
	if target, isRec := v.(*Record); isRec {
		v = target.ID()
	}
	return v, true, nil
}

func (f *relationField) Encode(v any) (any, error) {
	if target, ok := v.(*Record); ok {
		return target.ID(), nil
	}
	return v, nil
}

func (f *relationField) ToJSON(rec *Record) (any, bool) {
	if !f.IsStored() {
		return nil, false
	}
	v, ok := rec.value(f.def.Name)
	if target, isRec := v.(*Record); isRec {
		return target.ID(), ok
	}
	return v, ok
}

func (f *relationField) Validate(_ context.Context, rec *Record) error {
	if !f.def.Required || !f.IsStored() {
		return nil
	}
	if v, ok := rec.value(f.def.Name); !ok || v == nil {
		return errRequired(f.model.name, f.def.Name)
	}
	return nil
}

// PostAttach 校验关系声明是否完整
func (f *relationField) PostAttach(m *Model) error {
	missing := ""
	switch {
	case f.def.Model == "":
		missing = "Model"
	case f.def.Type == TypeOneToMany && f.def.ForeignKey == "":
		missing = "ForeignKey"
	case f.def.Type == TypeManyToMany && f.def.JoinTable == "":
		missing = "JoinTable"
	case f.def.Type == TypeManyToMany && (f.def.ForeignKey == "" || f.def.OtherKey == ""):
		missing = "ForeignKey/OtherKey"
	}
	if missing != "" {
		return errors.Newf(errors.ErrCodeSchema, "relation %q of model %q requires %s",
			f.def.Name, m.name, missing)
	}
	return nil
}

// load 加载关系目标：many-to-one 返回 *Record（可能为 nil），其余返回 []*Record
func (f *relationField) load(ctx context.Context, rec *Record) (any, error) {
	m := rec.Model()
	if m == nil {
		return nil, errors.Newf(errors.ErrCodeInvalidInput, "record is detached")
	}
	target, err := m.repo.Model(f.def.Model)
	if err != nil {
		return nil, err
	}

	switch f.def.Type {
	case TypeManyToOne:
		v, _ := rec.value(f.def.Name)
		if linked, ok := v.(*Record); ok {
			return linked, nil
		}
		if identityKey(v) == nil {
			return (*Record)(nil), nil
		}
		found, err := target.FindByID(ctx, v)
		if errors.IsNotFound(err) {
			return (*Record)(nil), nil
		}
		return found, err

	case TypeOneToMany:
		if rec.ID() == nil {
			return []*Record{}, nil
		}
		return target.Where(criteria.Eq(f.def.ForeignKey, rec.ID())).All(ctx)

	default:
		if rec.ID() == nil {
			return []*Record{}, nil
		}
		if err := target.ensureInit(); err != nil {
			return nil, err
		}
		d := m.repo.dialect
		on := sql.Qualify(d, f.def.JoinTable, f.def.OtherKey) + " = " +
			sql.Qualify(d, target.table, target.primary.Column())
		return target.Query().
			Join("INNER", d.QuoteIdentifier(f.def.JoinTable), on).
			Where(criteria.Eq(f.def.JoinTable+"."+f.def.ForeignKey, rec.ID())).
			All(ctx)
	}
}
