package orm

import (
	"slices"
	"strings"
	"time"

	"gorecord/data/orm/scope"
	"gorecord/errors"
	"gorecord/storage/database/sql"
)

// foldEntry 折叠顺序中的一项定义；mixin 项不贡献表名、抽象标记与继承
type foldEntry struct {
	def   Definition
	mixin bool
}

// build 将注册历史、混入与继承折叠为一个具体模式。调用方持有 m.mu。
func (m *Model) build() error {
	defs := m.repo.definitions(m.name)
	if len(defs) == 0 {
		return errUnknownModel(m.name)
	}

	m.parent = nil
	m.mixins = nil
	m.abstract = false
	parentName := ""
	for _, d := range defs {
		if d.Inherits != "" {
			parentName = d.Inherits
		}
		if d.Abstract {
			m.abstract = true
		}
	}

	var inheritedMethods map[string]Method
	if parentName != "" {
		if err := m.repo.checkInheritance(m.name); err != nil {
			return err
		}
		parent, err := m.repo.Model(parentName)
		if err != nil {
			return err
		}
		if err := parent.ensureInit(); err != nil {
			return err
		}
		m.parent = parent
		m.mixins = append(m.mixins, parent.mixins...)
		inheritedMethods = parent.methods
	}

	chain, err := m.repo.foldChain(m.name, nil)
	if err != nil {
		return err
	}

	var (
		fieldDefs    []FieldDef
		scopes       = make(map[string]scope.Definition)
		defaultScope *scope.Definition
		indexes      []Index
		table        string
		cacheTTL     time.Duration
		invalidate   bool
	)
	m.hooks = nil
	m.methods = make(map[string]Method, len(inheritedMethods))
	for name, fn := range inheritedMethods {
		m.methods[name] = fn
	}

	for _, entry := range chain {
		d := entry.def
		if entry.mixin && !slices.Contains(m.mixins, d.Name) {
			m.mixins = append(m.mixins, d.Name)
		}
		if !entry.mixin && d.Table != "" {
			table = d.Table
		}
		if d.CacheTTL > 0 {
			cacheTTL = d.CacheTTL
		}
		invalidate = invalidate || d.InvalidateOnWrite

		for _, fd := range d.Fields {
			idx := slices.IndexFunc(fieldDefs, func(x FieldDef) bool { return x.Name == fd.Name })
			if idx >= 0 {
				fieldDefs[idx] = fd
				continue
			}
			fieldDefs = append(fieldDefs, fd)
		}
		for name, sd := range d.Scopes {
			scopes[name] = sd
		}
		if d.DefaultScope != nil {
			defaultScope = d.DefaultScope
		}
		indexes = append(indexes, d.Indexes...)
		m.hooks = append(m.hooks, d.Hooks)
		for name, fn := range d.Methods {
			m.methods[name] = fn
		}
	}

	if table == "" {
		table = m.name
	}
	m.table = table
	m.cacheTTL = cacheTTL
	m.invalidateOnWrite = invalidate

	if err := m.materialize(fieldDefs); err != nil {
		return err
	}
	if err := m.checkIdentifiers(); err != nil {
		return err
	}
	if err := m.resolveDiscriminator(); err != nil {
		return err
	}
	m.buildAccessors()

	for _, idx := range indexes {
		for _, name := range idx.Fields {
			if _, ok := m.byName[name]; !ok {
				return errors.Newf(errors.ErrCodeSchema, "index %q of model %q references unknown field %q",
					idx.Name, m.name, name)
			}
		}
	}

	m.scopes = nil
	if len(scopes) > 0 || defaultScope != nil {
		m.scopes = scope.NewBuilder(m.name, scopes, defaultScope)
	}

	for _, f := range m.fields {
		if err := f.PostAttach(m); err != nil {
			return err
		}
	}
	return nil
}

// materialize 经字段工厂构造字段，必要时补充隐式自增主键
func (m *Model) materialize(defs []FieldDef) error {
	m.fields = make([]Field, 0, len(defs)+1)
	m.byName = make(map[string]Field, len(defs)+1)
	m.byColumn = make(map[string]Field, len(defs)+1)
	m.primary = nil

	var primaries []string
	for _, fd := range defs {
		if fd.Discriminator {
			fd.Type = TypeReference
		}
		f, err := newField(m, fd)
		if err != nil {
			return err
		}
		if f.IsPrimary() {
			primaries = append(primaries, f.Name())
		}
		m.fields = append(m.fields, f)
	}

	switch len(primaries) {
	case 0:
		for _, f := range m.fields {
			if f.Name() == "id" || f.Column() == "id" {
				return errors.Newf(errors.ErrCodeSchema,
					"model %q declares field %q without marking a primary key", m.name, f.Name())
			}
		}
		pk, err := newField(m, FieldDef{Name: "id", Type: TypePrimary})
		if err != nil {
			return err
		}
		m.fields = append([]Field{pk}, m.fields...)
	case 1:
	default:
		return errors.Newf(errors.ErrCodeSchema, "model %q declares more than one primary key: %s",
			m.name, strings.Join(primaries, ", "))
	}

	for _, f := range m.fields {
		if f.IsPrimary() {
			m.primary = f
		}
		if _, dup := m.byName[f.Name()]; dup {
			return errors.Newf(errors.ErrCodeSchema, "model %q declares field %q twice", m.name, f.Name())
		}
		m.byName[f.Name()] = f
		if f.IsStored() {
			if other, dup := m.byColumn[f.Column()]; dup {
				return errors.Newf(errors.ErrCodeSchema, "fields %q and %q of model %q share column %q",
					other.Name(), f.Name(), m.name, f.Column())
			}
			m.byColumn[f.Column()] = f
		}
	}
	return nil
}

// checkIdentifiers 表名和列名会直接拼进 SQL
func (m *Model) checkIdentifiers() error {
	if err := sql.CheckIdentifier("table", m.table); err != nil {
		return errors.WrapError(err, errors.ErrCodeSchema, "model "+m.name)
	}
	for _, f := range m.fields {
		if !f.IsStored() {
			continue
		}
		if err := sql.CheckIdentifier("column", f.Column()); err != nil {
			return errors.WrapError(err, errors.ErrCodeSchema, "model "+m.name)
		}
	}
	return nil
}

// resolveDiscriminator 每条继承链只有一个鉴别字段，位于最上层声明或自动创建它的模型上；
// 下层模型共享该字段，并把自身与全部后代的名字登记为允许值。
func (m *Model) resolveDiscriminator() error {
	m.discriminator = nil
	m.declaredDiscriminator = false

	var declared []Field
	for _, f := range m.fields {
		if f.IsDiscriminator() {
			declared = append(declared, f)
		}
	}
	if len(declared) > 1 {
		names := make([]string, len(declared))
		for i, f := range declared {
			names[i] = f.Name()
		}
		return errors.Newf(errors.ErrCodeSchema, "model %q declares more than one discriminator: %s",
			m.name, strings.Join(names, ", "))
	}

	var inherited *referenceField
	for p := m.parent; p != nil && inherited == nil; p = p.parent {
		inherited = p.discriminator
	}
	if len(declared) == 1 {
		if inherited != nil {
			return errors.Newf(errors.ErrCodeSchema,
				"model %q declares discriminator %q but its inheritance chain already uses %q on %q",
				m.name, declared[0].Name(), inherited.Name(), inherited.model.name)
		}
		m.declaredDiscriminator = true
	}

	descendants := m.repo.descendantsOf(m.name)
	rf := inherited
	switch {
	case len(declared) == 1:
		var ok bool
		if rf, ok = declared[0].(*referenceField); !ok {
			return errors.Newf(errors.ErrCodeSchema, "discriminator %q of model %q must be a reference field",
				declared[0].Name(), m.name)
		}
	case rf == nil && len(descendants) > 0:
		if _, taken := m.byName[DefaultDiscriminator]; taken {
			return errors.Newf(errors.ErrCodeSchema, "model %q already declares field %q",
				m.name, DefaultDiscriminator)
		}
		f, err := newField(m, FieldDef{Name: DefaultDiscriminator, Type: TypeReference, Discriminator: true})
		if err != nil {
			return err
		}
		m.fields = append(m.fields, f)
		m.byName[f.Name()] = f
		m.byColumn[f.Column()] = f
		rf = f.(*referenceField)
	}
	if rf == nil {
		return nil
	}

	rf.allow(m.name)
	for _, name := range descendants {
		rf.allow(name)
	}
	m.discriminator = rf
	return nil
}

// buildAccessors 自身字段直接读写；父模型独有的字段生成转发访问器
func (m *Model) buildAccessors() {
	m.accessors = make(map[string]accessor, len(m.fields))
	if m.parent != nil {
		for name, pa := range m.parent.accessors {
			m.accessors[name] = forwardAccessor(pa)
		}
	}
	for _, f := range m.fields {
		m.accessors[f.Name()] = ownAccessor(f)
	}
}

func ownAccessor(f Field) accessor {
	name := f.Name()
	return accessor{
		field: f,
		own:   true,
		get:   func(r *Record) (any, bool) { return r.value(name) },
		set:   func(r *Record, v any) error { return r.setLocal(f, v) },
	}
}

func forwardAccessor(pa accessor) accessor {
	return accessor{
		field: pa.field,
		get: func(r *Record) (any, bool) {
			if r.parent == nil {
				return nil, false
			}
			return pa.get(r.parent)
		},
		set: func(r *Record, v any) error {
			if r.parent == nil {
				return errors.Newf(errors.ErrCodeSchema, "record of model %q has no parent for field %q",
					r.owner.name, pa.field.Name())
			}
			return pa.set(r.parent, v)
		},
	}
}
