package orm

import (
	"context"

	"golang.org/x/sync/errgroup"

	"gorecord/errors"
	"gorecord/validation"
)

// baseField 提供元信息访问与空操作钩子
type baseField struct {
	def   FieldDef
	model *Model
}

func (f *baseField) Name() string            { return f.def.Name }
func (f *baseField) Column() string          { return f.def.ColumnName() }
func (f *baseField) Type() FieldType         { return f.def.Type }
func (f *baseField) Def() FieldDef           { return f.def }
func (f *baseField) Model() *Model           { return f.model }
func (f *baseField) IsStored() bool          { return !f.def.Virtual }
func (f *baseField) IsPrimary() bool         { return f.def.Primary }
func (f *baseField) IsDiscriminator() bool   { return f.def.Discriminator }
func (f *baseField) IsRelation() bool        { return false }
func (f *baseField) PostAttach(*Model) error { return nil }

// label 用于错误消息：model.field
func (f *baseField) label() string {
	if f.model == nil {
		return f.def.Name
	}
	return f.model.name + "." + f.def.Name
}

func runFieldHook(ctx context.Context, fn FieldHookFunc, rec *Record) error {
	if fn == nil {
		return nil
	}
	return fn(ctx, rec)
}

func (f *baseField) PreCreate(ctx context.Context, rec *Record) error {
	return runFieldHook(ctx, f.def.Hooks.PreCreate, rec)
}

func (f *baseField) PostCreate(ctx context.Context, rec *Record) error {
	return runFieldHook(ctx, f.def.Hooks.PostCreate, rec)
}

func (f *baseField) PreUpdate(ctx context.Context, rec *Record) error {
	return runFieldHook(ctx, f.def.Hooks.PreUpdate, rec)
}

func (f *baseField) PostUpdate(ctx context.Context, rec *Record) error {
	return runFieldHook(ctx, f.def.Hooks.PostUpdate, rec)
}

func (f *baseField) PreUnlink(ctx context.Context, rec *Record) error {
	return runFieldHook(ctx, f.def.Hooks.PreUnlink, rec)
}

func (f *baseField) PostUnlink(ctx context.Context, rec *Record) error {
	return runFieldHook(ctx, f.def.Hooks.PostUnlink, rec)
}

// newField 字段工厂：按语义类型构造具体字段
func newField(m *Model, def FieldDef) (Field, error) {
	if def.Name == "" {
		return nil, errors.Newf(errors.ErrCodeSchema, "model %q declares a field without name", m.name)
	}
	if def.Type == TypePrimary {
		def.Type = TypeInteger
		def.Primary = true
	}
	if def.Type == "" {
		def.Type = TypeString
	}
	base := baseField{def: def, model: m}

	switch def.Type {
	case TypeManyToOne, TypeOneToMany, TypeManyToMany:
		if def.Type != TypeManyToOne {
			base.def.Virtual = true
		}
		return &relationField{baseField: base}, nil
	case TypeReference:
		sf, err := newScalarField(base)
		if err != nil {
			return nil, err
		}
		return &referenceField{scalarField: sf, allowed: append([]string(nil), def.Values...)}, nil
	case TypeString, TypeText, TypeInteger, TypeFloat, TypeBoolean, TypeDatetime, TypeJSON, TypeUUID:
		sf, err := newScalarField(base)
		if err != nil {
			return nil, err
		}
		if def.Primary {
			return &primaryField{scalarField: sf}, nil
		}
		return sf, nil
	default:
		return nil, errors.Newf(errors.ErrCodeSchema, "field %q of model %q has unknown type %q",
			def.Name, m.name, def.Type)
	}
}

func newScalarField(base baseField) (*scalarField, error) {
	sf := &scalarField{baseField: base, rules: valueRules(base.def)}
	if base.def.Check != "" {
		expr, err := validation.CompileExpression(base.def.Check)
		if err != nil {
			return nil, errors.WrapError(err, errors.ErrCodeSchema,
				"invalid check on field "+sf.label())
		}
		sf.check = expr
	}
	return sf, nil
}

// valueRules 由声明生成的取值规则；鉴别列的可选值在运行时登记，不在此处
func valueRules(def FieldDef) validation.Rule {
	var rules []validation.Rule
	if def.Size > 0 {
		rules = append(rules, validation.MaxLength(def.Size))
	}
	if def.Type != TypeReference && len(def.Values) > 0 {
		rules = append(rules, validation.OneOf(def.Values...))
	}
	if def.Type == TypeUUID {
		rules = append(rules, validation.UUID())
	}
	return validation.Rules(rules...)
}

// fanOut 并发执行同一阶段的字段钩子，第一个错误取消其余并向上传播
func fanOut(ctx context.Context, fields []Field, rec *Record, phase func(Field) func(context.Context, *Record) error) error {
	if len(fields) == 0 {
		return nil
	}
	g, gctx := errgroup.WithContext(ctx)
	for _, f := range fields {
		hook := phase(f)
		g.Go(func() error {
			return hook(gctx, rec)
		})
	}
	return g.Wait()
}

func phasePreCreate(f Field) func(context.Context, *Record) error  { return f.PreCreate }
func phasePostCreate(f Field) func(context.Context, *Record) error { return f.PostCreate }
func phasePreUpdate(f Field) func(context.Context, *Record) error  { return f.PreUpdate }
func phasePostUpdate(f Field) func(context.Context, *Record) error { return f.PostUpdate }
func phasePreUnlink(f Field) func(context.Context, *Record) error  { return f.PreUnlink }
func phasePostUnlink(f Field) func(context.Context, *Record) error { return f.PostUnlink }
