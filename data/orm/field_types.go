package orm

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"gorecord/errors"
	"gorecord/validation"
)

// 存储层可能返回的时间格式，依次尝试
var datetimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// scalarField 标量字段
type scalarField struct {
	baseField
	rules validation.Rule
	check *validation.Expression
}

func (f *scalarField) Deserialize(_ *Record, raw any) (any, error) {
	if raw == nil {
		return nil, nil
	}
	v, ok := convertScalar(f.def.Type, raw)
	if !ok {
		return nil, validation.TypeMismatch(f.label(), string(f.def.Type), raw)
	}
	return v, nil
}

func (f *scalarField) Serialize(rec *Record) (any, bool, error) {
	if !f.IsStored() {
		return nil, false, nil
	}
	v, ok := rec.value(f.def.Name)
	if !ok {
		return nil, false, nil
	}
	out, err := f.Encode(v)
	if err != nil {
		return nil, false, err
	}
	return out, true, nil
}

func (f *scalarField) Encode(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch f.def.Type {
	case TypeJSON:
		if s, ok := v.(string); ok && json.Valid([]byte(s)) {
			return s, nil
		}
		b, err := json.Marshal(v)
		if err != nil {
			return nil, errors.WrapError(err, errors.ErrCodeValidation, "cannot encode "+f.label())
		}
		return string(b), nil
	case TypeDatetime:
		if t, ok := v.(time.Time); ok {
			return t.UTC().Format(time.RFC3339Nano), nil
		}
	}
	return v, nil
}

func (f *scalarField) ToJSON(rec *Record) (any, bool) {
	v, ok := rec.value(f.def.Name)
	if !ok {
		return nil, false
	}
	if t, isTime := v.(time.Time); isTime {
		return t.UTC().Format(time.RFC3339Nano), true
	}
	return v, true
}

func (f *scalarField) Validate(ctx context.Context, rec *Record) error {
	v, present := rec.value(f.def.Name)
	if f.def.Required && (!present || validation.IsEmpty(v)) {
		return errRequired(f.modelName(), f.def.Name)
	}
	if !present || v == nil {
		return nil
	}

	label := f.label()
	if f.rules != nil {
		if err := f.rules.Check(label, v); err != nil {
			return err
		}
	}

	if f.check != nil {
		env := map[string]any{"value": v, "record": rec.snapshot()}
		if err := f.check.Check(label, env); err != nil {
			return err
		}
	}

	if f.def.Unique && f.model != nil {
		taken, err := f.model.valueTaken(ctx, f, v, rec.ID())
		if err != nil {
			return err
		}
		if taken {
			return errors.Newf(errors.ErrCodeValidation, "value %v of field %q on model %q already exists",
				v, f.def.Name, f.modelName()).
				With("model", f.modelName()).
				With("field", f.def.Name)
		}
	}
	return nil
}

func (f *scalarField) modelName() string {
	if f.model == nil {
		return ""
	}
	return f.model.name
}

// primaryField 主键：整数且无生成器时由存储自增
type primaryField struct {
	*scalarField
}

func (f *primaryField) autoIncrement() bool {
	return f.def.Type == TypeInteger && f.def.Generator == nil
}

func (f *primaryField) Validate(ctx context.Context, rec *Record) error {
	if f.autoIncrement() {
		return nil
	}
	return f.scalarField.Validate(ctx, rec)
}

// referenceField 取值为模型名；作为鉴别列时，子模型初始化会登记自己的名字
type referenceField struct {
	*scalarField
	mu      sync.RWMutex
	allowed []string
}

func (f *referenceField) allow(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !slices.Contains(f.allowed, name) {
		f.allowed = append(f.allowed, name)
	}
}

// Allowed 当前允许的取值
func (f *referenceField) Allowed() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return append([]string(nil), f.allowed...)
}

func (f *referenceField) Validate(ctx context.Context, rec *Record) error {
	if err := f.scalarField.Validate(ctx, rec); err != nil {
		return err
	}
	v, _ := rec.value(f.def.Name)
	s, _ := v.(string)
	allowed := f.Allowed()
	if s == "" || len(allowed) == 0 {
		return nil
	}
	return validation.OneOf(allowed...).Check(f.label(), s)
}

func convertScalar(t FieldType, raw any) (any, bool) {
	if b, ok := raw.([]byte); ok {
		raw = string(b)
	}
	switch t {
	case TypeInteger:
		return toInt64(raw)
	case TypeFloat:
		return toFloat64(raw)
	case TypeBoolean:
		return toBool(raw)
	case TypeDatetime:
		return toTime(raw)
	case TypeJSON:
		if s, ok := raw.(string); ok {
			var out any
			if err := json.Unmarshal([]byte(s), &out); err != nil {
				return nil, false
			}
			return out, true
		}
		return raw, true
	default:
		s, ok := raw.(string)
		return s, ok
	}
}

func toInt64(v any) (any, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint:
		return int64(n), true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		if n > math.MaxInt64 {
			return nil, false
		}
		return int64(n), true
	case float32:
		return floatToInt(float64(n))
	case float64:
		return floatToInt(n)
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64)
		return i, err == nil
	}
	return nil, false
}

func floatToInt(f float64) (any, bool) {
	if f != math.Trunc(f) {
		return nil, false
	}
	return int64(f), true
}

func toFloat64(v any) (any, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	if i, ok := toInt64(v); ok {
		return float64(i.(int64)), true
	}
	return nil, false
}

func toBool(v any) (any, bool) {
	switch b := v.(type) {
	case bool:
		return b, true
	case string:
		parsed, err := strconv.ParseBool(strings.TrimSpace(b))
		return parsed, err == nil
	}
	if i, ok := toInt64(v); ok {
		return i.(int64) != 0, true
	}
	return nil, false
}

func toTime(v any) (any, bool) {
	switch t := v.(type) {
	case time.Time:
		return t.UTC(), true
	case string:
		for _, layout := range datetimeLayouts {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed.UTC(), true
			}
		}
		return nil, false
	}
	if i, ok := toInt64(v); ok {
		return time.Unix(i.(int64), 0).UTC(), true
	}
	return nil, false
}

// identityKey 规范化主键值，用作身份映射的键
func identityKey(v any) any {
	switch n := v.(type) {
	case nil:
		return nil
	case []byte:
		return string(n)
	case string:
		if n == "" {
			return nil
		}
		return n
	}
	if i, ok := toInt64(v); ok {
		return i
	}
	return fmt.Sprint(v)
}
