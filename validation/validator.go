// Package validation 字段取值规则与约束表达式。
//
// 规则按字段在模型初始化时组装一次，写入前对每个值求值；
// 返回的错误码均为 VALIDATION_ERROR，并带 field 上下文。
package validation

import (
	"reflect"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"gorecord/errors"
)

// Rule 对单个字段值的检查，label 用于错误消息（通常为 model.field）
type Rule interface {
	Check(label string, value any) error
}

// RuleFunc 函数形式的 Rule
type RuleFunc func(label string, value any) error

func (f RuleFunc) Check(label string, value any) error { return f(label, value) }

// Rules 按顺序组合规则，返回第一个错误；nil 规则被跳过。没有规则时返回 nil。
func Rules(rules ...Rule) Rule {
	rules = slices.DeleteFunc(rules, func(r Rule) bool { return r == nil })
	switch len(rules) {
	case 0:
		return nil
	case 1:
		return rules[0]
	}
	return RuleFunc(func(label string, value any) error {
		for _, r := range rules {
			if err := r.Check(label, value); err != nil {
				return err
			}
		}
		return nil
	})
}

func failf(label, format string, args ...any) error {
	return errors.Newf(errors.ErrCodeValidation, "%s: "+format, append([]any{label}, args...)...).
		With("field", label)
}

// IsEmpty nil、空白字符串、空切片或映射、nil 指针视为空；0 与 false 不算空
func IsEmpty(value any) bool {
	if value == nil {
		return true
	}
	if s, ok := value.(string); ok {
		return strings.TrimSpace(s) == ""
	}
	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Slice, reflect.Map:
		return rv.Len() == 0
	case reflect.Ptr, reflect.Interface:
		return rv.IsNil()
	}
	return false
}

// Required 值不能为空
func Required() Rule {
	return RuleFunc(func(label string, value any) error {
		if IsEmpty(value) {
			return failf(label, "不能为空")
		}
		return nil
	})
}

// MaxLength 字符串按字符计的长度上限；非字符串值不检查
func MaxLength(max int) Rule {
	return RuleFunc(func(label string, value any) error {
		s, ok := value.(string)
		if !ok {
			return nil
		}
		if n := utf8.RuneCountInString(s); n > max {
			return failf(label, "长度不能超过%d个字符（当前%d）", max, n)
		}
		return nil
	})
}

// OneOf 字符串取值必须属于 allowed；allowed 为空时不限制
func OneOf(allowed ...string) Rule {
	return RuleFunc(func(label string, value any) error {
		s, ok := value.(string)
		if !ok || len(allowed) == 0 || slices.Contains(allowed, s) {
			return nil
		}
		return failf(label, "值 %q 无效，必须是以下之一: %v", s, allowed)
	})
}

// UUID 字符串必须是合法的 UUID
func UUID() Rule {
	return RuleFunc(func(label string, value any) error {
		s, ok := value.(string)
		if !ok {
			return nil
		}
		if _, err := uuid.Parse(s); err != nil {
			return errors.WrapError(err, errors.ErrCodeValidation, label+" is not a valid uuid").
				With("field", label)
		}
		return nil
	})
}

// TypeMismatch 值无法转换为字段声明的类型
func TypeMismatch(label, expected string, value any) error {
	return failf(label, "类型错误：期望 %s，实际 %T", expected, value)
}
