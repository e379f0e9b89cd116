package validation

import (
	"fmt"

	exprlang "github.com/expr-lang/expr"
	exprvm "github.com/expr-lang/expr/vm"

	"gorecord/errors"
)

// Expression 是预编译的布尔约束表达式，例如 `value >= 0 && value <= 100`。
//
// 表达式求值环境由调用方提供，记录字段约定为：
//   - value：当前字段值；
//   - record：记录全部字段（map[string]any）。
type Expression struct {
	source  string
	program *exprvm.Program
}

// CompileExpression 编译约束表达式，编译期即校验语法与返回类型。
func CompileExpression(source string) (*Expression, error) {
	if source == "" {
		return nil, errors.NewError(errors.ErrCodeInvalidInput, "expression must not be empty")
	}
	program, err := exprlang.Compile(source,
		exprlang.Env(map[string]any{}),
		exprlang.AllowUndefinedVariables(),
		exprlang.AsBool(),
	)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrCodeInvalidInput,
			fmt.Sprintf("invalid expression %q", source))
	}
	return &Expression{source: source, program: program}, nil
}

// Source 返回原始表达式
func (e *Expression) Source() string { return e.source }

// Check 在给定环境中求值，结果为 false 时返回验证错误
func (e *Expression) Check(fieldName string, env map[string]any) error {
	out, err := exprlang.Run(e.program, env)
	if err != nil {
		return errors.WrapError(err, errors.ErrCodeValidation,
			fmt.Sprintf("%s约束求值失败: %s", fieldName, e.source)).With("field", fieldName)
	}
	passed, _ := out.(bool)
	if !passed {
		return errors.Newf(errors.ErrCodeValidation, "%s不满足约束: %s", fieldName, e.source).
			With("field", fieldName)
	}
	return nil
}
