// Package errors 带错误码的错误类型。
//
// 模型注册、字段校验、作用域与存储层的错误都归到一个 ErrorCode，
// 调用方用 IsErrorCode 或 errors.Is(err, ErrXxx) 判断类别，
// 用 Detail 取出出错的模型、字段等上下文。
package errors

import (
	stdErrors "errors"
	"fmt"
	"maps"
)

// ErrorCode 错误代码类型
type ErrorCode string

const (
	ErrCodeInternal     ErrorCode = "INTERNAL_ERROR"
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"
	ErrCodeNotFound     ErrorCode = "NOT_FOUND"
	ErrCodeUnsupported  ErrorCode = "UNSUPPORTED"

	// 模型/记录层
	ErrCodeRegistration   ErrorCode = "REGISTRATION_ERROR"
	ErrCodeSchema         ErrorCode = "SCHEMA_ERROR"
	ErrCodeAbstract       ErrorCode = "ABSTRACT_ERROR"
	ErrCodeScope          ErrorCode = "SCOPE_ERROR"
	ErrCodeValidation     ErrorCode = "VALIDATION_ERROR"
	ErrCodeWriteRemainder ErrorCode = "WRITE_REMAINDER_ERROR"
	ErrCodeDuplicate      ErrorCode = "DUPLICATE_ERROR"

	// 基础设施
	ErrCodeDatabase ErrorCode = "DATABASE_ERROR"
	ErrCodeCache    ErrorCode = "CACHE_ERROR"
)

// IError 带错误码的错误
type IError interface {
	error
	Code() ErrorCode
	Message() string
	Cause() error
	// Details 上下文副本，修改不影响原错误
	Details() map[string]any
	// With 返回附加了一项上下文的新错误
	With(key string, value any) IError
}

// AppError IError 的实现，创建后不可变
type AppError struct {
	code    ErrorCode
	message string
	cause   error
	details map[string]any
}

var _ IError = (*AppError)(nil)

// NewError 创建新错误
func NewError(code ErrorCode, message string) IError {
	return &AppError{code: code, message: message}
}

// Newf 以格式化消息创建新错误
func Newf(code ErrorCode, format string, args ...any) IError {
	return &AppError{code: code, message: fmt.Sprintf(format, args...)}
}

// WrapError 包装底层错误；err 为 nil 时返回 nil
func WrapError(err error, code ErrorCode, message string) IError {
	if err == nil {
		return nil
	}
	return &AppError{code: code, message: message, cause: err}
}

func (e *AppError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.code, e.message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.code, e.message)
}

func (e *AppError) Code() ErrorCode { return e.code }
func (e *AppError) Message() string { return e.message }
func (e *AppError) Cause() error    { return e.cause }
func (e *AppError) Unwrap() error   { return e.cause }

func (e *AppError) Details() map[string]any {
	if e.details == nil {
		return map[string]any{}
	}
	return maps.Clone(e.details)
}

func (e *AppError) With(key string, value any) IError {
	details := make(map[string]any, len(e.details)+1)
	maps.Copy(details, e.details)
	details[key] = value
	return &AppError{code: e.code, message: e.message, cause: e.cause, details: details}
}

// Is 同码即视为同类错误，否则继续比较 cause
func (e *AppError) Is(target error) bool {
	var other *AppError
	if stdErrors.As(target, &other) && other != nil {
		return e.code == other.code
	}
	return e.cause != nil && stdErrors.Is(e.cause, target)
}

// 哨兵错误，供 errors.Is 按错误码比较
var (
	ErrNotFound       = NewError(ErrCodeNotFound, "record not found")
	ErrValidation     = NewError(ErrCodeValidation, "validation failed")
	ErrDuplicate      = NewError(ErrCodeDuplicate, "duplicate value")
	ErrSchema         = NewError(ErrCodeSchema, "invalid model schema")
	ErrScope          = NewError(ErrCodeScope, "invalid scope")
	ErrAbstract       = NewError(ErrCodeAbstract, "abstract model")
	ErrRegistration   = NewError(ErrCodeRegistration, "model registration failed")
	ErrWriteRemainder = NewError(ErrCodeWriteRemainder, "unknown fields in write")
	ErrDatabase       = NewError(ErrCodeDatabase, "database error")
	ErrCache          = NewError(ErrCodeCache, "cache error")
)

func IsNotFound(err error) bool   { return IsErrorCode(err, ErrCodeNotFound) }
func IsValidation(err error) bool { return IsErrorCode(err, ErrCodeValidation) }

// IsErrorCode 错误链上第一个 AppError 的错误码是否为 code
func IsErrorCode(err error, code ErrorCode) bool {
	var appErr *AppError
	return stdErrors.As(err, &appErr) && appErr.code == code
}

// CodeOf 错误链上第一个 AppError 的错误码；普通错误归为 INTERNAL_ERROR
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	var appErr *AppError
	if stdErrors.As(err, &appErr) {
		return appErr.code
	}
	return ErrCodeInternal
}

// Detail 沿错误链查找上下文项，如 Detail(err, "model")
func Detail(err error, key string) (any, bool) {
	for err != nil {
		if appErr, ok := err.(*AppError); ok {
			if v, found := appErr.details[key]; found {
				return v, true
			}
		}
		err = stdErrors.Unwrap(err)
	}
	return nil, false
}
