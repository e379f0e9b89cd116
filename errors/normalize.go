package errors

import (
	"context"
	"database/sql"
	stdErrors "errors"
)

// UniqueViolationFunc 判断驱动错误是否为唯一键冲突，通常由 dialect.Dialect.IsUniqueViolation 提供。
type UniqueViolationFunc func(err error) bool

// Normalize 将存储层错误规范化为 AppError。
//
// 约定：
//   - 已经是 IError 的错误原样返回；
//   - context 取消/超时原样返回，交由调用方判断；
//   - sql.ErrNoRows 映射为 NOT_FOUND；
//   - isUnique 判定为唯一键冲突的映射为 DUPLICATE_ERROR；
//   - 其余错误统一包装为 DATABASE_ERROR，保留原始错误作为 cause。
func Normalize(err error, operation string, isUnique UniqueViolationFunc) error {
	if err == nil {
		return nil
	}

	if _, ok := err.(IError); ok {
		return err
	}

	if stdErrors.Is(err, context.Canceled) || stdErrors.Is(err, context.DeadlineExceeded) {
		return err
	}

	if stdErrors.Is(err, sql.ErrNoRows) {
		return WrapError(err, ErrCodeNotFound, operation)
	}

	if isUnique != nil && isUnique(err) {
		return WrapError(err, ErrCodeDuplicate, operation)
	}

	return WrapError(err, ErrCodeDatabase, operation)
}
