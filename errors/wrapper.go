package errors

import (
	"context"

	"gorecord/logging"
)

// WrapDatabaseError 规范化存储层错误；归为 DATABASE_ERROR 的非预期错误记一条警告
func WrapDatabaseError(ctx context.Context, logger logging.Logger, err error, operation string, isUnique UniqueViolationFunc) error {
	normalized := Normalize(err, operation, isUnique)
	if normalized == nil || !IsErrorCode(normalized, ErrCodeDatabase) {
		return normalized
	}
	if logger == nil {
		logger = logging.GetLogger()
	}
	logger.Warn(ctx, "database operation failed",
		logging.String("operation", operation),
		logging.String("error_code", string(ErrCodeDatabase)),
		logging.Error(err))
	return normalized
}
