package errors

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gorecord/logging"
)

func TestNewf_MessageAndCode(t *testing.T) {
	err := Newf(ErrCodeScope, "scope %q is not defined on model %q", "missing", "task")
	assert.Equal(t, `[SCOPE_ERROR] scope "missing" is not defined on model "task"`, err.Error())
	assert.True(t, IsErrorCode(err, ErrCodeScope))
	assert.True(t, errors.Is(err, ErrScope), "同码错误应满足 errors.Is")
	assert.False(t, errors.Is(err, ErrValidation))
}

func TestWrapError_KeepsCause(t *testing.T) {
	cause := errors.New("not a uuid")
	err := WrapError(cause, ErrCodeValidation, "task.ref")
	assert.ErrorIs(t, err, cause)
	assert.Same(t, cause, err.Cause())
	assert.Equal(t, "[VALIDATION_ERROR] task.ref: not a uuid", err.Error())
	assert.Nil(t, WrapError(nil, ErrCodeValidation, "x"))

	outer := fmt.Errorf("create task: %w", err)
	assert.True(t, IsValidation(outer))
	assert.Equal(t, ErrCodeValidation, CodeOf(outer))
}

func TestWith_Immutable(t *testing.T) {
	base := NewError(ErrCodeSchema, "field missing")
	withModel := base.With("model", "user")
	withField := withModel.With("field", "email")

	assert.Empty(t, base.Details())
	assert.Equal(t, map[string]any{"model": "user"}, withModel.Details())
	assert.Equal(t, map[string]any{"model": "user", "field": "email"}, withField.Details())

	withField.Details()["model"] = "changed"
	model, ok := Detail(withField, "model")
	require.True(t, ok)
	assert.Equal(t, "user", model)
}

func TestDetail_FollowsChain(t *testing.T) {
	inner := NewError(ErrCodeSchema, "bad column").With("field", "title")
	outer := WrapError(inner, ErrCodeRegistration, "model task").With("model", "task")

	field, ok := Detail(fmt.Errorf("init: %w", outer), "field")
	require.True(t, ok)
	assert.Equal(t, "title", field)

	_, ok = Detail(errors.New("plain"), "model")
	assert.False(t, ok)
	assert.True(t, IsErrorCode(outer, ErrCodeRegistration), "取链上第一个 AppError 的错误码")
}

func TestCodeOf(t *testing.T) {
	assert.Equal(t, ErrCodeInternal, CodeOf(errors.New("plain")))
	assert.Equal(t, ErrorCode(""), CodeOf(nil))
	assert.True(t, IsValidation(NewError(ErrCodeValidation, "name is required")))
}

func TestNormalize(t *testing.T) {
	unique := func(err error) bool { return strings.Contains(err.Error(), "UNIQUE") }

	assert.Nil(t, Normalize(nil, "op", unique))

	notFound := Normalize(sql.ErrNoRows, "find", unique)
	assert.True(t, IsNotFound(notFound))

	dup := Normalize(errors.New("UNIQUE constraint failed: user.email"), "insert", unique)
	assert.True(t, errors.Is(dup, ErrDuplicate))

	generic := Normalize(errors.New("disk full"), "insert", unique)
	assert.True(t, IsErrorCode(generic, ErrCodeDatabase))

	already := NewError(ErrCodeValidation, "bad")
	assert.Same(t, already, Normalize(already, "op", unique))

	assert.ErrorIs(t, Normalize(context.Canceled, "op", nil), context.Canceled)
}

func TestWrapDatabaseError_LogsOnlyUnexpected(t *testing.T) {
	ctx := context.Background()
	var buf bytes.Buffer
	logger := logging.NewStdLogger("").WithOutput(log.New(&buf, "", 0))

	err := WrapDatabaseError(ctx, logger, errors.New("conn reset"), "update user", nil)
	assert.True(t, IsErrorCode(err, ErrCodeDatabase))
	assert.Contains(t, err.Error(), "update user")
	assert.Contains(t, buf.String(), "database operation failed")
	assert.Contains(t, buf.String(), "operation=update user")

	buf.Reset()
	err = WrapDatabaseError(ctx, logger, sql.ErrNoRows, "find user", nil)
	assert.True(t, IsNotFound(err))
	assert.Empty(t, buf.String(), "预期内的错误不记日志")

	assert.Nil(t, WrapDatabaseError(ctx, nil, nil, "noop", nil))
}
