package logging

import (
	"bytes"
	"context"
	"errors"
	"log"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBufferedLogger(prefix string) (*StdLogger, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	return NewStdLogger(prefix).WithOutput(log.New(buf, "", 0)), buf
}

// TestFieldConstructors 测试字段构造函数
func TestFieldConstructors(t *testing.T) {
	tests := []struct {
		name    string
		field   Field
		wantKey string
	}{
		{"String字段", String("name", "test"), "name"},
		{"Int字段", Int("count", 123), "count"},
		{"Int64字段", Int64("id", int64(456)), "id"},
		{"Bool字段", Bool("active", true), "active"},
		{"Any字段", Any("data", map[string]int{"a": 1}), "data"},
		{"Error字段", Error(errors.New("test error")), "error"},
		{"Duration字段", Duration("took", time.Second), "took"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantKey, tt.field.Key)
			assert.NotNil(t, tt.field.Value)
		})
	}
}

func TestFormatValue(t *testing.T) {
	assert.Equal(t, "plain", formatValue("plain"))
	assert.Equal(t, "boom", formatValue(errors.New("boom")))
	assert.Equal(t, "1.5s", formatValue(1500*time.Millisecond))
	assert.Equal(t, "42", formatValue(42))
}

func TestStdLogger_LevelThreshold(t *testing.T) {
	logger, buf := newBufferedLogger("[orm]")
	ctx := context.Background()

	logger.Debug(ctx, "hidden")
	assert.Empty(t, buf.String(), "默认级别为 Info，Debug 不输出")

	logger.Info(ctx, "shown", String("model", "user"))
	assert.Contains(t, buf.String(), "[INFO] [orm] shown model=user")

	buf.Reset()
	debug := logger.WithLevel(DebugLevel)
	debug.Debug(ctx, "now visible")
	assert.Contains(t, buf.String(), "[DEBUG]")
}

func TestStdLogger_WithFields_Immutable(t *testing.T) {
	base, buf := newBufferedLogger("")
	child := base.WithFields(String("component", "orm.model"))

	base.Warn(context.Background(), "base")
	assert.NotContains(t, buf.String(), "component=")

	buf.Reset()
	child.Warn(context.Background(), "child")
	assert.Contains(t, buf.String(), "child component=orm.model")
}

func TestContextFields(t *testing.T) {
	logger, buf := newBufferedLogger("")
	ctx := ContextWithFields(context.Background(), String("tenant", "acme"))
	ctx = ContextWithFields(ctx, Int64("user_id", 7))

	fields := FieldsFromContext(ctx)
	require.Len(t, fields, 2)

	logger.Error(ctx, "failed", Error(errors.New("x")))
	line := buf.String()
	assert.True(t, strings.Contains(line, "tenant=acme user_id=7 error=x"), line)

	assert.Nil(t, FieldsFromContext(context.Background()))
	assert.Equal(t, ctx, ContextWithFields(ctx))
}

func TestNoopLogger(t *testing.T) {
	var logger Logger = NewNoopLogger()
	logger.Info(context.Background(), "ignored")
	assert.Same(t, logger, logger.WithFields(String("a", "b")))
}

func TestGlobalLogger(t *testing.T) {
	original := GetLogger()
	defer SetLogger(original)

	noop := NewNoopLogger()
	SetLogger(noop)
	assert.Same(t, noop, GetLogger())

	SetLogger(nil)
	_, ok := GetLogger().(*NoopLogger)
	assert.True(t, ok)

	assert.NotNil(t, ComponentLogger("orm"))
}

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]Level{"debug": DebugLevel, " Info ": InfoLevel, "WARNING": WarnLevel, "error": ErrorLevel} {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseLevel("verbose")
	assert.Error(t, err)
	assert.Equal(t, "LEVEL(9)", Level(9).String())
}
