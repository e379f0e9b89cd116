// Package logging 结构化日志接口及标准库实现。
//
// ORM 各组件通过 ComponentLogger 取得带 component 字段的 Logger，
// 请求级字段（租户、用户等）经 ContextWithFields 随 context 传入。
package logging

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync/atomic"
	"time"
)

// Level 日志级别
type Level int

const (
	DebugLevel Level = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

var levelNames = [...]string{"DEBUG", "INFO", "WARN", "ERROR"}

func (l Level) String() string {
	if l >= DebugLevel && int(l) < len(levelNames) {
		return levelNames[l]
	}
	return fmt.Sprintf("LEVEL(%d)", int(l))
}

// ParseLevel 解析 debug/info/warn/error，大小写不敏感；warning 视同 warn
func ParseLevel(s string) (Level, error) {
	name := strings.ToUpper(strings.TrimSpace(s))
	if name == "WARNING" {
		name = "WARN"
	}
	for i, n := range levelNames {
		if n == name {
			return Level(i), nil
		}
	}
	return InfoLevel, fmt.Errorf("unknown log level %q", s)
}

// Logger 日志接口
type Logger interface {
	Debug(ctx context.Context, msg string, fields ...Field)
	Info(ctx context.Context, msg string, fields ...Field)
	Warn(ctx context.Context, msg string, fields ...Field)
	Error(ctx context.Context, msg string, fields ...Field)
	// WithFields 返回附加了字段的新 Logger，原 Logger 不变
	WithFields(fields ...Field) Logger
}

// Field 日志字段
type Field struct {
	Key   string
	Value any
}

func String(key, value string) Field      { return Field{Key: key, Value: value} }
func Int(key string, value int) Field     { return Field{Key: key, Value: value} }
func Int64(key string, value int64) Field { return Field{Key: key, Value: value} }
func Bool(key string, value bool) Field   { return Field{Key: key, Value: value} }
func Any(key string, value any) Field     { return Field{Key: key, Value: value} }

// Duration 输出为 time.Duration 的字符串形式
func Duration(key string, value time.Duration) Field { return Field{Key: key, Value: value} }

// Error 以 "error" 为键
func Error(err error) Field { return Field{Key: "error", Value: err} }

type ctxFieldsKey struct{}

// ContextWithFields 把字段附加到 context，StdLogger 输出时自动带上
func ContextWithFields(ctx context.Context, fields ...Field) context.Context {
	if len(fields) == 0 {
		return ctx
	}
	if ctx == nil {
		ctx = context.Background()
	}
	existing := FieldsFromContext(ctx)
	merged := make([]Field, 0, len(existing)+len(fields))
	merged = append(append(merged, existing...), fields...)
	return context.WithValue(ctx, ctxFieldsKey{}, merged)
}

// FieldsFromContext 读取 context 中附加的字段
func FieldsFromContext(ctx context.Context) []Field {
	if ctx == nil {
		return nil
	}
	fields, _ := ctx.Value(ctxFieldsKey{}).([]Field)
	return fields
}

// StdLogger 输出到标准库 *log.Logger，格式为 [LEVEL] prefix msg k=v ...
type StdLogger struct {
	prefix string
	level  Level
	fields []Field
	out    *log.Logger
}

// NewStdLogger 默认输出 Info 及以上级别
func NewStdLogger(prefix string) *StdLogger {
	return &StdLogger{prefix: prefix, level: InfoLevel, out: log.Default()}
}

// WithLevel 返回设置了最低级别的副本
func (l *StdLogger) WithLevel(level Level) *StdLogger {
	cp := *l
	cp.level = level
	return &cp
}

// WithOutput 返回写入 out 的副本
func (l *StdLogger) WithOutput(out *log.Logger) *StdLogger {
	cp := *l
	if out != nil {
		cp.out = out
	}
	return &cp
}

func (l *StdLogger) Debug(ctx context.Context, msg string, fields ...Field) {
	l.emit(ctx, DebugLevel, msg, fields)
}

func (l *StdLogger) Info(ctx context.Context, msg string, fields ...Field) {
	l.emit(ctx, InfoLevel, msg, fields)
}

func (l *StdLogger) Warn(ctx context.Context, msg string, fields ...Field) {
	l.emit(ctx, WarnLevel, msg, fields)
}

func (l *StdLogger) Error(ctx context.Context, msg string, fields ...Field) {
	l.emit(ctx, ErrorLevel, msg, fields)
}

func (l *StdLogger) WithFields(fields ...Field) Logger {
	cp := *l
	cp.fields = append(l.fields[:len(l.fields):len(l.fields)], fields...)
	return &cp
}

func (l *StdLogger) emit(ctx context.Context, level Level, msg string, fields []Field) {
	if level < l.level {
		return
	}
	var sb strings.Builder
	sb.WriteString("[" + level.String() + "] ")
	if l.prefix != "" {
		sb.WriteString(l.prefix + " ")
	}
	sb.WriteString(msg)
	writeFields(&sb, l.fields)
	writeFields(&sb, FieldsFromContext(ctx))
	writeFields(&sb, fields)
	l.out.Println(sb.String())
}

func writeFields(sb *strings.Builder, fields []Field) {
	for _, f := range fields {
		sb.WriteByte(' ')
		sb.WriteString(f.Key)
		sb.WriteByte('=')
		sb.WriteString(formatValue(f.Value))
	}
}

func formatValue(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case error:
		return val.Error()
	case fmt.Stringer:
		return val.String()
	default:
		return fmt.Sprint(val)
	}
}

// NoopLogger 丢弃所有日志
type NoopLogger struct{}

func NewNoopLogger() *NoopLogger { return &NoopLogger{} }

func (l *NoopLogger) Debug(context.Context, string, ...Field) {}
func (l *NoopLogger) Info(context.Context, string, ...Field)  {}
func (l *NoopLogger) Warn(context.Context, string, ...Field)  {}
func (l *NoopLogger) Error(context.Context, string, ...Field) {}
func (l *NoopLogger) WithFields(...Field) Logger              { return l }

var global atomic.Pointer[Logger]

func init() {
	SetLogger(NewStdLogger(""))
}

// SetLogger 替换全局 Logger，nil 表示关闭日志。已取得的 ComponentLogger 不受影响。
func SetLogger(logger Logger) {
	if logger == nil {
		logger = NewNoopLogger()
	}
	global.Store(&logger)
}

func GetLogger() Logger {
	return *global.Load()
}

// ComponentLogger 带 component 字段的全局 Logger
func ComponentLogger(component string) Logger {
	return GetLogger().WithFields(String("component", component))
}
