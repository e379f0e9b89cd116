package sql

import (
	"fmt"
	"strings"

	"gorecord/storage/database/dialect"
)

// IsIdentifier 表名或列名是否可以安全地拼进 SQL：
// 按点分段，每段以字母或下划线开头，其后只含字母、数字、下划线。
func IsIdentifier(name string) bool {
	if name == "" {
		return false
	}
	for _, part := range strings.Split(name, ".") {
		if !isIdentPart(part) {
			return false
		}
	}
	return true
}

func isIdentPart(part string) bool {
	if part == "" {
		return false
	}
	for i := 0; i < len(part); i++ {
		ch := part[i]
		switch {
		case ch == '_', ch >= 'a' && ch <= 'z', ch >= 'A' && ch <= 'Z':
		case i > 0 && ch >= '0' && ch <= '9':
		default:
			return false
		}
	}
	return true
}

// CheckIdentifier 不合法时返回带 kind（table/column）的错误
func CheckIdentifier(kind, name string) error {
	if IsIdentifier(name) {
		return nil
	}
	return fmt.Errorf("unsafe %s name %q", kind, name)
}

// Qualify 拼接 table.column 并按方言转义；table 为空时只转义列
func Qualify(d dialect.Dialect, table, column string) string {
	if table == "" {
		return d.QuoteIdentifier(column)
	}
	return d.QuoteIdentifier(table + "." + column)
}

// quoteColumns 校验并转义一组列名
func quoteColumns(d dialect.Dialect, kind string, cols []string) ([]string, error) {
	quoted := make([]string, len(cols))
	for i, col := range cols {
		if err := CheckIdentifier(kind, col); err != nil {
			return nil, err
		}
		quoted[i] = d.QuoteIdentifier(col)
	}
	return quoted, nil
}
