// Package dialect 描述 sqlite、postgres、mysql 在 SQL 生成上的差异
package dialect

import (
	"strconv"
	"strings"

	core "gorecord/storage/database"
)

// Name 标准化的方言名称
type Name string

const (
	NameMySQL    Name = "mysql"
	NameSQLite   Name = "sqlite"
	NamePostgres Name = "postgres"
	NameUnknown  Name = ""
)

// traits 单个方言的能力表
type traits struct {
	quote       string // 标识符引号；为空时不转义
	numbered    bool   // 占位符写作 $1、$2
	returning   bool   // 可依赖 INSERT ... RETURNING 取回主键
	deleteLimit bool
	ilike       bool
	// unique 唯一键冲突错误消息中的关键字（小写）
	unique []string
}

var registry = map[Name]traits{
	NameMySQL: {
		quote:       "`",
		deleteLimit: true,
		unique:      []string{"duplicate entry", "duplicate key"},
	},
	// SQLite 3.35+ 支持 RETURNING，但驱动版本参差不齐，统一走 LastInsertId
	NameSQLite: {
		quote:  `"`,
		unique: []string{"unique constraint failed"},
	},
	NamePostgres: {
		quote:     `"`,
		numbered:  true,
		returning: true,
		ilike:     true,
		unique:    []string{"duplicate key", "unique constraint"},
	},
	NameUnknown: {
		unique: []string{"duplicate key", "unique constraint"},
	},
}

var aliases = map[string]Name{
	"mysql":      NameMySQL,
	"sqlite":     NameSQLite,
	"sqlite3":    NameSQLite,
	"postgres":   NamePostgres,
	"postgresql": NamePostgres,
	"pgx":        NamePostgres,
}

// Dialect 值类型，零值为 Unknown
type Dialect struct {
	name Name
}

// New 按驱动名构造方言，大小写不敏感；无法识别时为 Unknown
func New(name string) Dialect {
	return Dialect{name: aliases[strings.ToLower(strings.TrimSpace(name))]}
}

// Provider 可直接给出方言的数据库实现
type Provider interface {
	Dialect() Dialect
}

// FromDatabase 推断 db 的方言：优先 Provider，其次 core.IDialectNameProvider
func FromDatabase(db core.IDatabase) Dialect {
	switch p := db.(type) {
	case Provider:
		return p.Dialect()
	case core.IDialectNameProvider:
		return New(p.GetDialectName())
	default:
		return Dialect{}
	}
}

func (d Dialect) Name() Name { return d.name }

func (d Dialect) traits() traits { return registry[d.name] }

// QuoteIdentifier 对 table.column 逐段加引号，"*" 段原样保留。
// 段内的引号字符会被双写；不校验标识符语法。
func (d Dialect) QuoteIdentifier(name string) string {
	q := d.traits().quote
	if name == "" || q == "" {
		return name
	}
	parts := strings.Split(name, ".")
	for i, p := range parts {
		if p == "" || p == "*" {
			continue
		}
		parts[i] = q + strings.ReplaceAll(p, q, q+q) + q
	}
	return strings.Join(parts, ".")
}

// Placeholder 第 n 个参数（从 1 开始）的占位符
func (d Dialect) Placeholder(n int) string {
	if d.traits().numbered {
		return "$" + strconv.Itoa(n)
	}
	return "?"
}

// Rebind 把 ? 改写为方言占位符，单引号字面量内的 ? 保持不变
func (d Dialect) Rebind(query string) string {
	if query == "" || !d.traits().numbered {
		return query
	}
	var sb strings.Builder
	sb.Grow(len(query) + 8)
	n := 0
	inLiteral := false
	for i := 0; i < len(query); i++ {
		switch ch := query[i]; {
		case ch == '\'':
			inLiteral = !inLiteral
			sb.WriteByte(ch)
		case ch == '?' && !inLiteral:
			n++
			sb.WriteString(d.Placeholder(n))
		default:
			sb.WriteByte(ch)
		}
	}
	return sb.String()
}

func (d Dialect) SupportsReturning() bool { return d.traits().returning }

func (d Dialect) SupportsDeleteLimit() bool { return d.traits().deleteLimit }

// CaseInsensitiveLike 大小写不敏感匹配片段，column 需已加引号
func (d Dialect) CaseInsensitiveLike(column string, negate bool) string {
	not := ""
	if negate {
		not = "NOT "
	}
	if d.traits().ilike {
		return column + " " + not + "ILIKE ?"
	}
	return "LOWER(" + column + ") " + not + "LIKE LOWER(?)"
}

// IsUniqueViolation 按驱动错误消息识别唯一键或主键冲突
func (d Dialect) IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range d.traits().unique {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
