package orm

import (
	"sync"
	"time"

	"gorecord/data/orm/criteria"
	"gorecord/data/orm/scope"
)

type requestState int

const (
	stateUnexecuted requestState = iota
	stateExecuting
	stateResolved
)

// Request 链式构建的查询。
//
// 构建方法返回同一个 Request；首次执行后再调用构建方法不会生效。
// 并发或重复的 Exec 共享同一次执行结果。
type Request struct {
	model *Model
	err   error

	where      *criteria.Condition
	joins      []Join
	orders     []scope.Order
	limit      *int
	offset     *int
	columns    []string
	distinct   bool
	includes   []scope.Include
	cache      *scope.Cache
	scopes     []scope.Request
	useDefault bool

	mu      sync.Mutex
	state   requestState
	done    chan struct{}
	rows    []map[string]any
	records []*Record
	resErr  error
}

func newRequest(m *Model) *Request {
	return &Request{model: m, useDefault: true}
}

func (r *Request) mutate(fn func()) *Request {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == stateUnexecuted {
		fn()
	}
	return r
}

// Err 构建阶段记录的错误
func (r *Request) Err() error { return r.err }

// Model 目标模型
func (r *Request) Model() *Model { return r.model }

// Where 以 AND 追加条件
func (r *Request) Where(cond *criteria.Condition) *Request {
	return r.mutate(func() {
		r.where = scope.MergeWhere(r.where, cond.Clone())
	})
}

// OrWhere 与已有条件整体取 OR
func (r *Request) OrWhere(cond *criteria.Condition) *Request {
	return r.mutate(func() {
		if cond.IsEmpty() {
			return
		}
		if r.where.IsEmpty() {
			r.where = cond.Clone()
			return
		}
		r.where = criteria.Or(r.where, cond.Clone())
	})
}

// Join 追加连接，table/on 为已转义的片段
func (r *Request) Join(kind, table, on string, args ...any) *Request {
	return r.mutate(func() {
		r.joins = append(r.joins, Join{Kind: kind, Table: table, On: on, Args: args})
	})
}

// OrderBy 追加排序
func (r *Request) OrderBy(orders ...scope.Order) *Request {
	return r.mutate(func() {
		r.orders = append(r.orders, orders...)
	})
}

func (r *Request) Limit(n int) *Request {
	return r.mutate(func() { r.limit = scope.IntPtr(n) })
}

func (r *Request) Offset(n int) *Request {
	return r.mutate(func() { r.offset = scope.IntPtr(n) })
}

// Select 指定投影字段；主键总会被补上以便包装记录
func (r *Request) Select(fields ...string) *Request {
	return r.mutate(func() {
		r.columns = append(r.columns, fields...)
	})
}

func (r *Request) Distinct() *Request {
	return r.mutate(func() { r.distinct = true })
}

// Include 标记关联，执行时校验关联字段是否存在
func (r *Request) Include(relations ...string) *Request {
	return r.mutate(func() {
		incoming := make([]scope.Include, len(relations))
		for i, name := range relations {
			incoming[i] = scope.Include{Relation: name}
		}
		r.includes = scope.MergeIncludes(r.includes, incoming)
	})
}

// Cache 缓存原始结果行，ttl <= 0 时使用仓储默认值
func (r *Request) Cache(ttl time.Duration) *Request {
	return r.mutate(func() {
		if ttl <= 0 {
			ttl = r.model.repo.cfg.DefaultCacheTTL
		}
		r.cache = &scope.Cache{Enabled: true, TTL: ttl}
	})
}

// Unscoped 跳过默认作用域
func (r *Request) Unscoped() *Request {
	return r.mutate(func() { r.useDefault = false })
}

// Scope 按顺序追加命名作用域
func (r *Request) Scope(names ...string) *Request {
	return r.mutate(func() {
		if r.model.scopes == nil && r.err == nil {
			r.err = errNoScopes(r.model.name)
			return
		}
		for _, name := range names {
			r.scopes = append(r.scopes, scope.Named(name))
		}
	})
}

// ScopeWith 追加带参数的作用域
func (r *Request) ScopeWith(name string, args ...any) *Request {
	return r.mutate(func() {
		if r.model.scopes == nil && r.err == nil {
			r.err = errNoScopes(r.model.name)
			return
		}
		r.scopes = append(r.scopes, scope.Named(name, args...))
	})
}

// Executed 是否已执行完成
func (r *Request) Executed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state == stateResolved
}
