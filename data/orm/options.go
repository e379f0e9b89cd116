package orm

import (
	"time"

	"gorecord/data/orm/criteria"
	"gorecord/data/orm/scope"
)

// QueryOptions 描述一次查询的可选项，供 Model.Find 一次性构建请求。
type QueryOptions struct {
	Where    []*criteria.Condition
	Filters  map[string]string
	Joins    []Join
	OrderBy  []scope.Order
	Limit    int
	Offset   int
	Select   []string
	Include  []string
	Scopes   []scope.Request
	Unscoped bool
	CacheTTL time.Duration
	Cache    bool
}

// QueryOption 用于配置 QueryOptions。
type QueryOption func(*QueryOptions)

// Join 表示查询关联，Table/On 为已转义的 SQL 片段。
type Join struct {
	Kind  string
	Table string
	On    string
	Args  []any
}

// WithWhere 追加查询条件，多个条件以 AND 合并。
func WithWhere(cond *criteria.Condition) QueryOption {
	return func(opts *QueryOptions) {
		if cond.IsEmpty() {
			return
		}
		opts.Where = append(opts.Where, cond)
	}
}

// WithFilters 按查询参数风格追加过滤（见 criteria.FromFilters），只接受模型上的存储字段。
func WithFilters(filters map[string]string) QueryOption {
	return func(opts *QueryOptions) {
		if len(filters) == 0 {
			return
		}
		if opts.Filters == nil {
			opts.Filters = make(map[string]string, len(filters))
		}
		for k, v := range filters {
			opts.Filters[k] = v
		}
	}
}

// WithJoin 追加 JOIN。
func WithJoin(kind, table, on string, args ...any) QueryOption {
	return func(opts *QueryOptions) {
		if table == "" {
			return
		}
		opts.Joins = append(opts.Joins, Join{Kind: kind, Table: table, On: on, Args: args})
	}
}

// WithOrderBy 追加排序。
func WithOrderBy(column string, desc bool) QueryOption {
	return func(opts *QueryOptions) {
		if column == "" {
			return
		}
		opts.OrderBy = append(opts.OrderBy, scope.Order{Column: column, Desc: desc})
	}
}

// WithLimit 设置查询条数上限。
func WithLimit(limit int) QueryOption {
	return func(opts *QueryOptions) {
		if limit > 0 {
			opts.Limit = limit
		}
	}
}

// WithOffset 设置查询偏移。
func WithOffset(offset int) QueryOption {
	return func(opts *QueryOptions) {
		if offset > 0 {
			opts.Offset = offset
		}
	}
}

// WithSelect 指定返回字段。
func WithSelect(fields ...string) QueryOption {
	return func(opts *QueryOptions) {
		opts.Select = append(opts.Select, fields...)
	}
}

// WithInclude 追加关联标记。
func WithInclude(relations ...string) QueryOption {
	return func(opts *QueryOptions) {
		opts.Include = append(opts.Include, relations...)
	}
}

// WithScope 追加命名作用域。
func WithScope(name string, args ...any) QueryOption {
	return func(opts *QueryOptions) {
		opts.Scopes = append(opts.Scopes, scope.Named(name, args...))
	}
}

// WithUnscoped 跳过默认作用域。
func WithUnscoped() QueryOption {
	return func(opts *QueryOptions) {
		opts.Unscoped = true
	}
}

// WithCache 缓存查询结果，ttl <= 0 时使用仓储默认值。
func WithCache(ttl time.Duration) QueryOption {
	return func(opts *QueryOptions) {
		opts.Cache = true
		opts.CacheTTL = ttl
	}
}

// CollectQueryOptions 聚合 QueryOption。
func CollectQueryOptions(options ...QueryOption) QueryOptions {
	var opts QueryOptions
	for _, opt := range options {
		if opt != nil {
			opt(&opts)
		}
	}
	return opts
}

// Apply 把选项套用到请求上
func (r *Request) Apply(options ...QueryOption) *Request {
	opts := CollectQueryOptions(options...)
	for _, cond := range opts.Where {
		r.Where(cond)
	}
	if len(opts.Filters) > 0 {
		r.Where(criteria.FromFilters(opts.Filters, r.model.filterable))
	}
	for _, j := range opts.Joins {
		r.Join(j.Kind, j.Table, j.On, j.Args...)
	}
	if len(opts.OrderBy) > 0 {
		r.OrderBy(opts.OrderBy...)
	}
	if opts.Limit > 0 {
		r.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		r.Offset(opts.Offset)
	}
	if len(opts.Select) > 0 {
		r.Select(opts.Select...)
	}
	if len(opts.Include) > 0 {
		r.Include(opts.Include...)
	}
	for _, s := range opts.Scopes {
		r.ScopeWith(s.Name, s.Args...)
	}
	if opts.Unscoped {
		r.Unscoped()
	}
	if opts.Cache {
		r.Cache(opts.CacheTTL)
	}
	return r
}
