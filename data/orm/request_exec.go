package orm

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"

	"gorecord/data/orm/criteria"
	"gorecord/data/orm/scope"
	"gorecord/errors"
	"gorecord/logging"
	"gorecord/storage/database"
	"gorecord/storage/database/sql"
)

// queryPlan 一次执行的中间状态，作用域函数通过 scope.Query 接口修改它
type queryPlan struct {
	model    *Model
	where    *criteria.Condition
	joins    []Join
	joined   map[string]bool
	orders   []scope.Order
	limit    *int
	offset   *int
	columns  []string
	distinct bool
	includes []scope.Include
	cache    *scope.Cache
}

func (p *queryPlan) ModelName() string { return p.model.name }

func (p *queryPlan) AddWhere(cond *criteria.Condition) {
	p.where = scope.MergeWhere(p.where, cond.Clone())
}

func (p *queryPlan) AddJoin(kind, table, on string, args ...any) {
	p.joins = append(p.joins, Join{Kind: kind, Table: table, On: on, Args: args})
}

func (p *queryPlan) AddOrder(column string, desc bool) {
	p.orders = append(p.orders, scope.Order{Column: column, Desc: desc})
}

// plan 合并作用域并校验关联；不触碰存储
func (r *Request) plan() (*queryPlan, error) {
	if r.err != nil {
		return nil, r.err
	}
	m := r.model
	r.mu.Lock()
	p := &queryPlan{
		model:    m,
		where:    r.where.Clone(),
		joins:    slices.Clone(r.joins),
		joined:   make(map[string]bool),
		orders:   slices.Clone(r.orders),
		limit:    r.limit,
		offset:   r.offset,
		columns:  slices.Clone(r.columns),
		distinct: r.distinct,
		includes: r.includes,
		cache:    r.cache,
	}
	requests := slices.Clone(r.scopes)
	useDefault := r.useDefault
	r.mu.Unlock()

	if m.scopes == nil && len(requests) > 0 {
		return nil, errNoScopes(m.name)
	}
	if m.scopes != nil {
		opts, err := m.scopes.ApplyScopes(p, requests, useDefault)
		if err != nil {
			return nil, err
		}
		p.where = scope.MergeWhere(p.where, opts.Where)
		p.includes = scope.MergeIncludes(p.includes, opts.Include)
		p.orders = append(p.orders, opts.Order...)
		if opts.Limit != nil {
			p.limit = opts.Limit
		}
		if opts.Offset != nil {
			p.offset = opts.Offset
		}
		if opts.Attributes != nil {
			p.columns = opts.Attributes
		}
		if opts.Cache != nil {
			p.cache = opts.Cache
		}
	}

	for _, inc := range p.includes {
		f, ok := m.Field(inc.Relation)
		if !ok {
			return nil, errUnknownField(m.name, inc.Relation)
		}
		if !f.IsRelation() {
			return nil, errors.Newf(errors.ErrCodeSchema, "field %q of model %q is not a relation",
				inc.Relation, m.name)
		}
	}
	p.encodeValues(p.where)
	return p, nil
}

// resolve 字段名到限定列：自身字段、经继承连接的父模型字段，或原样转义的 table.column
func (p *queryPlan) resolve(name string) (string, error) {
	m := p.model
	d := m.repo.dialect
	if f, ok := m.ownField(name); ok && f.IsStored() {
		return sql.Qualify(d, m.table, f.Column()), nil
	}
	if acc, ok := m.accessors[name]; ok && !acc.own && acc.field.IsStored() {
		owner := acc.field.Model()
		p.joinAncestor(owner)
		return sql.Qualify(d, owner.table, acc.field.Column()), nil
	}
	if strings.Contains(name, ".") {
		return d.QuoteIdentifier(name), nil
	}
	return "", errUnknownField(m.name, name)
}

// joinAncestor 按共享主键连接到祖先表
func (p *queryPlan) joinAncestor(ancestor *Model) {
	d := p.model.repo.dialect
	for cur := p.model; cur != nil && cur != ancestor; cur = cur.parent {
		parent := cur.parent
		if parent == nil || p.joined[parent.table] {
			continue
		}
		p.joined[parent.table] = true
		on := sql.Qualify(d, parent.table, parent.primary.Column()) + " = " +
			sql.Qualify(d, cur.table, cur.primary.Column())
		p.joins = append(p.joins, Join{Kind: "INNER", Table: d.QuoteIdentifier(parent.table), On: on})
	}
}

// encodeValues 条件中的值按字段编码为存储格式（时间、JSON 等）
func (p *queryPlan) encodeValues(c *criteria.Condition) {
	if c == nil {
		return
	}
	for _, ch := range c.Children {
		p.encodeValues(ch)
	}
	if c.Field == "" {
		return
	}
	f, ok := p.model.Field(c.Field)
	if !ok {
		return
	}
	if c.Value != nil {
		if v, err := f.Encode(c.Value); err == nil {
			c.Value = v
		}
	}
	for i, v := range c.Values {
		if enc, err := f.Encode(v); err == nil {
			c.Values[i] = enc
		}
	}
}

func (p *queryPlan) compileWhere() (string, []any, error) {
	c := criteria.Compiler{Dialect: p.model.repo.dialect, Resolve: p.resolve}
	return c.Compile(p.where)
}

func (p *queryPlan) orderExprs() ([]string, error) {
	out := make([]string, 0, len(p.orders))
	for _, o := range p.orders {
		col, err := p.resolve(o.Column)
		if err != nil {
			return nil, err
		}
		if o.Desc {
			col += " DESC"
		} else {
			col += " ASC"
		}
		out = append(out, col)
	}
	return out, nil
}

// projection 显式字段（补上主键）；否则缓存模型只取主键，其余取自身全部存储列
func (p *queryPlan) projection() []string {
	m := p.model
	d := m.repo.dialect
	pk := sql.Qualify(d, m.table, m.primary.Column())

	var cols []string
	switch {
	case len(p.columns) > 0:
		for _, name := range p.columns {
			col, err := p.resolve(name)
			if err != nil {
				col = name
			}
			if !slices.Contains(cols, col) {
				cols = append(cols, col)
			}
		}
		if !slices.Contains(cols, pk) {
			cols = append([]string{pk}, cols...)
		}
		return cols
	case m.caches():
		cols = []string{pk}
	default:
		cols = m.qualifiedColumns()
	}
	if m.discriminator != nil && len(m.repo.descendantsOf(m.name)) > 0 {
		if col, err := p.resolve(m.discriminator.Name()); err == nil && !slices.Contains(cols, col) {
			cols = append(cols, col)
		}
	}
	return cols
}

// selectSQL 构建 SELECT；where 与排序先于连接解析，以便收集继承连接
func (p *queryPlan) selectSQL(columns []string, paged bool) (string, []any, error) {
	m := p.model
	whereSQL, whereArgs, err := p.compileWhere()
	if err != nil {
		return "", nil, err
	}
	var orders []string
	if paged {
		if orders, err = p.orderExprs(); err != nil {
			return "", nil, err
		}
	}
	if columns == nil {
		columns = p.projection()
	}

	sb := m.repo.sql.Select(columns...).From(m.repo.dialect.QuoteIdentifier(m.table))
	if paged && (p.distinct || len(p.joins) > 0) {
		sb = sb.Distinct()
	}
	sb = p.applyJoins(sb)
	sb = sb.Where(whereSQL, whereArgs...)
	if paged {
		sb = sb.OrderBy(orders...)
		if p.limit != nil && *p.limit > 0 {
			sb = sb.Limit(*p.limit)
		}
		if p.offset != nil && *p.offset > 0 {
			sb = sb.Offset(*p.offset)
		}
	}
	q, args := sb.Build()
	return q, args, nil
}

func (p *queryPlan) applyJoins(sb sql.ISelectBuilder) sql.ISelectBuilder {
	for _, j := range p.joins {
		sb = sb.Join(j.Kind, j.Table, j.On, j.Args...)
	}
	return sb
}

func (p *queryPlan) cacheTTL() (time.Duration, bool) {
	m := p.model
	if p.cache == nil || !p.cache.Enabled || !m.repo.caps.Supports(CapabilityCache) {
		return 0, false
	}
	ttl := p.cache.TTL
	if ttl <= 0 {
		ttl = m.repo.cfg.DefaultCacheTTL
	}
	return ttl, true
}

func queryKey(model, query string, args []any) string {
	h := xxhash.New()
	_, _ = h.WriteString(query)
	for _, a := range args {
		_, _ = h.WriteString(fmt.Sprintf("\x00%T:%v", a, a))
	}
	return fmt.Sprintf("%s:query:%016x", model, h.Sum64())
}

// run 单次执行守卫：首个调用者执行，其余等待同一结果
func (r *Request) run(ctx context.Context) ([]map[string]any, []*Record, error) {
	r.mu.Lock()
	switch r.state {
	case stateResolved:
		r.mu.Unlock()
		return r.rows, r.records, r.resErr
	case stateExecuting:
		done := r.done
		r.mu.Unlock()
		select {
		case <-done:
			return r.rows, r.records, r.resErr
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		}
	}
	r.state = stateExecuting
	r.done = make(chan struct{})
	r.mu.Unlock()

	rows, records, err := r.execute(ctx)

	r.mu.Lock()
	r.rows, r.records, r.resErr = rows, records, err
	r.state = stateResolved
	close(r.done)
	r.mu.Unlock()
	return rows, records, err
}

func (r *Request) execute(ctx context.Context) ([]map[string]any, []*Record, error) {
	p, err := r.plan()
	if err != nil {
		return nil, nil, err
	}
	m := r.model
	query, args, err := p.selectSQL(nil, true)
	if err != nil {
		return nil, nil, err
	}

	ttl, cached := p.cacheTTL()
	key := ""
	var rows []map[string]any
	hit := false
	if cached {
		key = queryKey(m.name, query, args)
		raw, ok, cerr := m.repo.cache.Get(ctx, key, m.marker())
		switch {
		case cerr != nil:
			m.logger.Warn(ctx, "query cache read failed", logging.Error(cerr))
		case ok:
			hit = json.Unmarshal(raw, &rows) == nil
		}
	}

	if !hit {
		res, err := m.repo.db.Query(ctx, query, args...)
		if err != nil {
			return nil, nil, m.storeErr(ctx, err, "query "+m.name)
		}
		if rows, err = database.ScanMaps(res); err != nil {
			return nil, nil, m.storeErr(ctx, err, "query "+m.name)
		}
		if cached {
			if payload, err := json.Marshal(rows); err == nil {
				if _, err := m.repo.cache.Set(ctx, key, payload, ttl, m.name); err != nil {
					m.logger.Warn(ctx, "query cache write failed", logging.Error(err))
				}
			}
		}
	}
	m.logger.Debug(ctx, "query executed",
		logging.String("sql", query),
		logging.Int("rows", len(rows)),
		logging.Bool("cache_hit", hit))

	records := make([]*Record, 0, len(rows))
	for _, row := range rows {
		rec, err := m.Allocate(row)
		if err != nil {
			return nil, nil, err
		}
		if err := rec.Ready(ctx); err != nil {
			return nil, nil, err
		}
		if rec.ID() == nil {
			continue
		}
		records = append(records, rec)
	}
	return rows, records, nil
}

// Exec 执行并返回记录
func (r *Request) Exec(ctx context.Context) ([]*Record, error) {
	_, records, err := r.run(ctx)
	return records, err
}

// All Exec 的别名
func (r *Request) All(ctx context.Context) ([]*Record, error) { return r.Exec(ctx) }

// Rows 执行并返回原始行
func (r *Request) Rows(ctx context.Context) ([]map[string]any, error) {
	rows, _, err := r.run(ctx)
	return rows, err
}

// First 未设置 Limit 时限制为 1 行；无结果返回 NotFound
func (r *Request) First(ctx context.Context) (*Record, error) {
	r.mutate(func() {
		if r.limit == nil {
			r.limit = scope.IntPtr(1)
		}
	})
	records, err := r.Exec(ctx)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, errors.Newf(errors.ErrCodeNotFound, "no %s record matches the query", r.model.name).
			With("model", r.model.name)
	}
	return records[0], nil
}

// Count 按当前条件计数，忽略排序与分页，不占用执行守卫
func (r *Request) Count(ctx context.Context) (int64, error) {
	p, err := r.plan()
	if err != nil {
		return 0, err
	}
	m := r.model
	d := m.repo.dialect
	// 先编译条件以收集继承连接
	if _, _, err := p.compileWhere(); err != nil {
		return 0, err
	}
	expr := "COUNT(*)"
	if len(p.joins) > 0 || p.distinct {
		expr = "COUNT(DISTINCT " + sql.Qualify(d, m.table, m.primary.Column()) + ")"
	}
	query, args, err := p.selectSQL([]string{expr}, false)
	if err != nil {
		return 0, err
	}
	var n int64
	if err := m.repo.db.QueryRow(ctx, query, args...).Scan(&n); err != nil {
		return 0, m.storeErr(ctx, err, "count "+m.name)
	}
	return n, nil
}

// Update 批量更新匹配行，返回受影响行数。不支持连接；驻留记录不会被同步，只推进失效标记。
func (r *Request) Update(ctx context.Context, values map[string]any) (int64, error) {
	whereSQL, whereArgs, err := r.bulkWhere()
	if err != nil {
		return 0, err
	}
	m := r.model
	payload := make(map[string]any, len(values))
	for name, v := range values {
		f, ok := m.ownField(name)
		if !ok || !f.IsStored() {
			return 0, errUnknownField(m.name, name)
		}
		enc, err := f.Encode(v)
		if err != nil {
			return 0, err
		}
		payload[f.Column()] = enc
	}
	if len(payload) == 0 {
		return 0, nil
	}
	n, err := m.repo.sql.Update(m.table).SetMap(payload).Where(whereSQL, whereArgs...).Affected(ctx)
	if err != nil {
		return 0, m.storeErr(ctx, err, "bulk update "+m.name)
	}
	m.invalidate()
	return n, nil
}

// Delete 批量删除匹配行，返回受影响行数。不执行钩子，不级联父表。
func (r *Request) Delete(ctx context.Context) (int64, error) {
	whereSQL, whereArgs, err := r.bulkWhere()
	if err != nil {
		return 0, err
	}
	m := r.model
	n, err := m.repo.sql.DeleteFrom(m.table).Where(whereSQL, whereArgs...).Affected(ctx)
	if err != nil {
		return 0, m.storeErr(ctx, err, "bulk delete "+m.name)
	}
	m.invalidate()
	return n, nil
}

// bulkWhere 批量写只接受本表条件
func (r *Request) bulkWhere() (string, []any, error) {
	p, err := r.plan()
	if err != nil {
		return "", nil, err
	}
	whereSQL, whereArgs, err := p.compileWhere()
	if err != nil {
		return "", nil, err
	}
	if len(p.joins) > 0 {
		return "", nil, errors.Newf(errors.ErrCodeUnsupported,
			"bulk writes on model %q cannot use joins or inherited fields", r.model.name)
	}
	return whereSQL, whereArgs, nil
}

// SQL 返回将要执行的 SELECT 语句与参数
func (r *Request) SQL() (string, []any, error) {
	p, err := r.plan()
	if err != nil {
		return "", nil, err
	}
	return p.selectSQL(nil, true)
}

func (r *Request) String() string {
	q, args, err := r.SQL()
	if err != nil {
		return "<invalid request: " + err.Error() + ">"
	}
	return fmt.Sprintf("%s %v", q, args)
}
