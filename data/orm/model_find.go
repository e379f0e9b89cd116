package orm

import (
	"context"

	"gorecord/data/orm/criteria"
	"gorecord/errors"
)

// Query 新建空请求；模型无法初始化或为抽象模型时错误随请求返回
func (m *Model) Query() *Request {
	r := newRequest(m)
	r.err = m.ready()
	return r
}

// Where 带条件的请求
func (m *Model) Where(cond *criteria.Condition) *Request {
	return m.Query().Where(cond)
}

// Find 以选项构建请求并执行
func (m *Model) Find(ctx context.Context, opts ...QueryOption) ([]*Record, error) {
	return m.Query().Apply(opts...).All(ctx)
}

// Scope 应用命名作用域；模型未声明任何作用域时请求携带错误
func (m *Model) Scope(names ...string) *Request {
	return m.Query().Scope(names...)
}

// ScopeWith 应用带参数的作用域
func (m *Model) ScopeWith(name string, args ...any) *Request {
	return m.Query().ScopeWith(name, args...)
}

// Unscoped 跳过默认作用域
func (m *Model) Unscoped() *Request {
	return m.Query().Unscoped()
}

// FindByID 按主键查找，不应用默认作用域。身份映射中已就绪的记录直接返回；
// 带鉴别字段的模型总是查询存储，以便路由到最具体的子模型。
func (m *Model) FindByID(ctx context.Context, id any) (*Record, error) {
	if err := m.ready(); err != nil {
		return nil, err
	}
	key, err := m.primary.Deserialize(nil, id)
	if err != nil {
		return nil, err
	}
	if identityKey(key) == nil {
		return nil, errNotFound(m.name, id)
	}
	if m.discriminator == nil {
		if rec := m.Resident(key); rec != nil && rec.IsReady() && !rec.IsDetached() {
			return rec, nil
		}
	}
	rec, err := m.Unscoped().Where(criteria.Eq(m.primary.Name(), key)).First(ctx)
	if errors.IsNotFound(err) {
		return nil, errNotFound(m.name, id)
	}
	return rec, err
}

// FindByPk FindByID 的别名
func (m *Model) FindByPk(ctx context.Context, id any) (*Record, error) {
	return m.FindByID(ctx, id)
}

// FirstWhere 第一条满足条件的记录
func (m *Model) FirstWhere(ctx context.Context, cond *criteria.Condition) (*Record, error) {
	return m.Where(cond).First(ctx)
}

// FindOne 按字段等值匹配第一条记录
func (m *Model) FindOne(ctx context.Context, values map[string]any) (*Record, error) {
	return m.Where(criteria.Match(values)).First(ctx)
}

// Lookup 批量按主键取记录：先取身份映射中已就绪的，其余一次查询补齐；结果保持 ids 顺序，缺失的跳过
func (m *Model) Lookup(ctx context.Context, ids []any) ([]*Record, error) {
	if err := m.ready(); err != nil {
		return nil, err
	}
	keys := make([]any, len(ids))
	for i, id := range ids {
		v, err := m.primary.Deserialize(nil, id)
		if err != nil {
			return nil, err
		}
		keys[i] = identityKey(v)
	}

	found := make(map[any]*Record, len(ids))
	var missing []any
	for _, key := range keys {
		if key == nil {
			continue
		}
		if _, seen := found[key]; seen {
			continue
		}
		if rec := m.Resident(key); rec != nil && rec.IsReady() && !rec.IsDetached() {
			found[key] = rec
			continue
		}
		found[key] = nil
		missing = append(missing, key)
	}

	if len(missing) > 0 {
		records, err := m.Unscoped().Where(criteria.In(m.primary.Name(), missing...)).All(ctx)
		if err != nil {
			return nil, err
		}
		for _, rec := range records {
			found[identityKey(rec.ID())] = rec
		}
	}

	out := make([]*Record, 0, len(ids))
	emitted := make(map[any]bool, len(ids))
	for _, key := range keys {
		if rec := found[key]; rec != nil && !emitted[key] {
			emitted[key] = true
			out = append(out, rec)
		}
	}
	return out, nil
}
