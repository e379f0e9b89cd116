package orm

import (
	"context"
	"maps"
	"reflect"
	"sort"
	"sync"

	"gorecord/errors"
)

// Record 一行活动记录。
//
// data 保存已持久化/已反序列化的值，changes 保存尚未刷新的修改；
// 继承模型的记录独占其 parent 记录，二者主键始终一致。
// 同一条记录不应被多个 goroutine 同时修改。
type Record struct {
	owner  *Model
	parent *Record

	mu       sync.RWMutex
	data     map[string]any
	changes  map[string]any
	related  map[string]any
	pending  bool
	detached bool

	hydrateMu sync.Mutex
}

func newRecord(m *Model) *Record {
	return &Record{
		owner:   m,
		data:    make(map[string]any),
		changes: make(map[string]any),
		related: make(map[string]any),
	}
}

// Model 所属模型；Unlink 之后返回 nil
func (r *Record) Model() *Model {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.detached {
		return nil
	}
	return r.owner
}

// ModelName 所属模型名（分离后仍可用）
func (r *Record) ModelName() string { return r.owner.name }

// Parent 继承链上的父记录
func (r *Record) Parent() *Record { return r.parent }

// IsDetached 是否已 Unlink
func (r *Record) IsDetached() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.detached
}

// ID 主键值，未分配时为 nil
func (r *Record) ID() any {
	v, _ := r.value(r.owner.primary.Name())
	return v
}

// value 读取本记录自身的字段值，未提交修改优先
func (r *Record) value(name string) (any, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if v, ok := r.changes[name]; ok {
		return v, true
	}
	v, ok := r.data[name]
	return v, ok
}

// Get 读取字段（含转发到父记录的字段），未声明的字段返回 nil
func (r *Record) Get(name string) any {
	acc, ok := r.owner.accessors[name]
	if !ok {
		return nil
	}
	v, _ := acc.get(r)
	return v
}

// Set 赋值并进入脏跟踪
func (r *Record) Set(name string, value any) error {
	acc, ok := r.owner.accessors[name]
	if !ok {
		return errUnknownField(r.owner.name, name)
	}
	return acc.set(r, value)
}

func (r *Record) setLocal(f Field, raw any) error {
	v, err := f.Deserialize(r, raw)
	if err != nil {
		return err
	}
	name := f.Name()

	r.mu.Lock()
	defer r.mu.Unlock()
	if f.IsPrimary() {
		if cur, ok := r.data[name]; ok && cur != nil {
			if identityKey(cur) == identityKey(v) {
				return nil
			}
			return errors.Newf(errors.ErrCodeSchema, "primary key %q of model %q is immutable",
				name, r.owner.name)
		}
	}
	if cur, ok := r.data[name]; ok && reflect.DeepEqual(cur, v) {
		delete(r.changes, name)
	} else {
		r.changes[name] = v
	}
	delete(r.related, name)
	return nil
}

// IsChanged 无主键的新记录视为全部字段已修改
func (r *Record) IsChanged(name string) bool {
	if r.ID() == nil {
		return true
	}
	acc, ok := r.owner.accessors[name]
	if ok && !acc.own && r.parent != nil {
		return r.parent.IsChanged(name)
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, changed := r.changes[name]
	return changed
}

// IsDirty 自身或父记录存在未刷新的修改
func (r *Record) IsDirty() bool {
	r.mu.RLock()
	dirty := len(r.changes) > 0
	r.mu.RUnlock()
	if dirty {
		return true
	}
	return r.parent != nil && r.parent.IsDirty()
}

// Changes 自身未刷新修改的副本
func (r *Record) Changes() map[string]any {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return maps.Clone(r.changes)
}

func (r *Record) hasChange(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.changes[name]
	return ok
}

// reconcile 修改并入 data 并清空
func (r *Record) reconcile() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k, v := range r.changes {
		r.data[k] = v
	}
	r.changes = make(map[string]any)
}

// Sync 合并外部数据：先同步父记录；字段名优先于列名；已设置的主键不再覆盖；
// 被覆盖的字段丢弃其未提交修改。
func (r *Record) Sync(data map[string]any) error {
	if r.parent != nil {
		if err := r.parent.Sync(data); err != nil {
			return err
		}
	}
	return r.syncOwn(data)
}

func (r *Record) syncOwn(data map[string]any) error {
	m := r.owner
	updates := make(map[string]any, len(m.fields))
	for _, f := range m.fields {
		raw, ok := pick(data, f)
		if !ok {
			continue
		}
		v, err := f.Deserialize(r, raw)
		if err != nil {
			return err
		}
		updates[f.Name()] = v
	}

	pk := m.primary.Name()
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, v := range updates {
		if name == pk {
			if cur, ok := r.data[pk]; ok && cur != nil {
				continue
			}
		}
		r.data[name] = v
		delete(r.changes, name)
		delete(r.related, name)
	}
	if r.pending && r.completeLocked() {
		r.pending = false
	}
	return nil
}

// completeLocked 自身全部存储字段均已有值
func (r *Record) completeLocked() bool {
	for _, f := range r.owner.fields {
		if !f.IsStored() {
			continue
		}
		if _, ok := r.data[f.Name()]; !ok {
			return false
		}
	}
	return true
}

// pick 从外部数据中取字段值，字段名优先于列名
func pick(data map[string]any, f Field) (any, bool) {
	if v, ok := data[f.Name()]; ok {
		return v, true
	}
	if f.Column() != f.Name() {
		v, ok := data[f.Column()]
		return v, ok
	}
	return nil, false
}

func (r *Record) markReady() {
	r.mu.Lock()
	r.pending = false
	r.mu.Unlock()
}

// IsReady 是否已完成水合（含父记录）
func (r *Record) IsReady() bool {
	r.mu.RLock()
	pending := r.pending
	r.mu.RUnlock()
	if pending {
		return false
	}
	return r.parent == nil || r.parent.IsReady()
}

// Ready 完成延迟水合。按主键查不到时记录仍就绪，但主键被清空并移出身份映射。
func (r *Record) Ready(ctx context.Context) error {
	r.hydrateMu.Lock()
	r.mu.RLock()
	pending := r.pending
	r.mu.RUnlock()
	if pending {
		if err := r.owner.hydrate(ctx, r); err != nil {
			r.hydrateMu.Unlock()
			return err
		}
	}
	r.hydrateMu.Unlock()

	if r.parent != nil && r.ID() != nil {
		return r.parent.Ready(ctx)
	}
	return nil
}

// softMiss 过期的主键引用：整条继承链清空主键并移出身份映射
func (r *Record) softMiss() {
	id := r.ID()
	r.owner.untrack(r, id)
	for cur := r; cur != nil; cur = cur.parent {
		pk := cur.owner.primary.Name()
		cur.mu.Lock()
		delete(cur.data, pk)
		delete(cur.changes, pk)
		cur.pending = false
		cur.mu.Unlock()
	}
}

// setKey 为继承链上尚未分配主键的记录写入共享主键
func (r *Record) setKey(id any) error {
	for cur := r; cur != nil; cur = cur.parent {
		pk := cur.owner.primary
		v, err := pk.Deserialize(cur, id)
		if err != nil {
			return err
		}
		cur.mu.Lock()
		if existing, ok := cur.data[pk.Name()]; !ok || existing == nil {
			cur.data[pk.Name()] = v
		}
		delete(cur.changes, pk.Name())
		cur.mu.Unlock()
	}
	return nil
}

// snapshot 供约束表达式使用的当前值（含父记录）
func (r *Record) snapshot() map[string]any {
	out := make(map[string]any)
	if r.parent != nil {
		maps.Copy(out, r.parent.snapshot())
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	maps.Copy(out, r.data)
	maps.Copy(out, r.changes)
	return out
}

// ToJSON 包含父记录字段的快照，父记录先合并、自身字段覆盖
func (r *Record) ToJSON() map[string]any {
	out := make(map[string]any)
	if r.parent != nil {
		maps.Copy(out, r.parent.ToJSON())
	}
	maps.Copy(out, r.ToRawJSON())
	return out
}

// ToRawJSON 仅本记录自身字段
func (r *Record) ToRawJSON() map[string]any {
	out := make(map[string]any, len(r.owner.fields))
	for _, f := range r.owner.fields {
		if v, ok := f.ToJSON(r); ok {
			out[f.Name()] = v
		}
	}
	return out
}

// GetContext 读取所属仓储的上下文值
func (r *Record) GetContext(key string, def any) any {
	return r.owner.repo.GetContext(key, def)
}

// SetContext 写入所属仓储的上下文值
func (r *Record) SetContext(key string, value any) {
	r.owner.repo.SetContext(key, value)
}

// Related 首次访问时加载关系并缓存结果；字段被重新赋值或同步后失效
func (r *Record) Related(ctx context.Context, name string) (any, error) {
	acc, ok := r.owner.accessors[name]
	if !ok {
		return nil, errUnknownField(r.owner.name, name)
	}
	if !acc.own {
		if r.parent == nil {
			return nil, errUnknownField(r.owner.name, name)
		}
		return r.parent.Related(ctx, name)
	}
	rf, ok := acc.field.(*relationField)
	if !ok {
		return nil, errors.Newf(errors.ErrCodeSchema, "field %q of model %q is not a relation",
			name, r.owner.name)
	}

	r.mu.RLock()
	cached, hit := r.related[name]
	r.mu.RUnlock()
	if hit {
		return cached, nil
	}

	loaded, err := rf.load(ctx, r)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.related[name] = loaded
	r.mu.Unlock()
	return loaded, nil
}

// Call 调用折叠到模型上的命名方法
func (r *Record) Call(ctx context.Context, name string, args ...any) (any, error) {
	fn, ok := r.owner.methods[name]
	if !ok {
		return nil, errors.Newf(errors.ErrCodeSchema, "method %q is not defined on model %q",
			name, r.owner.name)
	}
	return fn(ctx, r, args...)
}

// FieldNames 可访问的全部字段名（排序，含父模型字段）
func (r *Record) FieldNames() []string {
	names := make([]string, 0, len(r.owner.accessors))
	for name := range r.owner.accessors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
