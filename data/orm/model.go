package orm

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"gorecord/data/orm/scope"
	"gorecord/errors"
	"gorecord/logging"
)

// accessor 由模式生成的字段读写函数；父模型独有的字段生成为转发到 parent 记录的访问器
type accessor struct {
	field Field
	own   bool
	get   func(r *Record) (any, bool)
	set   func(r *Record, v any) error
}

// Model 单个实体的运行时模式。首次使用时按注册历史惰性初始化，
// 同名再次注册会重置初始化标记并清空身份映射。
type Model struct {
	repo   *Repository
	name   string
	logger logging.Logger

	mu          sync.Mutex
	initialized bool

	table                 string
	abstract              bool
	parent                *Model
	fields                []Field
	byName                map[string]Field
	byColumn              map[string]Field
	primary               Field
	discriminator         *referenceField
	declaredDiscriminator bool
	accessors             map[string]accessor
	mixins                []string
	hooks                 []Hooks
	methods               map[string]Method
	scopes                *scope.Builder
	cacheTTL              time.Duration
	invalidateOnWrite     bool

	// entities 身份映射：主键 -> 最具体子类型的记录
	entities      map[any]*Record
	invalidatedAt time.Time
	listeners     map[string][]Listener
}

func newModel(repo *Repository, name string) *Model {
	return &Model{
		repo: repo,
		name: name,
		logger: repo.baseLogger.WithFields(
			logging.String("component", "orm.model"),
			logging.String("model", name),
		),
		entities:  make(map[any]*Record),
		listeners: make(map[string][]Listener),
	}
}

// Name 模型名
func (m *Model) Name() string { return m.name }

// Table 存储表名
func (m *Model) Table() string { return m.table }

// Parent 继承的父模型，未继承时为 nil
func (m *Model) Parent() *Model { return m.parent }

// IsAbstract 抽象模型不可查询或实例化
func (m *Model) IsAbstract() bool { return m.abstract }

// Fields 本模型自身声明的字段（不含父模型字段），按声明顺序
func (m *Model) Fields() []Field { return append([]Field(nil), m.fields...) }

// Field 按名称查找字段，包含可经由转发访问的父模型字段
func (m *Model) Field(name string) (Field, bool) {
	acc, ok := m.accessors[name]
	if !ok {
		return nil, false
	}
	return acc.field, true
}

// filterable 外部过滤参数只能作用于已声明的存储字段
func (m *Model) filterable(name string) bool {
	if m.ready() != nil {
		return false
	}
	f, ok := m.Field(name)
	return ok && f.IsStored() && !f.IsRelation()
}

// Primary 主键字段
func (m *Model) Primary() Field { return m.primary }

// Discriminator 继承链共享的鉴别字段，可能声明在祖先模型上
func (m *Model) Discriminator() Field {
	if m.discriminator == nil {
		return nil
	}
	return m.discriminator
}

// Mixins 生效的混入名，包含从父模型继承的混入
func (m *Model) Mixins() []string { return append([]string(nil), m.mixins...) }

// Scopes 作用域构建器，未声明任何作用域时为 nil
func (m *Model) Scopes() *scope.Builder { return m.scopes }

// Init 强制初始化
func (m *Model) Init() error { return m.ensureInit() }

func (m *Model) ensureInit() error {
	m.mu.Lock()
	if m.initialized {
		m.mu.Unlock()
		return nil
	}
	err := m.build()
	if err == nil {
		m.initialized = true
	}
	m.mu.Unlock()
	if err != nil {
		m.logger.Error(context.Background(), "model init failed", logging.Error(err))
		return err
	}
	m.logger.Debug(context.Background(), "model initialized",
		logging.Int("fields", len(m.fields)),
		logging.Bool("caches", m.caches()))
	return m.emit(context.Background(), EventInit, nil)
}

// reset 扩展注册后需要完整重建
func (m *Model) reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.initialized = false
	m.entities = make(map[any]*Record)
}

func (m *Model) checkAbstract() error {
	if m.abstract {
		return errAbstract(m.name)
	}
	return nil
}

// ready 初始化并拒绝抽象模型，公开入口统一调用
func (m *Model) ready() error {
	if err := m.ensureInit(); err != nil {
		return err
	}
	return m.checkAbstract()
}

func (m *Model) caches() bool {
	return m.cacheTTL > 0 && m.repo.caps.Supports(CapabilityCache)
}

// descendsFrom 是否为 ancestor 的（间接）子模型
func (m *Model) descendsFrom(ancestor *Model) bool {
	for p := m.parent; p != nil; p = p.parent {
		if p == ancestor {
			return true
		}
	}
	return false
}

// ownField 本模型字段，字段名优先于列名
func (m *Model) ownField(key string) (Field, bool) {
	if f, ok := m.byName[key]; ok {
		return f, true
	}
	f, ok := m.byColumn[key]
	return f, ok
}

func (m *Model) storedFields() []Field {
	out := make([]Field, 0, len(m.fields))
	for _, f := range m.fields {
		if f.IsStored() {
			out = append(out, f)
		}
	}
	return out
}

// Resident 返回身份映射中的记录
func (m *Model) Resident(id any) *Record {
	key := identityKey(id)
	if key == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.entities[key]
}

// track 在本模型及所有祖先模型的身份映射中登记
func (m *Model) track(rec *Record) {
	key := identityKey(rec.ID())
	if key == nil {
		return
	}
	for cur := m; cur != nil; cur = cur.parent {
		cur.mu.Lock()
		cur.entities[key] = rec
		cur.mu.Unlock()
	}
}

func (m *Model) untrack(rec *Record, id any) {
	key := identityKey(id)
	if key == nil {
		return
	}
	for cur := m; cur != nil; cur = cur.parent {
		cur.mu.Lock()
		if cur.entities[key] == rec {
			delete(cur.entities, key)
		}
		cur.mu.Unlock()
	}
}

// marker 事务内取本模型与外层同名模型中较晚的失效标记
func (m *Model) marker() time.Time {
	m.mu.Lock()
	at := m.invalidatedAt
	m.mu.Unlock()
	if outer := m.repo.outer; outer != nil {
		if om := outer.existingModel(m.name); om != nil {
			if o := om.marker(); o.After(at) {
				at = o
			}
		}
	}
	return at
}

// invalidate 推进失效标记：标记之前写入的缓存条目全部视为未命中
func (m *Model) invalidate() {
	m.mu.Lock()
	m.invalidatedAt = time.Now()
	m.mu.Unlock()
	m.repo.noteInvalidated(m.name)
}

// InvalidateCache 推进失效标记并按模型标签清除缓存
func (m *Model) InvalidateCache(ctx context.Context) error {
	m.invalidate()
	if !m.caches() {
		return nil
	}
	return m.repo.cache.InvalidateTags(ctx, m.name)
}

func (m *Model) recordKey(id any) string {
	return fmt.Sprintf("%s:record:%v", m.name, identityKey(id))
}

func (m *Model) runHooks(ctx context.Context, rec *Record, pick func(Hooks) HookFunc) error {
	for _, h := range m.hooks {
		if fn := pick(h); fn != nil {
			if err := fn(ctx, rec); err != nil {
				return err
			}
		}
	}
	return nil
}

func hookPreCreate(h Hooks) HookFunc   { return h.PreCreate }
func hookPostCreate(h Hooks) HookFunc  { return h.PostCreate }
func hookPreUpdate(h Hooks) HookFunc   { return h.PreUpdate }
func hookPostUpdate(h Hooks) HookFunc  { return h.PostUpdate }
func hookPreUnlink(h Hooks) HookFunc   { return h.PreUnlink }
func hookPostUnlink(h Hooks) HookFunc  { return h.PostUnlink }
func hookPreValidate(h Hooks) HookFunc { return h.PreValidate }

// MethodNames 已折叠的方法名（排序）
func (m *Model) MethodNames() []string {
	names := make([]string, 0, len(m.methods))
	for name := range m.methods {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// storeErr 规范化存储层错误，非预期的数据库错误记警告
func (m *Model) storeErr(ctx context.Context, err error, op string) error {
	return errors.WrapDatabaseError(ctx, m.logger, err, op, m.repo.dialect.IsUniqueViolation)
}
