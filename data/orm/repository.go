package orm

import (
	"context"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"gorecord/cache"
	"gorecord/errors"
	"gorecord/logging"
	"gorecord/messaging"
	"gorecord/patterns/retry"
	"gorecord/storage/database"
	"gorecord/storage/database/dialect"
	"gorecord/storage/database/sql"
)

// DefaultQueryCacheTTL Request.Cache(0) 使用的默认时长
const DefaultQueryCacheTTL = 5 * time.Second

// Config 仓储配置
type Config struct {
	DB        database.IDatabase
	Cache     cache.Store
	Transport messaging.Transport
	Logger    logging.Logger

	// InferDiscriminator 行数据缺少鉴别值时按子模型独有字段推断类型
	InferDiscriminator bool
	DefaultCacheTTL    time.Duration

	// PublishRetry 事件发布失败时的重试策略，零值使用 retry.DefaultConfig
	PublishRetry retry.Config
}

// Option 配置函数
type Option func(*Config)

func WithCacheStore(store cache.Store) Option {
	return func(c *Config) { c.Cache = store }
}

func WithTransport(t messaging.Transport) Option {
	return func(c *Config) { c.Transport = t }
}

func WithLogger(l logging.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

func WithDiscriminatorInference() Option {
	return func(c *Config) { c.InferDiscriminator = true }
}

func WithDefaultCacheTTL(ttl time.Duration) Option {
	return func(c *Config) { c.DefaultCacheTTL = ttl }
}

func WithPublishRetry(rc retry.Config) Option {
	return func(c *Config) { c.PublishRetry = rc }
}

// deferredWrite 事务内推迟到提交之后的缓存写入或移出身份映射
type deferredWrite struct {
	rec    *Record
	model  string
	id     any
	unlink bool
}

// Repository 模型注册表与运行时上下文。
//
// 同名定义可多次注册，后注册的作为扩展折叠进同一模型；
// 模型在首次使用时初始化。
type Repository struct {
	cfg        Config
	db         database.IDatabase
	sql        sql.ISql
	dialect    dialect.Dialect
	cache      cache.Store
	bus        *messaging.MessageBus
	baseLogger logging.Logger
	caps       Capabilities

	mu     sync.RWMutex
	defs   map[string][]Definition
	order  []string
	models map[string]*Model

	ctxMu  sync.RWMutex
	values map[string]any

	// 以下仅事务仓储使用
	outer       *Repository
	txMu        sync.Mutex
	deferred    []deferredWrite
	outbox      []messaging.IMessage
	invalidated map[string]bool
}

// New 创建仓储
func New(cfg Config, opts ...Option) (*Repository, error) {
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if cfg.DB == nil {
		return nil, errors.NewError(errors.ErrCodeInvalidInput, "orm: database is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.ComponentLogger("orm")
	}
	if cfg.DefaultCacheTTL <= 0 {
		cfg.DefaultCacheTTL = DefaultQueryCacheTTL
	}
	if cfg.PublishRetry.IsZero() {
		cfg.PublishRetry = retry.DefaultConfig()
	}

	r := &Repository{
		cfg:        cfg,
		db:         cfg.DB,
		sql:        sql.New(cfg.DB),
		baseLogger: cfg.Logger,
		defs:       make(map[string][]Definition),
		models:     make(map[string]*Model),
		values:     make(map[string]any),
	}
	r.dialect = r.sql.Dialect()
	r.caps = detectCapabilities(cfg, r.dialect)

	r.cache = cfg.Cache
	if r.cache == nil {
		r.cache = cache.NewNoopStore()
	}
	if cfg.Transport != nil {
		r.bus = messaging.NewMessageBus(cfg.Transport)
		r.bus.Use(messaging.MetadataMiddleware(contextMetadata))
	}
	r.baseLogger.Debug(context.Background(), "repository created",
		logging.String("dialect", string(r.dialect.Name())),
		logging.String("capabilities", r.caps.String()))
	return r, nil
}

// Capabilities 当前启用的能力
func (r *Repository) Capabilities() Capabilities { return maps.Clone(r.caps) }

// Dialect 推断出的方言
func (r *Repository) Dialect() dialect.Dialect { return r.dialect }

// DB 底层数据库（事务仓储返回事务本身）
func (r *Repository) DB() database.IDatabase { return r.db }

// Register 注册模型定义；同名再次注册为扩展，受影响的模型会在下次使用时重建
func (r *Repository) Register(defs ...Definition) error {
	for _, d := range defs {
		if err := r.register(d); err != nil {
			return err
		}
	}
	return nil
}

func (r *Repository) register(d Definition) error {
	if strings.TrimSpace(d.Name) == "" {
		return errors.NewError(errors.ErrCodeRegistration, "model definition requires a name")
	}
	if d.Inherits == d.Name {
		return errors.Newf(errors.ErrCodeRegistration, "model %q cannot inherit from itself", d.Name).
			With("model", d.Name)
	}

	r.mu.Lock()
	prev := r.defs[d.Name]
	if d.Inherits != "" {
		if parent := parentOf(prev); parent != "" && parent != d.Inherits {
			r.mu.Unlock()
			return errors.Newf(errors.ErrCodeRegistration,
				"model %q already inherits from %q and cannot inherit from %q", d.Name, parent, d.Inherits).
				With("model", d.Name)
		}
	}
	if len(prev) == 0 {
		r.order = append(r.order, d.Name)
	}
	r.defs[d.Name] = append(prev, d)
	affected := r.affectedLocked(d.Name)
	models := make([]*Model, 0, len(affected))
	for _, name := range affected {
		if m, ok := r.models[name]; ok {
			models = append(models, m)
		}
	}
	r.mu.Unlock()

	for _, m := range models {
		m.reset()
	}
	r.baseLogger.Debug(context.Background(), "model registered",
		logging.String("model", d.Name),
		logging.Int("extensions", len(prev)))
	return nil
}

func parentOf(defs []Definition) string {
	parent := ""
	for _, d := range defs {
		if d.Inherits != "" {
			parent = d.Inherits
		}
	}
	return parent
}

// affectedLocked 需要重建的模型：所在继承树的全部成员，以及（间接）混入它的模型及其后代
func (r *Repository) affectedLocked(name string) []string {
	seen := make(map[string]bool)
	var out []string
	var visit func(n string)
	visit = func(n string) {
		if seen[n] {
			return
		}
		seen[n] = true
		out = append(out, n)
		for _, other := range r.order {
			for _, d := range r.defs[other] {
				if d.Inherits == n || slices.Contains(d.Mixins, n) {
					visit(other)
					break
				}
			}
		}
	}

	root := name
	hops := map[string]bool{root: true}
	for p := parentOf(r.defs[root]); p != "" && !hops[p]; p = parentOf(r.defs[p]) {
		hops[p] = true
		root = p
	}
	visit(root)
	visit(name)
	return out
}

// Model 按名称取模型（惰性创建，首次使用时初始化）
func (r *Repository) Model(name string) (*Model, error) {
	r.mu.Lock()
	if m, ok := r.models[name]; ok {
		r.mu.Unlock()
		return m, nil
	}
	if _, ok := r.defs[name]; !ok {
		r.mu.Unlock()
		return nil, errUnknownModel(name)
	}
	m := newModel(r, name)
	r.models[name] = m
	r.mu.Unlock()

	if r.outer != nil {
		if outer := r.outer.existingModel(name); outer != nil {
			snapshot := outer.listenerSnapshot()
			m.mu.Lock()
			m.listeners = snapshot
			m.mu.Unlock()
		}
	}
	return m, nil
}

// MustModel 取模型并初始化，失败时 panic，用于启动阶段
func (r *Repository) MustModel(name string) *Model {
	m, err := r.Model(name)
	if err == nil {
		err = m.Init()
	}
	if err != nil {
		panic(err)
	}
	return m
}

func (r *Repository) existingModel(name string) *Model {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.models[name]
}

// ModelNames 已注册的模型名，按注册顺序
func (r *Repository) ModelNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.order)
}

func (r *Repository) definitions(name string) []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.defs[name])
}

// descendantsOf 全部（间接）子模型，深度优先、按注册顺序
func (r *Repository) descendantsOf(name string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	var walk func(n string)
	walk = func(n string) {
		for _, other := range r.order {
			if parentOf(r.defs[other]) == n && !slices.Contains(out, other) && other != name {
				out = append(out, other)
				walk(other)
			}
		}
	}
	walk(name)
	return out
}

// checkInheritance 父模型必须已注册，且继承链无环
func (r *Repository) checkInheritance(name string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	chain := []string{name}
	for cur := parentOf(r.defs[name]); cur != ""; cur = parentOf(r.defs[cur]) {
		if _, ok := r.defs[cur]; !ok {
			return errors.Newf(errors.ErrCodeRegistration, "model %q inherits from unregistered model %q",
				chain[len(chain)-1], cur).With("model", name)
		}
		if slices.Contains(chain, cur) {
			return errors.Newf(errors.ErrCodeRegistration, "inheritance cycle: %s",
				strings.Join(append(chain, cur), " -> ")).With("model", name)
		}
		chain = append(chain, cur)
	}
	return nil
}

// foldChain 展开混入后的定义序列：每个定义之前先放入其混入（递归）
func (r *Repository) foldChain(name string, visiting []string) ([]foldEntry, error) {
	if slices.Contains(visiting, name) {
		return nil, errors.Newf(errors.ErrCodeRegistration, "mixin cycle: %s",
			strings.Join(append(visiting, name), " -> ")).With("model", visiting[0])
	}
	visiting = append(visiting, name)
	defs := r.definitions(name)
	if len(defs) == 0 {
		return nil, errUnknownModel(name)
	}
	var out []foldEntry
	for _, d := range defs {
		for _, mixin := range d.Mixins {
			sub, err := r.foldChain(mixin, visiting)
			if err != nil {
				return nil, err
			}
			for _, e := range sub {
				e.mixin = true
				out = append(out, e)
			}
		}
		out = append(out, foldEntry{def: d})
	}
	return out, nil
}

// GetContext 读取上下文值，不存在时返回 def
func (r *Repository) GetContext(key string, def any) any {
	r.ctxMu.RLock()
	defer r.ctxMu.RUnlock()
	if v, ok := r.values[key]; ok {
		return v
	}
	return def
}

// SetContext 写入上下文值；事务仓储持有快照，写入不影响外层
func (r *Repository) SetContext(key string, value any) {
	r.ctxMu.Lock()
	defer r.ctxMu.Unlock()
	r.values[key] = value
}

// InTransaction 是否为事务仓储
func (r *Repository) InTransaction() bool { return r.outer != nil }

func (r *Repository) noteInvalidated(name string) {
	if r.outer == nil {
		return
	}
	r.txMu.Lock()
	r.invalidated[name] = true
	r.txMu.Unlock()
}

func (r *Repository) deferFlush(rec *Record) bool {
	if r.outer == nil {
		return false
	}
	r.txMu.Lock()
	r.deferred = append(r.deferred, deferredWrite{rec: rec, model: rec.owner.name, id: rec.ID()})
	r.txMu.Unlock()
	return true
}

func (r *Repository) deferUnlink(model string, id any) {
	if r.outer == nil {
		return
	}
	r.txMu.Lock()
	r.deferred = append(r.deferred, deferredWrite{model: model, id: id, unlink: true})
	r.txMu.Unlock()
}
