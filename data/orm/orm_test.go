package orm_test

import (
	"context"
	stdsql "database/sql"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"gorecord/data/orm"
	"gorecord/data/orm/criteria"
	"gorecord/data/orm/scope"
	apperrors "gorecord/errors"
	"gorecord/logging"
	"gorecord/storage/database"
	"gorecord/storage/database/basic"
)

var schema = []string{
	`CREATE TABLE task (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		title TEXT NOT NULL,
		priority INTEGER,
		done BOOLEAN DEFAULT 0,
		meta TEXT,
		deleted_at TEXT
	)`,
	`CREATE TABLE note (id INTEGER PRIMARY KEY AUTOINCREMENT, body TEXT)`,
	`CREATE TABLE animal (id INTEGER PRIMARY KEY AUTOINCREMENT, name TEXT, _type TEXT)`,
	`CREATE TABLE dog (id INTEGER PRIMARY KEY, breed TEXT)`,
	`CREATE TABLE puppy (id INTEGER PRIMARY KEY, toy TEXT)`,
	`CREATE TABLE cat (id INTEGER PRIMARY KEY, lives INTEGER)`,
	`CREATE TABLE author (id INTEGER PRIMARY KEY AUTOINCREMENT, name TEXT)`,
	`CREATE TABLE post (id INTEGER PRIMARY KEY AUTOINCREMENT, title TEXT, author_id INTEGER)`,
	`CREATE TABLE tag (id INTEGER PRIMARY KEY AUTOINCREMENT, label TEXT)`,
	`CREATE TABLE post_tag (post_id INTEGER, tag_id INTEGER)`,
	`CREATE TABLE ticket (code TEXT PRIMARY KEY, subject TEXT)`,
	`CREATE TABLE audit (id INTEGER PRIMARY KEY, message TEXT)`,
}

// countingDB 统计写语句条数
type countingDB struct {
	database.IDatabase
	execs atomic.Int64
}

func (c *countingDB) Exec(ctx context.Context, query string, args ...any) (stdsql.Result, error) {
	c.execs.Add(1)
	return c.IDatabase.Exec(ctx, query, args...)
}

func (c *countingDB) GetDialectName() string { return "sqlite" }

func setupDB(t *testing.T) *basic.DB {
	t.Helper()
	db, err := basic.New(database.DBConfig{Driver: "sqlite", Database: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	bdb := db.(*basic.DB)
	require.NoError(t, bdb.ExecDDL(context.Background(), schema...))
	return bdb
}

func taskDefinition() orm.Definition {
	notDeleted := scope.Static(scope.Options{Where: criteria.IsNull("deleted_at")})
	return orm.Definition{
		Name: "task",
		Fields: []orm.FieldDef{
			{Name: "title", Type: orm.TypeString, Required: true, Size: 64},
			{Name: "priority", Type: orm.TypeInteger, Default: 0},
			{Name: "done", Type: orm.TypeBoolean, Default: false},
			{Name: "meta", Type: orm.TypeJSON},
			{Name: "deleted_at", Type: orm.TypeDatetime},
		},
		DefaultScope: &notDeleted,
		Scopes: map[string]scope.Definition{
			"open":   scope.Static(scope.Options{Where: criteria.Eq("done", false)}),
			"urgent": scope.Static(scope.Options{Where: criteria.Gte("priority", 5)}),
			"top": scope.Static(scope.Options{
				Order: []scope.Order{scope.Desc("priority")},
				Limit: scope.IntPtr(3),
			}),
			"above": scope.Dynamic(func(q scope.Query, args ...any) (*scope.Options, error) {
				q.AddWhere(criteria.Gt("priority", args[0]))
				return nil, nil
			}),
		},
	}
}

func animalDefinitions() []orm.Definition {
	return []orm.Definition{
		{Name: "animal", Fields: []orm.FieldDef{{Name: "name", Type: orm.TypeString}}},
		{Name: "dog", Inherits: "animal", Fields: []orm.FieldDef{{Name: "breed", Type: orm.TypeString}}},
		{Name: "puppy", Inherits: "dog", Fields: []orm.FieldDef{{Name: "toy", Type: orm.TypeString}}},
		{Name: "cat", Inherits: "animal", Fields: []orm.FieldDef{{Name: "lives", Type: orm.TypeInteger}}},
	}
}

func blogDefinitions() []orm.Definition {
	return []orm.Definition{
		{Name: "author", Fields: []orm.FieldDef{
			{Name: "name", Type: orm.TypeString},
			{Name: "posts", Type: orm.TypeOneToMany, Model: "post", ForeignKey: "author_id"},
		}},
		{Name: "post", Fields: []orm.FieldDef{
			{Name: "title", Type: orm.TypeString},
			{Name: "author", Type: orm.TypeManyToOne, Model: "author", Column: "author_id"},
			{Name: "tags", Type: orm.TypeManyToMany, Model: "tag", JoinTable: "post_tag",
				ForeignKey: "post_id", OtherKey: "tag_id"},
		}},
		{Name: "tag", Fields: []orm.FieldDef{{Name: "label", Type: orm.TypeString}}},
	}
}

func newRepo(t *testing.T, db database.IDatabase, opts ...orm.Option) *orm.Repository {
	t.Helper()
	repo, err := orm.New(orm.Config{DB: db, Logger: logging.NewNoopLogger()}, opts...)
	require.NoError(t, err)
	require.NoError(t, repo.Register(taskDefinition()))
	require.NoError(t, repo.Register(orm.Definition{Name: "note", Fields: []orm.FieldDef{{Name: "body"}}}))
	require.NoError(t, repo.Register(animalDefinitions()...))
	require.NoError(t, repo.Register(blogDefinitions()...))
	return repo
}

func seedTasks(t *testing.T, tasks *orm.Model, priorities ...int) []*orm.Record {
	t.Helper()
	out := make([]*orm.Record, 0, len(priorities))
	for i, p := range priorities {
		rec, err := tasks.Create(context.Background(), map[string]any{
			"title":    "task " + string(rune('a'+i)),
			"priority": p,
		})
		require.NoError(t, err)
		out = append(out, rec)
	}
	return out
}

func TestNew_RequiresDatabase(t *testing.T) {
	_, err := orm.New(orm.Config{})
	require.Error(t, err)
	assert.True(t, apperrors.IsErrorCode(err, apperrors.ErrCodeInvalidInput))
}

func TestModel_CreateAssignsKeyAndDefaults(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t, setupDB(t))
	tasks := repo.MustModel("task")

	rec, err := tasks.Create(ctx, map[string]any{"title": "write docs"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), rec.ID())
	assert.Equal(t, int64(0), rec.Get("priority"))
	assert.Equal(t, false, rec.Get("done"))
	assert.False(t, rec.IsDirty())
	assert.True(t, rec.IsReady())
	assert.Same(t, rec, tasks.Resident(int64(1)))
}

func TestModel_CreateValidation(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t, setupDB(t))
	tasks := repo.MustModel("task")

	_, err := tasks.Create(ctx, map[string]any{"priority": 1})
	require.Error(t, err)
	assert.True(t, apperrors.IsErrorCode(err, apperrors.ErrCodeValidation))

	_, err = tasks.Create(ctx, map[string]any{"title": "x", "bogus": 1})
	require.Error(t, err)
	assert.True(t, apperrors.IsErrorCode(err, apperrors.ErrCodeWriteRemainder))

	n, err := tasks.Unscoped().Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestModel_IdentityMap(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t, setupDB(t))
	tasks := repo.MustModel("task")
	created := seedTasks(t, tasks, 1, 2)

	found, err := tasks.FindByID(ctx, created[0].ID())
	require.NoError(t, err)
	assert.Same(t, created[0], found)

	all, err := tasks.Query().OrderBy(scope.Asc("id")).All(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Same(t, created[0], all[0])
	assert.Same(t, created[1], all[1])

	again, err := tasks.Allocate(map[string]any{"id": created[1].ID(), "title": "renamed"})
	require.NoError(t, err)
	assert.Same(t, created[1], again)
	assert.Equal(t, "renamed", created[1].Get("title"))
}

func TestModel_FindByIDNotFound(t *testing.T) {
	repo := newRepo(t, setupDB(t))
	_, err := repo.MustModel("task").FindByID(context.Background(), 42)
	require.Error(t, err)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestRecord_FlushIsIdempotent(t *testing.T) {
	ctx := context.Background()
	db := &countingDB{IDatabase: setupDB(t)}
	repo := newRepo(t, db)
	tasks := repo.MustModel("task")

	rec, err := tasks.Create(ctx, map[string]any{"title": "draft"})
	require.NoError(t, err)
	base := db.execs.Load()

	require.NoError(t, rec.Flush(ctx))
	assert.Equal(t, base, db.execs.Load(), "clean record must not write")

	require.NoError(t, rec.Set("title", "draft"))
	assert.False(t, rec.IsDirty(), "same value is not a change")

	require.NoError(t, rec.Set("title", "final"))
	assert.True(t, rec.IsChanged("title"))
	assert.False(t, rec.IsChanged("priority"))
	require.NoError(t, rec.Flush(ctx))
	assert.Equal(t, base+1, db.execs.Load())

	require.NoError(t, rec.Flush(ctx))
	assert.Equal(t, base+1, db.execs.Load())

	fresh := newRepo(t, db)
	reloaded, err := fresh.MustModel("task").FindByID(ctx, rec.ID())
	require.NoError(t, err)
	assert.Equal(t, "final", reloaded.Get("title"))
}

func TestRecord_WriteRejectsUnknownFields(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t, setupDB(t))
	rec := seedTasks(t, repo.MustModel("task"), 1)[0]

	err := rec.Write(ctx, map[string]any{"priority": 9, "nope": true})
	require.Error(t, err)
	assert.True(t, apperrors.IsErrorCode(err, apperrors.ErrCodeWriteRemainder))

	require.NoError(t, rec.Write(ctx, map[string]any{"priority": 9}))
	assert.Equal(t, int64(9), rec.Get("priority"))
	assert.False(t, rec.IsDirty())
}

func TestRecord_PrimaryKeyImmutable(t *testing.T) {
	repo := newRepo(t, setupDB(t))
	rec := seedTasks(t, repo.MustModel("task"), 1)[0]

	require.NoError(t, rec.Set("id", 1))
	err := rec.Set("id", 2)
	require.Error(t, err)
	assert.True(t, apperrors.IsErrorCode(err, apperrors.ErrCodeSchema))
}

func TestRecord_RoundTrip(t *testing.T) {
	ctx := context.Background()
	db := setupDB(t)
	repo := newRepo(t, db)
	due := time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)

	rec, err := repo.MustModel("task").Create(ctx, map[string]any{
		"title":      "ship",
		"priority":   4,
		"done":       true,
		"meta":       map[string]any{"owner": "ops"},
		"deleted_at": due,
	})
	require.NoError(t, err)

	other := newRepo(t, db)
	loaded, err := other.MustModel("task").FindByID(ctx, rec.ID())
	require.NoError(t, err)
	assert.NotSame(t, rec, loaded)
	assert.Equal(t, "ship", loaded.Get("title"))
	assert.Equal(t, int64(4), loaded.Get("priority"))
	assert.Equal(t, true, loaded.Get("done"))
	assert.Equal(t, map[string]any{"owner": "ops"}, loaded.Get("meta"))
	assert.Equal(t, due, loaded.Get("deleted_at"))
	assert.Equal(t, rec.ToJSON(), loaded.ToJSON())
}

func TestRecord_UnlinkDetaches(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t, setupDB(t))
	tasks := repo.MustModel("task")
	rec := seedTasks(t, tasks, 1)[0]
	id := rec.ID()

	require.NoError(t, rec.Unlink(ctx))
	assert.True(t, rec.IsDetached())
	assert.Nil(t, rec.Model())
	assert.Equal(t, "task", rec.ModelName())
	assert.Nil(t, tasks.Resident(id))

	_, err := tasks.FindByID(ctx, id)
	assert.True(t, apperrors.IsNotFound(err))
	assert.Error(t, rec.Flush(ctx))
	require.NoError(t, rec.Unlink(ctx), "second unlink is a no-op")
}

func TestRecord_LazyHydration(t *testing.T) {
	ctx := context.Background()
	db := setupDB(t)
	repo := newRepo(t, db)
	tasks := repo.MustModel("task")
	seeded := seedTasks(t, tasks, 7)[0]

	other := newRepo(t, db)
	partial, err := other.MustModel("task").Allocate(map[string]any{"id": seeded.ID()})
	require.NoError(t, err)
	assert.False(t, partial.IsReady())

	require.NoError(t, partial.Ready(ctx))
	assert.True(t, partial.IsReady())
	assert.Equal(t, int64(7), partial.Get("priority"))

	stale, err := other.MustModel("task").Allocate(map[string]any{"id": 999})
	require.NoError(t, err)
	require.NoError(t, stale.Ready(ctx))
	assert.Nil(t, stale.ID())
	assert.Nil(t, other.MustModel("task").Resident(999))
}

func TestRecord_ContextAndMethods(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t, setupDB(t))
	require.NoError(t, repo.Register(orm.Definition{
		Name: "task",
		Methods: map[string]orm.Method{
			"label": func(_ context.Context, rec *orm.Record, args ...any) (any, error) {
				return rec.GetContext("prefix", "").(string) + rec.Get("title").(string), nil
			},
		},
	}))
	rec := seedTasks(t, repo.MustModel("task"), 1)[0]

	rec.SetContext("prefix", "#")
	out, err := rec.Call(ctx, "label")
	require.NoError(t, err)
	assert.Equal(t, "#task a", out)
	assert.Equal(t, "#", repo.GetContext("prefix", nil))

	_, err = rec.Call(ctx, "missing")
	assert.Error(t, err)
}

func TestModel_ImplicitPrimaryKey(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t, setupDB(t))
	notes := repo.MustModel("note")

	require.NotNil(t, notes.Primary())
	assert.Equal(t, "id", notes.Primary().Name())
	rec, err := notes.Create(ctx, map[string]any{"body": "hi"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), rec.ID())
}

func TestRepository_ExtensionRebuildsModel(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t, setupDB(t))
	tasks := repo.MustModel("task")
	_, ok := tasks.Field("priority")
	require.True(t, ok)

	require.NoError(t, repo.Register(orm.Definition{
		Name:   "task",
		Fields: []orm.FieldDef{{Name: "priority", Type: orm.TypeInteger, Default: 3}},
	}))
	rec, err := tasks.Create(ctx, map[string]any{"title": "extended"})
	require.NoError(t, err)
	assert.Equal(t, int64(3), rec.Get("priority"))
}

func TestRepository_RegistrationErrors(t *testing.T) {
	repo := newRepo(t, setupDB(t))

	err := repo.Register(orm.Definition{})
	assert.True(t, apperrors.IsErrorCode(err, apperrors.ErrCodeRegistration))

	err = repo.Register(orm.Definition{Name: "loop", Inherits: "loop"})
	assert.True(t, apperrors.IsErrorCode(err, apperrors.ErrCodeRegistration))

	err = repo.Register(orm.Definition{Name: "dog", Inherits: "cat"})
	assert.True(t, apperrors.IsErrorCode(err, apperrors.ErrCodeRegistration))

	require.NoError(t, repo.Register(orm.Definition{Name: "orphan", Inherits: "ghost"}))
	m, err := repo.Model("orphan")
	require.NoError(t, err)
	assert.True(t, apperrors.IsErrorCode(m.Init(), apperrors.ErrCodeRegistration))

	_, err = repo.Model("unknown")
	assert.True(t, apperrors.IsErrorCode(err, apperrors.ErrCodeRegistration))

	require.NoError(t, repo.Register(
		orm.Definition{Name: "injected", Table: "users; DROP TABLE task"},
		orm.Definition{Name: "spaced", Fields: []orm.FieldDef{{Name: "title", Column: "the title"}}},
	))
	for _, name := range []string{"injected", "spaced"} {
		m, err := repo.Model(name)
		require.NoError(t, err)
		assert.True(t, apperrors.IsErrorCode(m.Init(), apperrors.ErrCodeSchema), name)
	}
}

func TestModel_AbstractRejected(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t, setupDB(t))
	require.NoError(t, repo.Register(orm.Definition{Name: "shape", Abstract: true}))
	shapes, err := repo.Model("shape")
	require.NoError(t, err)

	_, err = shapes.Create(ctx, map[string]any{})
	assert.True(t, apperrors.IsErrorCode(err, apperrors.ErrCodeAbstract))
	_, err = shapes.Query().All(ctx)
	assert.True(t, apperrors.IsErrorCode(err, apperrors.ErrCodeAbstract))
	_, err = shapes.Allocate(nil)
	assert.True(t, apperrors.IsErrorCode(err, apperrors.ErrCodeAbstract))
}

func TestModel_Hooks(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t, setupDB(t))
	var fieldCalls atomic.Int32
	require.NoError(t, repo.Register(orm.Definition{
		Name: "task",
		Hooks: orm.Hooks{
			PreCreate: func(_ context.Context, rec *orm.Record) error {
				return rec.Set("priority", 7)
			},
		},
		Fields: []orm.FieldDef{
			{Name: "title", Type: orm.TypeString, Required: true, Hooks: orm.FieldHooks{
				PreCreate: func(_ context.Context, rec *orm.Record) error {
					fieldCalls.Add(1)
					if rec.Get("title") == "reject" {
						return apperrors.NewError(apperrors.ErrCodeValidation, "rejected")
					}
					return nil
				},
			}},
		},
	}))
	tasks := repo.MustModel("task")

	rec, err := tasks.Create(ctx, map[string]any{"title": "hooked"})
	require.NoError(t, err)
	assert.Equal(t, int64(7), rec.Get("priority"))
	assert.Equal(t, int32(1), fieldCalls.Load())

	_, err = tasks.Create(ctx, map[string]any{"title": "reject"})
	require.Error(t, err)
	n, err := tasks.Query().Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestModel_Lookup(t *testing.T) {
	ctx := context.Background()
	db := setupDB(t)
	seeded := seedTasks(t, newRepo(t, db).MustModel("task"), 1, 2, 3)

	tasks := newRepo(t, db).MustModel("task")
	ids := []any{seeded[2].ID(), seeded[0].ID(), int64(999), seeded[0].ID()}
	recs, err := tasks.Lookup(ctx, ids)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, seeded[2].ID(), recs[0].ID())
	assert.Equal(t, seeded[0].ID(), recs[1].ID())

	fresh := newRepo(t, db).MustModel("task")
	byText, err := fresh.Lookup(ctx, []any{"1", "2", nil})
	require.NoError(t, err)
	require.Len(t, byText, 2, "字符串主键按主键类型解码后匹配")
	assert.Equal(t, int64(1), byText[0].ID())
	assert.Equal(t, int64(2), byText[1].ID())

	_, err = fresh.Lookup(ctx, []any{"one"})
	assert.Error(t, err)
}

func TestCapabilities(t *testing.T) {
	repo := newRepo(t, setupDB(t))
	caps := repo.Capabilities()
	assert.True(t, caps.Supports(orm.CapabilityTransaction))
	assert.False(t, caps.Supports(orm.CapabilityCache))
	assert.False(t, caps.Supports(orm.CapabilityEvents))
	assert.False(t, caps.Supports(orm.CapabilityReturning))
	assert.Equal(t, []orm.Capability{orm.CapabilityTransaction}, caps.List())
	assert.Equal(t, "transaction", caps.String())

	var none orm.Capabilities
	assert.False(t, none.Supports(orm.CapabilityCache))
}

func TestModel_GeneratedKeys(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t, setupDB(t))
	require.NoError(t, repo.Register(
		orm.Definition{Name: "ticket", Fields: []orm.FieldDef{
			{Name: "code", Type: orm.TypeUUID, Primary: true, Generator: orm.GenerateUUID()},
			{Name: "subject"},
		}},
		orm.Definition{Name: "audit", Fields: []orm.FieldDef{
			{Name: "id", Type: orm.TypePrimary, Generator: orm.GenerateSnowflake()},
			{Name: "message"},
		}},
	))

	tickets := repo.MustModel("ticket")
	assert.Equal(t, "code", tickets.Primary().Name())
	ticket, err := tickets.Create(ctx, map[string]any{"subject": "broken"})
	require.NoError(t, err)
	code, ok := ticket.ID().(string)
	require.True(t, ok)
	assert.Len(t, code, 36)

	found, err := tickets.FindByID(ctx, code)
	require.NoError(t, err)
	assert.Same(t, ticket, found)
	n, err := tickets.Where(criteria.Eq("subject", "broken")).Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	a, err := repo.MustModel("audit").Create(ctx, map[string]any{"message": "one"})
	require.NoError(t, err)
	b, err := repo.MustModel("audit").Create(ctx, map[string]any{"message": "two"})
	require.NoError(t, err)
	assert.Greater(t, b.ID().(int64), a.ID().(int64))
}
