package scope

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gorecord/data/orm/criteria"
	apperrors "gorecord/errors"
	"gorecord/storage/database/dialect"
)

type fakeQuery struct {
	wheres []*criteria.Condition
	joins  []string
	orders []Order
}

func (q *fakeQuery) ModelName() string                        { return "task" }
func (q *fakeQuery) AddWhere(cond *criteria.Condition)        { q.wheres = append(q.wheres, cond) }
func (q *fakeQuery) AddJoin(kind, table, on string, _ ...any) { q.joins = append(q.joins, kind+" "+table) }
func (q *fakeQuery) AddOrder(column string, desc bool)        { q.orders = append(q.orders, Order{column, desc}) }

func compile(t *testing.T, c *criteria.Condition) (string, []any) {
	t.Helper()
	sql, args, err := criteria.Compiler{Dialect: dialect.New("sqlite")}.Compile(c)
	require.NoError(t, err)
	return sql, args
}

func TestApplyScopes_LastWins(t *testing.T) {
	b := NewBuilder("task", map[string]Definition{
		"A": Static(Options{Order: []Order{Asc("x")}, Limit: IntPtr(10), Cache: &Cache{Enabled: true}}),
		"B": Static(Options{Order: []Order{Desc("y")}, Limit: IntPtr(3), Cache: &Cache{Enabled: false}}),
	}, nil)

	ab, err := b.ApplyScopes(&fakeQuery{}, []Request{Named("A"), Named("B")}, true)
	require.NoError(t, err)
	assert.Equal(t, 3, *ab.Limit)
	assert.Equal(t, []Order{Desc("y")}, ab.Order)
	assert.False(t, ab.Cache.Enabled)

	ba, err := b.ApplyScopes(&fakeQuery{}, []Request{Named("B"), Named("A")}, true)
	require.NoError(t, err)
	assert.Equal(t, 10, *ba.Limit)
	assert.Equal(t, []Order{Asc("x")}, ba.Order)
	assert.True(t, ba.Cache.Enabled)
}

func TestApplyScopes_UnsetDoesNotOverride(t *testing.T) {
	b := NewBuilder("task", map[string]Definition{
		"paged":  Static(Options{Limit: IntPtr(20), Offset: IntPtr(40), Attributes: []string{"id"}}),
		"active": Static(Options{Where: criteria.Match(map[string]any{"active": true})}),
	}, nil)

	opts, err := b.ApplyScopes(&fakeQuery{}, []Request{Named("paged"), Named("active")}, false)
	require.NoError(t, err)
	assert.Equal(t, 20, *opts.Limit)
	assert.Equal(t, 40, *opts.Offset)
	assert.Equal(t, []string{"id"}, opts.Attributes)
	assert.NotNil(t, opts.Where)
}

func TestApplyScopes_DefaultFirstAndConjunctive(t *testing.T) {
	def := Static(Options{Where: criteria.Match(map[string]any{"active": true})})
	b := NewBuilder("post", map[string]Definition{
		"featured": Static(Options{Where: criteria.Eq("featured", true)}),
		"recent":   Static(Options{Where: criteria.Gt("id", 10)}),
	}, &def)

	opts, err := b.ApplyScopes(&fakeQuery{}, []Request{Named("featured"), Named("recent")}, true)
	require.NoError(t, err)
	sql, args := compile(t, opts.Where)
	assert.Equal(t, `("active" = ? AND "featured" = ? AND "id" > ?)`, sql)
	assert.Equal(t, []any{true, true, 10}, args)

	// 默认作用域定义本身不被合并过程修改
	assert.Len(t, def.Static.Where.Children, 1)

	noDefault, err := b.ApplyScopes(&fakeQuery{}, []Request{Named("featured")}, false)
	require.NoError(t, err)
	sql, _ = compile(t, noDefault.Where)
	assert.Equal(t, `"featured" = ?`, sql)
}

func TestMergeWhere_WrapsNonAnd(t *testing.T) {
	merged := MergeWhere(criteria.Or(criteria.Eq("a", 1), criteria.Eq("b", 2)), criteria.Eq("c", 3))
	require.Equal(t, criteria.OpAnd, merged.Op)
	require.Len(t, merged.Children, 2)
	assert.Equal(t, criteria.OpOr, merged.Children[0].Op)

	assert.Nil(t, MergeWhere(nil, nil))
	single := criteria.Eq("x", 1)
	assert.Same(t, single, MergeWhere(nil, single))
	assert.Same(t, single, MergeWhere(single, criteria.And()))
}

func TestMergeIncludes_Dedup(t *testing.T) {
	base := []Include{{Relation: "author", Include: []Include{{Relation: "profile"}}}}
	incoming := []Include{
		{Relation: "author", Include: []Include{{Relation: "avatar"}, {Relation: "profile"}}},
		{Relation: "author", As: "editor"},
		{Relation: "tags"},
	}
	merged := MergeIncludes(base, incoming)

	require.Len(t, merged, 3)
	assert.Equal(t, "author", merged[0].Relation)
	assert.Equal(t, []Include{{Relation: "profile"}, {Relation: "avatar"}}, merged[0].Include)
	assert.Equal(t, "editor", merged[1].As)
	assert.Equal(t, "tags", merged[2].Relation)
}

func TestApplyScopes_FuncScopes(t *testing.T) {
	b := NewBuilder("task", map[string]Definition{
		"priorityAbove": Dynamic(func(q Query, args ...any) (*Options, error) {
			return &Options{Where: criteria.Gt("priority", args[0])}, nil
		}),
		"mutating": Dynamic(func(q Query, args ...any) (*Options, error) {
			q.AddJoin("INNER", "project", "project.id = task.project_id")
			q.AddOrder("created_at", true)
			return nil, nil
		}),
		"failing": Dynamic(func(q Query, args ...any) (*Options, error) {
			return nil, errors.New("bad args")
		}),
	}, nil)

	q := &fakeQuery{}
	opts, err := b.ApplyScopes(q, []Request{Named("priorityAbove", 5), Named("mutating")}, false)
	require.NoError(t, err)
	sql, args := compile(t, opts.Where)
	assert.Equal(t, `"priority" > ?`, sql)
	assert.Equal(t, []any{5}, args)
	assert.Equal(t, []string{"INNER project"}, q.joins)
	assert.Equal(t, []Order{Desc("created_at")}, q.orders)
	assert.Nil(t, opts.Order, "直接修改查询的作用域不贡献选项")

	_, err = b.ApplyScopes(q, []Request{Named("failing")}, false)
	require.Error(t, err)
	assert.True(t, apperrors.IsErrorCode(err, apperrors.ErrCodeScope))
}

func TestApplyScopes_Undefined(t *testing.T) {
	b := NewBuilder("task", map[string]Definition{"valid": Static(Options{})}, nil)

	_, err := b.ApplyScopes(&fakeQuery{}, []Request{Named("doesNotExist")}, true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "doesNotExist")
	assert.Contains(t, err.Error(), "task")
	assert.ErrorIs(t, err, apperrors.ErrScope)
}

func TestIntrospection(t *testing.T) {
	b := NewBuilder("task", map[string]Definition{"b": {}, "a": {}}, nil)
	assert.True(t, b.HasScope("a"))
	assert.False(t, b.HasScope("c"))
	assert.False(t, b.HasDefault())
	assert.Equal(t, []string{"a", "b"}, b.ScopeNames())

	opts, err := b.ApplyScopes(&fakeQuery{}, []Request{Named("a")}, true)
	require.NoError(t, err)
	assert.Nil(t, opts.Where)
}
