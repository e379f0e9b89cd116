package orm_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gorecord/data/orm"
	"gorecord/data/orm/criteria"
	apperrors "gorecord/errors"
)

func TestInheritance_SharedKeyAndDiscriminator(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t, setupDB(t))
	animals := repo.MustModel("animal")
	dogs := repo.MustModel("dog")

	require.NotNil(t, animals.Discriminator())
	assert.Equal(t, orm.DefaultDiscriminator, animals.Discriminator().Name())
	assert.Same(t, animals.Discriminator(), dogs.Discriminator())

	rex, err := dogs.Create(ctx, map[string]any{"name": "Rex", "breed": "lab"})
	require.NoError(t, err)
	require.NotNil(t, rex.Parent())
	assert.Equal(t, rex.ID(), rex.Parent().ID())
	assert.Equal(t, "Rex", rex.Get("name"))
	assert.Equal(t, "lab", rex.Get("breed"))
	assert.Equal(t, "dog", rex.Parent().Get(orm.DefaultDiscriminator))

	json := rex.ToJSON()
	assert.Equal(t, "Rex", json["name"])
	assert.Equal(t, "lab", json["breed"])
	assert.NotContains(t, rex.ToRawJSON(), "name")
}

func TestInheritance_ParentQueryRoutesToChild(t *testing.T) {
	ctx := context.Background()
	db := setupDB(t)
	repo := newRepo(t, db)
	rex, err := repo.MustModel("dog").Create(ctx, map[string]any{"name": "Rex", "breed": "lab"})
	require.NoError(t, err)
	tom, err := repo.MustModel("cat").Create(ctx, map[string]any{"name": "Tom", "lives": 9})
	require.NoError(t, err)
	plain, err := repo.MustModel("animal").Create(ctx, map[string]any{"name": "Blob"})
	require.NoError(t, err)
	assert.Equal(t, "animal", plain.Get(orm.DefaultDiscriminator))

	found, err := repo.MustModel("animal").FindByID(ctx, rex.ID())
	require.NoError(t, err)
	assert.Same(t, rex, found)

	fresh := newRepo(t, db)
	all, err := fresh.MustModel("animal").Query().Where(criteria.NotNull("name")).All(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	byName := make(map[string]*orm.Record)
	for _, rec := range all {
		byName[rec.Get("name").(string)] = rec
	}
	assert.Equal(t, "dog", byName["Rex"].ModelName())
	assert.Equal(t, "lab", byName["Rex"].Get("breed"))
	assert.Equal(t, "cat", byName["Tom"].ModelName())
	assert.Equal(t, int64(9), byName["Tom"].Get("lives"))
	assert.Equal(t, "animal", byName["Blob"].ModelName())

	assert.Equal(t, tom.ID(), byName["Tom"].ID())
	assert.Same(t, byName["Rex"], fresh.MustModel("animal").Resident(rex.ID()))
	assert.Same(t, byName["Rex"], fresh.MustModel("dog").Resident(rex.ID()))
}

func TestInheritance_MultiLevel(t *testing.T) {
	ctx := context.Background()
	db := setupDB(t)
	repo := newRepo(t, db)

	pup, err := repo.MustModel("animal").Create(ctx, map[string]any{
		orm.DefaultDiscriminator: "puppy",
		"name":                   "Bit",
		"breed":                  "corgi",
		"toy":                    "ball",
	})
	require.NoError(t, err)
	assert.Equal(t, "puppy", pup.ModelName())
	assert.Equal(t, "corgi", pup.Get("breed"))
	assert.Equal(t, "Bit", pup.Get("name"))
	assert.Equal(t, pup.ID(), pup.Parent().Parent().ID())

	fresh := newRepo(t, db)
	loaded, err := fresh.MustModel("dog").FindByID(ctx, pup.ID())
	require.NoError(t, err)
	assert.Equal(t, "puppy", loaded.ModelName())
	assert.Equal(t, "ball", loaded.Get("toy"))
	assert.Equal(t, "Bit", loaded.Get("name"))
}

func TestInheritance_WhereOnInheritedField(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t, setupDB(t))
	dogs := repo.MustModel("dog")
	_, err := dogs.Create(ctx, map[string]any{"name": "Rex", "breed": "lab"})
	require.NoError(t, err)
	_, err = dogs.Create(ctx, map[string]any{"name": "Fido", "breed": "pug"})
	require.NoError(t, err)

	found, err := dogs.FindOne(ctx, map[string]any{"name": "Fido"})
	require.NoError(t, err)
	assert.Equal(t, "pug", found.Get("breed"))

	n, err := dogs.Where(criteria.Like("name", "R%")).Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = dogs.Where(criteria.Eq("name", "Rex")).Update(ctx, map[string]any{"breed": "mix"})
	assert.True(t, apperrors.IsErrorCode(err, apperrors.ErrCodeUnsupported))
}

func TestInheritance_WriteForwardsToParent(t *testing.T) {
	ctx := context.Background()
	db := setupDB(t)
	repo := newRepo(t, db)
	rex, err := repo.MustModel("dog").Create(ctx, map[string]any{"name": "Rex", "breed": "lab"})
	require.NoError(t, err)

	require.NoError(t, rex.Write(ctx, map[string]any{"name": "Max", "breed": "husky"}))
	assert.False(t, rex.IsDirty())
	assert.False(t, rex.Parent().IsDirty())

	loaded, err := newRepo(t, db).MustModel("dog").FindByID(ctx, rex.ID())
	require.NoError(t, err)
	assert.Equal(t, "Max", loaded.Get("name"))
	assert.Equal(t, "husky", loaded.Get("breed"))
}

func TestInheritance_UnlinkCascades(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t, setupDB(t))
	rex, err := repo.MustModel("dog").Create(ctx, map[string]any{"name": "Rex", "breed": "lab"})
	require.NoError(t, err)
	parent := rex.Parent()

	require.NoError(t, rex.Unlink(ctx))
	assert.True(t, parent.IsDetached())

	n, err := repo.MustModel("animal").Query().Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestInheritance_InferDiscriminator(t *testing.T) {
	repo := newRepo(t, setupDB(t), orm.WithDiscriminatorInference())
	animals := repo.MustModel("animal")

	rec, err := animals.Allocate(map[string]any{"id": 10, "name": "Tom", "lives": 3})
	require.NoError(t, err)
	assert.Equal(t, "cat", rec.ModelName())

	rec, err = animals.Allocate(map[string]any{"id": 11, "name": "Blob"})
	require.NoError(t, err)
	assert.Equal(t, "animal", rec.ModelName())

	rec, err = animals.Allocate(map[string]any{"id": 12, "name": "Rex", "lives": 1}, orm.IgnoreDiscriminator())
	require.NoError(t, err)
	assert.Equal(t, "animal", rec.ModelName())
}

func TestInheritance_DiscriminatorErrors(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t, setupDB(t))

	_, err := repo.MustModel("animal").Allocate(map[string]any{"id": 1, orm.DefaultDiscriminator: "task"})
	assert.True(t, apperrors.IsErrorCode(err, apperrors.ErrCodeSchema))

	_, err = repo.MustModel("animal").Allocate(map[string]any{"id": 1, orm.DefaultDiscriminator: ""})
	assert.True(t, apperrors.IsErrorCode(err, apperrors.ErrCodeSchema))

	require.NoError(t, repo.Register(
		orm.Definition{Name: "vehicle", Fields: []orm.FieldDef{
			{Name: "kind", Discriminator: true},
		}},
		orm.Definition{Name: "truck", Inherits: "vehicle", Fields: []orm.FieldDef{
			{Name: "variant", Discriminator: true},
		}},
	))
	trucks, err := repo.Model("truck")
	require.NoError(t, err)
	err = trucks.Init()
	assert.True(t, apperrors.IsErrorCode(err, apperrors.ErrCodeSchema))

	require.NoError(t, repo.Register(orm.Definition{Name: "doubled", Fields: []orm.FieldDef{
		{Name: "a", Discriminator: true},
		{Name: "b", Discriminator: true},
	}}))
	doubled, err := repo.Model("doubled")
	require.NoError(t, err)
	assert.True(t, apperrors.IsErrorCode(doubled.Init(), apperrors.ErrCodeSchema))

	_, err = repo.MustModel("cat").Create(ctx, map[string]any{orm.DefaultDiscriminator: "dog", "name": "x"})
	assert.True(t, apperrors.IsErrorCode(err, apperrors.ErrCodeSchema))
}

func TestInheritance_Mixins(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t, setupDB(t))
	require.NoError(t, repo.Register(
		orm.Definition{Name: "labelled", Abstract: true, Fields: []orm.FieldDef{
			{Name: "body", Type: orm.TypeString, Default: "untitled"},
		}},
		orm.Definition{Name: "note", Mixins: []string{"labelled"}},
	))
	notes := repo.MustModel("note")
	assert.Equal(t, []string{"labelled"}, notes.Mixins())
	assert.False(t, notes.IsAbstract())
	assert.Equal(t, "note", notes.Table())

	rec, err := notes.Create(ctx, map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, "untitled", rec.Get("body"))
}
