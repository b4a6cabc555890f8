package schema

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RejectsDuplicateFieldKeys(t *testing.T) {
	_, err := New("Event",
		Field{Key: "title"},
		Field{Key: "title"},
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate field key")
}

func TestNew_RejectsRelationWithoutConfig(t *testing.T) {
	_, err := New("Event", Field{Key: "group", Kind: KindRelation})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no relation config")
}

func TestNew_RejectsMultiWithoutColumns(t *testing.T) {
	_, err := New("Event", Field{Key: "schedule", Kind: KindMulti})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no columns")
}

func TestNew_RejectsEmptyName(t *testing.T) {
	_, err := New("")
	require.Error(t, err)
}

func TestField_LookupByKey(t *testing.T) {
	col := MustNew("Event",
		Field{Key: "title"},
		Field{Key: "status"},
	)
	require.NotNil(t, col.Field("status"))
	assert.Equal(t, "status", col.Field("status").Key)
	assert.Nil(t, col.Field("missing"))
}

func TestUniqueKeys_AlwaysIncludesID(t *testing.T) {
	col := MustNew("Event",
		Field{Key: "title"},
		Field{Key: "slug", Unique: true},
	)
	assert.Equal(t, []string{"id", "slug"}, col.UniqueKeys())
}

func TestItem_ID(t *testing.T) {
	assert.Equal(t, "abc", Item{"id": "abc"}.ID())
	assert.Nil(t, Item{}.ID())
	assert.Nil(t, Item(nil).ID())
}

func TestField_HasDefault(t *testing.T) {
	assert.False(t, (&Field{Key: "a"}).HasDefault())
	assert.True(t, (&Field{Key: "a", Default: "x"}).HasDefault())
	assert.True(t, (&Field{Key: "a", DefaultFunc: DefaultUUID}).HasDefault())
}

func TestField_ResolverPerOperation(t *testing.T) {
	created := func(ctx context.Context, input interface{}, rel RelationResolver) (interface{}, error) {
		return "create", nil
	}
	updated := func(ctx context.Context, input interface{}, rel RelationResolver) (interface{}, error) {
		return "update", nil
	}
	f := &Field{Key: "a", CreateResolver: created, UpdateResolver: updated}

	out, err := f.Resolver(OpCreate)(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "create", out)

	out, err = f.Resolver(OpUpdate)(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "update", out)
}

func TestDefaultUUID_ProducesDistinctValues(t *testing.T) {
	a, err := DefaultUUID(context.Background(), nil)
	require.NoError(t, err)
	b, err := DefaultUUID(context.Background(), nil)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

type fakeRel struct {
	out interface{}
}

func (f *fakeRel) Resolve(ctx context.Context, input interface{}) (interface{}, error) {
	return f.out, nil
}

func TestRelationField_DelegatesToInjectedResolver(t *testing.T) {
	f := RelationField("tags", "Tag", true)
	require.Equal(t, KindRelation, f.Kind)
	require.NotNil(t, f.Relation)
	assert.True(t, f.Relation.Many)

	out, err := f.CreateResolver(context.Background(), map[string]interface{}{}, &fakeRel{out: "resolved"})
	require.NoError(t, err)
	assert.Equal(t, "resolved", out)
}

func TestRelationField_FailsWithoutInjectedResolver(t *testing.T) {
	f := RelationField("group", "Group", false)
	_, err := f.UpdateResolver(context.Background(), map[string]interface{}{}, nil)
	require.Error(t, err)
}
