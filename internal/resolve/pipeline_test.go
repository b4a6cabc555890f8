package resolve

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"list-mutator/internal/merr"
	"list-mutator/internal/schema"
	"list-mutator/internal/storage/memstore"
)

func newTestResolver(t *testing.T, collections ...*schema.Collection) (*Resolver, *memstore.Store) {
	t.Helper()
	store := memstore.New(collections...)
	r, err := New(store, collections...)
	require.NoError(t, err)
	return r, store
}

func eventCollection(extra ...schema.Field) *schema.Collection {
	fields := []schema.Field{
		{Key: "title", Kind: schema.KindScalar, Required: true},
		{Key: "status", Kind: schema.KindScalar, Default: "draft"},
	}
	fields = append(fields, extra...)
	return schema.MustNew("Event", fields...)
}

func TestResolve_AppliesStaticDefaultOnCreate(t *testing.T) {
	r, _ := newTestResolver(t, eventCollection())

	resolved, err := r.Resolve(context.Background(), mustCollection(t, r, "Event"),
		map[string]interface{}{"title": "launch"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "draft", resolved.Payload["status"])
	assert.Equal(t, "launch", resolved.Payload["title"])
}

func TestResolve_DefaultFuncTakesPrecedence(t *testing.T) {
	col := schema.MustNew("Event",
		schema.Field{Key: "title", Kind: schema.KindScalar, Required: true},
		schema.Field{
			Key:     "code",
			Kind:    schema.KindScalar,
			Default: "static",
			DefaultFunc: func(ctx context.Context, rawInput map[string]interface{}) (interface{}, error) {
				return "computed", nil
			},
		},
	)
	r, _ := newTestResolver(t, col)

	resolved, err := r.Resolve(context.Background(), col, map[string]interface{}{"title": "x"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "computed", resolved.Payload["code"])
}

func TestResolve_NoDefaultOnUpdate(t *testing.T) {
	col := eventCollection()
	r, _ := newTestResolver(t, col)

	resolved, err := r.Resolve(context.Background(), col,
		map[string]interface{}{"title": "renamed"}, schema.Item{"id": "e1", "title": "old", "status": "published"})
	require.NoError(t, err)
	_, present := resolved.Payload["status"]
	assert.False(t, present)
}

func TestResolve_RequiredAbsentOnCreate(t *testing.T) {
	col := eventCollection()
	r, _ := newTestResolver(t, col)

	_, err := r.Resolve(context.Background(), col, map[string]interface{}{}, nil)
	require.Error(t, err)

	var me *merr.Error
	require.True(t, errors.As(err, &me))
	assert.Equal(t, merr.KindValidationFailure, me.Kind)
	entries := me.Data["errors"].([]interface{})
	require.Len(t, entries, 1)
	entry := entries[0].(map[string]interface{})
	assert.Equal(t, `Required field "title" is null or undefined.`, entry["message"])
}

func TestResolve_RequiredExplicitNullOnCreate(t *testing.T) {
	col := eventCollection()
	r, _ := newTestResolver(t, col)

	_, err := r.Resolve(context.Background(), col, map[string]interface{}{"title": nil}, nil)
	require.Error(t, err)
	assert.True(t, merr.IsKind(err, merr.KindValidationFailure))
}

func TestResolve_RequiredAbsentOnUpdateIsFine(t *testing.T) {
	col := eventCollection()
	r, _ := newTestResolver(t, col)

	_, err := r.Resolve(context.Background(), col,
		map[string]interface{}{"status": "published"}, schema.Item{"id": "e1", "title": "kept"})
	require.NoError(t, err)
}

func TestResolve_RequiredExplicitNullOnUpdate(t *testing.T) {
	col := eventCollection()
	r, _ := newTestResolver(t, col)

	_, err := r.Resolve(context.Background(), col,
		map[string]interface{}{"title": nil}, schema.Item{"id": "e1", "title": "old"})
	require.Error(t, err)
	assert.True(t, merr.IsKind(err, merr.KindValidationFailure))
}

func scheduleField(required bool) schema.Field {
	return schema.Field{
		Key:      "schedule",
		Kind:     schema.KindMulti,
		Required: required,
		Columns:  []string{"startsAt", "endsAt"},
	}
}

func TestResolve_MultiFieldFlattensToColumns(t *testing.T) {
	col := eventCollection(scheduleField(false))
	r, _ := newTestResolver(t, col)

	resolved, err := r.Resolve(context.Background(), col, map[string]interface{}{
		"title":    "launch",
		"schedule": map[string]interface{}{"startsAt": "2026-09-01", "endsAt": "2026-09-02"},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "2026-09-01", resolved.Payload["startsAt"])
	assert.Equal(t, "2026-09-02", resolved.Payload["endsAt"])
	_, present := resolved.Payload["schedule"]
	assert.False(t, present)
}

func TestResolve_MultiFieldNullClearsColumns(t *testing.T) {
	col := eventCollection(scheduleField(false))
	r, _ := newTestResolver(t, col)

	resolved, err := r.Resolve(context.Background(), col, map[string]interface{}{
		"title":    "launch",
		"schedule": nil,
	}, nil)
	require.NoError(t, err)
	require.Contains(t, resolved.Payload, "startsAt")
	require.Contains(t, resolved.Payload, "endsAt")
	assert.Nil(t, resolved.Payload["startsAt"])
	assert.Nil(t, resolved.Payload["endsAt"])
}

func TestResolve_RequiredMultiAllNullSubvalues(t *testing.T) {
	col := eventCollection(scheduleField(true))
	r, _ := newTestResolver(t, col)

	_, err := r.Resolve(context.Background(), col, map[string]interface{}{
		"title":    "launch",
		"schedule": map[string]interface{}{"startsAt": nil, "endsAt": nil},
	}, nil)
	require.Error(t, err)
	assert.True(t, merr.IsKind(err, merr.KindValidationFailure))
}

func TestResolve_RequiredMultiPartialSubvaluesPass(t *testing.T) {
	col := eventCollection(scheduleField(true))
	r, _ := newTestResolver(t, col)

	_, err := r.Resolve(context.Background(), col, map[string]interface{}{
		"title":    "launch",
		"schedule": map[string]interface{}{"startsAt": "2026-09-01", "endsAt": nil},
	}, nil)
	require.NoError(t, err)
}

func TestResolve_ValidateInputCollectsAllViolations(t *testing.T) {
	col := schema.MustNew("Event",
		schema.Field{
			Key:  "title",
			Kind: schema.KindScalar,
			Hooks: schema.FieldHooks{
				ValidateInput: func(ctx context.Context, args *schema.HookArgs) error {
					args.Report("title rule violated", nil)
					return nil
				},
			},
		},
		schema.Field{
			Key:  "status",
			Kind: schema.KindScalar,
			Hooks: schema.FieldHooks{
				ValidateInput: func(ctx context.Context, args *schema.HookArgs) error {
					args.Report("status rule violated", nil)
					return nil
				},
			},
		},
	).WithHooks(schema.CollectionHooks{
		ValidateInput: func(ctx context.Context, args *schema.HookArgs) error {
			args.Report("collection rule violated", nil)
			return nil
		},
	})
	r, _ := newTestResolver(t, col)

	_, err := r.Resolve(context.Background(), col,
		map[string]interface{}{"title": "a", "status": "b"}, nil)
	require.Error(t, err)

	var me *merr.Error
	require.True(t, errors.As(err, &me))
	assert.Equal(t, merr.KindValidationFailure, me.Kind)
	assert.Len(t, me.Data["errors"].([]interface{}), 3)
}

func TestResolve_BeforeChangeOnlyForRawInputFields(t *testing.T) {
	ran := make(map[string]bool)
	hook := func(key string) schema.FieldHooks {
		return schema.FieldHooks{
			BeforeChange: func(ctx context.Context, args *schema.HookArgs) error {
				ran[args.FieldKey] = true
				return nil
			},
		}
	}
	col := schema.MustNew("Event",
		schema.Field{Key: "title", Kind: schema.KindScalar, Hooks: hook("title")},
		schema.Field{Key: "status", Kind: schema.KindScalar, Default: "draft", Hooks: hook("status")},
	)
	r, _ := newTestResolver(t, col)

	_, err := r.Resolve(context.Background(), col, map[string]interface{}{"title": "x"}, nil)
	require.NoError(t, err)
	assert.True(t, ran["title"])
	// Defaulted but not present in the raw input.
	assert.False(t, ran["status"])
}

func TestResolve_AfterChangeRunsWithCommittedItem(t *testing.T) {
	var sawID interface{}
	col := schema.MustNew("Event",
		schema.Field{
			Key:  "title",
			Kind: schema.KindScalar,
			Hooks: schema.FieldHooks{
				AfterChange: func(ctx context.Context, args *schema.HookArgs) error {
					sawID = args.Item.ID()
					return nil
				},
			},
		},
	)
	r, store := newTestResolver(t, col)

	resolved, err := r.Resolve(context.Background(), col, map[string]interface{}{"title": "x"}, nil)
	require.NoError(t, err)
	item, err := r.CreateItem(context.Background(), "Event", resolved.Payload)
	require.NoError(t, err)

	require.NoError(t, resolved.AfterChange(context.Background(), item))
	assert.Equal(t, item.ID(), sawID)

	found, err := store.Find(context.Background(), "Event", map[string]interface{}{"id": item.ID()})
	require.NoError(t, err)
	require.NotNil(t, found)
}

func TestResolve_FieldResolverErrorsCarryFieldIdentity(t *testing.T) {
	col := schema.MustNew("Event",
		schema.Field{
			Key:  "title",
			Kind: schema.KindScalar,
			CreateResolver: func(ctx context.Context, input interface{}, rel schema.RelationResolver) (interface{}, error) {
				return nil, merr.New(merr.KindBadUserInput, "title rejected")
			},
		},
		schema.Field{
			Key:  "status",
			Kind: schema.KindScalar,
			CreateResolver: func(ctx context.Context, input interface{}, rel schema.RelationResolver) (interface{}, error) {
				return nil, merr.New(merr.KindBadUserInput, "status rejected")
			},
		},
	)
	r, _ := newTestResolver(t, col)

	_, err := r.Resolve(context.Background(), col,
		map[string]interface{}{"title": "a", "status": "b"}, nil)
	require.Error(t, err)

	var me *merr.Error
	require.True(t, errors.As(err, &me))
	require.Len(t, me.Reasons(), 2)
	fields := make(map[string]bool)
	for _, reason := range me.Reasons() {
		var re *merr.Error
		require.True(t, errors.As(reason, &re))
		fields[re.Data["field"].(string)] = true
	}
	assert.True(t, fields["title"])
	assert.True(t, fields["status"])
}

func TestResolve_SingleFieldErrorKeepsKindAndField(t *testing.T) {
	col := schema.MustNew("Event",
		schema.Field{Key: "title", Kind: schema.KindScalar},
		schema.Field{
			Key:  "status",
			Kind: schema.KindScalar,
			CreateResolver: func(ctx context.Context, input interface{}, rel schema.RelationResolver) (interface{}, error) {
				return nil, merr.New(merr.KindBadUserInput, "status rejected")
			},
		},
	)
	r, _ := newTestResolver(t, col)

	_, err := r.Resolve(context.Background(), col,
		map[string]interface{}{"title": "a", "status": "b"}, nil)
	require.Error(t, err)

	// The sole failing field surfaces directly, its kind intact.
	assert.True(t, merr.IsKind(err, merr.KindBadUserInput))
	var me *merr.Error
	require.True(t, errors.As(err, &me))
	assert.Equal(t, "status rejected", me.Message)
	assert.Equal(t, "status", me.Data["field"])
}

func mustCollection(t *testing.T, r *Resolver, name string) *schema.Collection {
	t.Helper()
	col, err := r.Collection(name)
	require.NoError(t, err)
	return col
}

func TestResolveUniqueFilter_ExactlyOneKey(t *testing.T) {
	col := schema.MustNew("Event",
		schema.Field{Key: "slug", Kind: schema.KindScalar, Unique: true},
	)
	r, _ := newTestResolver(t, col)
	ctx := context.Background()

	_, err := r.ResolveUniqueFilter(ctx, "Event", map[string]interface{}{})
	assert.True(t, merr.IsKind(err, merr.KindBadUserInput))

	_, err = r.ResolveUniqueFilter(ctx, "Event", map[string]interface{}{"id": "a", "slug": "b"})
	assert.True(t, merr.IsKind(err, merr.KindBadUserInput))
}

func TestResolveUniqueFilter_RejectsNonUniqueKey(t *testing.T) {
	col := eventCollection()
	r, _ := newTestResolver(t, col)

	_, err := r.ResolveUniqueFilter(context.Background(), "Event", map[string]interface{}{"title": "launch"})
	require.Error(t, err)
	assert.True(t, merr.IsKind(err, merr.KindBadUserInput))
}

func TestResolveUniqueFilter_RejectsNullValue(t *testing.T) {
	col := eventCollection()
	r, _ := newTestResolver(t, col)

	_, err := r.ResolveUniqueFilter(context.Background(), "Event", map[string]interface{}{"id": nil})
	require.Error(t, err)
	assert.True(t, merr.IsKind(err, merr.KindBadUserInput))
}

func TestResolveUniqueFilter_AcceptsUniqueKey(t *testing.T) {
	col := schema.MustNew("Event",
		schema.Field{Key: "slug", Kind: schema.KindScalar, Unique: true},
	)
	r, _ := newTestResolver(t, col)

	filter, err := r.ResolveUniqueFilter(context.Background(), "Event", map[string]interface{}{"slug": "launch"})
	require.NoError(t, err)
	assert.Equal(t, "launch", filter["slug"])
}

func TestNew_RejectsDuplicateCollections(t *testing.T) {
	col := eventCollection()
	store := memstore.New(col)
	_, err := New(store, col, col)
	require.Error(t, err)
}

func TestNew_RejectsUnknownRelationTarget(t *testing.T) {
	col := schema.MustNew("Event", schema.RelationField("group", "Group", false))
	store := memstore.New(col)
	_, err := New(store, col)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown collection")
}
