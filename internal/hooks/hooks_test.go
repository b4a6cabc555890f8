package hooks

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"list-mutator/internal/merr"
	"list-mutator/internal/schema"
)

func TestRun_ResolveInputAppliesFieldReplacements(t *testing.T) {
	col := schema.MustNew("Event",
		schema.Field{
			Key: "title",
			Hooks: schema.FieldHooks{
				ResolveInput: func(ctx context.Context, args *schema.HookArgs) (interface{}, error) {
					return "replaced", nil
				},
			},
		},
		schema.Field{Key: "status"},
	)
	args := &schema.HookArgs{
		Collection: col,
		Operation:  schema.OpCreate,
		Resolved:   map[string]interface{}{"title": "original", "status": "draft"},
	}
	resolved, err := Run(context.Background(), col, ResolveInput, args, AllFields)
	require.NoError(t, err)
	assert.Equal(t, "replaced", resolved["title"])
	assert.Equal(t, "draft", resolved["status"])
	// The input map is never mutated in place.
	assert.Equal(t, "original", args.Resolved["title"])
}

func TestRun_ResolveInputOmitDeletesKey(t *testing.T) {
	col := schema.MustNew("Event",
		schema.Field{
			Key: "slug",
			Hooks: schema.FieldHooks{
				ResolveInput: func(ctx context.Context, args *schema.HookArgs) (interface{}, error) {
					return schema.Omit, nil
				},
			},
		},
	)
	args := &schema.HookArgs{
		Collection: col,
		Resolved:   map[string]interface{}{"slug": "stale"},
	}
	resolved, err := Run(context.Background(), col, ResolveInput, args, AllFields)
	require.NoError(t, err)
	_, present := resolved["slug"]
	assert.False(t, present)
}

func TestRun_CollectionHookRunsAfterFieldHooks(t *testing.T) {
	var fieldDone atomic.Bool
	sawFieldResult := false

	col := schema.MustNew("Event",
		schema.Field{
			Key: "title",
			Hooks: schema.FieldHooks{
				ResolveInput: func(ctx context.Context, args *schema.HookArgs) (interface{}, error) {
					fieldDone.Store(true)
					return "from-field", nil
				},
			},
		},
	).WithHooks(schema.CollectionHooks{
		ResolveInput: func(ctx context.Context, args *schema.HookArgs) (map[string]interface{}, error) {
			sawFieldResult = fieldDone.Load() && args.Resolved["title"] == "from-field"
			return nil, nil
		},
	})

	_, err := Run(context.Background(), col, ResolveInput, &schema.HookArgs{
		Collection: col,
		Resolved:   map[string]interface{}{"title": "x"},
	}, AllFields)
	require.NoError(t, err)
	assert.True(t, sawFieldResult)
}

func TestRun_CollectionResolveInputMayReplaceWholeMap(t *testing.T) {
	col := schema.MustNew("Event", schema.Field{Key: "title"}).
		WithHooks(schema.CollectionHooks{
			ResolveInput: func(ctx context.Context, args *schema.HookArgs) (map[string]interface{}, error) {
				return map[string]interface{}{"title": "rewritten"}, nil
			},
		})
	resolved, err := Run(context.Background(), col, ResolveInput, &schema.HookArgs{
		Collection: col,
		Resolved:   map[string]interface{}{"title": "x", "extra": true},
	}, AllFields)
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"title": "rewritten"}, resolved)
}

func TestRun_CollectionHookSkippedWhenFieldHookFails(t *testing.T) {
	collectionRan := false
	col := schema.MustNew("Event",
		schema.Field{
			Key: "title",
			Hooks: schema.FieldHooks{
				BeforeChange: func(ctx context.Context, args *schema.HookArgs) error {
					return errors.New("field hook failed")
				},
			},
		},
	).WithHooks(schema.CollectionHooks{
		BeforeChange: func(ctx context.Context, args *schema.HookArgs) error {
			collectionRan = true
			return nil
		},
	})

	_, err := Run(context.Background(), col, BeforeChange, &schema.HookArgs{
		Collection: col,
		Resolved:   map[string]interface{}{"title": "x"},
	}, AllFields)
	require.Error(t, err)
	assert.False(t, collectionRan)
}

func TestRun_FieldFailuresCarryFieldIdentity(t *testing.T) {
	col := schema.MustNew("Event",
		schema.Field{
			Key: "title",
			Hooks: schema.FieldHooks{
				BeforeChange: func(ctx context.Context, args *schema.HookArgs) error {
					return errors.New("title hook failed")
				},
			},
		},
		schema.Field{
			Key: "status",
			Hooks: schema.FieldHooks{
				BeforeChange: func(ctx context.Context, args *schema.HookArgs) error {
					return errors.New("status hook failed")
				},
			},
		},
	)

	_, err := Run(context.Background(), col, BeforeChange, &schema.HookArgs{
		Collection: col,
		Resolved:   map[string]interface{}{},
	}, AllFields)
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

func TestRun_FilterRestrictsFields(t *testing.T) {
	ran := make(map[string]bool)
	hook := func(key string) schema.FieldHooks {
		return schema.FieldHooks{
			AfterChange: func(ctx context.Context, args *schema.HookArgs) error {
				ran[args.FieldKey] = true
				return nil
			},
		}
	}
	col := schema.MustNew("Event",
		schema.Field{Key: "title", Hooks: hook("title")},
		schema.Field{Key: "status", Hooks: hook("status")},
	)

	rawInput := map[string]interface{}{"title": "x"}
	_, err := Run(context.Background(), col, AfterChange, &schema.HookArgs{
		Collection: col,
		RawInput:   rawInput,
		Resolved:   map[string]interface{}{},
	}, InRawInput(rawInput))
	require.NoError(t, err)
	assert.True(t, ran["title"])
	assert.False(t, ran["status"])
}

func TestRun_FieldKeySetPerHook(t *testing.T) {
	var seen string
	col := schema.MustNew("Event",
		schema.Field{
			Key: "title",
			Hooks: schema.FieldHooks{
				ValidateInput: func(ctx context.Context, args *schema.HookArgs) error {
					seen = args.FieldKey
					return nil
				},
			},
		},
	)
	_, err := Run(context.Background(), col, ValidateInput, &schema.HookArgs{
		Collection: col,
		Resolved:   map[string]interface{}{},
	}, AllFields)
	require.NoError(t, err)
	assert.Equal(t, "title", seen)
}
