package access

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"list-mutator/internal/merr"
	"list-mutator/internal/storage"
	"list-mutator/internal/storage/memstore"
)

func passthroughFilter(ctx context.Context, collection string, filter map[string]interface{}) (storage.Filter, error) {
	return storage.Filter(filter), nil
}

func TestCheckCreate_NoRuleAllows(t *testing.T) {
	checker := AllowAll(memstore.New(), passthroughFilter)
	require.NoError(t, checker.CheckCreate(context.Background(), "Task", map[string]interface{}{"title": "x"}))
}

func TestCheckCreate_DenyingRule(t *testing.T) {
	checker := NewRuleChecker(memstore.New(), passthroughFilter, map[string]CollectionRules{
		"Task": {Create: func(ctx context.Context, rawInput map[string]interface{}) bool { return false }},
	})

	err := checker.CheckCreate(context.Background(), "Task", map[string]interface{}{"title": "x"})
	require.Error(t, err)
	assert.True(t, merr.IsKind(err, merr.KindAccessDenied))
	assert.EqualError(t, err, "you cannot create Task")
}

func TestCheckUpdate_ResolvesTarget(t *testing.T) {
	store := memstore.New()
	created, err := store.Create(context.Background(), "Task", storage.Record{"title": "x"})
	require.NoError(t, err)

	checker := AllowAll(store, passthroughFilter)
	item, err := checker.CheckUpdate(context.Background(), "Task",
		map[string]interface{}{"id": created["id"]}, map[string]interface{}{"title": "y"})
	require.NoError(t, err)
	assert.Equal(t, "x", item["title"])
}

func TestCheckUpdate_MissingTargetDenied(t *testing.T) {
	checker := AllowAll(memstore.New(), passthroughFilter)

	_, err := checker.CheckUpdate(context.Background(), "Task",
		map[string]interface{}{"id": "missing"}, map[string]interface{}{})
	require.Error(t, err)
	assert.True(t, merr.IsKind(err, merr.KindAccessDenied))
}

func TestCheckUpdate_DenyingRuleShortCircuits(t *testing.T) {
	resolverCalled := false
	checker := NewRuleChecker(memstore.New(), func(ctx context.Context, collection string, filter map[string]interface{}) (storage.Filter, error) {
		resolverCalled = true
		return storage.Filter(filter), nil
	}, map[string]CollectionRules{
		"Task": {Update: func(ctx context.Context, rawInput map[string]interface{}) bool { return false }},
	})

	_, err := checker.CheckUpdate(context.Background(), "Task",
		map[string]interface{}{"id": "t1"}, map[string]interface{}{})
	require.Error(t, err)
	assert.True(t, merr.IsKind(err, merr.KindAccessDenied))
	assert.False(t, resolverCalled)
}
