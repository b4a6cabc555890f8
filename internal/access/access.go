// Package access defines the access-control collaborator contract and
// a rule-based implementation. Only the pass/fail contract is consumed
// by the engine; how rules are authored is up to the caller.
package access

import (
	"context"

	"list-mutator/internal/merr"
	"list-mutator/internal/storage"
)

// Checker gates mutation operations per collection. CheckUpdate
// resolves the unique filter to the target item while asserting
// access, so callers get the pre-write item in one step.
type Checker interface {
	CheckCreate(ctx context.Context, collection string, rawInput map[string]interface{}) error
	CheckUpdate(ctx context.Context, collection string, filter map[string]interface{}, rawInput map[string]interface{}) (storage.Record, error)
}

// Rule decides one operation for one collection.
type Rule func(ctx context.Context, rawInput map[string]interface{}) bool

// CollectionRules holds the per-operation rules of one collection. A
// nil rule allows the operation.
type CollectionRules struct {
	Create Rule
	Update Rule
}

// FilterResolveFunc normalizes a unique-lookup filter into a storage
// filter. Injected by the engine so the checker and the resolver share
// one filter discipline.
type FilterResolveFunc func(ctx context.Context, collection string, filter map[string]interface{}) (storage.Filter, error)

// RuleChecker evaluates static per-collection rules and resolves
// update targets through the store.
type RuleChecker struct {
	store         storage.Store
	resolveFilter FilterResolveFunc
	rules         map[string]CollectionRules
}

// NewRuleChecker builds a checker over the given rules. Collections
// without an entry allow everything.
func NewRuleChecker(store storage.Store, resolveFilter FilterResolveFunc, rules map[string]CollectionRules) *RuleChecker {
	return &RuleChecker{store: store, resolveFilter: resolveFilter, rules: rules}
}

// AllowAll builds a checker that only resolves update targets.
func AllowAll(store storage.Store, resolveFilter FilterResolveFunc) *RuleChecker {
	return NewRuleChecker(store, resolveFilter, nil)
}

func (c *RuleChecker) CheckCreate(ctx context.Context, collection string, rawInput map[string]interface{}) error {
	rule := c.rules[collection].Create
	if rule != nil && !rule(ctx, rawInput) {
		return merr.Newf(merr.KindAccessDenied, "you cannot create %s", collection)
	}
	return nil
}

func (c *RuleChecker) CheckUpdate(ctx context.Context, collection string, filter map[string]interface{}, rawInput map[string]interface{}) (storage.Record, error) {
	rule := c.rules[collection].Update
	if rule != nil && !rule(ctx, rawInput) {
		return nil, merr.Newf(merr.KindAccessDenied, "you cannot update %s", collection)
	}
	storageFilter, err := c.resolveFilter(ctx, collection, filter)
	if err != nil {
		return nil, err
	}
	item, err := c.store.Find(ctx, collection, storageFilter)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, merr.Newf(merr.KindAccessDenied, "you cannot update the %s you are looking for", collection)
	}
	return item, nil
}
