// Package resolve implements the nested mutation resolution engine:
// the per-field input resolution pipeline, the relationship resolvers,
// and the nested-mutation-state coordinator that defers child-record
// side effects until the enclosing write succeeds.
package resolve

import (
	"context"
	"errors"
	"fmt"

	"list-mutator/internal/access"
	"list-mutator/internal/merr"
	"list-mutator/internal/schema"
	"list-mutator/internal/storage"
)

// Resolver resolves mutation requests against a set of collections
// backed by one store. It is safe for concurrent use; per-request
// state lives in the coordinator owned by each top-level resolution.
type Resolver struct {
	collections map[string]*schema.Collection
	store       storage.Store
	checker     access.Checker

	// writeSem bounds simultaneous physical writes for backends that
	// declare a maximum write concurrency. Nil means unlimited.
	writeSem chan struct{}
}

// New builds a resolver over the given collections and store. The
// access checker is attached afterwards with SetAccess because checker
// implementations typically need the resolver's filter discipline.
func New(store storage.Store, collections ...*schema.Collection) (*Resolver, error) {
	index := make(map[string]*schema.Collection, len(collections))
	for _, col := range collections {
		if _, dup := index[col.Name]; dup {
			return nil, fmt.Errorf("duplicate collection %q", col.Name)
		}
		index[col.Name] = col
	}
	for _, col := range collections {
		for i := range col.Fields {
			field := &col.Fields[i]
			if field.Kind != schema.KindRelation {
				continue
			}
			if _, ok := index[field.Relation.Collection]; !ok {
				return nil, fmt.Errorf("collection %s: field %q references unknown collection %q",
					col.Name, field.Key, field.Relation.Collection)
			}
		}
	}

	r := &Resolver{collections: index, store: store}
	if limit := store.MaxWriteConcurrency(); limit > 0 {
		r.writeSem = make(chan struct{}, limit)
	}
	return r, nil
}

// SetAccess attaches the access-control collaborator.
func (r *Resolver) SetAccess(checker access.Checker) {
	r.checker = checker
}

// Collection returns the named collection.
func (r *Resolver) Collection(name string) (*schema.Collection, error) {
	col, ok := r.collections[name]
	if !ok {
		return nil, merr.Newf(merr.KindBadUserInput, "unknown collection %q", name)
	}
	return col, nil
}

// FindItem looks up one item by a unique filter, or nil when none
// matches.
func (r *Resolver) FindItem(ctx context.Context, collection string, filter map[string]interface{}) (schema.Item, error) {
	resolved, err := r.ResolveUniqueFilter(ctx, collection, filter)
	if err != nil {
		return nil, err
	}
	rec, err := r.store.Find(ctx, collection, resolved)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, nil
	}
	return schema.Item(rec), nil
}

// CreateItem performs a physical create through the write limiter.
func (r *Resolver) CreateItem(ctx context.Context, collection string, payload storage.Record) (schema.Item, error) {
	release, err := r.acquireWrite(ctx)
	if err != nil {
		return nil, err
	}
	defer release()
	rec, err := r.store.Create(ctx, collection, payload)
	if err != nil {
		return nil, normalizeStoreError(err)
	}
	return schema.Item(rec), nil
}

// UpdateItem performs a physical update through the write limiter.
func (r *Resolver) UpdateItem(ctx context.Context, collection string, id interface{}, payload storage.Record) (schema.Item, error) {
	release, err := r.acquireWrite(ctx)
	if err != nil {
		return nil, err
	}
	defer release()
	rec, err := r.store.Update(ctx, collection, id, payload)
	if err != nil {
		return nil, normalizeStoreError(err)
	}
	return schema.Item(rec), nil
}

// normalizeStoreError maps adapter-reported constraint violations into
// the mutation error taxonomy; anything else passes through.
func normalizeStoreError(err error) error {
	var ce *storage.ConstraintError
	if errors.As(err, &ce) {
		data := map[string]interface{}{"collection": ce.Collection}
		if ce.Key != "" {
			data["field"] = ce.Key
		}
		return merr.Newf(merr.KindMutationError,
			"unique constraint violation on %s", ce.Collection).WithData(data)
	}
	return err
}

func (r *Resolver) acquireWrite(ctx context.Context) (func(), error) {
	if r.writeSem == nil {
		return func() {}, nil
	}
	select {
	case r.writeSem <- struct{}{}:
		return func() { <-r.writeSem }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
