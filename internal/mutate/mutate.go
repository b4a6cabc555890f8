// Package mutate exposes the mutation operation entry points consumed
// by the request-surface layer: create-one, create-many, update-one,
// and update-many. Each operation applies access control, runs the
// input resolution pipeline, performs the physical write, and invokes
// the deferred afterChange chain.
package mutate

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"list-mutator/internal/access"
	"list-mutator/internal/logging"
	"list-mutator/internal/observability"
	"list-mutator/internal/resolve"
	"list-mutator/internal/schema"
)

// Operations runs mutations against the resolver's collections.
type Operations struct {
	resolver *resolve.Resolver
	checker  access.Checker
	metrics  *observability.MutationMetrics
}

// New wires the operations. metrics may be nil.
func New(resolver *resolve.Resolver, checker access.Checker, metrics *observability.MutationMetrics) *Operations {
	resolver.SetAccess(checker)
	return &Operations{resolver: resolver, checker: checker, metrics: metrics}
}

// Result is one independently-settled entry of a many-operation.
type Result struct {
	Item schema.Item
	Err  error
}

// UpdateEntry is one entry of an update-many request.
type UpdateEntry struct {
	Filter   map[string]interface{}
	RawInput map[string]interface{}
}

// CreateOne creates one item. If the write commits but a post-write
// side effect fails, the committed item is returned alongside the
// error; this is a documented asymmetry, not a rollback.
func (o *Operations) CreateOne(ctx context.Context, collection string, rawInput map[string]interface{}) (item schema.Item, err error) {
	started := time.Now()
	ctx, span := startMutationSpan(ctx, "mutation.create",
		attribute.String("mutation.collection", collection),
	)
	defer func() {
		finishMutationSpan(span, err)
		o.record(ctx, "create", collection, started, err)
	}()

	col, err := o.resolver.Collection(collection)
	if err != nil {
		return nil, err
	}
	if err = o.checker.CheckCreate(ctx, col.Name, rawInput); err != nil {
		return nil, err
	}

	resolved, err := o.resolver.Resolve(ctx, col, rawInput, nil)
	if err != nil {
		return nil, err
	}
	o.recordNested(ctx, "create", col.Name, resolved.NestedOps)
	item, err = o.resolver.CreateItem(ctx, col.Name, resolved.Payload)
	if err != nil {
		return nil, err
	}

	logging.FromContext(ctx).Debug("item created", "collection", col.Name, "id", item.ID())

	if afterErr := resolved.AfterChange(ctx, item); afterErr != nil {
		// The write has committed; the caller still observes the item.
		return item, afterErr
	}
	return item, nil
}

// CreateMany creates a batch of items, each entry settling
// independently on its own merits.
func (o *Operations) CreateMany(ctx context.Context, collection string, rawInputs []map[string]interface{}) []Result {
	results := make([]Result, len(rawInputs))
	var wg sync.WaitGroup
	for i, rawInput := range rawInputs {
		wg.Add(1)
		go func(i int, rawInput map[string]interface{}) {
			defer wg.Done()
			item, err := o.CreateOne(ctx, collection, rawInput)
			results[i] = Result{Item: item, Err: err}
		}(i, rawInput)
	}
	wg.Wait()
	return results
}

// UpdateOne updates the item matched by the unique filter. Access
// control resolves the filter to the pre-write item in the same step.
func (o *Operations) UpdateOne(ctx context.Context, collection string, filter, rawInput map[string]interface{}) (item schema.Item, err error) {
	started := time.Now()
	ctx, span := startMutationSpan(ctx, "mutation.update",
		attribute.String("mutation.collection", collection),
	)
	defer func() {
		finishMutationSpan(span, err)
		o.record(ctx, "update", collection, started, err)
	}()

	col, err := o.resolver.Collection(collection)
	if err != nil {
		return nil, err
	}
	existing, err := o.checker.CheckUpdate(ctx, col.Name, filter, rawInput)
	if err != nil {
		return nil, err
	}

	resolved, err := o.resolver.Resolve(ctx, col, rawInput, schema.Item(existing))
	if err != nil {
		return nil, err
	}
	o.recordNested(ctx, "update", col.Name, resolved.NestedOps)
	item, err = o.resolver.UpdateItem(ctx, col.Name, schema.Item(existing).ID(), resolved.Payload)
	if err != nil {
		return nil, err
	}

	logging.FromContext(ctx).Debug("item updated", "collection", col.Name, "id", item.ID())

	if afterErr := resolved.AfterChange(ctx, item); afterErr != nil {
		return item, afterErr
	}
	return item, nil
}

// UpdateMany updates a batch of items, each entry settling
// independently.
func (o *Operations) UpdateMany(ctx context.Context, collection string, entries []UpdateEntry) []Result {
	results := make([]Result, len(entries))
	var wg sync.WaitGroup
	for i, entry := range entries {
		wg.Add(1)
		go func(i int, entry UpdateEntry) {
			defer wg.Done()
			item, err := o.UpdateOne(ctx, collection, entry.Filter, entry.RawInput)
			results[i] = Result{Item: item, Err: err}
		}(i, entry)
	}
	wg.Wait()
	return results
}

func (o *Operations) record(ctx context.Context, operation, collection string, started time.Time, err error) {
	if o.metrics == nil {
		return
	}
	o.metrics.RecordMutation(ctx, operation, collection, time.Since(started), err)
}

func (o *Operations) recordNested(ctx context.Context, operation, collection string, count int) {
	if o.metrics == nil {
		return
	}
	o.metrics.RecordNested(ctx, operation, collection, count)
}
