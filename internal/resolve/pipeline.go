package resolve

import (
	"context"
	"fmt"

	"list-mutator/internal/awaitall"
	"list-mutator/internal/hooks"
	"list-mutator/internal/logging"
	"list-mutator/internal/merr"
	"list-mutator/internal/schema"
	"list-mutator/internal/storage"
	"list-mutator/internal/validate"
)

// Resolved is the outcome of a successful resolution: the flat,
// storage-ready write payload and the deferred afterChange chain to
// invoke once the physical write has committed.
type Resolved struct {
	Payload storage.Record

	// NestedOps counts the nested creates this resolution committed.
	NestedOps int

	// AfterChange replays the coordinator's pending nested side effects
	// first, then runs the afterChange hook phase with the committed
	// item in scope. Invoke exactly once, after the write commits.
	AfterChange func(ctx context.Context, committed schema.Item) error
}

// Resolve runs the full input resolution pipeline for one top-level
// mutation. A nil existing item means create; non-nil means update and
// supplies prior values for hooks. The nested mutation state is owned
// by this invocation and every nested create it triggers.
func (r *Resolver) Resolve(ctx context.Context, col *schema.Collection, rawInput map[string]interface{}, existing schema.Item) (*Resolved, error) {
	state := newState()
	payload, after, err := r.resolve(ctx, col, rawInput, existing, state)
	if err != nil {
		return nil, err
	}
	return &Resolved{
		Payload:   payload,
		NestedOps: state.pendingCount(),
		AfterChange: func(ctx context.Context, committed schema.Item) error {
			if err := state.Replay(ctx); err != nil {
				return err
			}
			return after(ctx, committed)
		},
	}, nil
}

// afterFunc runs the afterChange hook phase for one resolution.
type afterFunc func(ctx context.Context, committed schema.Item) error

// resolve is the recursive core shared by top-level operations and
// nested creates. Nested invocations pass the enclosing state so their
// after-change side effects are deferred to the outermost write.
func (r *Resolver) resolve(ctx context.Context, col *schema.Collection, rawInput map[string]interface{}, existing schema.Item, state *State) (storage.Record, afterFunc, error) {
	op := schema.OpCreate
	if existing != nil {
		op = schema.OpUpdate
	}
	logger := logging.FromContext(ctx)

	// Phase 1: concurrent per-field resolution. Every rejection keeps
	// its field identity; the batch settles before anything is raised.
	type fieldResult struct {
		key     string
		value   interface{}
		defined bool
	}
	tasks := make([]awaitall.Task[fieldResult], 0, len(col.Fields))
	for i := range col.Fields {
		field := &col.Fields[i]
		tasks = append(tasks, func(ctx context.Context) (fieldResult, error) {
			value, defined, err := r.resolveField(ctx, col, field, op, rawInput, state)
			if err != nil {
				return fieldResult{}, merr.WithField(err, field.Key)
			}
			return fieldResult{key: field.Key, value: value, defined: defined}, nil
		})
	}
	results, err := awaitall.All(ctx, tasks)
	if err != nil {
		logger.Debug("field resolution failed", "collection", col.Name, "operation", string(op))
		return nil, nil, err
	}

	resolved := make(map[string]interface{}, len(results))
	for _, res := range results {
		if res.defined {
			resolved[res.key] = res.value
		}
	}

	// Phase 2: resolveInput hooks, field-level concurrently, then the
	// collection hook which may replace the whole map.
	args := &schema.HookArgs{
		Collection: col,
		Operation:  op,
		RawInput:   rawInput,
		Resolved:   resolved,
		Existing:   existing,
	}
	resolved, err = hooks.Run(ctx, col, hooks.ResolveInput, args, hooks.AllFields)
	if err != nil {
		return nil, nil, err
	}

	// Phase 3: required-field check. All violations are collected and
	// raised together.
	var collector validate.Collector
	checkRequired(col, op, resolved, &collector)
	if err := collector.Err(); err != nil {
		return nil, nil, err
	}

	// Phase 4: validateInput hooks share one collector so a request
	// violating M independent rules reports all M.
	validateArgs := *args
	validateArgs.Resolved = resolved
	validateArgs.Report = collector.Report
	if _, err := hooks.Run(ctx, col, hooks.ValidateInput, &validateArgs, hooks.AllFields); err != nil {
		return nil, nil, err
	}
	if err := collector.Err(); err != nil {
		return nil, nil, err
	}

	// Phase 5: beforeChange, restricted to fields present in the
	// original raw input. Failures here are ordinary operation
	// failures, not validation failures.
	beforeArgs := *args
	beforeArgs.Resolved = resolved
	if _, err := hooks.Run(ctx, col, hooks.BeforeChange, &beforeArgs, hooks.InRawInput(rawInput)); err != nil {
		return nil, nil, err
	}

	payload, err := flatten(col, resolved)
	if err != nil {
		return nil, nil, err
	}

	after := func(ctx context.Context, committed schema.Item) error {
		afterArgs := schema.HookArgs{
			Collection: col,
			Operation:  op,
			RawInput:   rawInput,
			Resolved:   resolved,
			Existing:   existing,
			Item:       committed,
		}
		_, err := hooks.Run(ctx, col, hooks.AfterChange, &afterArgs, hooks.InRawInput(rawInput))
		return err
	}
	return payload, after, nil
}

// resolveField resolves one field: default application, then the
// per-operation resolver with a relationship resolver injected for
// relation-kind fields. The returned defined flag distinguishes an
// explicit null from an absent value.
func (r *Resolver) resolveField(ctx context.Context, col *schema.Collection, field *schema.Field, op schema.Operation, rawInput map[string]interface{}, state *State) (interface{}, bool, error) {
	value, defined := rawInput[field.Key]

	if op == schema.OpCreate && !defined && field.HasDefault() {
		if field.DefaultFunc != nil {
			computed, err := field.DefaultFunc(ctx, rawInput)
			if err != nil {
				return nil, false, err
			}
			value = computed
		} else {
			value = field.Default
		}
		defined = true
	}

	resolver := field.Resolver(op)
	if resolver == nil {
		return value, defined, nil
	}

	var rel schema.RelationResolver
	if field.Kind == schema.KindRelation {
		foreign, err := r.Collection(field.Relation.Collection)
		if err != nil {
			return nil, false, err
		}
		rel = &relationResolver{
			r:       r,
			owner:   col,
			field:   field,
			foreign: foreign,
			op:      op,
			state:   state,
		}
	}

	out, err := resolver(ctx, value, rel)
	if err != nil {
		return nil, false, err
	}
	if out == schema.Omit {
		return nil, false, nil
	}
	if out != nil {
		defined = true
	}
	return out, defined, nil
}

// checkRequired records a violation for every required field that is
// null-or-absent on create, or explicitly null on update. A multi-kind
// field counts as null only when every constituent sub-value is null,
// and as absent only when every sub-value is absent.
func checkRequired(col *schema.Collection, op schema.Operation, resolved map[string]interface{}, collector *validate.Collector) {
	for i := range col.Fields {
		field := &col.Fields[i]
		if !field.Required {
			continue
		}
		value, defined := resolved[field.Key]
		if field.Kind == schema.KindMulti {
			value, defined = collapseMulti(field, value, defined)
		}
		violated := false
		switch op {
		case schema.OpCreate:
			violated = !defined || value == nil
		case schema.OpUpdate:
			violated = defined && value == nil
		}
		if violated {
			collector.Report(
				fmt.Sprintf("Required field %q is null or undefined.", field.Key),
				map[string]interface{}{"field": field.Key},
			)
		}
	}
}

// collapseMulti reduces a multi field's sub-value map to the
// null/absent/populated triage used by the required check. Partial
// population is not treated as absent.
func collapseMulti(field *schema.Field, value interface{}, defined bool) (interface{}, bool) {
	if !defined {
		return nil, false
	}
	subs, ok := value.(map[string]interface{})
	if !ok {
		return value, defined
	}
	allNil := true
	allAbsent := true
	for _, column := range field.Columns {
		sub, present := subs[column]
		if present {
			allAbsent = false
			if sub != nil {
				allNil = false
			}
		} else {
			allNil = false
		}
	}
	if allAbsent {
		return nil, false
	}
	if allNil {
		return nil, true
	}
	return value, true
}

// flatten expands multi-kind logical fields into their physical
// storage keys and produces the final write payload.
func flatten(col *schema.Collection, resolved map[string]interface{}) (storage.Record, error) {
	payload := make(storage.Record, len(resolved))
	for key, value := range resolved {
		field := col.Field(key)
		if field == nil || field.Kind != schema.KindMulti {
			payload[key] = value
			continue
		}
		subs, ok := value.(map[string]interface{})
		if value != nil && !ok {
			return nil, merr.Newf(merr.KindBadUserInput,
				"multi field %s.%s must resolve to an object", col.Name, key)
		}
		for _, column := range field.Columns {
			if subs == nil {
				payload[column] = nil
				continue
			}
			sub, present := subs[column]
			if present {
				payload[column] = sub
			}
		}
	}
	return payload, nil
}
