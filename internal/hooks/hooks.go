// Package hooks runs collection lifecycle hook phases. Within one
// phase every matching field-level hook runs concurrently; the
// collection-level hook runs only after all field-level invocations
// have settled successfully.
package hooks

import (
	"context"
	"sync"

	"list-mutator/internal/awaitall"
	"list-mutator/internal/merr"
	"list-mutator/internal/schema"
)

// Phase names a lifecycle hook.
type Phase string

const (
	ResolveInput  Phase = "resolveInput"
	ValidateInput Phase = "validateInput"
	BeforeChange  Phase = "beforeChange"
	AfterChange   Phase = "afterChange"
)

// Filter selects the fields a phase runs for. AllFields is used by
// resolveInput/validateInput; beforeChange/afterChange restrict to
// fields present in the original raw input.
type Filter func(fieldKey string) bool

// AllFields matches every field.
func AllFields(string) bool { return true }

// InRawInput matches fields present in rawInput.
func InRawInput(rawInput map[string]interface{}) Filter {
	return func(fieldKey string) bool {
		_, ok := rawInput[fieldKey]
		return ok
	}
}

// Run executes one hook phase over the collection. args.Resolved is
// treated as read-only during the field-level fan-out; the returned map
// is the phase's resulting value map (replaced values for resolveInput,
// args.Resolved unchanged for the other phases).
func Run(ctx context.Context, col *schema.Collection, phase Phase, args *schema.HookArgs, filter Filter) (map[string]interface{}, error) {
	if filter == nil {
		filter = AllFields
	}

	var (
		mu      sync.Mutex
		updates = make(map[string]interface{})
	)

	tasks := make([]func(ctx context.Context) error, 0, len(col.Fields))
	for i := range col.Fields {
		field := &col.Fields[i]
		if !filter(field.Key) {
			continue
		}
		task := fieldTask(field, phase, args, func(value interface{}) {
			mu.Lock()
			updates[field.Key] = value
			mu.Unlock()
		})
		if task == nil {
			continue
		}
		key := field.Key
		tasks = append(tasks, func(ctx context.Context) error {
			if err := task(ctx); err != nil {
				return merr.WithField(err, key)
			}
			return nil
		})
	}
	if err := awaitall.Do(ctx, tasks); err != nil {
		return nil, err
	}

	resolved := args.Resolved
	if phase == ResolveInput && len(updates) > 0 {
		resolved = make(map[string]interface{}, len(args.Resolved))
		for k, v := range args.Resolved {
			resolved[k] = v
		}
		for k, v := range updates {
			if v == schema.Omit {
				delete(resolved, k)
				continue
			}
			resolved[k] = v
		}
	}

	collectionArgs := *args
	collectionArgs.FieldKey = ""
	collectionArgs.Resolved = resolved
	replaced, err := collectionHook(ctx, col, phase, &collectionArgs)
	if err != nil {
		return nil, err
	}
	if replaced != nil {
		resolved = replaced
	}
	return resolved, nil
}

// fieldTask returns the effect for one field's hook slot, or nil when
// the slot is absent.
func fieldTask(field *schema.Field, phase Phase, args *schema.HookArgs, apply func(interface{})) func(ctx context.Context) error {
	fieldArgs := *args
	fieldArgs.FieldKey = field.Key

	switch phase {
	case ResolveInput:
		hook := field.Hooks.ResolveInput
		if hook == nil {
			return nil
		}
		return func(ctx context.Context) error {
			value, err := hook(ctx, &fieldArgs)
			if err != nil {
				return err
			}
			apply(value)
			return nil
		}
	case ValidateInput:
		hook := field.Hooks.ValidateInput
		if hook == nil {
			return nil
		}
		return func(ctx context.Context) error { return hook(ctx, &fieldArgs) }
	case BeforeChange:
		hook := field.Hooks.BeforeChange
		if hook == nil {
			return nil
		}
		return func(ctx context.Context) error { return hook(ctx, &fieldArgs) }
	case AfterChange:
		hook := field.Hooks.AfterChange
		if hook == nil {
			return nil
		}
		return func(ctx context.Context) error { return hook(ctx, &fieldArgs) }
	}
	return nil
}

// collectionHook runs the collection-level slot for the phase. Only the
// resolveInput hook returns a replacement map.
func collectionHook(ctx context.Context, col *schema.Collection, phase Phase, args *schema.HookArgs) (map[string]interface{}, error) {
	switch phase {
	case ResolveInput:
		if col.Hooks.ResolveInput == nil {
			return nil, nil
		}
		return col.Hooks.ResolveInput(ctx, args)
	case ValidateInput:
		if col.Hooks.ValidateInput == nil {
			return nil, nil
		}
		return nil, col.Hooks.ValidateInput(ctx, args)
	case BeforeChange:
		if col.Hooks.BeforeChange == nil {
			return nil, nil
		}
		return nil, col.Hooks.BeforeChange(ctx, args)
	case AfterChange:
		if col.Hooks.AfterChange == nil {
			return nil, nil
		}
		return nil, col.Hooks.AfterChange(ctx, args)
	}
	return nil, nil
}
