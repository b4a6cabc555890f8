package resolve

import (
	"context"
	"errors"
	"fmt"

	"github.com/mitchellh/mapstructure"

	"list-mutator/internal/awaitall"
	"list-mutator/internal/merr"
	"list-mutator/internal/schema"
	"list-mutator/internal/storage"
)

// relationResolver translates one relation field's instruction into a
// storage-ready value. It is bound to the field's target collection
// and the current operation, and re-enters the pipeline through the
// coordinator for inline creates.
type relationResolver struct {
	r       *Resolver
	owner   *schema.Collection
	field   *schema.Field
	foreign *schema.Collection
	op      schema.Operation
	state   *State
}

// toOneInput is the instruction shape of a to-one relation: exactly
// one of connect, create, or disconnect (update-only) may be present.
type toOneInput struct {
	Connect    map[string]interface{} `mapstructure:"connect"`
	Create     map[string]interface{} `mapstructure:"create"`
	Disconnect bool                   `mapstructure:"disconnect"`
}

// toManyInput is the instruction shape of a to-many relation.
// disconnect and disconnectAll are update-only; disconnectAll wins
// over an explicit disconnect list.
type toManyInput struct {
	Connect       []map[string]interface{} `mapstructure:"connect"`
	Create        []map[string]interface{} `mapstructure:"create"`
	Disconnect    []map[string]interface{} `mapstructure:"disconnect"`
	DisconnectAll bool                     `mapstructure:"disconnectAll"`
}

func (rr *relationResolver) path() string {
	return rr.owner.Name + "." + rr.field.Key
}

// Resolve implements schema.RelationResolver. A null instruction is a
// no-op: no write to the relation, no error.
func (rr *relationResolver) Resolve(ctx context.Context, input interface{}) (interface{}, error) {
	if input == nil {
		return schema.Omit, nil
	}
	if rr.field.Relation.Many {
		return rr.resolveToMany(ctx, input)
	}
	return rr.resolveToOne(ctx, input)
}

func (rr *relationResolver) resolveToOne(ctx context.Context, input interface{}) (interface{}, error) {
	var instruction toOneInput
	if err := decodeRelationInput(input, &instruction); err != nil {
		return nil, merr.Newf(merr.KindBadUserInput, "received invalid input at %s", rr.path())
	}

	provided := 0
	if instruction.Connect != nil {
		provided++
	}
	if instruction.Create != nil {
		provided++
	}
	if instruction.Disconnect {
		provided++
	}
	if provided != 1 {
		return nil, merr.Newf(merr.KindBadUserInput,
			"%s accepts exactly one of connect, create or disconnect", rr.path())
	}
	if instruction.Disconnect && rr.op == schema.OpCreate {
		return nil, merr.Newf(merr.KindBadUserInput,
			"disconnect is not valid when creating %s", rr.path())
	}

	switch {
	case instruction.Connect != nil:
		id, err := rr.connectOne(ctx, instruction.Connect)
		if err != nil {
			return nil, merr.Nested(fmt.Sprintf("unable to connect a %s at %s", rr.foreign.Name, rr.path()), []error{err})
		}
		return id, nil
	case instruction.Create != nil:
		id, err := rr.r.nestedCreate(ctx, rr.state, rr.foreign, instruction.Create)
		if err != nil {
			return nil, merr.Nested(fmt.Sprintf("unable to create a %s at %s", rr.foreign.Name, rr.path()), []error{err})
		}
		return id, nil
	default:
		// disconnect: null out the reference.
		return nil, nil
	}
}

func (rr *relationResolver) resolveToMany(ctx context.Context, input interface{}) (interface{}, error) {
	var instruction toManyInput
	if err := decodeRelationInput(input, &instruction); err != nil {
		return nil, merr.Newf(merr.KindBadUserInput, "received invalid input at %s", rr.path())
	}

	if instruction.Connect == nil && instruction.Create == nil &&
		instruction.Disconnect == nil && !instruction.DisconnectAll {
		return nil, merr.Newf(merr.KindBadUserInput, "received invalid input at %s", rr.path())
	}
	if rr.op == schema.OpCreate && (instruction.Disconnect != nil || instruction.DisconnectAll) {
		return nil, merr.Newf(merr.KindBadUserInput,
			"disconnect is not valid when creating %s", rr.path())
	}
	if limit := rr.owner.MaxNested; limit > 0 && len(instruction.Connect)+len(instruction.Create) > limit {
		return nil, merr.Newf(merr.KindLimitsExceeded,
			"%s accepts at most %d nested instructions, got %d",
			rr.path(), limit, len(instruction.Connect)+len(instruction.Create))
	}

	// Connects and creates always run concurrently and always collect:
	// the whole batch settles before any failure is raised.
	tasks := make([]awaitall.Task[interface{}], 0, len(instruction.Connect)+len(instruction.Create))
	for _, filter := range instruction.Connect {
		tasks = append(tasks, func(ctx context.Context) (interface{}, error) {
			return rr.connectOne(ctx, filter)
		})
	}
	for _, createInput := range instruction.Create {
		tasks = append(tasks, func(ctx context.Context) (interface{}, error) {
			return rr.r.nestedCreate(ctx, rr.state, rr.foreign, createInput)
		})
	}
	ids, err := awaitall.All(ctx, tasks)
	if err != nil {
		reasons := []error{err}
		var me *merr.Error
		if errors.As(err, &me) && len(me.Reasons()) > 0 {
			reasons = me.Reasons()
		}
		return nil, merr.Nested(
			fmt.Sprintf("unable to create and/or connect %d %s at %s", len(reasons), rr.foreign.Name, rr.path()),
			reasons,
		)
	}

	// Creates were already committed through the coordinator, so they
	// surface as connect-by-id, never as pending creates.
	op := &storage.ManyRelationOp{Connect: ids}

	if instruction.DisconnectAll {
		// Replace the whole relation; an explicit disconnect list
		// alongside is redundant and ignored.
		op.Set = []interface{}{}
		return op, nil
	}
	if len(instruction.Disconnect) > 0 {
		op.Disconnect = rr.resolveDisconnects(ctx, instruction.Disconnect)
	}
	return op, nil
}

// connectOne verifies the target of one connect filter exists and
// resolves it to its id.
func (rr *relationResolver) connectOne(ctx context.Context, filter map[string]interface{}) (interface{}, error) {
	storageFilter, err := rr.r.ResolveUniqueFilter(ctx, rr.foreign.Name, filter)
	if err != nil {
		return nil, err
	}
	item, err := rr.r.store.Find(ctx, rr.foreign.Name, storageFilter)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, merr.Newf(merr.KindBadUserInput,
			"the %s to connect at %s was not found", rr.foreign.Name, rr.path())
	}
	return schema.Item(item).ID(), nil
}

// resolveDisconnects resolves disconnect filters best-effort:
// unresolvable or erroring lookups are dropped silently rather than
// failing the operation. This is a deliberate, documented relaxation
// of the fail-loud policy used everywhere else.
func (rr *relationResolver) resolveDisconnects(ctx context.Context, filters []map[string]interface{}) []interface{} {
	ids := make([]interface{}, 0, len(filters))
	for _, filter := range filters {
		storageFilter, err := rr.r.ResolveUniqueFilter(ctx, rr.foreign.Name, filter)
		if err != nil {
			continue
		}
		item, err := rr.r.store.Find(ctx, rr.foreign.Name, storageFilter)
		if err != nil || item == nil {
			continue
		}
		ids = append(ids, schema.Item(item).ID())
	}
	return ids
}

// decodeRelationInput decodes a raw instruction map strictly: unknown
// keys are an error so malformed shapes surface as BadUserInput.
func decodeRelationInput(input interface{}, out interface{}) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:      out,
		ErrorUnused: true,
	})
	if err != nil {
		return err
	}
	return decoder.Decode(input)
}
