// Package schema describes typed record collections: named sets of
// field descriptors with defaults, per-operation resolvers, lifecycle
// hooks, and storage-field kinds. The mutation engine is driven
// entirely by these descriptors.
package schema

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// Item is a stored record: an id plus the persisted form of a write
// payload. The engine only produces payloads; items are created and
// mutated by the storage collaborator.
type Item map[string]interface{}

// ID returns the item's identifier, or nil.
func (it Item) ID() interface{} {
	if it == nil {
		return nil
	}
	return it["id"]
}

// Kind is the storage-field kind of a field descriptor.
type Kind int

const (
	// KindScalar maps the field to a single physical storage key.
	KindScalar Kind = iota
	// KindRelation maps the field to one or more records in another
	// collection.
	KindRelation
	// KindMulti maps one logical field to several physical storage keys.
	KindMulti
)

// Operation distinguishes the write operation a resolver or hook runs
// under.
type Operation string

const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
)

// Omit is the sentinel a resolver returns to leave its field undefined
// in the resolved value map (for example a relation field given a null
// instruction).
var Omit = &omitValue{}

type omitValue struct{}

// RelationResolver translates a relationship instruction into a
// storage-ready value. It is injected into the per-operation resolver
// of relation-kind fields, bound to the field's target collection and
// the current operation.
type RelationResolver interface {
	Resolve(ctx context.Context, input interface{}) (interface{}, error)
}

// ResolveFunc is a per-operation field resolver. rel is non-nil only
// for relation-kind fields.
type ResolveFunc func(ctx context.Context, input interface{}, rel RelationResolver) (interface{}, error)

// DefaultFunc computes a field default from the raw input.
type DefaultFunc func(ctx context.Context, rawInput map[string]interface{}) (interface{}, error)

// HookArgs carries the state visible to a lifecycle hook.
type HookArgs struct {
	Collection *Collection
	// FieldKey is the hooked field's key, or "" for a collection-level
	// hook.
	FieldKey  string
	Operation Operation
	RawInput  map[string]interface{}
	// Resolved is the pipeline's working value map for the current
	// phase. Hooks must not mutate it directly; resolveInput hooks
	// return replacement values instead.
	Resolved map[string]interface{}
	// Existing is the pre-write item on update, nil on create.
	Existing Item
	// Item is the committed item, set only for afterChange.
	Item Item
	// Report records a validation violation, set only for validateInput.
	Report func(message string, data map[string]interface{})
}

// FieldHooks are the optional per-field lifecycle hook slots. A nil
// slot is a no-op; dispatch checks slot presence, not types.
type FieldHooks struct {
	// ResolveInput may replace the field's resolved value.
	ResolveInput func(ctx context.Context, args *HookArgs) (interface{}, error)
	// ValidateInput reports violations through args.Report.
	ValidateInput func(ctx context.Context, args *HookArgs) error
	BeforeChange  func(ctx context.Context, args *HookArgs) error
	AfterChange   func(ctx context.Context, args *HookArgs) error
}

// CollectionHooks are the optional collection-level hook slots. The
// collection-level resolveInput hook may replace the entire value map.
type CollectionHooks struct {
	ResolveInput  func(ctx context.Context, args *HookArgs) (map[string]interface{}, error)
	ValidateInput func(ctx context.Context, args *HookArgs) error
	BeforeChange  func(ctx context.Context, args *HookArgs) error
	AfterChange   func(ctx context.Context, args *HookArgs) error
}

// Relation configures a relation-kind field.
type Relation struct {
	// Collection is the name of the foreign collection.
	Collection string
	// Many marks a to-many relation; false means to-one.
	Many bool
}

// Field is one field descriptor of a collection.
type Field struct {
	Key      string
	Kind     Kind
	Required bool
	// Unique marks the field usable as a unique-lookup filter key.
	Unique bool

	// Default is a static default applied on create when the raw input
	// omits the field. DefaultFunc takes precedence when both are set.
	Default     interface{}
	DefaultFunc DefaultFunc

	// CreateResolver and UpdateResolver transform the (possibly
	// defaulted) raw value into the resolved value for the respective
	// operation. Absent resolvers pass the value through unchanged.
	CreateResolver ResolveFunc
	UpdateResolver ResolveFunc

	Hooks FieldHooks

	// Relation must be set for relation-kind fields.
	Relation *Relation

	// Columns lists the physical storage keys of a multi-kind field, in
	// flattening order. The resolved value of a multi field is a map
	// keyed by these columns.
	Columns []string
}

// HasDefault reports whether the field has a configured default.
func (f *Field) HasDefault() bool {
	return f.DefaultFunc != nil || f.Default != nil
}

// Resolver returns the field's resolver for op, or nil.
func (f *Field) Resolver(op Operation) ResolveFunc {
	if op == OpUpdate {
		return f.UpdateResolver
	}
	return f.CreateResolver
}

// Collection is a named schema of fields. Field keys are unique within
// a collection and stable for its lifetime.
type Collection struct {
	Name   string
	Fields []Field
	Hooks  CollectionHooks

	// MaxNested caps the number of connect/create instructions accepted
	// by a single relation input. Zero means unlimited.
	MaxNested int

	fieldIndex map[string]int
}

// New builds a collection and validates field-key uniqueness.
func New(name string, fields ...Field) (*Collection, error) {
	if name == "" {
		return nil, fmt.Errorf("collection name must not be empty")
	}
	index := make(map[string]int, len(fields))
	for i, f := range fields {
		if f.Key == "" {
			return nil, fmt.Errorf("collection %s: field %d has no key", name, i)
		}
		if _, dup := index[f.Key]; dup {
			return nil, fmt.Errorf("collection %s: duplicate field key %q", name, f.Key)
		}
		if f.Kind == KindRelation && f.Relation == nil {
			return nil, fmt.Errorf("collection %s: relation field %q has no relation config", name, f.Key)
		}
		if f.Kind == KindMulti && len(f.Columns) == 0 {
			return nil, fmt.Errorf("collection %s: multi field %q has no columns", name, f.Key)
		}
		index[f.Key] = i
	}
	return &Collection{Name: name, Fields: fields, fieldIndex: index}, nil
}

// MustNew is New for statically known schemas.
func MustNew(name string, fields ...Field) *Collection {
	c, err := New(name, fields...)
	if err != nil {
		panic(err)
	}
	return c
}

// Field returns the descriptor for key, or nil.
func (c *Collection) Field(key string) *Field {
	i, ok := c.fieldIndex[key]
	if !ok {
		return nil
	}
	return &c.Fields[i]
}

// WithHooks sets the collection-level hooks and returns the collection.
func (c *Collection) WithHooks(hooks CollectionHooks) *Collection {
	c.Hooks = hooks
	return c
}

// WithMaxNested caps per-relation nested instructions.
func (c *Collection) WithMaxNested(n int) *Collection {
	c.MaxNested = n
	return c
}

// UniqueKeys returns the field keys usable in unique-lookup filters:
// "id" plus every field marked Unique.
func (c *Collection) UniqueKeys() []string {
	keys := []string{"id"}
	for _, f := range c.Fields {
		if f.Unique {
			keys = append(keys, f.Key)
		}
	}
	return keys
}

// DefaultUUID is a stock computed default producing a random UUID.
func DefaultUUID(context.Context, map[string]interface{}) (interface{}, error) {
	return uuid.NewString(), nil
}

// RelationField builds the standard relation-kind descriptor: its
// resolvers hand the raw instruction to the injected relationship
// resolver for both operations.
func RelationField(key, foreign string, many bool) Field {
	passthrough := func(ctx context.Context, input interface{}, rel RelationResolver) (interface{}, error) {
		if rel == nil {
			return nil, fmt.Errorf("field %s: no relationship resolver injected", key)
		}
		return rel.Resolve(ctx, input)
	}
	return Field{
		Key:            key,
		Kind:           KindRelation,
		Relation:       &Relation{Collection: foreign, Many: many},
		CreateResolver: passthrough,
		UpdateResolver: passthrough,
	}
}
