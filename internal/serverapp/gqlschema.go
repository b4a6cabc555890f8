package serverapp

import (
	"errors"
	"fmt"
	"strings"

	"github.com/graphql-go/graphql"
	"github.com/jinzhu/inflection"

	"list-mutator/internal/merr"
	"list-mutator/internal/mutate"
	"list-mutator/internal/resolve"
	"list-mutator/internal/schema"
)

// gqlBuilder derives a GraphQL schema from collection descriptors. Each
// collection gets a create/update mutation pair (single and batch) and
// a unique-filter query.
type gqlBuilder struct {
	ops         *mutate.Operations
	resolver    *resolve.Resolver
	collections []*schema.Collection

	outputs      map[string]*graphql.Object
	whereInputs  map[string]*graphql.InputObject
	createInputs map[string]*graphql.InputObject
	updateInputs map[string]*graphql.InputObject
	multiInputs  map[string]*graphql.InputObject
}

// BuildSchema assembles the GraphQL schema over the collections.
func BuildSchema(ops *mutate.Operations, resolver *resolve.Resolver, collections []*schema.Collection) (graphql.Schema, error) {
	b := &gqlBuilder{
		ops:          ops,
		resolver:     resolver,
		collections:  collections,
		outputs:      make(map[string]*graphql.Object),
		whereInputs:  make(map[string]*graphql.InputObject),
		createInputs: make(map[string]*graphql.InputObject),
		updateInputs: make(map[string]*graphql.InputObject),
		multiInputs:  make(map[string]*graphql.InputObject),
	}
	for _, col := range collections {
		b.outputType(col)
		b.whereInput(col)
	}
	for _, col := range collections {
		b.dataInput(col, schema.OpCreate)
		b.dataInput(col, schema.OpUpdate)
	}

	queryFields := graphql.Fields{}
	mutationFields := graphql.Fields{}
	for _, col := range collections {
		b.addQueryFields(queryFields, col)
		b.addMutationFields(mutationFields, col)
	}

	return graphql.NewSchema(graphql.SchemaConfig{
		Query:    graphql.NewObject(graphql.ObjectConfig{Name: "Query", Fields: queryFields}),
		Mutation: graphql.NewObject(graphql.ObjectConfig{Name: "Mutation", Fields: mutationFields}),
	})
}

func (b *gqlBuilder) outputType(col *schema.Collection) *graphql.Object {
	if obj, ok := b.outputs[col.Name]; ok {
		return obj
	}
	obj := graphql.NewObject(graphql.ObjectConfig{
		Name: col.Name,
		Fields: graphql.FieldsThunk(func() graphql.Fields {
			fields := graphql.Fields{
				"id": {Type: graphql.ID, Resolve: itemField("id")},
			}
			for i := range col.Fields {
				f := &col.Fields[i]
				switch f.Kind {
				case schema.KindScalar:
					fields[f.Key] = &graphql.Field{Type: graphql.String, Resolve: itemField(f.Key)}
				case schema.KindMulti:
					for _, column := range f.Columns {
						fields[column] = &graphql.Field{Type: graphql.String, Resolve: itemField(column)}
					}
				case schema.KindRelation:
					if f.Relation.Many {
						fields[f.Key] = &graphql.Field{Type: graphql.NewList(graphql.ID), Resolve: itemField(f.Key)}
					} else {
						fields[f.Key] = &graphql.Field{Type: graphql.ID, Resolve: itemField(f.Key)}
					}
				}
			}
			return fields
		}),
	})
	b.outputs[col.Name] = obj
	return obj
}

func (b *gqlBuilder) whereInput(col *schema.Collection) *graphql.InputObject {
	if in, ok := b.whereInputs[col.Name]; ok {
		return in
	}
	fields := graphql.InputObjectConfigFieldMap{}
	for _, key := range col.UniqueKeys() {
		typ := graphql.Input(graphql.String)
		if key == "id" {
			typ = graphql.ID
		}
		fields[key] = &graphql.InputObjectFieldConfig{Type: typ}
	}
	in := graphql.NewInputObject(graphql.InputObjectConfig{
		Name:   col.Name + "WhereUniqueInput",
		Fields: fields,
	})
	b.whereInputs[col.Name] = in
	return in
}

// dataInput builds the create or update input object. Relation fields
// reference the foreign collection's inputs through a thunk so schemas
// may be cyclic.
func (b *gqlBuilder) dataInput(col *schema.Collection, op schema.Operation) *graphql.InputObject {
	cache := b.createInputs
	suffix := "CreateInput"
	if op == schema.OpUpdate {
		cache = b.updateInputs
		suffix = "UpdateInput"
	}
	if in, ok := cache[col.Name]; ok {
		return in
	}
	in := graphql.NewInputObject(graphql.InputObjectConfig{
		Name: col.Name + suffix,
		Fields: graphql.InputObjectConfigFieldMapThunk(func() graphql.InputObjectConfigFieldMap {
			fields := graphql.InputObjectConfigFieldMap{}
			for i := range col.Fields {
				f := &col.Fields[i]
				switch f.Kind {
				case schema.KindScalar:
					fields[f.Key] = &graphql.InputObjectFieldConfig{Type: graphql.String}
				case schema.KindMulti:
					fields[f.Key] = &graphql.InputObjectFieldConfig{Type: b.multiInput(col, f)}
				case schema.KindRelation:
					fields[f.Key] = &graphql.InputObjectFieldConfig{Type: b.relationInput(col, f, op)}
				}
			}
			return fields
		}),
	})
	cache[col.Name] = in
	return in
}

// multiInput is shared between the create and update inputs of a
// collection, so it is cached by name: the schema rejects two distinct
// types under the same name.
func (b *gqlBuilder) multiInput(col *schema.Collection, f *schema.Field) *graphql.InputObject {
	name := col.Name + exportedName(f.Key) + "Input"
	if in, ok := b.multiInputs[name]; ok {
		return in
	}
	fields := graphql.InputObjectConfigFieldMap{}
	for _, column := range f.Columns {
		fields[column] = &graphql.InputObjectFieldConfig{Type: graphql.String}
	}
	in := graphql.NewInputObject(graphql.InputObjectConfig{
		Name:   name,
		Fields: fields,
	})
	b.multiInputs[name] = in
	return in
}

// relationInput builds the nested instruction object for a relation
// field: connect/create for both shapes, disconnect and disconnectAll
// only where the shape and operation allow them.
func (b *gqlBuilder) relationInput(col *schema.Collection, f *schema.Field, op schema.Operation) *graphql.InputObject {
	foreign := f.Relation.Collection
	opName := "Create"
	if op == schema.OpUpdate {
		opName = "Update"
	}
	fields := graphql.InputObjectConfigFieldMap{}
	if f.Relation.Many {
		fields["connect"] = &graphql.InputObjectFieldConfig{Type: graphql.NewList(b.whereInput(b.collection(foreign)))}
		fields["create"] = &graphql.InputObjectFieldConfig{Type: graphql.NewList(b.dataInput(b.collection(foreign), schema.OpCreate))}
		if op == schema.OpUpdate {
			fields["disconnect"] = &graphql.InputObjectFieldConfig{Type: graphql.NewList(b.whereInput(b.collection(foreign)))}
			fields["disconnectAll"] = &graphql.InputObjectFieldConfig{Type: graphql.Boolean}
		}
	} else {
		fields["connect"] = &graphql.InputObjectFieldConfig{Type: b.whereInput(b.collection(foreign))}
		fields["create"] = &graphql.InputObjectFieldConfig{Type: b.dataInput(b.collection(foreign), schema.OpCreate)}
		if op == schema.OpUpdate {
			fields["disconnect"] = &graphql.InputObjectFieldConfig{Type: graphql.Boolean}
		}
	}
	return graphql.NewInputObject(graphql.InputObjectConfig{
		Name:   col.Name + exportedName(f.Key) + opName + "RelationInput",
		Fields: fields,
	})
}

func (b *gqlBuilder) collection(name string) *schema.Collection {
	for _, col := range b.collections {
		if col.Name == name {
			return col
		}
	}
	panic(fmt.Sprintf("unknown collection %q", name))
}

func (b *gqlBuilder) addQueryFields(fields graphql.Fields, col *schema.Collection) {
	name := col.Name
	fields[lowerFirst(name)] = &graphql.Field{
		Type: b.outputs[name],
		Args: graphql.FieldConfigArgument{
			"where": &graphql.ArgumentConfig{Type: graphql.NewNonNull(b.whereInputs[name])},
		},
		Resolve: func(p graphql.ResolveParams) (interface{}, error) {
			where, _ := p.Args["where"].(map[string]interface{})
			item, err := b.resolver.FindItem(p.Context, name, where)
			if err != nil {
				return nil, wrapGQLError(err)
			}
			if item == nil {
				return nil, nil
			}
			return item, nil
		},
	}
}

func (b *gqlBuilder) addMutationFields(fields graphql.Fields, col *schema.Collection) {
	name := col.Name
	plural := inflection.Plural(name)

	fields["create"+name] = &graphql.Field{
		Type: b.outputs[name],
		Args: graphql.FieldConfigArgument{
			"data": &graphql.ArgumentConfig{Type: graphql.NewNonNull(b.createInputs[name])},
		},
		Resolve: func(p graphql.ResolveParams) (interface{}, error) {
			data, _ := p.Args["data"].(map[string]interface{})
			item, err := b.ops.CreateOne(p.Context, name, data)
			if err != nil {
				return nil, wrapGQLError(err)
			}
			return item, nil
		},
	}

	fields["create"+plural] = &graphql.Field{
		Type: graphql.NewList(b.outputs[name]),
		Args: graphql.FieldConfigArgument{
			"data": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.NewList(graphql.NewNonNull(b.createInputs[name])))},
		},
		Resolve: func(p graphql.ResolveParams) (interface{}, error) {
			inputs := rawInputList(p.Args["data"])
			results := b.ops.CreateMany(p.Context, name, inputs)
			return settleResults(results)
		},
	}

	fields["update"+name] = &graphql.Field{
		Type: b.outputs[name],
		Args: graphql.FieldConfigArgument{
			"where": &graphql.ArgumentConfig{Type: graphql.NewNonNull(b.whereInputs[name])},
			"data":  &graphql.ArgumentConfig{Type: graphql.NewNonNull(b.updateInputs[name])},
		},
		Resolve: func(p graphql.ResolveParams) (interface{}, error) {
			where, _ := p.Args["where"].(map[string]interface{})
			data, _ := p.Args["data"].(map[string]interface{})
			item, err := b.ops.UpdateOne(p.Context, name, where, data)
			if err != nil {
				return nil, wrapGQLError(err)
			}
			return item, nil
		},
	}

	updateArgs := graphql.NewInputObject(graphql.InputObjectConfig{
		Name: name + "UpdateArgsInput",
		Fields: graphql.InputObjectConfigFieldMap{
			"where": &graphql.InputObjectFieldConfig{Type: graphql.NewNonNull(b.whereInputs[name])},
			"data":  &graphql.InputObjectFieldConfig{Type: graphql.NewNonNull(b.updateInputs[name])},
		},
	})
	fields["update"+plural] = &graphql.Field{
		Type: graphql.NewList(b.outputs[name]),
		Args: graphql.FieldConfigArgument{
			"data": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.NewList(graphql.NewNonNull(updateArgs)))},
		},
		Resolve: func(p graphql.ResolveParams) (interface{}, error) {
			entries := make([]mutate.UpdateEntry, 0)
			for _, raw := range rawInputList(p.Args["data"]) {
				where, _ := raw["where"].(map[string]interface{})
				data, _ := raw["data"].(map[string]interface{})
				entries = append(entries, mutate.UpdateEntry{Filter: where, RawInput: data})
			}
			results := b.ops.UpdateMany(p.Context, name, entries)
			return settleResults(results)
		},
	}
}

// settleResults converts per-entry results into a list response,
// surfacing the failures as one aggregate error alongside the items
// that did succeed.
func settleResults(results []mutate.Result) (interface{}, error) {
	items := make([]interface{}, len(results))
	var reasons []error
	for i, res := range results {
		if res.Err != nil {
			reasons = append(reasons, res.Err)
			continue
		}
		items[i] = res.Item
	}
	if len(reasons) > 0 {
		return items, wrapGQLError(merr.Aggregate(
			fmt.Sprintf("%d of %d operations failed", len(reasons), len(results)), reasons))
	}
	return items, nil
}

func rawInputList(arg interface{}) []map[string]interface{} {
	raw, _ := arg.([]interface{})
	inputs := make([]map[string]interface{}, 0, len(raw))
	for _, entry := range raw {
		if m, ok := entry.(map[string]interface{}); ok {
			inputs = append(inputs, m)
		}
	}
	return inputs
}

func itemField(key string) graphql.FieldResolveFn {
	return func(p graphql.ResolveParams) (interface{}, error) {
		switch src := p.Source.(type) {
		case schema.Item:
			return src[key], nil
		case map[string]interface{}:
			return src[key], nil
		}
		return nil, nil
	}
}

// gqlError carries the typed error payload into GraphQL error
// extensions.
type gqlError struct {
	err *merr.Error
}

func (e gqlError) Error() string { return e.err.Error() }

func (e gqlError) Extensions() map[string]interface{} {
	ext := map[string]interface{}{"code": string(e.err.Kind)}
	for k, v := range e.err.Data {
		ext[k] = v
	}
	return ext
}

func wrapGQLError(err error) error {
	var me *merr.Error
	if errors.As(err, &me) {
		return gqlError{err: me}
	}
	return err
}

func lowerFirst(name string) string {
	if name == "" {
		return name
	}
	return strings.ToLower(name[:1]) + name[1:]
}

func exportedName(key string) string {
	if key == "" {
		return key
	}
	return strings.ToUpper(key[:1]) + key[1:]
}
