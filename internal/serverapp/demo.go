package serverapp

import (
	"context"
	"fmt"
	"strings"

	"list-mutator/internal/schema"
)

// DemoCollections returns the event/group/tag schema served by the
// bundled server. It exercises scalar defaults, unique keys, field and
// collection hooks, a multi-column field, and both relation shapes.
func DemoCollections() []*schema.Collection {
	group := schema.MustNew("Group",
		schema.Field{Key: "name", Kind: schema.KindScalar, Required: true, Unique: true},
		schema.Field{Key: "description", Kind: schema.KindScalar},
	)

	tag := schema.MustNew("Tag",
		schema.Field{Key: "name", Kind: schema.KindScalar, Required: true, Unique: true},
	)

	event := schema.MustNew("Event",
		schema.Field{
			Key:      "title",
			Kind:     schema.KindScalar,
			Required: true,
			Hooks: schema.FieldHooks{
				ValidateInput: func(ctx context.Context, args *schema.HookArgs) error {
					if s, ok := args.Resolved["title"].(string); ok && strings.TrimSpace(s) == "" {
						args.Report("Event title must not be blank.", map[string]interface{}{"field": "title"})
					}
					return nil
				},
			},
		},
		schema.Field{
			Key:    "slug",
			Kind:   schema.KindScalar,
			Unique: true,
			Hooks: schema.FieldHooks{
				ResolveInput: func(ctx context.Context, args *schema.HookArgs) (interface{}, error) {
					// Derive the slug from the title when omitted on create.
					if value, present := args.Resolved["slug"]; present {
						return value, nil
					}
					if args.Operation != schema.OpCreate {
						return schema.Omit, nil
					}
					title, _ := args.RawInput["title"].(string)
					if title == "" {
						return schema.Omit, nil
					}
					return slugify(title), nil
				},
			},
		},
		schema.Field{Key: "status", Kind: schema.KindScalar, Default: "draft"},
		schema.Field{
			Key:     "schedule",
			Kind:    schema.KindMulti,
			Columns: []string{"startsAt", "endsAt"},
		},
		schema.RelationField("group", "Group", false),
		schema.RelationField("tags", "Tag", true),
	).WithHooks(schema.CollectionHooks{
		ValidateInput: func(ctx context.Context, args *schema.HookArgs) error {
			if status, ok := args.Resolved["status"].(string); ok {
				switch status {
				case "draft", "published", "cancelled":
				default:
					args.Report(fmt.Sprintf("Event status %q is not one of draft, published, cancelled.", status),
						map[string]interface{}{"field": "status"})
				}
			}
			return nil
		},
	}).WithMaxNested(50)

	return []*schema.Collection{event, group, tag}
}

func slugify(title string) string {
	var sb strings.Builder
	for _, r := range strings.ToLower(title) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			sb.WriteRune(r)
		case r == ' ' || r == '-' || r == '_':
			sb.WriteByte('-')
		}
	}
	return strings.Trim(sb.String(), "-")
}
