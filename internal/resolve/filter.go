package resolve

import (
	"context"

	"list-mutator/internal/merr"
	"list-mutator/internal/storage"
)

// ResolveUniqueFilter normalizes a unique-lookup filter for a
// collection into a storage filter. The filter must name exactly one
// key, the key must be "id" or a field marked unique, and the value
// must not be null.
func (r *Resolver) ResolveUniqueFilter(ctx context.Context, collection string, filter map[string]interface{}) (storage.Filter, error) {
	col, err := r.Collection(collection)
	if err != nil {
		return nil, err
	}
	if len(filter) != 1 {
		return nil, merr.Newf(merr.KindBadUserInput,
			"a unique filter for %s must specify exactly one field, got %d", col.Name, len(filter))
	}
	for key, value := range filter {
		if !isUniqueKey(col.UniqueKeys(), key) {
			return nil, merr.Newf(merr.KindBadUserInput,
				"%q is not a unique field of %s", key, col.Name)
		}
		if value == nil {
			return nil, merr.Newf(merr.KindBadUserInput,
				"the unique filter %s.%s must not be null", col.Name, key)
		}
		return storage.Filter{key: value}, nil
	}
	return nil, nil
}

func isUniqueKey(keys []string, key string) bool {
	for _, k := range keys {
		if k == key {
			return true
		}
	}
	return false
}
