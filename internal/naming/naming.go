// Package naming derives physical storage names from logical
// collection and field names.
package naming

import (
	"strings"
	"unicode"

	"github.com/jinzhu/inflection"
)

// TableName is the physical table name for a collection: snake_cased
// and pluralized ("EventSpeaker" -> "event_speakers").
func TableName(collection string) string {
	return inflection.Plural(Snake(collection))
}

// JunctionTableName is the physical table backing a to-many relation
// field ("Event", "tags" -> "events_tags").
func JunctionTableName(collection, fieldKey string) string {
	return TableName(collection) + "_" + Snake(fieldKey)
}

// ForeignKeyColumn is the junction column referencing a table
// ("events" -> "event_id").
func ForeignKeyColumn(tableName string) string {
	return inflection.Singular(tableName) + "_id"
}

// Snake lowercases a camel-cased name with underscore word breaks.
func Snake(name string) string {
	var sb strings.Builder
	for i, r := range name {
		if unicode.IsUpper(r) {
			if i > 0 {
				sb.WriteByte('_')
			}
			sb.WriteRune(unicode.ToLower(r))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}
