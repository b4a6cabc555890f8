// Package storage defines the storage collaborator contract consumed
// by the mutation engine, plus the value shapes the engine writes for
// relation fields. Adapters live in subpackages.
package storage

import (
	"context"
	"errors"
	"fmt"
)

// Filter is an equality match over physical storage keys.
type Filter map[string]interface{}

// Record is the stored form of an item keyed by physical storage keys.
type Record map[string]interface{}

// ManyRelationOp is the payload value written for a to-many relation
// field. Adapters interpret it against whatever physical layout they
// use (junction table, id list, ...).
type ManyRelationOp struct {
	// Connect lists ids of existing foreign records to add.
	Connect []interface{}
	// Disconnect lists ids to remove. Ignored when Set is non-nil.
	Disconnect []interface{}
	// Set, when non-nil, replaces the whole relation with the listed
	// ids before Connect additions apply. An empty non-nil slice clears
	// the relation.
	Set []interface{}
}

// Store performs physical reads and writes. Implementations must
// report uniqueness/constraint violations as a *ConstraintError so the
// engine can surface them distinguishably.
type Store interface {
	// Find returns the first record matching filter, or nil when none
	// matches.
	Find(ctx context.Context, collection string, filter Filter) (Record, error)
	Create(ctx context.Context, collection string, payload Record) (Record, error)
	Update(ctx context.Context, collection string, id interface{}, payload Record) (Record, error)

	// MaxWriteConcurrency declares how many simultaneous writes the
	// backend tolerates. Zero means unlimited; one marks a
	// serialized-writer backend.
	MaxWriteConcurrency() int
}

// ConstraintError reports a uniqueness or referential constraint
// violation.
type ConstraintError struct {
	Collection string
	Key        string
	Err        error
}

func (e *ConstraintError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("constraint violation on %s.%s", e.Collection, e.Key)
	}
	return fmt.Sprintf("constraint violation on %s", e.Collection)
}

func (e *ConstraintError) Unwrap() error { return e.Err }

// IsConstraint reports whether err is (or wraps) a constraint
// violation.
func IsConstraint(err error) bool {
	var ce *ConstraintError
	return errors.As(err, &ce)
}
