// Package memstore provides an in-memory Store used for tests and the
// default server configuration. Uniqueness is enforced from the
// collection schemas it is constructed with.
package memstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"list-mutator/internal/schema"
	"list-mutator/internal/storage"
)

// Store keeps all records in process memory.
type Store struct {
	mu         sync.RWMutex
	records    map[string]map[string]storage.Record // collection -> id -> record
	uniqueKeys map[string][]string
}

// New builds a Store enforcing the unique keys of the given
// collections.
func New(collections ...*schema.Collection) *Store {
	s := &Store{
		records:    make(map[string]map[string]storage.Record),
		uniqueKeys: make(map[string][]string),
	}
	for _, col := range collections {
		s.records[col.Name] = make(map[string]storage.Record)
		s.uniqueKeys[col.Name] = col.UniqueKeys()
	}
	return s
}

// MaxWriteConcurrency reports unlimited write concurrency.
func (s *Store) MaxWriteConcurrency() int { return 0 }

// Find returns the first record matching filter, or nil when none
// matches.
func (s *Store) Find(ctx context.Context, collection string, filter storage.Filter) (storage.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := s.records[collection]
	if id, ok := filter["id"]; ok && len(filter) == 1 {
		if rec, ok := items[asID(id)]; ok {
			return clone(rec), nil
		}
		return nil, nil
	}
	for _, rec := range items {
		if matches(rec, filter) {
			return clone(rec), nil
		}
	}
	return nil, nil
}

// Create stores a new record, generating its id.
func (s *Store) Create(ctx context.Context, collection string, payload storage.Record) (storage.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.records[collection] == nil {
		s.records[collection] = make(map[string]storage.Record)
	}
	rec := make(storage.Record, len(payload)+1)
	for k, v := range payload {
		rec[k] = normalize(v, nil)
	}
	if _, ok := rec["id"]; !ok {
		rec["id"] = uuid.NewString()
	}
	if key := s.conflictingKey(collection, rec, ""); key != "" {
		return nil, &storage.ConstraintError{Collection: collection, Key: key}
	}
	s.records[collection][asID(rec["id"])] = rec
	return clone(rec), nil
}

// Update applies payload to the record with the given id.
func (s *Store) Update(ctx context.Context, collection string, id interface{}, payload storage.Record) (storage.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[collection][asID(id)]
	if !ok {
		return nil, nil
	}
	next := clone(rec)
	for k, v := range payload {
		next[k] = normalize(v, rec[k])
	}
	if key := s.conflictingKey(collection, next, asID(id)); key != "" {
		return nil, &storage.ConstraintError{Collection: collection, Key: key}
	}
	s.records[collection][asID(id)] = next
	return clone(next), nil
}

// conflictingKey returns the first unique key whose value in rec is
// already taken by another record, or "".
func (s *Store) conflictingKey(collection string, rec storage.Record, selfID string) string {
	for _, key := range s.uniqueKeys[collection] {
		value, ok := rec[key]
		if !ok || value == nil {
			continue
		}
		for id, other := range s.records[collection] {
			if id == selfID {
				continue
			}
			if other[key] == value {
				return key
			}
		}
	}
	return ""
}

// normalize resolves relation write ops into the stored id-list form.
func normalize(value interface{}, previous interface{}) interface{} {
	op, ok := value.(*storage.ManyRelationOp)
	if !ok {
		return value
	}
	var ids []interface{}
	if op.Set != nil {
		ids = append(ids, op.Set...)
	} else if prev, ok := previous.([]interface{}); ok {
		for _, id := range prev {
			if !contains(op.Disconnect, id) {
				ids = append(ids, id)
			}
		}
	}
	// Connects apply on top of either base, including a replacing Set.
	for _, id := range op.Connect {
		if !contains(ids, id) {
			ids = append(ids, id)
		}
	}
	if ids == nil {
		ids = []interface{}{}
	}
	return ids
}

func contains(ids []interface{}, id interface{}) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}

func matches(rec storage.Record, filter storage.Filter) bool {
	for k, v := range filter {
		if rec[k] != v {
			return false
		}
	}
	return true
}

func clone(rec storage.Record) storage.Record {
	out := make(storage.Record, len(rec))
	for k, v := range rec {
		out[k] = v
	}
	return out
}

func asID(id interface{}) string {
	if s, ok := id.(string); ok {
		return s
	}
	return fmt.Sprint(id)
}
