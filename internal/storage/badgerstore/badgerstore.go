// Package badgerstore provides an embedded persistent Store backed by
// BadgerDB. Records are stored as JSON under collection-prefixed keys.
package badgerstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"list-mutator/internal/schema"
	"list-mutator/internal/storage"
)

// Store keeps records in an embedded BadgerDB database.
type Store struct {
	db         *badger.DB
	uniqueKeys map[string][]string

	// Badger transactions conflict on overlapping writes. The mutation
	// engine already runs writes one at a time when it honors
	// MaxWriteConcurrency, but the adapter guards its own transactions
	// so callers that go through the storage interface directly stay
	// correct without retry handling.
	writeMu sync.Mutex
}

// Open opens (or creates) a database at path. An empty path opens an
// in-memory database.
func Open(path string, logger *slog.Logger, collections ...*schema.Collection) (*Store, error) {
	var opts badger.Options
	if path == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(path, 0750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", path, err)
		}
		opts = badger.DefaultOptions(path)
	}
	if logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	uniqueKeys := make(map[string][]string, len(collections))
	for _, col := range collections {
		uniqueKeys[col.Name] = col.UniqueKeys()
	}
	return &Store{db: db, uniqueKeys: uniqueKeys}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// MaxWriteConcurrency reports a serialized-writer backend.
func (s *Store) MaxWriteConcurrency() int { return 1 }

func recordKey(collection string, id string) []byte {
	return []byte(collection + "/" + id)
}

// Find returns the first record matching filter, or nil when none
// matches.
func (s *Store) Find(ctx context.Context, collection string, filter storage.Filter) (storage.Record, error) {
	var found storage.Record
	err := s.db.View(func(txn *badger.Txn) error {
		if id, ok := filter["id"]; ok && len(filter) == 1 {
			item, err := txn.Get(recordKey(collection, fmt.Sprint(id)))
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			return item.Value(func(val []byte) error {
				return json.Unmarshal(val, &found)
			})
		}

		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte(collection + "/")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var rec storage.Record
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			})
			if err != nil {
				return err
			}
			if matches(rec, filter) {
				found = rec
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}

// Create stores a new record, generating its id.
func (s *Store) Create(ctx context.Context, collection string, payload storage.Record) (storage.Record, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	rec := make(storage.Record, len(payload)+1)
	for k, v := range payload {
		rec[k] = v
	}
	if _, ok := rec["id"]; !ok {
		rec["id"] = uuid.NewString()
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		if err := s.resolveRelationOps(txn, collection, rec, nil); err != nil {
			return err
		}
		if key := s.conflictingKey(txn, collection, rec); key != "" {
			return &storage.ConstraintError{Collection: collection, Key: key}
		}
		return writeRecord(txn, collection, rec)
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Update applies payload to the record with the given id.
func (s *Store) Update(ctx context.Context, collection string, id interface{}, payload storage.Record) (storage.Record, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var rec storage.Record
	err := s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(recordKey(collection, fmt.Sprint(id)))
		if errors.Is(err, badger.ErrKeyNotFound) {
			rec = nil
			return nil
		}
		if err != nil {
			return err
		}
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		}); err != nil {
			return err
		}
		previous := make(storage.Record, len(rec))
		for k, v := range rec {
			previous[k] = v
		}
		for k, v := range payload {
			rec[k] = v
		}
		if err := s.resolveRelationOps(txn, collection, rec, previous); err != nil {
			return err
		}
		if key := s.conflictingKey(txn, collection, rec); key != "" {
			return &storage.ConstraintError{Collection: collection, Key: key}
		}
		return writeRecord(txn, collection, rec)
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func writeRecord(txn *badger.Txn, collection string, rec storage.Record) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return txn.Set(recordKey(collection, fmt.Sprint(rec["id"])), raw)
}

// resolveRelationOps folds relation write ops into stored id lists.
func (s *Store) resolveRelationOps(txn *badger.Txn, collection string, rec storage.Record, previous storage.Record) error {
	for k, v := range rec {
		op, ok := v.(*storage.ManyRelationOp)
		if !ok {
			continue
		}
		var ids []interface{}
		if op.Set != nil {
			ids = append(ids, op.Set...)
		} else if prev, ok := previous[k].([]interface{}); ok {
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
		rec[k] = ids
	}
	return nil
}

func (s *Store) conflictingKey(txn *badger.Txn, collection string, rec storage.Record) string {
	keys := s.uniqueKeys[collection]
	if len(keys) == 0 {
		return ""
	}
	selfID := fmt.Sprint(rec["id"])

	it := txn.NewIterator(badger.DefaultIteratorOptions)
	defer it.Close()
	prefix := []byte(collection + "/")
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		var other storage.Record
		err := it.Item().Value(func(val []byte) error {
			return json.Unmarshal(val, &other)
		})
		if err != nil {
			continue
		}
		if fmt.Sprint(other["id"]) == selfID {
			continue
		}
		for _, key := range keys {
			value, ok := rec[key]
			if !ok || value == nil {
				continue
			}
			if other[key] == value {
				return key
			}
		}
	}
	return ""
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

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}
