// Package sqlstore provides a Store backed by a SQL database. Scalar
// and to-one relation fields map to table columns; to-many relation
// fields map to junction tables.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/XSAM/otelsql"
	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"list-mutator/internal/naming"
	"list-mutator/internal/schema"
	"list-mutator/internal/storage"
)

// DriverSQLite and DriverMySQL are the supported driver names.
const (
	DriverSQLite = "sqlite3"
	DriverMySQL  = "mysql"
)

// Options tunes the connection pool.
type Options struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Store executes reads and writes against a SQL database.
type Store struct {
	db          *sql.DB
	driver      string
	collections map[string]*schema.Collection
}

// Open connects an instrumented database handle and builds a Store for
// the given collections.
func Open(driver, dsn string, opts Options, collections ...*schema.Collection) (*Store, error) {
	attr := semconv.DBSystemSqlite
	if driver == DriverMySQL {
		attr = semconv.DBSystemMySQL
	}
	db, err := otelsql.Open(driver, dsn, otelsql.WithAttributes(attr))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns > 0 {
		db.SetMaxIdleConns(opts.MaxIdleConns)
	}
	if opts.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}
	return NewWithDB(db, driver, collections...), nil
}

// NewWithDB builds a Store over an existing handle. Used by tests.
func NewWithDB(db *sql.DB, driver string, collections ...*schema.Collection) *Store {
	byName := make(map[string]*schema.Collection, len(collections))
	for _, col := range collections {
		byName[col.Name] = col
	}
	return &Store{db: db, driver: driver, collections: byName}
}

// Close closes the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// MaxWriteConcurrency reports 1 for SQLite, which tolerates only one
// writer at a time, and unlimited otherwise.
func (s *Store) MaxWriteConcurrency() int {
	if s.driver == DriverSQLite {
		return 1
	}
	return 0
}

func (s *Store) placeholder() sq.PlaceholderFormat { return sq.Question }

// Find returns the first row matching filter, or nil when none
// matches.
func (s *Store) Find(ctx context.Context, collection string, filter storage.Filter) (storage.Record, error) {
	table := naming.TableName(collection)
	where := sq.Eq{}
	for k, v := range filter {
		where[naming.Snake(k)] = v
	}
	query, args, err := sq.Select("*").
		From(table).
		Where(where).
		Limit(1).
		PlaceholderFormat(s.placeholder()).
		ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, normalizeError(collection, err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	rec, err := scanRecord(rows)
	if err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return s.attachRelations(ctx, collection, rec)
}

// Create inserts a row and applies junction writes for to-many
// relation values, all in one transaction.
func (s *Store) Create(ctx context.Context, collection string, payload storage.Record) (storage.Record, error) {
	columns, relations := splitPayload(payload)
	if _, ok := columns["id"]; !ok {
		columns["id"] = uuid.NewString()
	}
	id := columns["id"]

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	insert := sq.Insert(naming.TableName(collection)).PlaceholderFormat(s.placeholder())
	cols := make([]string, 0, len(columns))
	vals := make([]interface{}, 0, len(columns))
	for k, v := range columns {
		cols = append(cols, naming.Snake(k))
		vals = append(vals, v)
	}
	query, args, err := insert.Columns(cols...).Values(vals...).ToSql()
	if err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return nil, normalizeError(collection, err)
	}

	if err := s.applyRelations(ctx, tx, collection, id, relations); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, normalizeError(collection, err)
	}
	return s.Find(ctx, collection, storage.Filter{"id": id})
}

// Update applies payload to the row with the given id together with
// its junction writes.
func (s *Store) Update(ctx context.Context, collection string, id interface{}, payload storage.Record) (storage.Record, error) {
	columns, relations := splitPayload(payload)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if len(columns) > 0 {
		set := make(map[string]interface{}, len(columns))
		for k, v := range columns {
			set[naming.Snake(k)] = v
		}
		query, args, err := sq.Update(naming.TableName(collection)).
			SetMap(set).
			Where(sq.Eq{"id": id}).
			PlaceholderFormat(s.placeholder()).
			ToSql()
		if err != nil {
			return nil, err
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return nil, normalizeError(collection, err)
		}
	}

	if err := s.applyRelations(ctx, tx, collection, id, relations); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, normalizeError(collection, err)
	}
	return s.Find(ctx, collection, storage.Filter{"id": id})
}

// splitPayload separates column values from to-many relation ops.
func splitPayload(payload storage.Record) (map[string]interface{}, map[string]*storage.ManyRelationOp) {
	columns := make(map[string]interface{})
	relations := make(map[string]*storage.ManyRelationOp)
	for k, v := range payload {
		if op, ok := v.(*storage.ManyRelationOp); ok {
			relations[k] = op
			continue
		}
		columns[k] = v
	}
	return columns, relations
}

func (s *Store) applyRelations(ctx context.Context, tx *sql.Tx, collection string, id interface{}, relations map[string]*storage.ManyRelationOp) error {
	col := s.collections[collection]
	for fieldKey, op := range relations {
		table := naming.JunctionTableName(collection, fieldKey)
		ownerCol := naming.ForeignKeyColumn(naming.TableName(collection))
		foreign := fieldKey + "_id"
		if col != nil {
			if f := col.Field(fieldKey); f != nil && f.Relation != nil {
				foreign = naming.ForeignKeyColumn(naming.TableName(f.Relation.Collection))
			}
		}

		if op.Set != nil {
			query, args, err := sq.Delete(table).
				Where(sq.Eq{ownerCol: id}).
				PlaceholderFormat(s.placeholder()).
				ToSql()
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, query, args...); err != nil {
				return normalizeError(collection, err)
			}
			if err := s.insertLinks(ctx, tx, collection, table, ownerCol, foreign, id, op.Set); err != nil {
				return err
			}
		} else if len(op.Disconnect) > 0 {
			query, args, err := sq.Delete(table).
				Where(sq.Eq{ownerCol: id, foreign: op.Disconnect}).
				PlaceholderFormat(s.placeholder()).
				ToSql()
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, query, args...); err != nil {
				return normalizeError(collection, err)
			}
		}
		if err := s.insertLinks(ctx, tx, collection, table, ownerCol, foreign, id, op.Connect); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) insertLinks(ctx context.Context, tx *sql.Tx, collection, table, ownerCol, foreignCol string, id interface{}, foreignIDs []interface{}) error {
	if len(foreignIDs) == 0 {
		return nil
	}
	insert := sq.Insert(table).Columns(ownerCol, foreignCol).PlaceholderFormat(s.placeholder())
	for _, fid := range foreignIDs {
		insert = insert.Values(id, fid)
	}
	query, args, err := insert.ToSql()
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return normalizeError(collection, err)
	}
	return nil
}

// attachRelations loads to-many relation ids onto a scanned row so
// records round-trip with the same shape the engine wrote.
func (s *Store) attachRelations(ctx context.Context, collection string, rec storage.Record) (storage.Record, error) {
	col := s.collections[collection]
	if col == nil {
		return rec, nil
	}
	for _, f := range col.Fields {
		if f.Kind != schema.KindRelation || f.Relation == nil || !f.Relation.Many {
			continue
		}
		table := naming.JunctionTableName(collection, f.Key)
		ownerCol := naming.ForeignKeyColumn(naming.TableName(collection))
		foreign := naming.ForeignKeyColumn(naming.TableName(f.Relation.Collection))
		query, args, err := sq.Select(foreign).
			From(table).
			Where(sq.Eq{ownerCol: rec["id"]}).
			PlaceholderFormat(s.placeholder()).
			ToSql()
		if err != nil {
			return nil, err
		}
		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, normalizeError(collection, err)
		}
		ids := []interface{}{}
		for rows.Next() {
			var fid interface{}
			if err := rows.Scan(&fid); err != nil {
				rows.Close()
				return nil, err
			}
			ids = append(ids, normalizeValue(fid))
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()
		rec[f.Key] = ids
	}
	return rec, nil
}

func scanRecord(rows *sql.Rows) (storage.Record, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	values := make([]interface{}, len(columns))
	ptrs := make([]interface{}, len(columns))
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, err
	}
	rec := make(storage.Record, len(columns))
	for i, name := range columns {
		rec[name] = normalizeValue(values[i])
	}
	return rec, nil
}

func normalizeValue(v interface{}) interface{} {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

// normalizeError maps driver constraint errors to *ConstraintError.
func normalizeError(collection string, err error) error {
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		switch mysqlErr.Number {
		case 1062, 1048, 1364, 1451, 1452:
			return &storage.ConstraintError{Collection: collection, Err: err}
		}
		return err
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
		return &storage.ConstraintError{Collection: collection, Err: err}
	}
	return err
}
