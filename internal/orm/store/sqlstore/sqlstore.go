// Package sqlstore implements store.Store over a SQL table per resource type.
// It speaks both the sqlite3 ("?") and postgres ("$n") placeholder dialects
// through sqlx.
package sqlstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/conduit-lang/weave/internal/orm/query"
	"github.com/conduit-lang/weave/internal/orm/schema"
	"github.com/conduit-lang/weave/internal/orm/store"
)

// Store maps one resource type onto one table
type Store struct {
	db       *sqlx.DB
	schema   *schema.ResourceSchema
	table    string
	postgres bool
	logger   *zap.Logger
}

// Option configures a Store
type Option func(*Store)

// WithLogger sets the logger used for statement debug output
func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithTable overrides the table name derived from the schema
func WithTable(name string) Option {
	return func(s *Store) {
		s.table = name
	}
}

// New creates a store for s backed by db
func New(db *sqlx.DB, s *schema.ResourceSchema, opts ...Option) *Store {
	st := &Store{
		db:       db,
		schema:   s,
		table:    s.TableName,
		postgres: sqlx.BindType(db.DriverName()) == sqlx.DOLLAR,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(st)
	}
	return st
}

var _ store.Store = (*Store)(nil)

// Schema returns the schema served by the store
func (s *Store) Schema() *schema.ResourceSchema { return s.schema }

func quote(name string) string { return pq.QuoteIdentifier(name) }

func (s *Store) sqlOptions() query.SQLOptions {
	opts := query.SQLOptions{Quote: quote}
	if s.postgres {
		opts.Array = arrayArg
	}
	return opts
}

// arrayArg packs included-in values into a postgres array parameter
func arrayArg(values []any) any {
	var (
		strs   = make([]string, 0, len(values))
		ints   = make([]int64, 0, len(values))
		floats = make([]float64, 0, len(values))
	)
	for _, v := range values {
		switch x := query.Normalize(v).(type) {
		case string:
			strs = append(strs, x)
		case int64:
			ints = append(ints, x)
		case float64:
			floats = append(floats, x)
		}
	}
	switch len(values) {
	case len(strs):
		return pq.StringArray(strs)
	case len(ints):
		return pq.Int64Array(ints)
	case len(floats):
		return pq.Float64Array(floats)
	}
	return pq.Array(values)
}

func columnList(names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = quote(n)
	}
	return strings.Join(quoted, ", ")
}

func (s *Store) selectSQL(params store.Params) (string, []any, error) {
	if err := store.CheckFields(s.schema, params.Fields); err != nil {
		return "", nil, err
	}
	if err := store.CheckFields(s.schema, query.Fields(params.Where)); err != nil {
		return "", nil, err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM %s",
		columnList(store.ProjectionFields(s.schema, params.Fields)), quote(s.table))

	where, args, err := query.ToSQL(params.Where, s.sqlOptions())
	if err != nil {
		return "", nil, err
	}
	if where != "" {
		b.WriteString(" WHERE ")
		b.WriteString(where)
	}

	if len(params.OrderBy) > 0 {
		terms := make([]string, len(params.OrderBy))
		for i, o := range params.OrderBy {
			if !s.schema.HasField(o.Field) {
				return "", nil, fmt.Errorf("%w: %s.%s", store.ErrUnknownField, s.schema.Name, o.Field)
			}
			dir := "ASC"
			if o.Desc {
				dir = "DESC"
			}
			terms[i] = quote(o.Field) + " " + dir
		}
		b.WriteString(" ORDER BY ")
		b.WriteString(strings.Join(terms, ", "))
	}

	switch {
	case params.Limit != nil:
		b.WriteString(" LIMIT ?")
		args = append(args, *params.Limit)
	case params.Offset != nil && !s.postgres:
		// sqlite only accepts OFFSET after a LIMIT
		b.WriteString(" LIMIT -1")
	}
	if params.Offset != nil {
		b.WriteString(" OFFSET ?")
		args = append(args, *params.Offset)
	}

	return s.db.Rebind(b.String()), args, nil
}

func (s *Store) queryRecords(ctx context.Context, q sqlx.QueryerContext, sqlText string, args []any) ([]store.Record, error) {
	s.logger.Debug("sql query", zap.String("type", s.schema.Name), zap.String("sql", sqlText))

	rows, err := q.QueryxContext(ctx, sqlText, args...)
	if err != nil {
		return nil, convertError(err)
	}
	defer rows.Close()

	var out []store.Record
	for rows.Next() {
		rec := make(store.Record)
		if err := rows.MapScan(rec); err != nil {
			return nil, convertError(err)
		}
		if err := s.schema.Coerce(rec); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, convertError(err)
	}
	return out, nil
}

// Query runs a SELECT built from params
func (s *Store) Query(ctx context.Context, params store.Params) ([]store.Record, error) {
	sqlText, args, err := s.selectSQL(params)
	if err != nil {
		return nil, err
	}
	return s.queryRecords(ctx, s.db, sqlText, args)
}

func (s *Store) idRef() query.Ref {
	return query.Field(s.schema.Name, s.schema.IDField)
}

// Fetch returns one record or nil when absent
func (s *Store) Fetch(ctx context.Context, id any, fields []string) (store.Record, error) {
	recs, err := s.Query(ctx, store.Params{Where: s.idRef().Eq(id), Fields: fields})
	if err != nil || len(recs) == 0 {
		return nil, err
	}
	return recs[0], nil
}

// FetchMany selects all ids with a single statement
func (s *Store) FetchMany(ctx context.Context, ids []any, fields []string) (map[any]store.Record, error) {
	out := make(map[any]store.Record, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	recs, err := s.Query(ctx, store.Params{Where: s.idRef().In(ids), Fields: fields})
	if err != nil {
		return nil, err
	}
	byKey := make(map[any]store.Record, len(recs))
	for _, r := range recs {
		byKey[store.Key(r[s.schema.IDField])] = r
	}
	for _, id := range ids {
		if r, ok := byKey[store.Key(id)]; ok {
			out[id] = r
		}
	}
	return out, nil
}

// performWithTransaction runs f in a transaction, rolling back on failure
func (s *Store) performWithTransaction(ctx context.Context, f func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return convertError(err)
	}
	defer tx.Rollback()
	if err := f(tx); err != nil {
		return err
	}
	return convertError(tx.Commit())
}

// orderedKeys returns the record's keys in schema declaration order
func (s *Store) orderedKeys(r store.Record) []string {
	keys := make([]string, 0, len(r))
	for _, name := range s.schema.FieldNames() {
		if _, ok := r[name]; ok {
			keys = append(keys, name)
		}
	}
	return keys
}

// Create inserts a record, generating an id when absent
func (s *Store) Create(ctx context.Context, record store.Record) (store.Record, error) {
	out, err := s.CreateMany(ctx, []store.Record{record})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// CreateMany inserts records in one transaction
func (s *Store) CreateMany(ctx context.Context, records []store.Record) ([]store.Record, error) {
	prepared := make([]store.Record, len(records))
	for i, r := range records {
		p, err := store.PrepareCreate(s.schema, r)
		if err != nil {
			return nil, err
		}
		prepared[i] = p
	}

	err := s.performWithTransaction(ctx, func(tx *sqlx.Tx) error {
		for _, p := range prepared {
			keys := s.orderedKeys(p)
			args := make([]any, len(keys))
			placeholders := make([]string, len(keys))
			for i, k := range keys {
				args[i] = p[k]
				placeholders[i] = "?"
			}
			sqlText := s.db.Rebind(fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
				quote(s.table), columnList(keys), strings.Join(placeholders, ", ")))
			s.logger.Debug("sql insert", zap.String("type", s.schema.Name), zap.String("sql", sqlText))
			if _, err := tx.ExecContext(ctx, sqlText, args...); err != nil {
				return convertError(err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return prepared, nil
}

// Update writes changes to an existing row
func (s *Store) Update(ctx context.Context, id any, record store.Record) (store.Record, error) {
	out, err := s.UpdateMany(ctx, []any{id}, []store.Record{record})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// UpdateMany applies updates in one transaction and returns full rows
func (s *Store) UpdateMany(ctx context.Context, ids []any, records []store.Record) ([]store.Record, error) {
	if len(ids) != len(records) {
		return nil, &store.LengthMismatchError{IDs: len(ids), Records: len(records)}
	}
	out := make([]store.Record, len(records))

	err := s.performWithTransaction(ctx, func(tx *sqlx.Tx) error {
		for i, r := range records {
			changes, expected, err := store.SplitUpdate(s.schema, r)
			if err != nil {
				return err
			}
			keys := s.orderedKeys(changes)
			sets := make([]string, len(keys))
			args := make([]any, 0, len(keys)+2)
			for j, k := range keys {
				sets[j] = quote(k) + " = ?"
				args = append(args, changes[k])
			}
			cond := quote(s.schema.IDField) + " = ?"
			args = append(args, ids[i])
			if expected != nil {
				cond += " AND " + quote(s.schema.RevField) + " = ?"
				args = append(args, expected)
			}
			sqlText := s.db.Rebind(fmt.Sprintf("UPDATE %s SET %s WHERE %s",
				quote(s.table), strings.Join(sets, ", "), cond))
			s.logger.Debug("sql update", zap.String("type", s.schema.Name), zap.String("sql", sqlText))

			res, err := tx.ExecContext(ctx, sqlText, args...)
			if err != nil {
				return convertError(err)
			}
			if n, err := res.RowsAffected(); err == nil && n == 0 {
				exists, err := s.exists(ctx, tx, ids[i])
				if err != nil {
					return err
				}
				if exists {
					return fmt.Errorf("%w: %s %v", store.ErrConflict, s.schema.Name, ids[i])
				}
				return fmt.Errorf("%w: %s %v", store.ErrNotFound, s.schema.Name, ids[i])
			}

			selectText, selectArgs, err := s.selectSQL(store.Params{Where: s.idRef().Eq(ids[i])})
			if err != nil {
				return err
			}
			recs, err := s.queryRecords(ctx, tx, selectText, selectArgs)
			if err != nil {
				return err
			}
			if len(recs) == 0 {
				return fmt.Errorf("%w: %s %v", store.ErrNotFound, s.schema.Name, ids[i])
			}
			out[i] = recs[0]
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Delete removes a row; deleting an absent id is not an error
func (s *Store) Delete(ctx context.Context, id any) error {
	return s.DeleteMany(ctx, []any{id})
}

// DeleteMany removes rows with a single statement
func (s *Store) DeleteMany(ctx context.Context, ids []any) error {
	if len(ids) == 0 {
		return nil
	}
	where, args, err := query.ToSQL(s.idRef().In(ids), s.sqlOptions())
	if err != nil {
		return err
	}
	sqlText := s.db.Rebind(fmt.Sprintf("DELETE FROM %s WHERE %s", quote(s.table), where))
	s.logger.Debug("sql delete", zap.String("type", s.schema.Name), zap.String("sql", sqlText))
	_, err = s.db.ExecContext(ctx, sqlText, args...)
	return convertError(err)
}

func (s *Store) exists(ctx context.Context, q sqlx.QueryerContext, id any) (bool, error) {
	sqlText, args, err := s.selectSQL(store.Params{Where: s.idRef().Eq(id), Fields: []string{}})
	if err != nil {
		return false, err
	}
	recs, err := s.queryRecords(ctx, q, sqlText, args)
	return len(recs) > 0, err
}

// Exists reports whether id is stored
func (s *Store) Exists(ctx context.Context, id any) (bool, error) {
	return s.exists(ctx, s.db, id)
}

// ExistsMany reports presence for each id with a single statement
func (s *Store) ExistsMany(ctx context.Context, ids []any) (map[any]bool, error) {
	found, err := s.FetchMany(ctx, ids, []string{})
	if err != nil {
		return nil, err
	}
	out := make(map[any]bool, len(ids))
	for _, id := range ids {
		_, ok := found[id]
		out[id] = ok
	}
	return out, nil
}
