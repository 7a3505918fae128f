// Package memory provides a map-backed Store that evaluates predicates in
// process. It is the default backend and the one the engine tests run on.
package memory

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/conduit-lang/weave/internal/orm/schema"
	"github.com/conduit-lang/weave/internal/orm/store"
)

// Store keeps records in insertion order
type Store struct {
	schema  *schema.ResourceSchema
	logger  *zap.Logger
	mu      sync.RWMutex
	records map[any]store.Record
	order   []any
}

// Option configures a Store
type Option func(*Store)

// WithLogger sets the logger used for debug output
func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New creates an empty store for one resource type
func New(s *schema.ResourceSchema, opts ...Option) *Store {
	m := &Store{
		schema:  s,
		logger:  zap.NewNop(),
		records: make(map[any]store.Record),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

var _ store.Store = (*Store)(nil)

// Schema returns the schema served by the store
func (m *Store) Schema() *schema.ResourceSchema { return m.schema }

// Query filters, orders and windows all records
func (m *Store) Query(ctx context.Context, params store.Params) ([]store.Record, error) {
	if err := store.CheckFields(m.schema, params.Fields); err != nil {
		return nil, err
	}

	m.mu.RLock()
	all := make([]store.Record, 0, len(m.order))
	for _, key := range m.order {
		all = append(all, store.Copy(m.records[key]))
	}
	m.mu.RUnlock()

	matched, err := store.Filter(all, params.Where)
	if err != nil {
		return nil, err
	}
	matched = store.Window(matched, params)

	out := make([]store.Record, len(matched))
	for i, r := range matched {
		out[i] = store.Project(m.schema, r, params.Fields)
	}
	m.logger.Debug("memory query",
		zap.String("type", m.schema.Name),
		zap.Int("scanned", len(all)),
		zap.Int("returned", len(out)))
	return out, nil
}

// Fetch returns one record or nil when absent
func (m *Store) Fetch(ctx context.Context, id any, fields []string) (store.Record, error) {
	if err := store.CheckFields(m.schema, fields); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.records[store.Key(id)]
	if !ok {
		return nil, nil
	}
	return store.Project(m.schema, r, fields), nil
}

// FetchMany returns the present records keyed by the requested ids
func (m *Store) FetchMany(ctx context.Context, ids []any, fields []string) (map[any]store.Record, error) {
	if err := store.CheckFields(m.schema, fields); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[any]store.Record, len(ids))
	for _, id := range ids {
		if r, ok := m.records[store.Key(id)]; ok {
			out[id] = store.Project(m.schema, r, fields)
		}
	}
	return out, nil
}

// Create inserts a record, generating an id when absent
func (m *Store) Create(ctx context.Context, record store.Record) (store.Record, error) {
	out, err := m.CreateMany(ctx, []store.Record{record})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// CreateMany inserts records in order; nothing is written if any fails
func (m *Store) CreateMany(ctx context.Context, records []store.Record) ([]store.Record, error) {
	prepared := make([]store.Record, len(records))
	for i, r := range records {
		p, err := store.PrepareCreate(m.schema, r)
		if err != nil {
			return nil, err
		}
		prepared[i] = p
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	seen := make(map[any]struct{}, len(prepared))
	for _, p := range prepared {
		key := store.Key(p[m.schema.IDField])
		if _, exists := m.records[key]; exists {
			return nil, fmt.Errorf("%w: %s %v", store.ErrAlreadyExists, m.schema.Name, key)
		}
		if _, dup := seen[key]; dup {
			return nil, fmt.Errorf("%w: %s %v appears twice", store.ErrAlreadyExists, m.schema.Name, key)
		}
		seen[key] = struct{}{}
	}

	out := make([]store.Record, len(prepared))
	for i, p := range prepared {
		key := store.Key(p[m.schema.IDField])
		m.records[key] = p
		m.order = append(m.order, key)
		out[i] = store.Copy(p)
	}
	return out, nil
}

// Update merges changes into an existing record
func (m *Store) Update(ctx context.Context, id any, record store.Record) (store.Record, error) {
	out, err := m.UpdateMany(ctx, []any{id}, []store.Record{record})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// UpdateMany applies updates in order; nothing is written if any fails
func (m *Store) UpdateMany(ctx context.Context, ids []any, records []store.Record) ([]store.Record, error) {
	if len(ids) != len(records) {
		return nil, &store.LengthMismatchError{IDs: len(ids), Records: len(records)}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	changes := make([]store.Record, len(records))
	for i, r := range records {
		key := store.Key(ids[i])
		existing, ok := m.records[key]
		if !ok {
			return nil, fmt.Errorf("%w: %s %v", store.ErrNotFound, m.schema.Name, key)
		}
		c, expected, err := store.SplitUpdate(m.schema, r)
		if err != nil {
			return nil, err
		}
		if !store.RevMatches(expected, existing[m.schema.RevField]) {
			return nil, fmt.Errorf("%w: %s %v", store.ErrConflict, m.schema.Name, key)
		}
		changes[i] = c
	}

	out := make([]store.Record, len(records))
	for i, c := range changes {
		existing := m.records[store.Key(ids[i])]
		for k, v := range c {
			existing[k] = v
		}
		out[i] = store.Copy(existing)
	}
	return out, nil
}

// Delete removes a record; deleting an absent id is not an error
func (m *Store) Delete(ctx context.Context, id any) error {
	return m.DeleteMany(ctx, []any{id})
}

// DeleteMany removes records by id
func (m *Store) DeleteMany(ctx context.Context, ids []any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := make(map[any]struct{}, len(ids))
	for _, id := range ids {
		key := store.Key(id)
		if _, ok := m.records[key]; ok {
			delete(m.records, key)
			removed[key] = struct{}{}
		}
	}
	if len(removed) == 0 {
		return nil
	}
	order := m.order[:0]
	for _, key := range m.order {
		if _, gone := removed[key]; !gone {
			order = append(order, key)
		}
	}
	m.order = order
	return nil
}

// Exists reports whether id is stored
func (m *Store) Exists(ctx context.Context, id any) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.records[store.Key(id)]
	return ok, nil
}

// ExistsMany reports presence for each id
func (m *Store) ExistsMany(ctx context.Context, ids []any) (map[any]bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[any]bool, len(ids))
	for _, id := range ids {
		_, ok := m.records[store.Key(id)]
		out[id] = ok
	}
	return out, nil
}
