package graph

import (
	"context"
	"fmt"

	"github.com/conduit-lang/weave/internal/orm/schema"
	"github.com/conduit-lang/weave/internal/orm/store"
)

// Type is a resource type: a field schema plus the registry of resolvers
// declared on it. Every schema field gets a Field resolver automatically.
type Type struct {
	schema    *schema.ResourceSchema
	env       *Env
	store     store.Store
	resolvers map[string]Resolver
	order     []Resolver
	scopes    map[string]ScopeFunc
	bound     bool
}

// NewType creates a type for s with a Field resolver per schema field
// followed by the given resolvers
func NewType(s *schema.ResourceSchema, rs ...Resolver) (*Type, error) {
	t := &Type{
		schema:    s,
		resolvers: make(map[string]Resolver),
		scopes:    make(map[string]ScopeFunc),
	}
	for _, name := range s.FieldNames() {
		f, _ := s.Field(name)
		if err := t.Add(newField(f)); err != nil {
			return nil, err
		}
	}
	if err := t.Add(rs...); err != nil {
		return nil, err
	}
	return t, nil
}

// MustType is like NewType but panics on error
func MustType(s *schema.ResourceSchema, rs ...Resolver) *Type {
	t, err := NewType(s, rs...)
	if err != nil {
		panic(err)
	}
	return t
}

// Add declares resolvers on the type. Names must be unique and the type
// must not be bound yet.
func (t *Type) Add(rs ...Resolver) error {
	if t.bound {
		return fmt.Errorf("%w: %s", ErrAlreadyBound, t.Name())
	}
	for _, r := range rs {
		if _, ok := t.resolvers[r.Name()]; ok {
			return fmt.Errorf("%w: %s.%s", ErrDuplicateResolver, t.Name(), r.Name())
		}
		t.resolvers[r.Name()] = r
		t.order = append(t.order, r)
	}
	return nil
}

func (t *Type) bind() error {
	if t.bound {
		return nil
	}
	for _, r := range t.order {
		if err := r.Bind(t); err != nil {
			return err
		}
	}
	t.bound = true
	return nil
}

// Name returns the type name
func (t *Type) Name() string { return t.schema.Name }

// Schema returns the field schema
func (t *Type) Schema() *schema.ResourceSchema { return t.schema }

// Store returns the store backing the type
func (t *Type) Store() store.Store { return t.store }

// Env returns the env the type is registered with
func (t *Type) Env() *Env { return t.env }

// Resolver returns the resolver declared under name
func (t *Type) Resolver(name string) (Resolver, bool) {
	r, ok := t.resolvers[name]
	return r, ok
}

// Resolvers returns all resolvers in declaration order
func (t *Type) Resolvers() []Resolver {
	out := make([]Resolver, len(t.order))
	copy(out, t.order)
	return out
}

// index returns the declaration position of a resolver
func (t *Type) index(name string) int {
	for i, r := range t.order {
		if r.Name() == name {
			return i
		}
	}
	return len(t.order)
}

// IsField reports whether name is a store-backed schema field
func (t *Type) IsField(name string) bool {
	return t.schema.HasField(name)
}

func (t *Type) ready() error {
	if t.env == nil || !t.bound {
		return fmt.Errorf("%w: %s", ErrNotBound, t.Name())
	}
	return nil
}

// New creates an unsaved resource holding values. Every supplied key is
// dirty.
func (t *Type) New(values map[string]any) (*Resource, error) {
	for name, v := range values {
		r, ok := t.resolvers[name]
		if !ok {
			return nil, fmt.Errorf("%w: %s.%s", ErrUnknownResolver, t.Name(), name)
		}
		if err := checkTarget(r, v); err != nil {
			return nil, err
		}
	}
	return newResource(t, values), nil
}

// MustNew is like New but panics on error
func (t *Type) MustNew(values map[string]any) *Resource {
	r, err := t.New(values)
	if err != nil {
		panic(err)
	}
	return r
}

// NewBatch creates a batch of resources of this type
func (t *Type) NewBatch(items ...*Resource) *Batch {
	b := &Batch{typ: t}
	for _, r := range items {
		if r != nil {
			b.items = append(b.items, r)
		}
	}
	return b
}

// Select starts a query selecting items
func (t *Type) Select(items ...any) *Query {
	return newQuery(t).Select(items...)
}

// Query starts a query selecting only the identity, revision and required
// fields
func (t *Type) Query() *Query {
	return newQuery(t)
}

// Get fetches one resource by id, or nil when absent. With no fields every
// schema field is loaded.
func (t *Type) Get(ctx context.Context, id any, fields ...string) (*Resource, error) {
	if err := t.ready(); err != nil {
		return nil, err
	}
	if err := t.checkFields(fields); err != nil {
		return nil, err
	}
	rec, err := t.store.Fetch(ctx, id, projection(fields))
	if err != nil {
		return nil, storeError("fetch", t, err)
	}
	if rec == nil {
		return nil, nil
	}
	return t.fromRecord(rec), nil
}

// GetMany fetches resources by id in input order; missing ids are skipped
func (t *Type) GetMany(ctx context.Context, ids []any, fields ...string) (*Batch, error) {
	if err := t.ready(); err != nil {
		return nil, err
	}
	if err := t.checkFields(fields); err != nil {
		return nil, err
	}
	recs, err := t.store.FetchMany(ctx, ids, projection(fields))
	if err != nil {
		return nil, storeError("fetch many", t, err)
	}
	b := t.NewBatch()
	for _, id := range ids {
		if rec, ok := recs[id]; ok && rec != nil {
			b.items = append(b.items, t.fromRecord(rec))
		}
	}
	return b, nil
}

// Exists reports whether id is stored
func (t *Type) Exists(ctx context.Context, id any) (bool, error) {
	if err := t.ready(); err != nil {
		return false, err
	}
	ok, err := t.store.Exists(ctx, id)
	if err != nil {
		return false, storeError("exists", t, err)
	}
	return ok, nil
}

// ExistsMany reports presence for each id
func (t *Type) ExistsMany(ctx context.Context, ids []any) (map[any]bool, error) {
	if err := t.ready(); err != nil {
		return nil, err
	}
	out, err := t.store.ExistsMany(ctx, ids)
	if err != nil {
		return nil, storeError("exists many", t, err)
	}
	return out, nil
}

func (t *Type) checkFields(fields []string) error {
	for _, f := range fields {
		if !t.IsField(f) {
			return fmt.Errorf("%w: %s.%s is not a field", ErrUnknownResolver, t.Name(), f)
		}
	}
	return nil
}

// fromRecord builds a clean resource mirroring a stored record
func (t *Type) fromRecord(rec store.Record) *Resource {
	r := newResource(t, rec)
	r.Clean()
	return r
}

// projection maps an empty field list to "every field"
func projection(fields []string) []string {
	if len(fields) == 0 {
		return nil
	}
	return fields
}
