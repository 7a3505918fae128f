package graph

import (
	"context"
	"fmt"

	"github.com/conduit-lang/weave/internal/orm/store"
	"github.com/conduit-lang/weave/internal/orm/tracking"
)

// Resource is one record of a Type. Its state maps resolver names to
// values; reads and writes dispatch to the owning resolver.
// A Resource is not safe for concurrent use.
type Resource struct {
	typ   *Type
	state *tracking.State
}

func newResource(t *Type, values map[string]any) *Resource {
	return &Resource{typ: t, state: tracking.NewState(values)}
}

// Type returns the resource's type
func (r *Resource) Type() *Type { return r.typ }

// ID returns the identity value, nil until assigned
func (r *Resource) ID() any { return r.Value(r.typ.schema.IDField) }

// Rev returns the revision token of the last write
func (r *Resource) Rev() any { return r.Value(r.typ.schema.RevField) }

// Value returns the raw state value without executing anything
func (r *Resource) Value(name string) any {
	v, _ := r.state.Get(name)
	return v
}

// Has reports whether name is present in state
func (r *Resource) Has(name string) bool { return r.state.Has(name) }

// Keys returns the names present in state
func (r *Resource) Keys() []string { return r.state.Keys() }

// Values returns a copy of the whole state
func (r *Resource) Values() map[string]any { return r.state.Snapshot() }

func (r *Resource) resolver(name string) (Resolver, error) {
	res, ok := r.typ.resolvers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", ErrUnknownResolver, r.typ.Name(), name)
	}
	return res, nil
}

// Get reads name. An unset lazy resolver is executed on demand; an unset
// non-lazy resolver fails with ErrNotLoaded.
func (r *Resource) Get(ctx context.Context, name string) (any, error) {
	res, err := r.resolver(name)
	if err != nil {
		return nil, err
	}
	v, ok := r.state.Get(name)
	if !ok {
		if !res.Lazy() {
			return nil, fmt.Errorf("%w: %s.%s", ErrNotLoaded, r.typ.Name(), name)
		}
		if v, err = Execute(ctx, r, NewRequest(res)); err != nil {
			return nil, err
		}
	}
	res.OnGet(r, v)
	return v, nil
}

// Set writes name and notifies the resolver with the old and new values
func (r *Resource) Set(name string, value any) error {
	res, err := r.resolver(name)
	if err != nil {
		return err
	}
	if err := checkTarget(res, value); err != nil {
		return err
	}
	old := r.state.Set(name, value)
	res.OnSet(r, old, value)
	return nil
}

// Unset removes name from state and notifies the resolver
func (r *Resource) Unset(name string) error {
	res, err := r.resolver(name)
	if err != nil {
		return err
	}
	if old, ok := r.state.Delete(name); ok {
		res.OnDel(r, old)
	}
	return nil
}

// checkTarget enforces the scalar or collection shape of values assigned
// to resolvers with a target type
func checkTarget(res Resolver, value any) error {
	target := res.Target()
	if target == nil || value == nil {
		return nil
	}
	switch v := value.(type) {
	case *Resource:
		if res.Many() {
			return fmt.Errorf("%w: %s expects a batch of %s", ErrTypeMismatch, res.Name(), target.Name())
		}
		if v != nil && v.typ != target {
			return fmt.Errorf("%w: %s expects %s, got %s", ErrTypeMismatch, res.Name(), target.Name(), v.typ.Name())
		}
	case *Batch:
		if !res.Many() {
			return fmt.Errorf("%w: %s expects a single %s", ErrTypeMismatch, res.Name(), target.Name())
		}
		if v != nil && v.typ != target {
			return fmt.Errorf("%w: %s expects %s, got %s", ErrTypeMismatch, res.Name(), target.Name(), v.typ.Name())
		}
	default:
		return fmt.Errorf("%w: %s expects %s, got %T", ErrTypeMismatch, res.Name(), target.Name(), value)
	}
	return nil
}

// Dirty returns the names changed since the state last mirrored the store
func (r *Resource) Dirty() []string { return r.state.ChangedFields() }

// IsDirty reports whether name, or with no name any key, is dirty
func (r *Resource) IsDirty(names ...string) bool {
	if len(names) == 0 {
		return r.state.HasChanges()
	}
	for _, n := range names {
		if r.state.Changed(n) {
			return true
		}
	}
	return false
}

// Mark marks names dirty; with no names every key is marked
func (r *Resource) Mark(names ...string) *Resource {
	r.state.Mark(names...)
	return r
}

// Clean clears dirty flags of names; with no names all flags are cleared
func (r *Resource) Clean(names ...string) *Resource {
	r.state.Clean(names...)
	return r
}

// Merge copies values into state. Keys whose value is unchanged stay clean.
func (r *Resource) Merge(values map[string]any) *Resource {
	r.state.Merge(values)
	return r
}

// record collects schema fields accepted by keep into a store record
func (r *Resource) record(keep func(name string) bool) store.Record {
	rec := make(store.Record)
	for _, name := range r.typ.schema.FieldNames() {
		if !keep(name) {
			continue
		}
		if v, ok := r.state.Get(name); ok {
			rec[name] = v
		}
	}
	return rec
}

func (r *Resource) createRecord() (store.Record, error) {
	s := r.typ.schema
	rec := r.record(func(name string) bool { return name != s.RevField })
	for _, name := range s.RequiredFields() {
		if name == s.IDField {
			continue
		}
		if rec[name] == nil {
			return nil, fmt.Errorf("%w: %s.%s", ErrMissingRequired, r.typ.Name(), name)
		}
	}
	return rec, nil
}

// updateRecord returns the dirty schema fields plus the current revision
// for an optimistic check, or nil when nothing is dirty
func (r *Resource) updateRecord() store.Record {
	s := r.typ.schema
	rec := store.Record(r.state.GetChangedData(func(name string) bool {
		_, ok := s.Field(name)
		return ok && name != s.IDField && name != s.RevField
	}))
	if len(rec) == 0 {
		return nil
	}
	if rev := r.Rev(); rev != nil {
		rec[s.RevField] = rev
	}
	return rec
}

// absorb merges a stored record and marks the resource clean
func (r *Resource) absorb(rec store.Record) {
	r.state.Merge(rec)
	r.state.Clean()
}

// Create inserts the resource. The store assigns an id when absent and a
// fresh revision.
func (r *Resource) Create(ctx context.Context) error {
	if err := r.typ.ready(); err != nil {
		return err
	}
	rec, err := r.createRecord()
	if err != nil {
		return err
	}
	out, err := r.typ.store.Create(ctx, rec)
	if err != nil {
		return storeError("create", r.typ, err)
	}
	r.absorb(out)
	return nil
}

// Update writes the dirty fields. The current revision is sent so the
// store rejects a concurrent write with store.ErrConflict.
func (r *Resource) Update(ctx context.Context) error {
	if err := r.typ.ready(); err != nil {
		return err
	}
	id := r.ID()
	if id == nil {
		return fmt.Errorf("%w: update %s: %w", ErrResolution, r.typ.Name(), ErrMissingIdentity)
	}
	rec := r.updateRecord()
	if rec == nil {
		r.state.Clean()
		return nil
	}
	out, err := r.typ.store.Update(ctx, id, rec)
	if err != nil {
		return storeError("update", r.typ, err)
	}
	r.absorb(out)
	return nil
}

// Save creates the resource when it has no id or its id was changed
// locally, and updates it otherwise
func (r *Resource) Save(ctx context.Context) error {
	if r.needsCreate() {
		return r.Create(ctx)
	}
	return r.Update(ctx)
}

func (r *Resource) needsCreate() bool {
	return r.ID() == nil || r.state.Changed(r.typ.schema.IDField)
}

// Delete removes the resource from the store, clears its id and revision
// and marks the remaining state dirty
func (r *Resource) Delete(ctx context.Context) error {
	if err := r.typ.ready(); err != nil {
		return err
	}
	if id := r.ID(); id != nil {
		if err := r.typ.store.Delete(ctx, id); err != nil {
			return storeError("delete", r.typ, err)
		}
	}
	r.forget()
	return nil
}

func (r *Resource) forget() {
	r.state.Delete(r.typ.schema.IDField)
	r.state.Delete(r.typ.schema.RevField)
	r.state.Mark()
}

// Load refreshes names from the store. Schema fields are fetched in one
// call; other resolvers are executed. With no names every field is loaded.
func (r *Resource) Load(ctx context.Context, names ...string) error {
	if err := r.typ.ready(); err != nil {
		return err
	}
	id := r.ID()
	if id == nil {
		return fmt.Errorf("%w: load %s: %w", ErrResolution, r.typ.Name(), ErrMissingIdentity)
	}

	var fields []string
	var requests []Resolver
	for _, name := range names {
		res, err := r.resolver(name)
		if err != nil {
			return err
		}
		if r.typ.IsField(name) {
			fields = append(fields, name)
		} else {
			requests = append(requests, res)
		}
	}

	if len(fields) > 0 || len(names) == 0 {
		rec, err := r.typ.store.Fetch(ctx, id, projection(fields))
		if err != nil {
			return storeError("load", r.typ, err)
		}
		if rec == nil {
			return storeError("load", r.typ, fmt.Errorf("%w: %v", store.ErrNotFound, id))
		}
		r.state.Merge(rec)
		keys := make([]string, 0, len(rec))
		for k := range rec {
			keys = append(keys, k)
		}
		r.state.Clean(keys...)
	}

	for _, res := range sortResolvers(r.typ, requests) {
		if _, err := Execute(ctx, r, NewRequest(res)); err != nil {
			return err
		}
	}
	return nil
}

// Dump serializes the resource with d
func (r *Resource) Dump(d Dumper) (any, error) { return d.Dump(r) }

// String renders the type and id
func (r *Resource) String() string {
	return fmt.Sprintf("%s(%v)", r.typ.Name(), r.ID())
}
