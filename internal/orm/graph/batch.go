package graph

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/conduit-lang/weave/internal/orm/store"
)

// Batch is an ordered collection of resources of one type. Bulk operations
// issue a single store call and preserve element order.
type Batch struct {
	typ   *Type
	items []*Resource
}

// Type returns the element type
func (b *Batch) Type() *Type { return b.typ }

// Len returns the number of resources
func (b *Batch) Len() int { return len(b.items) }

// At returns the i-th resource
func (b *Batch) At(i int) *Resource { return b.items[i] }

// Items returns the resources in order
func (b *Batch) Items() []*Resource {
	out := make([]*Resource, len(b.items))
	copy(out, b.items)
	return out
}

// Append adds resources of the batch's type
func (b *Batch) Append(items ...*Resource) error {
	for _, r := range items {
		if r == nil {
			continue
		}
		if r.typ != b.typ {
			return fmt.Errorf("%w: batch of %s cannot hold %s", ErrTypeMismatch, b.typ.Name(), r.typ.Name())
		}
		b.items = append(b.items, r)
	}
	return nil
}

// IDs returns the identity of each resource in order
func (b *Batch) IDs() []any {
	ids := make([]any, len(b.items))
	for i, r := range b.items {
		ids[i] = r.ID()
	}
	return ids
}

// Values returns the raw state value of name for each resource in order
func (b *Batch) Values(name string) []any {
	out := make([]any, len(b.items))
	for i, r := range b.items {
		out[i] = r.Value(name)
	}
	return out
}

// Create inserts every resource with one store call
func (b *Batch) Create(ctx context.Context) error {
	if len(b.items) == 0 {
		return nil
	}
	if err := b.typ.ready(); err != nil {
		return err
	}
	recs := make([]store.Record, len(b.items))
	for i, r := range b.items {
		rec, err := r.createRecord()
		if err != nil {
			return err
		}
		recs[i] = rec
	}
	out, err := b.typ.store.CreateMany(ctx, recs)
	if err != nil {
		return storeError("create many", b.typ, err)
	}
	if len(out) != len(b.items) {
		return storeError("create many", b.typ, shortResult(len(b.items), len(out)))
	}
	for i, r := range b.items {
		r.absorb(out[i])
	}
	return nil
}

// Update writes the dirty fields of every resource. Resources are grouped
// by their set of dirty fields and each group is written with one
// UpdateMany call. Clean resources are skipped.
func (b *Batch) Update(ctx context.Context) error {
	if len(b.items) == 0 {
		return nil
	}
	if err := b.typ.ready(); err != nil {
		return err
	}

	type group struct {
		items []*Resource
		recs  []store.Record
	}
	groups := make(map[string]*group)
	var keys []string
	for _, r := range b.items {
		if r.ID() == nil {
			return fmt.Errorf("%w: update %s: %w", ErrResolution, b.typ.Name(), ErrMissingIdentity)
		}
		rec := r.updateRecord()
		if rec == nil {
			r.state.Clean()
			continue
		}
		k := groupKey(rec)
		g, ok := groups[k]
		if !ok {
			g = &group{}
			groups[k] = g
			keys = append(keys, k)
		}
		g.items = append(g.items, r)
		g.recs = append(g.recs, rec)
	}

	for _, k := range keys {
		g := groups[k]
		ids := make([]any, len(g.items))
		for i, r := range g.items {
			ids[i] = r.ID()
		}
		out, err := b.typ.store.UpdateMany(ctx, ids, g.recs)
		if err != nil {
			return storeError("update many", b.typ, err)
		}
		if len(out) != len(g.items) {
			return storeError("update many", b.typ, shortResult(len(g.items), len(out)))
		}
		for i, r := range g.items {
			r.absorb(out[i])
		}
	}
	return nil
}

func shortResult(want, got int) error {
	return fmt.Errorf("store returned %d records for %d resources", got, want)
}

func groupKey(rec store.Record) string {
	names := make([]string, 0, len(rec))
	for k := range rec {
		names = append(names, k)
	}
	sort.Strings(names)
	return strings.Join(names, ",")
}

// Save creates the resources without identity and updates the rest
func (b *Batch) Save(ctx context.Context) error {
	creates, updates := b.typ.NewBatch(), b.typ.NewBatch()
	for _, r := range b.items {
		if r.needsCreate() {
			creates.items = append(creates.items, r)
		} else {
			updates.items = append(updates.items, r)
		}
	}
	if err := creates.Create(ctx); err != nil {
		return err
	}
	return updates.Update(ctx)
}

// Delete removes every stored resource with one store call
func (b *Batch) Delete(ctx context.Context) error {
	if len(b.items) == 0 {
		return nil
	}
	if err := b.typ.ready(); err != nil {
		return err
	}
	var ids []any
	for _, r := range b.items {
		if id := r.ID(); id != nil {
			ids = append(ids, id)
		}
	}
	if len(ids) > 0 {
		if err := b.typ.store.DeleteMany(ctx, ids); err != nil {
			return storeError("delete many", b.typ, err)
		}
	}
	for _, r := range b.items {
		r.forget()
	}
	return nil
}

// Dump serializes the batch with d
func (b *Batch) Dump(d Dumper) (any, error) { return d.Dump(b) }
