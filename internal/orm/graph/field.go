package graph

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/conduit-lang/weave/internal/orm/schema"
)

// Field is the resolver of a store-backed schema field. Queries fetch
// fields in bulk; executing a Field directly fetches the single value.
type Field struct {
	Base
	field *schema.Field
}

var _ Resolver = (*Field)(nil)

func newField(f *schema.Field) *Field {
	opts := []Option{}
	if f.Required {
		opts = append(opts, AsRequired())
	}
	if f.Private {
		opts = append(opts, AsPrivate())
	}
	return &Field{Base: newBase(f.Name, PriorityField, opts), field: f}
}

// Schema returns the schema definition of the field
func (f *Field) Schema() *schema.Field { return f.field }

// OnExecute fetches the field of r from the store. A resource without an id
// resolves to nil.
func (f *Field) OnExecute(ctx context.Context, r *Resource, req *Request) (any, error) {
	id := r.ID()
	if id == nil {
		return nil, nil
	}
	rec, err := r.typ.store.Fetch(ctx, id, []string{f.name})
	if err != nil {
		return nil, storeError("fetch", r.typ, err)
	}
	if rec == nil {
		return nil, nil
	}
	return rec[f.name], nil
}

// OnBackfill keeps a present value and otherwise generates one from the
// field's default or kind
func (f *Field) OnBackfill(ctx context.Context, r *Resource, req *Request, partial any) (any, error) {
	if partial != nil {
		return partial, nil
	}
	if f.field.Default != nil {
		return f.field.Default(), nil
	}
	if f.name == r.typ.schema.IDField {
		return uuid.NewString(), nil
	}
	return nil, nil
}

// Dump renders times as RFC 3339 strings and passes other values through
func (f *Field) Dump(d Dumper, value any) (any, error) {
	switch v := value.(type) {
	case time.Time:
		return v.Format(time.RFC3339Nano), nil
	case *time.Time:
		if v == nil {
			return nil, nil
		}
		return v.Format(time.RFC3339Nano), nil
	case []byte:
		return string(v), nil
	}
	return value, nil
}

func (f *Field) String() string {
	return fmt.Sprintf("%s:%s", f.qualifiedName(), f.field.Type)
}
