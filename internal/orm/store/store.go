// Package store defines the persistence boundary of the resolution engine.
//
// A Store serves exactly one resource type. Records are flat maps from field
// name to primitive value and always carry the schema's identity and
// revision fields. Implementations live in subpackages.
package store

import (
	"context"

	"github.com/conduit-lang/weave/internal/orm/query"
	"github.com/conduit-lang/weave/internal/orm/schema"
)

// Record is a stored row keyed by field name
type Record = map[string]any

// Params describes a filtered, ordered and windowed read
type Params struct {
	Where   query.Predicate
	Fields  []string
	OrderBy []query.OrderBy
	Limit   *int
	Offset  *int
}

// Store is the CRUD and query surface the engine depends on.
//
// Fetch returns a nil record and no error when the id is absent.
// Update fails with ErrNotFound for an unknown id and with ErrConflict when
// the record carries a revision that differs from the stored one. Batch
// variants apply the single-record contract element-wise and return results
// in input order.
type Store interface {
	Schema() *schema.ResourceSchema

	Query(ctx context.Context, params Params) ([]Record, error)
	Fetch(ctx context.Context, id any, fields []string) (Record, error)
	FetchMany(ctx context.Context, ids []any, fields []string) (map[any]Record, error)

	Create(ctx context.Context, record Record) (Record, error)
	CreateMany(ctx context.Context, records []Record) ([]Record, error)
	Update(ctx context.Context, id any, record Record) (Record, error)
	UpdateMany(ctx context.Context, ids []any, records []Record) ([]Record, error)
	Delete(ctx context.Context, id any) error
	DeleteMany(ctx context.Context, ids []any) error

	Exists(ctx context.Context, id any) (bool, error)
	ExistsMany(ctx context.Context, ids []any) (map[any]bool, error)
}
