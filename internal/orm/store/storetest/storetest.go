// Package storetest is a conformance suite run by every Store implementation.
package storetest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conduit-lang/weave/internal/orm/query"
	"github.com/conduit-lang/weave/internal/orm/schema"
	"github.com/conduit-lang/weave/internal/orm/store"
)

// Factory returns an empty store serving s
type Factory func(t *testing.T, s *schema.ResourceSchema) store.Store

// ThingSchema is the schema the suite stores
func ThingSchema() *schema.ResourceSchema {
	return schema.MustResourceSchema("Thing",
		&schema.Field{Name: "name", Type: schema.TypeString},
		&schema.Field{Name: "size", Type: schema.TypeInt},
	)
}

func intPtr(n int) *int { return &n }

// Run exercises the Store contract against stores built by newStore
func Run(t *testing.T, newStore Factory) {
	ctx := context.Background()

	seed := func(t *testing.T) (store.Store, []store.Record) {
		s := newStore(t, ThingSchema())
		created, err := s.CreateMany(ctx, []store.Record{
			{"name": "a", "size": int64(3)},
			{"name": "b", "size": int64(1)},
			{"name": "c", "size": int64(2)},
		})
		require.NoError(t, err)
		require.Len(t, created, 3)
		return s, created
	}

	t.Run("create assigns id and rev", func(t *testing.T) {
		s := newStore(t, ThingSchema())
		rec, err := s.Create(ctx, store.Record{"name": "a"})
		require.NoError(t, err)
		assert.NotNil(t, rec["id"])
		assert.NotNil(t, rec["rev"])
		assert.Equal(t, "a", rec["name"])
	})

	t.Run("create preserves explicit id", func(t *testing.T) {
		s := newStore(t, ThingSchema())
		rec, err := s.Create(ctx, store.Record{"id": "fixed", "name": "a"})
		require.NoError(t, err)
		assert.Equal(t, "fixed", rec["id"])

		_, err = s.Create(ctx, store.Record{"id": "fixed", "name": "b"})
		assert.ErrorIs(t, err, store.ErrAlreadyExists)
	})

	t.Run("create rejects unknown fields", func(t *testing.T) {
		s := newStore(t, ThingSchema())
		_, err := s.Create(ctx, store.Record{"color": "red"})
		assert.ErrorIs(t, err, store.ErrUnknownField)
	})

	t.Run("create many preserves order", func(t *testing.T) {
		_, created := seed(t)
		assert.Equal(t, "a", created[0]["name"])
		assert.Equal(t, "b", created[1]["name"])
		assert.Equal(t, "c", created[2]["name"])
	})

	t.Run("fetch projects onto id rev and fields", func(t *testing.T) {
		s, created := seed(t)
		rec, err := s.Fetch(ctx, created[0]["id"], []string{"size"})
		require.NoError(t, err)
		require.NotNil(t, rec)
		assert.Equal(t, created[0]["id"], rec["id"])
		assert.Equal(t, created[0]["rev"], rec["rev"])
		assert.True(t, query.Equal(int64(3), rec["size"]))
		assert.NotContains(t, rec, "name")
	})

	t.Run("fetch absent returns nil", func(t *testing.T) {
		s := newStore(t, ThingSchema())
		rec, err := s.Fetch(ctx, "missing", nil)
		require.NoError(t, err)
		assert.Nil(t, rec)
	})

	t.Run("fetch many keys by requested id", func(t *testing.T) {
		s, created := seed(t)
		ids := []any{created[2]["id"], "missing", created[0]["id"]}
		got, err := s.FetchMany(ctx, ids, nil)
		require.NoError(t, err)
		assert.Len(t, got, 2)
		assert.Equal(t, "c", got[created[2]["id"]]["name"])
		assert.Equal(t, "a", got[created[0]["id"]]["name"])
	})

	t.Run("query filters and projects", func(t *testing.T) {
		s, created := seed(t)
		recs, err := s.Query(ctx, store.Params{
			Where:  query.Field("Thing", "name").Ne("b"),
			Fields: []string{},
		})
		require.NoError(t, err)
		require.Len(t, recs, 2)

		ids := []any{recs[0]["id"], recs[1]["id"]}
		assert.ElementsMatch(t, []any{created[0]["id"], created[2]["id"]}, ids)
		for _, r := range recs {
			assert.NotContains(t, r, "name")
			assert.NotNil(t, r["rev"])
		}
	})

	t.Run("query included in", func(t *testing.T) {
		s, _ := seed(t)
		recs, err := s.Query(ctx, store.Params{
			Where:   query.Field("Thing", "name").In("a", "c", "z"),
			OrderBy: []query.OrderBy{query.Asc("name")},
		})
		require.NoError(t, err)
		require.Len(t, recs, 2)
		assert.Equal(t, "a", recs[0]["name"])
		assert.Equal(t, "c", recs[1]["name"])
	})

	t.Run("negative comparisons match missing values", func(t *testing.T) {
		s := newStore(t, ThingSchema())
		created, err := s.CreateMany(ctx, []store.Record{
			{"name": "a", "size": int64(1)},
			{"size": int64(2)},
			{"name": "c", "size": int64(3)},
		})
		require.NoError(t, err)
		a, unnamed, c := created[0]["id"], created[1]["id"], created[2]["id"]
		name := query.Field("Thing", "name")

		tests := []struct {
			name  string
			where query.Predicate
			want  []any
		}{
			{"not equal", name.Ne("a"), []any{unnamed, c}},
			{"not in", name.NotIn("a", "c"), []any{unnamed}},
			{"not equal nil", name.Ne(nil), []any{a, c}},
			{"in with nil", name.In("c", nil), []any{unnamed, c}},
			{"not in with nil", name.NotIn("a", nil), []any{c}},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				recs, err := s.Query(ctx, store.Params{Where: tt.where})
				require.NoError(t, err)
				ids := make([]any, len(recs))
				for i, r := range recs {
					ids[i] = r["id"]
				}
				assert.ElementsMatch(t, tt.want, ids)
			})
		}
	})

	t.Run("order by is monotonic", func(t *testing.T) {
		s, _ := seed(t)
		for _, desc := range []bool{false, true} {
			recs, err := s.Query(ctx, store.Params{
				OrderBy: []query.OrderBy{{Field: "size", Desc: desc}},
			})
			require.NoError(t, err)
			require.Len(t, recs, 3)
			for i := 0; i+1 < len(recs); i++ {
				c, ok := query.CompareValues(recs[i]["size"], recs[i+1]["size"])
				require.True(t, ok)
				if desc {
					assert.GreaterOrEqual(t, c, 0)
				} else {
					assert.LessOrEqual(t, c, 0)
				}
			}
		}
	})

	t.Run("limit offset partition", func(t *testing.T) {
		s, _ := seed(t)
		seen := make(map[any]int)
		for offset := 0; offset < 3; offset++ {
			recs, err := s.Query(ctx, store.Params{
				OrderBy: []query.OrderBy{query.Asc("name")},
				Limit:   intPtr(1),
				Offset:  intPtr(offset),
			})
			require.NoError(t, err)
			require.Len(t, recs, 1)
			seen[recs[0]["id"]]++
		}
		assert.Len(t, seen, 3)
		for _, n := range seen {
			assert.Equal(t, 1, n)
		}

		recs, err := s.Query(ctx, store.Params{Offset: intPtr(5)})
		require.NoError(t, err)
		assert.Empty(t, recs)
	})

	t.Run("update installs a new rev", func(t *testing.T) {
		s, created := seed(t)
		id := created[0]["id"]
		updated, err := s.Update(ctx, id, store.Record{"name": "z"})
		require.NoError(t, err)
		assert.Equal(t, "z", updated["name"])
		assert.NotEqual(t, created[0]["rev"], updated["rev"])
		assert.Equal(t, id, updated["id"])

		rec, err := s.Fetch(ctx, id, nil)
		require.NoError(t, err)
		assert.Equal(t, "z", rec["name"])
		assert.True(t, query.Equal(int64(3), rec["size"]))
	})

	t.Run("update detects rev conflict", func(t *testing.T) {
		s, created := seed(t)
		id := created[0]["id"]
		_, err := s.Update(ctx, id, store.Record{"name": "x", "rev": created[0]["rev"]})
		require.NoError(t, err)

		_, err = s.Update(ctx, id, store.Record{"name": "y", "rev": created[0]["rev"]})
		assert.ErrorIs(t, err, store.ErrConflict)
	})

	t.Run("update unknown id", func(t *testing.T) {
		s := newStore(t, ThingSchema())
		_, err := s.Update(ctx, "missing", store.Record{"name": "x"})
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("update many preserves order", func(t *testing.T) {
		s, created := seed(t)
		ids := []any{created[2]["id"], created[0]["id"]}
		out, err := s.UpdateMany(ctx, ids, []store.Record{{"name": "cc"}, {"name": "aa"}})
		require.NoError(t, err)
		require.Len(t, out, 2)
		assert.Equal(t, "cc", out[0]["name"])
		assert.Equal(t, "aa", out[1]["name"])

		_, err = s.UpdateMany(ctx, ids, []store.Record{{"name": "x"}})
		var mismatch *store.LengthMismatchError
		assert.ErrorAs(t, err, &mismatch)
	})

	t.Run("delete and exists", func(t *testing.T) {
		s, created := seed(t)
		id := created[1]["id"]

		ok, err := s.Exists(ctx, id)
		require.NoError(t, err)
		assert.True(t, ok)

		require.NoError(t, s.Delete(ctx, id))
		require.NoError(t, s.Delete(ctx, id))

		ok, err = s.Exists(ctx, id)
		require.NoError(t, err)
		assert.False(t, ok)

		many, err := s.ExistsMany(ctx, []any{created[0]["id"], id})
		require.NoError(t, err)
		assert.Equal(t, map[any]bool{created[0]["id"]: true, id: false}, many)

		require.NoError(t, s.DeleteMany(ctx, []any{created[0]["id"], created[2]["id"]}))
		recs, err := s.Query(ctx, store.Params{})
		require.NoError(t, err)
		assert.Empty(t, recs)
	})
}
