package graph

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conduit-lang/weave/internal/orm/query"
	"github.com/conduit-lang/weave/internal/orm/schema"
)

func newThingEnv(t *testing.T) (*Env, *Type) {
	t.Helper()
	env := NewEnv()
	thing := env.MustRegister(MustType(schema.MustResourceSchema("Thing",
		&schema.Field{Name: "name", Type: schema.TypeString},
		&schema.Field{Name: "size", Type: schema.TypeInt},
	)), nil)
	require.NoError(t, env.Bind())
	return env, thing
}

func TestThingScenario(t *testing.T) {
	ctx := context.Background()
	_, thing := newThingEnv(t)

	created := map[string]any{}
	for _, name := range []string{"a", "b", "c"} {
		r := thing.MustNew(map[string]any{"name": name})
		require.NoError(t, r.Create(ctx))
		created[name] = r.ID()
	}

	name := query.Field("Thing", "name")
	b, err := thing.Select("id").Where(name.Ne("b")).All(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, b.Len())

	for _, r := range b.Items() {
		assert.False(t, r.Has("name"))
		assert.True(t, r.Has("rev"))
	}
	assert.ElementsMatch(t, []any{created["a"], created["c"]}, b.IDs())
}

func TestSelectionCompleteness(t *testing.T) {
	ctx := context.Background()
	_, thing := newThingEnv(t)
	require.NoError(t, thing.NewBatch(
		thing.MustNew(map[string]any{"name": "a", "size": int64(1)}),
	).Create(ctx))

	tests := []struct {
		name   string
		q      *Query
		want   []string
		absent []string
	}{
		{"empty selection", thing.Query(), []string{"id", "rev"}, []string{"name", "size"}},
		{"one field", thing.Select("size"), []string{"id", "rev", "size"}, []string{"name"}},
		{"all fields", thing.Select("name", "size"), []string{"id", "rev", "name", "size"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := tt.q.First(ctx)
			require.NoError(t, err)
			require.NotNil(t, r)
			for _, k := range tt.want {
				assert.True(t, r.Has(k), k)
			}
			for _, k := range tt.absent {
				assert.False(t, r.Has(k), k)
			}
		})
	}
}

func TestLimitOffsetPartition(t *testing.T) {
	ctx := context.Background()
	_, thing := newThingEnv(t)

	b := thing.NewBatch()
	for i := 0; i < 5; i++ {
		require.NoError(t, b.Append(thing.MustNew(map[string]any{"name": fmt.Sprintf("n%d", i), "size": int64(i % 3)})))
	}
	require.NoError(t, b.Create(ctx))

	seen := map[any]int{}
	for offset := 0; offset < 5; offset++ {
		r, err := thing.Query().OrderBy("size desc", "name").Offset(offset).First(ctx)
		require.NoError(t, err)
		require.NotNil(t, r)
		seen[r.ID()]++
	}
	assert.Len(t, seen, 5)
	for id, n := range seen {
		assert.Equal(t, 1, n, id)
	}

	r, err := thing.Query().Offset(5).First(ctx)
	require.NoError(t, err)
	assert.Nil(t, r)
}

func TestOrderByMonotonic(t *testing.T) {
	ctx := context.Background()
	_, thing := newThingEnv(t)

	b := thing.NewBatch()
	for _, n := range []int64{4, 1, 9, 3, 9, 0} {
		require.NoError(t, b.Append(thing.MustNew(map[string]any{"size": n})))
	}
	require.NoError(t, b.Create(ctx))

	size := query.Field("Thing", "size")

	desc, err := thing.Select("size").OrderBy(size.Desc()).All(ctx)
	require.NoError(t, err)
	vals := desc.Values("size")
	for i := 0; i+1 < len(vals); i++ {
		assert.GreaterOrEqual(t, vals[i].(int64), vals[i+1].(int64))
	}

	asc, err := thing.Select("size").OrderBy("size").All(ctx)
	require.NoError(t, err)
	vals = asc.Values("size")
	for i := 0; i+1 < len(vals); i++ {
		assert.LessOrEqual(t, vals[i].(int64), vals[i+1].(int64))
	}
}

func TestQueryBuilderErrors(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	tests := []struct {
		name string
		q    *Query
		err  error
	}{
		{"unknown name", f.user.Select("nope"), ErrUnknownResolver},
		{"unknown nested name", f.user.Select("team.nope"), ErrUnknownResolver},
		{"nested on a field", f.user.Select(With("name", "id")), ErrTypeMismatch},
		{"foreign resolver", f.user.Select(mustResolver(t, f.team, "members")), ErrUnknownResolver},
		{"unsupported item", f.user.Select(42), ErrTypeMismatch},
		{"negative limit", f.user.Query().Limit(-1), ErrInvalidLimit},
		{"negative offset", f.user.Query().Offset(-2), ErrInvalidLimit},
		{"where on resolver", f.user.Query().Where(query.Field("User", "team").Eq("x")), ErrUnknownResolver},
		{"where on other type", f.user.Query().Where(query.Field("Team", "name").Eq("x")), ErrTypeMismatch},
		{"order by non-field", f.user.Query().OrderBy("team"), ErrUnknownResolver},
		{"bad filter text", f.user.Query().Filter("name =="), ErrSelection},
		{"merge across types", f.user.Query().Merge(f.team.Query()), ErrTypeMismatch},
		{"unknown scope", f.user.Scope("nope"), ErrUnknownScope},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.q.Err(), tt.err)
			assert.True(t, IsSelectionError(tt.q.Err()))
			_, err := tt.q.All(ctx)
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func mustResolver(t *testing.T, typ *Type, name string) Resolver {
	t.Helper()
	r, ok := typ.Resolver(name)
	require.True(t, ok)
	return r
}

func TestSelectNormalizesNestedForms(t *testing.T) {
	f := newFixture(t)

	forms := map[string]*Query{
		"dotted path": f.user.Select("team.name"),
		"selection":   f.user.Select(With("team", "name")),
		"map":         f.user.Select(map[string]any{"team": []string{"name"}}),
		"slice":       f.user.Select([]any{"id", With("team", []any{"name"})}),
	}
	for name, q := range forms {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, q.Err())
			assert.True(t, q.Spec().Has("team"))
			assert.Equal(t, []string{"name"}, q.Spec().Child("team").Select)
		})
	}

	q := f.user.Select(With("team", "name").Where(query.Field("Team", "name").Eq("red")).Limit(2))
	require.NoError(t, q.Err())
	nested := q.Spec().Child("team")
	assert.Equal(t, `(Team.name == "red")`, nested.Where.String())
	require.NotNil(t, nested.Limit)
	assert.Equal(t, 2, *nested.Limit)
}

func TestQueryMerge(t *testing.T) {
	f := newFixture(t)
	age := query.Field("User", "age")

	canned := f.user.Select("name").Where(age.Gt(18)).OrderBy("name").Limit(10)
	refined := f.user.Select("team").Where(age.Lt(65)).Offset(5)
	canned.Merge(refined)

	require.NoError(t, canned.Err())
	spec := canned.Spec()
	assert.True(t, spec.Has("name"))
	assert.True(t, spec.Has("team"))
	assert.Equal(t, "((User.age > 18) && (User.age < 65))", spec.Where.String())
	assert.Equal(t, []query.OrderBy{query.Asc("name")}, spec.OrderBy)
	assert.Equal(t, 10, *spec.Limit)
	assert.Equal(t, 5, *spec.Offset)

	clone := canned.Clone().Limit(1)
	assert.Equal(t, 10, *canned.Spec().Limit)
	assert.Equal(t, 1, *clone.Spec().Limit)
}

func TestQueryFilterText(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seed(t)

	b, err := f.user.Select("name").Filter(`age >= 25 && team_id in ["t1", "t2"]`).OrderBy("name").All(ctx)
	require.NoError(t, err)
	assert.Equal(t, []any{"ann", "bob", "cid"}, b.Values("name"))
}

func TestScopes(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seed(t)

	require.NoError(t, f.user.DefineScope("adults", func(q *Query) *Query {
		return q.Where(query.Field("User", "age").Gte(21)).OrderBy("age desc")
	}))
	assert.ErrorIs(t, f.user.DefineScope("adults", nil), ErrBinding)

	b, err := f.user.Scope("adults").Select("age").Limit(2).All(ctx)
	require.NoError(t, err)
	assert.Equal(t, []any{int64(40), int64(31)}, b.Values("age"))

	require.NoError(t, f.user.DefineScope("minors", func(q *Query) *Query {
		return q.Filter("age < 21")
	}))
	assert.Equal(t, []string{"adults", "minors"}, f.user.Scopes())
	assert.ErrorIs(t, f.user.Scope("retired").Err(), ErrUnknownScope)
}
