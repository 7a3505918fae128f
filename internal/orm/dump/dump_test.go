package dump

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conduit-lang/weave/internal/orm/graph"
	"github.com/conduit-lang/weave/internal/orm/schema"
)

type world struct {
	user *graph.Type
	team *graph.Type
	org  *graph.Type
}

func newWorld(t *testing.T) *world {
	t.Helper()
	ctx := context.Background()

	env := graph.NewEnv()
	w := &world{
		user: env.MustRegister(graph.MustType(schema.MustResourceSchema("User",
			&schema.Field{Name: "name", Type: schema.TypeString},
			&schema.Field{Name: "team_id", Type: schema.TypeString, Nullable: true},
		),
			graph.NewRelationship("team", []graph.JoinSpec{graph.On("User.team_id", "Team.id")}),
			graph.NewAttribute("secret", func(ctx context.Context, r *graph.Resource) (any, error) {
				return "hunter2", nil
			}, graph.AsPrivate()),
		), nil),
		team: env.MustRegister(graph.MustType(schema.MustResourceSchema("Team",
			&schema.Field{Name: "name", Type: schema.TypeString},
			&schema.Field{Name: "org_id", Type: schema.TypeString, Nullable: true},
		),
			graph.NewRelationship("org", []graph.JoinSpec{graph.On("Team.org_id", "Org.id")}),
			graph.NewRelationship("members", []graph.JoinSpec{graph.On("Team.id", "User.team_id").ToMany()}),
		), nil),
		org: env.MustRegister(graph.MustType(schema.MustResourceSchema("Org",
			&schema.Field{Name: "name", Type: schema.TypeString},
		)), nil),
	}
	require.NoError(t, env.Bind())

	create := func(typ *graph.Type, values ...map[string]any) {
		b := typ.NewBatch()
		for _, v := range values {
			require.NoError(t, b.Append(typ.MustNew(v)))
		}
		require.NoError(t, b.Create(ctx))
	}
	create(w.org, map[string]any{"id": "o1", "name": "acme"})
	create(w.team,
		map[string]any{"id": "t1", "name": "red", "org_id": "o1"},
		map[string]any{"id": "t2", "name": "blue", "org_id": "o1"},
	)
	create(w.user,
		map[string]any{"id": "u1", "name": "ann", "team_id": "t1"},
		map[string]any{"id": "u2", "name": "bob", "team_id": "t1"},
		map[string]any{"id": "u3", "name": "cid", "team_id": "t2"},
		map[string]any{"id": "u4", "name": "dee"},
	)
	return w
}

// cycle builds u1 -> t1 -> members [u1] without touching the store
func (w *world) cycle(t *testing.T) (*graph.Resource, *graph.Resource) {
	t.Helper()
	u := w.user.MustNew(map[string]any{"id": "u1", "name": "ann"})
	team := w.team.MustNew(map[string]any{"id": "t1", "name": "red"})
	require.NoError(t, u.Set("team", team))
	require.NoError(t, team.Set("members", w.user.NewBatch(u)))
	return u, team
}

func TestKeys(t *testing.T) {
	got := Keys("name", "team.name", "team.org", "team", "")
	want := Fields{
		"name": nil,
		"team": Fields{"name": nil, "org": nil},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Keys() mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, []string{"name", "team.name", "team.org"}, got.Paths())
	assert.Equal(t, Fields{"team": nil}, Keys("team"))
}

func TestFromSpec(t *testing.T) {
	w := newWorld(t)
	q := w.user.Select("name", graph.With("team", "name"))
	require.NoError(t, q.Err())

	want := Fields{
		"id":   nil,
		"rev":  nil,
		"name": nil,
		"team": Fields{"name": nil},
	}
	if diff := cmp.Diff(want, FromSpec(q.Spec())); diff != "" {
		t.Errorf("FromSpec() mismatch (-want +got):\n%s", diff)
	}
	assert.Nil(t, FromSpec(nil))
}

func TestParseStyle(t *testing.T) {
	tests := []struct {
		in   string
		want Style
		err  bool
	}{
		{"", StyleNested, false},
		{"nested", StyleNested, false},
		{"side_loaded", StyleSideLoaded, false},
		{"flat", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseStyle(tt.in)
			if tt.err {
				assert.True(t, graph.IsDumpError(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)

			d, err := ForStyle(got, 2, nil)
			require.NoError(t, err)
			assert.NotNil(t, d)
		})
	}
}

func TestNestedDump(t *testing.T) {
	ctx := context.Background()
	w := newWorld(t)

	users, err := w.user.Select("name", graph.With("team", "name")).OrderBy("name").All(ctx)
	require.NoError(t, err)

	got, err := users.Dump(&Nested{Fields: Keys("name", "team.name")})
	require.NoError(t, err)
	want := []any{
		map[string]any{"name": "ann", "team": map[string]any{"name": "red"}},
		map[string]any{"name": "bob", "team": map[string]any{"name": "red"}},
		map[string]any{"name": "cid", "team": map[string]any{"name": "blue"}},
		map[string]any{"name": "dee", "team": nil},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Nested.Dump() mismatch (-want +got):\n%s", diff)
	}
}

func TestNestedDumpPerLevelSelection(t *testing.T) {
	ctx := context.Background()
	w := newWorld(t)

	teams, err := w.team.Select("name", graph.With("members", "name"), graph.With("org", "name")).
		OrderBy("name").All(ctx)
	require.NoError(t, err)

	got, err := teams.At(0).Dump(&Nested{Fields: Fields{
		"name":    nil,
		"org":     Fields{"name": nil},
		"members": Fields{"id": nil},
	}})
	require.NoError(t, err)

	rec := got.(map[string]any)
	assert.Equal(t, "blue", rec["name"])
	assert.Equal(t, map[string]any{"name": "acme"}, rec["org"])
	assert.Equal(t, []any{map[string]any{"id": "u3"}}, rec["members"])
}

func TestNestedDumpUnresolvedRelationship(t *testing.T) {
	ctx := context.Background()
	w := newWorld(t)

	u, err := w.user.Get(ctx, "u1")
	require.NoError(t, err)

	_, err = u.Dump(&Nested{Fields: Keys("name", "team")})
	assert.ErrorIs(t, err, graph.ErrUnresolvedRelationship)
	assert.True(t, graph.IsDumpError(err))

	// not asked for, so silently left out
	got, err := u.Dump(&Nested{})
	require.NoError(t, err)
	assert.NotContains(t, got, "team")
	assert.Equal(t, "ann", got.(map[string]any)["name"])
}

func TestNestedDumpSkipsPrivateResolvers(t *testing.T) {
	ctx := context.Background()
	w := newWorld(t)

	u, err := w.user.Get(ctx, "u1", "name")
	require.NoError(t, err)
	_, err = u.Get(ctx, "secret")
	require.NoError(t, err)

	got, err := u.Dump(&Nested{})
	require.NoError(t, err)
	assert.NotContains(t, got, "secret")

	got, err = u.Dump(&Nested{Fields: Keys("secret")})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"secret": "hunter2"}, got)
}

func TestNestedDumpBoundsDepth(t *testing.T) {
	w := newWorld(t)
	u, _ := w.cycle(t)

	got, err := u.Dump(&Nested{Depth: 2})
	require.NoError(t, err)
	want := map[string]any{
		"id":   "u1",
		"name": "ann",
		"team": map[string]any{
			"id":   "t1",
			"name": "red",
			"members": []any{
				map[string]any{"id": "u1", "name": "ann"},
			},
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Nested.Dump() mismatch (-want +got):\n%s", diff)
	}
}

func TestSideLoadedDump(t *testing.T) {
	ctx := context.Background()
	w := newWorld(t)

	users, err := w.user.Select("name", graph.With("team", "name", graph.With("org", "name"))).
		OrderBy("name").All(ctx)
	require.NoError(t, err)

	out, err := users.Dump(&SideLoaded{Fields: Keys("id", "name", "team.id", "team.name", "team.org.id", "team.org.name")})
	require.NoError(t, err)
	doc := out.(*Document)

	wantTarget := []any{
		map[string]any{"id": "u1", "name": "ann", "team": "t1"},
		map[string]any{"id": "u2", "name": "bob", "team": "t1"},
		map[string]any{"id": "u3", "name": "cid", "team": "t2"},
		map[string]any{"id": "u4", "name": "dee", "team": nil},
	}
	wantLinks := map[string]map[string]map[string]any{
		"Team": {
			"t1": {"id": "t1", "name": "red", "org": "o1"},
			"t2": {"id": "t2", "name": "blue", "org": "o1"},
		},
		"Org": {
			"o1": {"id": "o1", "name": "acme"},
		},
	}
	if diff := cmp.Diff(wantTarget, doc.Target); diff != "" {
		t.Errorf("target mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(wantLinks, doc.Links); diff != "" {
		t.Errorf("links mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, 3, doc.Len(), "each resource is linked once")

	org, ok := doc.Link("Org", "o1")
	require.True(t, ok)
	assert.Equal(t, "acme", org["name"])
}

func TestSideLoadedDumpTerminatesOnCycles(t *testing.T) {
	w := newWorld(t)
	u, _ := w.cycle(t)

	out, err := (&SideLoaded{}).Dump(u)
	require.NoError(t, err)
	doc := out.(*Document)

	assert.Equal(t, map[string]any{"id": "u1", "name": "ann", "team": "t1"}, doc.Target)
	want := map[string]map[string]map[string]any{
		"Team": {"t1": {"id": "t1", "name": "red", "members": []any{"u1"}}},
	}
	if diff := cmp.Diff(want, doc.Links); diff != "" {
		t.Errorf("links mismatch (-want +got):\n%s", diff)
	}
}

func TestSideLoadedDumpErrors(t *testing.T) {
	ctx := context.Background()
	w := newWorld(t)

	orphan := w.user.MustNew(map[string]any{"id": "u9"})
	require.NoError(t, orphan.Set("team", w.team.MustNew(map[string]any{"name": "anonymous"})))
	_, err := (&SideLoaded{}).Dump(orphan)
	assert.ErrorIs(t, err, graph.ErrMissingIdentity)
	assert.True(t, graph.IsDumpError(err))

	u, err := w.user.Get(ctx, "u1")
	require.NoError(t, err)
	_, err = (&SideLoaded{Fields: Keys("team")}).Dump(u)
	assert.ErrorIs(t, err, graph.ErrUnresolvedRelationship)

	_, err = (&SideLoaded{}).Dump("not a resource")
	assert.True(t, graph.IsDumpError(err))

	out, err := (&SideLoaded{}).Dump(w.user.NewBatch())
	require.NoError(t, err)
	assert.Equal(t, []any{}, out.(*Document).Target)
}
