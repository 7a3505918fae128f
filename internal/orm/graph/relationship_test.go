package graph

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conduit-lang/weave/internal/orm/query"
	"github.com/conduit-lang/weave/internal/orm/schema"
)

func TestRelationshipBinding(t *testing.T) {
	f := newFixture(t)

	team := mustResolver(t, f.user, "team")
	assert.Equal(t, f.team, team.Target())
	assert.False(t, team.Many())
	assert.Equal(t, PriorityRelationship, team.Priority())

	members := mustResolver(t, f.team, "members")
	assert.Equal(t, f.user, members.Target())
	assert.True(t, members.Many())

	org := mustResolver(t, f.user, "org").(*Relationship)
	assert.Equal(t, f.org, org.Target())
	assert.Equal(t, []string{"User.team_id == Team.id", "Team.org_id == Org.id"}, org.Joins())
	assert.Equal(t, []string{"team_id"}, org.Requires())
}

func TestRelationshipBindingErrors(t *testing.T) {
	tests := []struct {
		name  string
		joins func() []JoinSpec
		err   error
	}{
		{"no joins", func() []JoinSpec { return nil }, ErrMissingTarget},
		{"unknown type", func() []JoinSpec { return []JoinSpec{On("A.id", "Nope.id")} }, ErrUnresolvedReference},
		{"unknown field", func() []JoinSpec { return []JoinSpec{On("A.id", "B.nope")} }, ErrUnresolvedReference},
		{"not a reference", func() []JoinSpec { return []JoinSpec{On("id", "B.id")} }, ErrUnresolvedReference},
		{"wrong source", func() []JoinSpec { return []JoinSpec{On("B.id", "A.id")} }, ErrUnresolvedReference},
		{"broken chain", func() []JoinSpec {
			return []JoinSpec{On("A.id", "B.a_id"), On("A.id", "B.id")}
		}, ErrUnresolvedReference},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := NewEnv()
			env.MustRegister(MustType(schema.MustResourceSchema("A"),
				NewRelationshipFunc("rel", tt.joins),
			), nil)
			env.MustRegister(MustType(schema.MustResourceSchema("B",
				&schema.Field{Name: "a_id", Type: schema.TypeString},
			)), nil)

			err := env.Bind()
			assert.ErrorIs(t, err, tt.err)
			assert.True(t, IsBindingError(err))
		})
	}
}

func TestRelationshipCallbackReentry(t *testing.T) {
	env := NewEnv()
	var rel *Relationship
	rel = NewRelationshipFunc("self", func() []JoinSpec {
		a, _ := env.Type("A")
		err := rel.Bind(a)
		assert.ErrorIs(t, err, ErrCyclicReference)
		return []JoinSpec{On("A.id", "A.id")}
	})
	env.MustRegister(MustType(schema.MustResourceSchema("A"), rel), nil)
	require.NoError(t, env.Bind())
	assert.True(t, rel.IsBound())
}

func TestBatchScalarJoin(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seed(t)

	users, err := f.user.Select("name", "team").OrderBy("name").All(ctx)
	require.NoError(t, err)
	require.Equal(t, 4, users.Len())

	assert.Equal(t, 1, f.stores["User"].queries)
	assert.Equal(t, 1, f.stores["Team"].queries, "one query for the whole batch")

	got := map[any]any{}
	for _, u := range users.Items() {
		got[u.ID()] = idOf(u.Value("team"))
		assert.True(t, u.Has("team"))
		assert.False(t, u.IsDirty("team"))
	}
	assert.Equal(t, map[any]any{"u1": "t1", "u2": "t1", "u3": "t2", "u4": nil}, got)
}

func TestBatchManyJoin(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seed(t)

	teams, err := f.team.Select("members").All(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, f.stores["User"].queries)

	want := map[any][]any{"t1": {"u1", "u2"}, "t2": {"u3"}, "t3": {}}
	for _, team := range teams.Items() {
		members, ok := team.Value("members").(*Batch)
		require.True(t, ok)
		assert.ElementsMatch(t, want[team.ID()], members.IDs(), team.ID())
		for _, m := range members.Items() {
			assert.Equal(t, team.ID(), m.Value("team_id"))
		}
	}
}

func TestBatchMultiHopJoin(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seed(t)

	users, err := f.user.Select(With("org", "name")).All(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, f.stores["Team"].queries, "one query per hop")
	assert.Equal(t, 1, f.stores["Org"].queries, "one query per hop")

	for _, u := range users.Items() {
		org := u.Value("org")
		if u.ID() == "u4" {
			assert.Nil(t, org)
			continue
		}
		require.IsType(t, &Resource{}, org)
		assert.Equal(t, "o1", idOf(org))
		assert.Equal(t, "acme", org.(*Resource).Value("name"))
	}

	orgs, err := f.org.Select("users").OrderBy("name").All(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []any{"u1", "u2", "u3"}, ids(orgs.At(0).Value("users").(*Batch)))
	assert.Equal(t, 0, orgs.At(1).Value("users").(*Batch).Len())
}

func TestBatchJoinDeduplicatesByIdentity(t *testing.T) {
	ctx := context.Background()
	env := NewEnv()
	// two hops that reach the same tags through different links
	post := env.MustRegister(MustType(schema.MustResourceSchema("Post"),
		NewRelationship("tags", []JoinSpec{
			On("Post.id", "Link.post_id").ToMany(),
			On("Link.tag_id", "Tag.id").ToMany(),
		}),
	), nil)
	link := env.MustRegister(MustType(schema.MustResourceSchema("Link",
		&schema.Field{Name: "post_id", Type: schema.TypeString},
		&schema.Field{Name: "tag_id", Type: schema.TypeString},
	)), nil)
	tag := env.MustRegister(MustType(schema.MustResourceSchema("Tag")), nil)
	require.NoError(t, env.Bind())

	require.NoError(t, post.NewBatch(post.MustNew(map[string]any{"id": "p1"})).Create(ctx))
	require.NoError(t, tag.NewBatch(tag.MustNew(map[string]any{"id": "go"}), tag.MustNew(map[string]any{"id": "db"})).Create(ctx))
	require.NoError(t, link.NewBatch(
		link.MustNew(map[string]any{"post_id": "p1", "tag_id": "go"}),
		link.MustNew(map[string]any{"post_id": "p1", "tag_id": "go"}),
		link.MustNew(map[string]any{"post_id": "p1", "tag_id": "db"}),
	).Create(ctx))

	posts, err := post.Select("tags").All(ctx)
	require.NoError(t, err)
	tags := posts.At(0).Value("tags").(*Batch)
	assert.ElementsMatch(t, []any{"go", "db"}, tags.IDs())
}

func TestScalarRelationshipResolvesLazily(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seed(t)

	u, err := f.user.Get(ctx, "u3", "name")
	require.NoError(t, err)

	org, err := u.Get(ctx, "org")
	require.NoError(t, err)
	assert.Equal(t, "o1", idOf(org))
	assert.Equal(t, "t2", u.Value("team_id"))

	lonely, err := f.user.Get(ctx, "u4")
	require.NoError(t, err)
	team, err := lonely.Get(ctx, "team")
	require.NoError(t, err)
	assert.Nil(t, team)

	t3, err := f.team.Get(ctx, "t3")
	require.NoError(t, err)
	members, err := t3.Get(ctx, "members")
	require.NoError(t, err)
	assert.Equal(t, 0, members.(*Batch).Len())
}

func TestNestedSelectionRefinesRelationshipQuery(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seed(t)

	age := query.Field("User", "age")
	teams, err := f.team.Select(
		With("members", "name").Where(age.Gt(30)).OrderBy("name desc"),
	).OrderBy("name").All(ctx)
	require.NoError(t, err)

	byTeam := map[any][]any{}
	for _, team := range teams.Items() {
		byTeam[team.ID()] = team.Value("members").(*Batch).Values("name")
	}
	assert.Equal(t, []any{"ann"}, byTeam["t1"])
	assert.Equal(t, []any{"cid"}, byTeam["t2"])
	assert.Empty(t, byTeam["t3"])
}

func TestNestedRelationshipsResolveRecursively(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seed(t)

	orgs, err := f.org.Select(With("teams", "name", With("members", "name"))).OrderBy("name").All(ctx)
	require.NoError(t, err)

	acme := orgs.At(0)
	teams := acme.Value("teams").(*Batch)
	require.Equal(t, 2, teams.Len())
	for _, team := range teams.Items() {
		members, ok := team.Value("members").(*Batch)
		require.True(t, ok)
		for _, m := range members.Items() {
			assert.NotNil(t, m.Value("name"))
		}
	}
}

func TestRelationshipHooksRunWhenResolvedInQueries(t *testing.T) {
	ctx := context.Background()

	var calls int
	adults := NewRelationship("adults", []JoinSpec{On("Team.id", "User.team_id").ToMany()},
		WithHooks(Hooks{
			PreExecute: func(ctx context.Context, r *Resource, req *Request) error {
				calls++
				req.Spec.Where = query.And(req.Spec.Where, query.Field("User", "age").Gte(30))
				return nil
			},
		}),
	)
	env := NewEnv()
	team := env.MustRegister(MustType(teamSchema(), adults), nil)
	user := env.MustRegister(MustType(userSchema()), nil)
	require.NoError(t, env.Bind())

	teams := team.NewBatch(
		team.MustNew(map[string]any{"id": "t1", "name": "red"}),
		team.MustNew(map[string]any{"id": "t2", "name": "blue"}),
	)
	require.NoError(t, teams.Create(ctx))
	users := user.NewBatch(
		user.MustNew(map[string]any{"id": "u1", "name": "ann", "age": int64(31), "team_id": "t1"}),
		user.MustNew(map[string]any{"id": "u2", "name": "bob", "age": int64(25), "team_id": "t1"}),
		user.MustNew(map[string]any{"id": "u3", "name": "cid", "age": int64(40), "team_id": "t2"}),
	)
	require.NoError(t, users.Create(ctx))

	b, err := team.Select(With("adults", "name")).OrderBy("name").All(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	byTeam := map[any][]any{}
	for _, r := range b.Items() {
		byTeam[r.ID()] = r.Value("adults").(*Batch).IDs()
	}
	assert.Equal(t, []any{"u1"}, byTeam["t1"])
	assert.Equal(t, []any{"u3"}, byTeam["t2"])

	// loading on first access goes through the same hook
	t1, err := team.Get(ctx, "t1")
	require.NoError(t, err)
	v, err := t1.Get(ctx, "adults")
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, byTeam["t1"], v.(*Batch).IDs())
}
