package graph

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/conduit-lang/weave/internal/orm/schema"
	"github.com/conduit-lang/weave/internal/orm/store"
	"github.com/conduit-lang/weave/internal/orm/store/memory"
)

// countingStore counts the calls the engine makes
type countingStore struct {
	store.Store
	queries     int
	updateManys int
}

func (c *countingStore) Query(ctx context.Context, p store.Params) ([]store.Record, error) {
	c.queries++
	return c.Store.Query(ctx, p)
}

func (c *countingStore) UpdateMany(ctx context.Context, ids []any, recs []store.Record) ([]store.Record, error) {
	c.updateManys++
	return c.Store.UpdateMany(ctx, ids, recs)
}

func newCountingStore(s *schema.ResourceSchema) *countingStore {
	return &countingStore{Store: memory.New(s)}
}

type fixture struct {
	env    *Env
	user   *Type
	team   *Type
	org    *Type
	stores map[string]*countingStore
}

func (f *fixture) resetCounts() {
	for _, s := range f.stores {
		s.queries = 0
		s.updateManys = 0
	}
}

func userSchema() *schema.ResourceSchema {
	return schema.MustResourceSchema("User",
		&schema.Field{Name: "name", Type: schema.TypeString},
		&schema.Field{Name: "age", Type: schema.TypeInt},
		&schema.Field{Name: "team_id", Type: schema.TypeString, Nullable: true},
	)
}

func teamSchema() *schema.ResourceSchema {
	return schema.MustResourceSchema("Team",
		&schema.Field{Name: "name", Type: schema.TypeString},
		&schema.Field{Name: "org_id", Type: schema.TypeString, Nullable: true},
	)
}

func orgSchema() *schema.ResourceSchema {
	return schema.MustResourceSchema("Org",
		&schema.Field{Name: "name", Type: schema.TypeString},
	)
}

// newFixture registers User, Team and Org with their relationships:
//
//	User.team    User.team_id -> Team.id
//	User.org     User.team_id -> Team.id, Team.org_id -> Org.id
//	Team.members Team.id -> User.team_id (many)
//	Team.org     Team.org_id -> Org.id
//	Org.teams    Org.id -> Team.org_id (many)
//	Org.users    Org.id -> Team.org_id (many), Team.id -> User.team_id (many)
func newFixture(t *testing.T, opts ...EnvOption) *fixture {
	t.Helper()

	user := MustType(userSchema(),
		NewRelationship("team", []JoinSpec{On("User.team_id", "Team.id")}),
		NewRelationshipFunc("org", func() []JoinSpec {
			return []JoinSpec{On("User.team_id", "Team.id"), On("Team.org_id", "Org.id")}
		}),
	)
	team := MustType(teamSchema(),
		NewRelationship("members", []JoinSpec{On("Team.id", "User.team_id").ToMany()}),
		NewRelationship("org", []JoinSpec{On("Team.org_id", "Org.id")}),
	)
	org := MustType(orgSchema(),
		NewRelationship("teams", []JoinSpec{On("Org.id", "Team.org_id").ToMany()}),
		NewRelationship("users", []JoinSpec{
			On("Org.id", "Team.org_id").ToMany(),
			On("Team.id", "User.team_id").ToMany(),
		}),
	)

	f := &fixture{
		env:    NewEnv(opts...),
		user:   user,
		team:   team,
		org:    org,
		stores: make(map[string]*countingStore),
	}
	for _, typ := range []*Type{user, team, org} {
		s := newCountingStore(typ.Schema())
		f.stores[typ.Name()] = s
		require.NoError(t, f.env.Register(typ, s))
	}
	require.NoError(t, f.env.Bind())
	return f
}

// seed stores two orgs, three teams and four users:
//
//	o1: t1 (u1, u2), t2 (u3)
//	o2: t3 ()
//	u4 has no team
func (f *fixture) seed(t *testing.T) {
	t.Helper()
	ctx := context.Background()

	create := func(typ *Type, values ...map[string]any) {
		b := typ.NewBatch()
		for _, v := range values {
			require.NoError(t, b.Append(typ.MustNew(v)))
		}
		require.NoError(t, b.Create(ctx))
	}
	create(f.org,
		map[string]any{"id": "o1", "name": "acme"},
		map[string]any{"id": "o2", "name": "globex"},
	)
	create(f.team,
		map[string]any{"id": "t1", "name": "red", "org_id": "o1"},
		map[string]any{"id": "t2", "name": "blue", "org_id": "o1"},
		map[string]any{"id": "t3", "name": "green", "org_id": "o2"},
	)
	create(f.user,
		map[string]any{"id": "u1", "name": "ann", "age": int64(31), "team_id": "t1"},
		map[string]any{"id": "u2", "name": "bob", "age": int64(25), "team_id": "t1"},
		map[string]any{"id": "u3", "name": "cid", "age": int64(40), "team_id": "t2"},
		map[string]any{"id": "u4", "name": "dee", "age": int64(19)},
	)
	f.resetCounts()
}

func ids(b *Batch) []any {
	if b == nil {
		return nil
	}
	return b.IDs()
}

func idOf(v any) any {
	if r, ok := v.(*Resource); ok && r != nil {
		return r.ID()
	}
	return nil
}
