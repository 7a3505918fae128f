package commands

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/conduit-lang/weave/internal/cli/ui"
	"github.com/conduit-lang/weave/internal/config"
	"github.com/conduit-lang/weave/internal/orm/dump"
	"github.com/conduit-lang/weave/internal/orm/graph"
	"github.com/conduit-lang/weave/internal/orm/schema"
	"github.com/conduit-lang/weave/internal/orm/store/backend"
)

var (
	demoStyleFlag    string
	demoDepthFlag    int
	demoWhereFlag    string
	demoLimitFlag    int
	demoBackfillFlag bool
)

// NewDemoCommand creates the demo command
func NewDemoCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Resolve and dump a small user/team/org graph",
		Long: `Register User, Team and Org types on the configured store, seed them
when the store is empty, then query users with their team and the team's
organization and print the dumped graph as JSON.`,
		Example: `  weave demo
  weave demo --style side_loaded --where 'age >= 30'
  weave demo --limit 6 --backfill`,
		RunE: runDemo,
	}
	cmd.Flags().StringVar(&demoStyleFlag, "style", "", "Dump style: nested or side_loaded (default: engine.dump_style)")
	cmd.Flags().IntVar(&demoDepthFlag, "depth", 0, "Nested dump depth (default: engine.dump_depth)")
	cmd.Flags().StringVar(&demoWhereFlag, "where", "", "Filter users with a predicate expression")
	cmd.Flags().IntVar(&demoLimitFlag, "limit", 0, "Return at most this many users")
	cmd.Flags().BoolVar(&demoBackfillFlag, "backfill", false, "Synthesize users up to --limit")
	return cmd
}

func runDemo(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()

	name := cfg.Engine.DumpStyle
	if demoStyleFlag != "" {
		name = demoStyleFlag
	}
	style, err := dump.ParseStyle(name)
	if err != nil {
		return err
	}
	depth := cfg.Engine.DumpDepth
	if demoDepthFlag > 0 {
		depth = demoDepthFlag
	}

	ctx := cmd.Context()

	be, err := backend.Open(ctx, cfg.Store, logger)
	if err != nil {
		return err
	}
	defer be.Close()

	opts, err := engineOptions(cfg.Engine, logger, demoBackfillFlag)
	if err != nil {
		return err
	}
	m, err := newDemoModel(ctx, be, opts...)
	if err != nil {
		return err
	}
	seeded, err := m.seed(ctx)
	if err != nil {
		return err
	}
	if seeded {
		ui.Info(cmd.ErrOrStderr(), noColorFlag, "seeded the %s store", be.Name())
	}

	q := m.user.Select("name", "age", "handle",
		graph.With("team", "name", graph.With("org", "name")),
	).OrderBy("name")
	if demoWhereFlag != "" {
		q = q.Filter(demoWhereFlag)
	}
	if demoLimitFlag > 0 {
		q = q.Limit(demoLimitFlag)
	}
	if demoBackfillFlag {
		q = q.Backfill()
	}
	if err := q.Err(); err != nil {
		return err
	}

	dumper, err := dump.ForStyle(style, depth, dump.FromSpec(q.Spec()))
	if err != nil {
		return err
	}
	users, err := q.All(ctx)
	if err != nil {
		return err
	}
	out, err := users.Dump(dumper)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("encode dump: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	ui.Info(cmd.ErrOrStderr(), noColorFlag, "%d users dumped %s", users.Len(), style)
	return nil
}

// engineOptions maps the engine settings onto env options. The backfill
// flag turns on ephemeral backfill when the config names no mode.
func engineOptions(cfg config.EngineConfig, logger *zap.Logger, backfill bool) ([]graph.EnvOption, error) {
	opts := []graph.EnvOption{
		graph.WithLogger(logger),
		graph.WithSimulation(cfg.Simulate),
	}
	if cfg.Backfill != config.BackfillNone || backfill {
		mode, err := graph.ParseBackfillMode(cfg.Backfill)
		if err != nil {
			return nil, err
		}
		opts = append(opts, graph.WithBackfiller(graph.NewGenerator(mode)))
	}
	return opts, nil
}

type demoModel struct {
	env  *graph.Env
	user *graph.Type
	team *graph.Type
	org  *graph.Type
}

func newDemoModel(ctx context.Context, be *backend.Backend, opts ...graph.EnvOption) (*demoModel, error) {
	user, err := graph.NewType(schema.MustResourceSchema("User",
		&schema.Field{Name: "name", Type: schema.TypeString},
		&schema.Field{Name: "age", Type: schema.TypeInt},
		&schema.Field{Name: "team_id", Type: schema.TypeString, Nullable: true},
	),
		graph.NewRelationship("team", []graph.JoinSpec{graph.On("User.team_id", "Team.id")}),
		graph.NewRelationshipFunc("org", func() []graph.JoinSpec {
			return []graph.JoinSpec{graph.On("User.team_id", "Team.id"), graph.On("Team.org_id", "Org.id")}
		}),
		graph.NewExpr("handle", `name + "@" + (team_id ?? "solo")`),
	)
	if err != nil {
		return nil, err
	}
	team, err := graph.NewType(schema.MustResourceSchema("Team",
		&schema.Field{Name: "name", Type: schema.TypeString},
		&schema.Field{Name: "org_id", Type: schema.TypeString, Nullable: true},
	),
		graph.NewRelationship("org", []graph.JoinSpec{graph.On("Team.org_id", "Org.id")}),
		graph.NewRelationship("members", []graph.JoinSpec{graph.On("Team.id", "User.team_id").ToMany()}),
	)
	if err != nil {
		return nil, err
	}
	org, err := graph.NewType(schema.MustResourceSchema("Org",
		&schema.Field{Name: "name", Type: schema.TypeString},
	),
		graph.NewRelationship("teams", []graph.JoinSpec{graph.On("Org.id", "Team.org_id").ToMany()}),
		graph.NewRelationship("users", []graph.JoinSpec{
			graph.On("Org.id", "Team.org_id").ToMany(),
			graph.On("Team.id", "User.team_id").ToMany(),
		}),
	)
	if err != nil {
		return nil, err
	}

	m := &demoModel{env: graph.NewEnv(opts...), user: user, team: team, org: org}
	for _, t := range []*graph.Type{user, team, org} {
		s, err := be.For(ctx, t.Schema())
		if err != nil {
			return nil, err
		}
		if err := m.env.Register(t, s); err != nil {
			return nil, err
		}
	}
	if err := m.env.Bind(); err != nil {
		return nil, err
	}
	return m, nil
}

// seed stores the demo graph unless an org already exists
func (m *demoModel) seed(ctx context.Context) (bool, error) {
	found, err := m.org.Query().First(ctx)
	if err != nil {
		return false, err
	}
	if found != nil {
		return false, nil
	}

	batches := []*graph.Batch{
		m.org.NewBatch(
			m.org.MustNew(map[string]any{"id": "o1", "name": "acme"}),
			m.org.MustNew(map[string]any{"id": "o2", "name": "globex"}),
		),
		m.team.NewBatch(
			m.team.MustNew(map[string]any{"id": "t1", "name": "red", "org_id": "o1"}),
			m.team.MustNew(map[string]any{"id": "t2", "name": "blue", "org_id": "o1"}),
			m.team.MustNew(map[string]any{"id": "t3", "name": "green", "org_id": "o2"}),
		),
		m.user.NewBatch(
			m.user.MustNew(map[string]any{"id": "u1", "name": "ann", "age": int64(31), "team_id": "t1"}),
			m.user.MustNew(map[string]any{"id": "u2", "name": "bob", "age": int64(25), "team_id": "t1"}),
			m.user.MustNew(map[string]any{"id": "u3", "name": "cid", "age": int64(40), "team_id": "t2"}),
			m.user.MustNew(map[string]any{"id": "u4", "name": "dee", "age": int64(19)}),
		),
	}
	for _, b := range batches {
		if err := b.Create(ctx); err != nil {
			return false, err
		}
	}
	return true, nil
}
