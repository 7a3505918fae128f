package graph

import (
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/conduit-lang/weave/internal/orm/schema"
	"github.com/conduit-lang/weave/internal/orm/store"
	"github.com/conduit-lang/weave/internal/orm/store/memory"
)

// TracerName is the instrumentation name of the default tracer
const TracerName = "github.com/conduit-lang/weave/graph"

// Env holds the types of one application together with their stores and
// the collaborators used while executing queries. It is assembled at
// startup, bound once, and read-only afterwards.
type Env struct {
	schemas    *schema.Registry
	types      map[string]*Type
	order      []*Type
	logger     *zap.Logger
	tracer     trace.Tracer
	backfiller Backfiller
	simulate   bool
	bound      bool
	executor   *Executor
}

// EnvOption configures an Env
type EnvOption func(*Env)

// WithLogger sets the logger used by the executor
func WithLogger(logger *zap.Logger) EnvOption {
	return func(e *Env) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithTracer sets the tracer used for execution spans
func WithTracer(tracer trace.Tracer) EnvOption {
	return func(e *Env) {
		if tracer != nil {
			e.tracer = tracer
		}
	}
}

// WithBackfiller sets the strategy used by queries with backfill enabled
func WithBackfiller(b Backfiller) EnvOption {
	return func(e *Env) { e.backfiller = b }
}

// WithSimulation puts relationships in simulate mode: they skip store
// joins and build a query from the source value instead
func WithSimulation(enabled bool) EnvOption {
	return func(e *Env) { e.simulate = enabled }
}

// NewEnv creates an empty environment
func NewEnv(opts ...EnvOption) *Env {
	e := &Env{
		schemas: schema.NewRegistry(),
		types:   make(map[string]*Type),
		logger:  zap.NewNop(),
		tracer:  otel.Tracer(TracerName),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.executor = &Executor{env: e}
	return e
}

// Register adds a type backed by s. A nil store selects an in-memory store.
func (e *Env) Register(t *Type, s store.Store) error {
	if e.bound {
		return fmt.Errorf("%w: register %s", ErrAlreadyBound, t.Name())
	}
	if _, ok := e.types[t.Name()]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateType, t.Name())
	}
	if t.env != nil {
		return fmt.Errorf("%w: %s belongs to another env", ErrDuplicateType, t.Name())
	}
	if err := e.schemas.Register(t.schema); err != nil {
		return fmt.Errorf("%w: %w", ErrBinding, err)
	}
	if s == nil {
		s = memory.New(t.schema, memory.WithLogger(e.logger))
	}
	t.env = e
	t.store = s
	e.types[t.Name()] = t
	e.order = append(e.order, t)
	return nil
}

// MustRegister is like Register but panics on error
func (e *Env) MustRegister(t *Type, s store.Store) *Type {
	if err := e.Register(t, s); err != nil {
		panic(err)
	}
	return t
}

// Bind binds every resolver of every registered type, resolving symbolic
// targets and relationship joins. Binding errors are fatal configuration
// errors. Bind is idempotent once it has succeeded.
func (e *Env) Bind() error {
	if e.bound {
		return nil
	}
	for _, t := range e.order {
		if err := t.bind(); err != nil {
			return err
		}
	}
	e.bound = true
	e.logger.Debug("env bound", zap.Int("types", len(e.order)))
	return nil
}

// Type returns a registered type by name
func (e *Env) Type(name string) (*Type, bool) {
	t, ok := e.types[name]
	return t, ok
}

// Types returns the registered types in registration order
func (e *Env) Types() []*Type {
	out := make([]*Type, len(e.order))
	copy(out, e.order)
	return out
}

// Schemas returns the schema registry of the registered types
func (e *Env) Schemas() *schema.Registry { return e.schemas }

// Logger returns the env logger
func (e *Env) Logger() *zap.Logger { return e.logger }

// Simulating reports whether relationships run in simulate mode
func (e *Env) Simulating() bool { return e.simulate }

// Executor returns the executor running this env's queries
func (e *Env) Executor() *Executor { return e.executor }
