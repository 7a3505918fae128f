package graph

import (
	"context"
	"fmt"
	"math"
	"sort"
)

// Default priorities. Lower numbers execute first within a resolution pass.
const (
	PriorityField        = 1
	PriorityRelationship = 10
	PriorityAttribute    = 20
	PriorityDefault      = math.MaxInt
)

// Dumper converts a resolved value into plain data
type Dumper interface {
	Dump(value any) (any, error)
}

// Request carries one resolver invocation. Spec holds the nested selection
// for resolvers that target another type.
type Request struct {
	Resolver Resolver
	Spec     *Spec
	Backfill bool

	// Result lets PreExecute hand a precomputed value to OnExecute.
	Result any
}

// NewRequest creates a request for r with an empty nested selection
func NewRequest(r Resolver) *Request {
	return &Request{Resolver: r, Spec: NewSpec()}
}

func (req *Request) clone() *Request {
	return &Request{Resolver: req.Resolver, Spec: req.Spec.Clone(), Backfill: req.Backfill}
}

// Resolver is a named unit of computation bound to one resource type.
// Implementations embed Base, which supplies metadata and default hooks.
type Resolver interface {
	Name() string
	Owner() *Type
	Target() *Type
	Many() bool
	Lazy() bool
	Private() bool
	Required() bool
	Priority() int
	IsBound() bool

	// Bind attaches the resolver to its owner and resolves deferred
	// configuration. It is idempotent once it has succeeded.
	Bind(owner *Type) error

	PreExecute(ctx context.Context, r *Resource, req *Request) error
	OnExecute(ctx context.Context, r *Resource, req *Request) (any, error)
	PostExecute(ctx context.Context, r *Resource, req *Request, value any) (any, error)
	OnBackfill(ctx context.Context, r *Resource, req *Request, partial any) (any, error)

	OnGet(r *Resource, value any)
	OnSet(r *Resource, old, value any)
	OnDel(r *Resource, value any)

	Dump(d Dumper, value any) (any, error)

	base() *Base
}

// BatchResolver is implemented by resolvers that resolve a whole batch with
// a bounded number of store calls
type BatchResolver interface {
	Resolver
	ExecuteBatch(ctx context.Context, b *Batch, req *Request) (map[*Resource]any, error)
}

// Hooks lets a resolver be assembled from functions instead of a new type
type Hooks struct {
	PreExecute  func(ctx context.Context, r *Resource, req *Request) error
	OnExecute   func(ctx context.Context, r *Resource, req *Request) (any, error)
	PostExecute func(ctx context.Context, r *Resource, req *Request, value any) (any, error)
	OnBackfill  func(ctx context.Context, r *Resource, req *Request, partial any) (any, error)
	OnGet       func(r *Resource, value any)
	OnSet       func(r *Resource, old, value any)
	OnDel       func(r *Resource, value any)
}

// Base implements the metadata half of Resolver and the default hooks
type Base struct {
	name     string
	owner    *Type
	target   *Type
	many     bool
	lazy     bool
	private  bool
	required bool
	priority int
	hooks    Hooks

	// targetRef names the target type until Bind resolves it
	targetRef string
	bound     bool
}

// Option configures a resolver
type Option func(*Base)

// WithPriority overrides the execution priority
func WithPriority(p int) Option {
	return func(b *Base) { b.priority = p }
}

// WithLazy controls whether reading an unset value executes the resolver
func WithLazy(lazy bool) Option {
	return func(b *Base) { b.lazy = lazy }
}

// AsPrivate hides the resolver from dumps unless explicitly requested
func AsPrivate() Option {
	return func(b *Base) { b.private = true }
}

// AsRequired marks the resolver as required
func AsRequired() Option {
	return func(b *Base) { b.required = true }
}

// WithTarget declares that values are resources of the named type,
// resolved at bind time
func WithTarget(typeName string, many bool) Option {
	return func(b *Base) {
		b.targetRef = typeName
		b.many = many
	}
}

// perResource reports whether the hooks replace or steer execution, which
// a single batched call cannot honor
func (h Hooks) perResource() bool {
	return h.PreExecute != nil || h.OnExecute != nil
}

// WithHooks installs lifecycle callbacks
func WithHooks(h Hooks) Option {
	return func(b *Base) { b.hooks = h }
}

func newBase(name string, priority int, opts []Option) Base {
	b := Base{name: name, lazy: true, priority: priority}
	for _, opt := range opts {
		opt(&b)
	}
	return b
}

// NewResolver creates a resolver whose behavior comes entirely from hooks
func NewResolver(name string, opts ...Option) *Base {
	b := newBase(name, PriorityDefault, opts)
	return &b
}

var _ Resolver = (*Base)(nil)

func (b *Base) base() *Base { return b }

func (b *Base) Name() string   { return b.name }
func (b *Base) Owner() *Type   { return b.owner }
func (b *Base) Target() *Type  { return b.target }
func (b *Base) Many() bool     { return b.many }
func (b *Base) Lazy() bool     { return b.lazy }
func (b *Base) Private() bool  { return b.private }
func (b *Base) Required() bool { return b.required }
func (b *Base) Priority() int  { return b.priority }
func (b *Base) IsBound() bool  { return b.bound }
func (b *Base) String() string { return b.qualifiedName() }

func (b *Base) qualifiedName() string {
	if b.owner == nil {
		return b.name
	}
	return b.owner.Name() + "." + b.name
}

// Bind attaches the resolver to owner and resolves a symbolic target
func (b *Base) Bind(owner *Type) error {
	if b.bound {
		if b.owner != owner {
			return fmt.Errorf("%w: %s is bound to %s", ErrBinding, b.name, b.owner.Name())
		}
		return nil
	}
	b.owner = owner
	if b.targetRef != "" && b.target == nil {
		t, ok := owner.env.Type(b.targetRef)
		if !ok {
			return fmt.Errorf("%w: %s target %q", ErrUnresolvedReference, b.qualifiedName(), b.targetRef)
		}
		b.target = t
	}
	b.bound = true
	return nil
}

// PreExecute runs the PreExecute hook if any
func (b *Base) PreExecute(ctx context.Context, r *Resource, req *Request) error {
	if b.hooks.PreExecute != nil {
		return b.hooks.PreExecute(ctx, r, req)
	}
	return nil
}

// OnExecute runs the OnExecute hook or fails with ErrNotImplemented
func (b *Base) OnExecute(ctx context.Context, r *Resource, req *Request) (any, error) {
	if b.hooks.OnExecute != nil {
		return b.hooks.OnExecute(ctx, r, req)
	}
	return nil, fmt.Errorf("%w: %s", ErrNotImplemented, b.qualifiedName())
}

// PostExecute runs the PostExecute hook; the default is the identity
func (b *Base) PostExecute(ctx context.Context, r *Resource, req *Request, value any) (any, error) {
	if b.hooks.PostExecute != nil {
		return b.hooks.PostExecute(ctx, r, req, value)
	}
	return value, nil
}

// OnBackfill runs the OnBackfill hook or fails with ErrBackfillUnsupported
func (b *Base) OnBackfill(ctx context.Context, r *Resource, req *Request, partial any) (any, error) {
	if b.hooks.OnBackfill != nil {
		return b.hooks.OnBackfill(ctx, r, req, partial)
	}
	return nil, fmt.Errorf("%w: %s", ErrBackfillUnsupported, b.qualifiedName())
}

func (b *Base) OnGet(r *Resource, value any) {
	if b.hooks.OnGet != nil {
		b.hooks.OnGet(r, value)
	}
}

func (b *Base) OnSet(r *Resource, old, value any) {
	if b.hooks.OnSet != nil {
		b.hooks.OnSet(r, old, value)
	}
}

func (b *Base) OnDel(r *Resource, value any) {
	if b.hooks.OnDel != nil {
		b.hooks.OnDel(r, value)
	}
}

// Dump delegates resource values to the dumper and passes others through
func (b *Base) Dump(d Dumper, value any) (any, error) {
	switch value.(type) {
	case *Resource, *Batch:
		return d.Dump(value)
	}
	return value, nil
}

// Execute runs the resolver protocol for one resource: PreExecute,
// OnExecute, OnBackfill when the request asks for it, then PostExecute.
// The value is stored through the resource's set path so OnSet observers
// fire, and the stored value is returned.
func Execute(ctx context.Context, r *Resource, req *Request) (any, error) {
	res := req.Resolver
	if !res.IsBound() {
		return nil, fmt.Errorf("%w: %s", ErrNotBound, res.base().qualifiedName())
	}
	if err := res.PreExecute(ctx, r, req); err != nil {
		return nil, err
	}
	value, err := res.OnExecute(ctx, r, req)
	if err != nil {
		return nil, err
	}
	return finish(ctx, r, req, value)
}

// finish applies backfill and post-processing to an executed value and
// stores it on r
func finish(ctx context.Context, r *Resource, req *Request, value any) (any, error) {
	res := req.Resolver
	var err error
	if req.Backfill {
		if value, err = res.OnBackfill(ctx, r, req, value); err != nil {
			return nil, err
		}
	}
	if value, err = res.PostExecute(ctx, r, req, value); err != nil {
		return nil, err
	}
	if err := r.Set(res.Name(), value); err != nil {
		return nil, err
	}
	// resolved values mirror the store, they are not local edits
	r.Clean(res.Name())
	return r.Value(res.Name()), nil
}

// Backfill asks the resolver to complete a partial value and stores the
// result on r
func Backfill(ctx context.Context, r *Resource, req *Request, partial any) (any, error) {
	res := req.Resolver
	if !res.IsBound() {
		return nil, fmt.Errorf("%w: %s", ErrNotBound, res.base().qualifiedName())
	}
	value, err := res.OnBackfill(ctx, r, req, partial)
	if err != nil {
		return nil, err
	}
	if err := r.Set(res.Name(), value); err != nil {
		return nil, err
	}
	r.Clean(res.Name())
	return r.Value(res.Name()), nil
}

// ExecuteBatch resolves req for every resource of b. Batch resolvers are
// called once for the whole batch; others once per resource. A batch
// resolver carrying PreExecute or OnExecute hooks also runs per resource,
// so the hooks see each resource and its own request.
func ExecuteBatch(ctx context.Context, b *Batch, req *Request) error {
	res := req.Resolver
	if !res.IsBound() {
		return fmt.Errorf("%w: %s", ErrNotBound, res.base().qualifiedName())
	}
	if b.Len() == 0 {
		return nil
	}

	br, ok := res.(BatchResolver)
	if !ok || res.base().hooks.perResource() {
		for _, r := range b.items {
			if _, err := Execute(ctx, r, req.clone()); err != nil {
				return err
			}
		}
		return nil
	}

	values, err := br.ExecuteBatch(ctx, b, req)
	if err != nil {
		return err
	}
	for _, r := range b.items {
		if _, err := finish(ctx, r, req.clone(), values[r]); err != nil {
			return err
		}
	}
	return nil
}

// sortResolvers orders resolvers by ascending priority, keeping
// declaration order for ties
func sortResolvers(t *Type, rs []Resolver) []Resolver {
	out := make([]Resolver, len(rs))
	copy(out, rs)
	sort.SliceStable(out, func(i, j int) bool {
		pi, pj := out[i].Priority(), out[j].Priority()
		if pi != pj {
			return pi < pj
		}
		return t.index(out[i].Name()) < t.index(out[j].Name())
	})
	return out
}
