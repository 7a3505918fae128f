package graph

import (
	"context"
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/ast"
	"github.com/expr-lang/expr/parser"
	"github.com/expr-lang/expr/vm"
)

// AttributeFunc computes an attribute value from a resource
type AttributeFunc func(ctx context.Context, r *Resource) (any, error)

// Attribute is a computed resolver backed by a Go function
type Attribute struct {
	Base
	fn AttributeFunc
}

var _ Resolver = (*Attribute)(nil)

// NewAttribute declares a computed attribute
func NewAttribute(name string, fn AttributeFunc, opts ...Option) *Attribute {
	return &Attribute{Base: newBase(name, PriorityAttribute, opts), fn: fn}
}

// OnExecute calls the attribute function, after any PreExecute hook
func (a *Attribute) OnExecute(ctx context.Context, r *Resource, req *Request) (any, error) {
	if a.hooks.OnExecute != nil {
		return a.hooks.OnExecute(ctx, r, req)
	}
	return a.fn(ctx, r)
}

// OnBackfill keeps the computed value
func (a *Attribute) OnBackfill(ctx context.Context, r *Resource, req *Request, partial any) (any, error) {
	if a.hooks.OnBackfill != nil {
		return a.hooks.OnBackfill(ctx, r, req, partial)
	}
	return partial, nil
}

// Expr is a computed attribute defined by an expr-lang expression over the
// resource's other resolvers, e.g. `name + " (" + string(size) + ")"`.
// Identifiers naming resolvers of the owner are loaded before evaluation.
type Expr struct {
	Base
	source  string
	program *vm.Program
	deps    []string
}

var _ Resolver = (*Expr)(nil)

// NewExpr declares an expression attribute. The expression is compiled
// when the owning type is bound.
func NewExpr(name, source string, opts ...Option) *Expr {
	return &Expr{Base: newBase(name, PriorityAttribute, opts), source: source}
}

// Source returns the expression text
func (e *Expr) Source() string { return e.source }

// Bind compiles the expression and records the resolvers it reads
func (e *Expr) Bind(owner *Type) error {
	if e.bound {
		return e.Base.Bind(owner)
	}
	tree, err := parser.Parse(e.source)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrBinding, e.name, err)
	}
	program, err := expr.Compile(e.source, expr.AllowUndefinedVariables())
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrBinding, e.name, err)
	}

	v := &identCollector{seen: make(map[string]bool)}
	ast.Walk(&tree.Node, v)
	e.deps = e.deps[:0]
	for _, name := range v.names {
		if name == e.name {
			return fmt.Errorf("%w: %s reads itself", ErrCyclicReference, e.name)
		}
		if _, ok := owner.resolvers[name]; ok {
			e.deps = append(e.deps, name)
		}
	}
	e.program = program
	return e.Base.Bind(owner)
}

// Deps returns the resolver names the expression reads
func (e *Expr) Deps() []string { return append([]string(nil), e.deps...) }

// Requires returns the store-backed fields among the dependencies so the
// executor fetches them with the base records
func (e *Expr) Requires() []string {
	var out []string
	for _, d := range e.deps {
		if e.owner.IsField(d) {
			out = append(out, d)
		}
	}
	return out
}

// OnExecute loads missing dependencies and evaluates the expression
func (e *Expr) OnExecute(ctx context.Context, r *Resource, req *Request) (any, error) {
	for _, dep := range e.deps {
		if r.Has(dep) {
			continue
		}
		if _, err := r.Get(ctx, dep); err != nil {
			return nil, err
		}
	}
	out, err := expr.Run(e.program, r.Values())
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrResolution, e.qualifiedName(), err)
	}
	return out, nil
}

// OnBackfill keeps the computed value
func (e *Expr) OnBackfill(ctx context.Context, r *Resource, req *Request, partial any) (any, error) {
	return partial, nil
}

type identCollector struct {
	seen  map[string]bool
	names []string
}

func (c *identCollector) Visit(node *ast.Node) {
	if n, ok := (*node).(*ast.IdentifierNode); ok && !c.seen[n.Value] {
		c.seen[n.Value] = true
		c.names = append(c.names, n.Value)
	}
}
