package graph

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/conduit-lang/weave/internal/orm/query"
)

// JoinSpec declares one hop of a relationship: the value of Left on the
// source type must equal the value of Right on the next type. Both sides
// are written "Type.field".
type JoinSpec struct {
	Left  string
	Right string
	Many  bool
}

// On declares a scalar hop from left to right
func On(left, right string) JoinSpec {
	return JoinSpec{Left: left, Right: right}
}

// ToMany marks the right side as a collection
func (j JoinSpec) ToMany() JoinSpec {
	j.Many = true
	return j
}

// join is a bound hop
type join struct {
	left       *Type
	leftField  string
	right      *Type
	rightField string
	many       bool
}

func (j join) String() string {
	return fmt.Sprintf("%s.%s == %s.%s", j.left.Name(), j.leftField, j.right.Name(), j.rightField)
}

// match filters the right type by the given left values
func (j join) match(values []any) query.Predicate {
	ref := query.Field(j.right.Name(), j.rightField)
	if len(values) == 1 {
		return ref.Eq(values[0])
	}
	return ref.In(values)
}

// Relationship resolves resources reachable from the owner through a chain
// of joins. Target and cardinality come from the last hop.
type Relationship struct {
	Base
	specs    []JoinSpec
	callback func() []JoinSpec
	joins    []join
	binding  bool
}

var (
	_ Resolver      = (*Relationship)(nil)
	_ BatchResolver = (*Relationship)(nil)
)

// NewRelationship declares a relationship over the given hops
func NewRelationship(name string, joins []JoinSpec, opts ...Option) *Relationship {
	return &Relationship{
		Base:  newBase(name, PriorityRelationship, opts),
		specs: joins,
	}
}

// NewRelationshipFunc declares a relationship whose hops are produced by fn
// at bind time, once every type is registered
func NewRelationshipFunc(name string, fn func() []JoinSpec, opts ...Option) *Relationship {
	return &Relationship{
		Base:     newBase(name, PriorityRelationship, opts),
		callback: fn,
	}
}

// Joins returns the bound hops as "Left == Right" strings
func (rel *Relationship) Joins() []string {
	out := make([]string, len(rel.joins))
	for i, j := range rel.joins {
		out[i] = j.String()
	}
	return out
}

// Requires returns the owner field the first hop reads
func (rel *Relationship) Requires() []string {
	if len(rel.joins) == 0 {
		return nil
	}
	return []string{rel.joins[0].leftField}
}

// Bind resolves the hops against the owner's env
func (rel *Relationship) Bind(owner *Type) error {
	if rel.bound {
		return rel.Base.Bind(owner)
	}
	if rel.binding {
		return fmt.Errorf("%w: %s.%s", ErrCyclicReference, owner.Name(), rel.name)
	}
	rel.binding = true
	defer func() { rel.binding = false }()

	specs := rel.specs
	if rel.callback != nil {
		specs = rel.callback()
	}
	if len(specs) == 0 {
		return fmt.Errorf("%w: %s.%s has no joins", ErrMissingTarget, owner.Name(), rel.name)
	}

	joins := make([]join, 0, len(specs))
	source := owner
	for i, spec := range specs {
		lt, lf, err := resolveRef(owner.env, spec.Left)
		if err != nil {
			return fmt.Errorf("%s.%s: %w", owner.Name(), rel.name, err)
		}
		rt, rf, err := resolveRef(owner.env, spec.Right)
		if err != nil {
			return fmt.Errorf("%s.%s: %w", owner.Name(), rel.name, err)
		}
		if lt != source {
			return fmt.Errorf("%w: %s.%s hop %d starts at %s, expected %s",
				ErrUnresolvedReference, owner.Name(), rel.name, i, lt.Name(), source.Name())
		}
		joins = append(joins, join{left: lt, leftField: lf, right: rt, rightField: rf, many: spec.Many})
		source = rt
	}

	last := joins[len(joins)-1]
	rel.joins = joins
	rel.target = last.right
	rel.many = last.many
	return rel.Base.Bind(owner)
}

// resolveRef resolves "Type.field" against the env's schemas. Only
// store-backed fields can take part in a join.
func resolveRef(env *Env, ref string) (*Type, string, error) {
	s, f, err := env.schemas.Lookup(ref)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %w", ErrUnresolvedReference, err)
	}
	t, _ := env.Type(s.Name)
	return t, f.Name, nil
}

// PreExecute walks the hops for a single resource and leaves the related
// value in req.Result. It does nothing when the env is simulating.
func (rel *Relationship) PreExecute(ctx context.Context, r *Resource, req *Request) error {
	if err := rel.Base.PreExecute(ctx, r, req); err != nil {
		return err
	}
	if rel.owner.env.Simulating() {
		return nil
	}

	first := rel.joins[0]
	if !r.Has(first.leftField) && r.ID() != nil {
		if err := r.Load(ctx, first.leftField); err != nil {
			return err
		}
	}
	var values []any
	if v := r.Value(first.leftField); v != nil {
		values = []any{v}
	}

	last := len(rel.joins) - 1
	for i, j := range rel.joins[:last] {
		if len(values) == 0 {
			break
		}
		next := rel.joins[i+1]
		b, err := rel.hopQuery(j, next).Where(j.match(values)).All(ctx)
		if err != nil {
			return err
		}
		values = distinctValues(b.items, next.leftField)
	}

	req.Result = nil
	if len(values) == 0 {
		if rel.many {
			req.Result = rel.target.NewBatch()
		}
		return nil
	}

	q := rel.finalQuery(req).Where(rel.joins[last].match(values))
	if rel.many {
		b, err := q.All(ctx)
		if err != nil {
			return err
		}
		req.Result = b
		return nil
	}
	res, err := q.First(ctx)
	if err != nil {
		return err
	}
	if res != nil {
		req.Result = res
	}
	return nil
}

// hopQuery selects what an intermediate hop needs: the right key of j and
// the left key of next
func (rel *Relationship) hopQuery(j, next join) *Query {
	s := j.right.schema
	return bareQuery(j.right).Select(s.IDField, s.RevField, j.rightField, next.leftField)
}

// finalQuery selects the caller's nested selection on the target plus the
// join key
func (rel *Relationship) finalQuery(req *Request) *Query {
	last := rel.joins[len(rel.joins)-1]
	return newQuery(last.right).MergeSpec(req.Spec).Select(last.rightField)
}

// OnExecute returns the value PreExecute found, or in simulate mode runs a
// query built from the source value
func (rel *Relationship) OnExecute(ctx context.Context, r *Resource, req *Request) (any, error) {
	if rel.hooks.OnExecute != nil {
		return rel.hooks.OnExecute(ctx, r, req)
	}
	if rel.owner.env.Simulating() {
		return rel.onSimulate(ctx, r, req)
	}
	return req.Result, nil
}

func (rel *Relationship) simulationQuery(r *Resource, req *Request) *Query {
	q := newQuery(rel.target).MergeSpec(req.Spec)
	if len(rel.joins) == 1 {
		j := rel.joins[0]
		q.Where(j.match([]any{r.Value(j.leftField)}))
	}
	return q
}

func (rel *Relationship) onSimulate(ctx context.Context, r *Resource, req *Request) (any, error) {
	q := rel.simulationQuery(r, req)
	if rel.owner.env.backfiller != nil {
		q.Backfill()
	}
	if rel.many {
		return q.All(ctx)
	}
	res, err := q.First(ctx)
	if err != nil || res == nil {
		return nil, err
	}
	return res, nil
}

// ExecuteBatch resolves the relationship for every resource of b with one
// query per hop
func (rel *Relationship) ExecuteBatch(ctx context.Context, b *Batch, req *Request) (map[*Resource]any, error) {
	out := make(map[*Resource]any, b.Len())
	if rel.owner.env.Simulating() {
		for _, r := range b.items {
			v, err := rel.onSimulate(ctx, r, req)
			if err != nil {
				return nil, err
			}
			out[r] = v
		}
		return out, nil
	}

	if err := rel.loadLeft(ctx, b); err != nil {
		return nil, err
	}

	mappings := make([]map[*Resource][]*Resource, 0, len(rel.joins))
	sources := b.items
	for i, j := range rel.joins {
		var results []*Resource
		if values := distinctValues(sources, j.leftField); len(values) > 0 {
			var q *Query
			if i < len(rel.joins)-1 {
				q = rel.hopQuery(j, rel.joins[i+1])
			} else {
				q = rel.finalQuery(req)
			}
			found, err := q.Where(j.match(values)).All(ctx)
			if err != nil {
				return nil, err
			}
			results = found.items
		}

		byValue := make(map[any][]*Resource)
		for _, res := range results {
			if v := res.Value(j.rightField); v != nil {
				k := joinKey(v)
				byValue[k] = append(byValue[k], res)
			}
		}
		mapping := make(map[*Resource][]*Resource, len(sources))
		for _, src := range sources {
			if v := src.Value(j.leftField); v != nil {
				mapping[src] = byValue[joinKey(v)]
			}
		}
		mappings = append(mappings, mapping)
		sources = results
	}

	for _, r := range b.items {
		related := flatten(r, mappings)
		switch {
		case rel.many:
			out[r] = rel.target.NewBatch(related...)
		case len(related) > 0:
			out[r] = related[0]
		default:
			out[r] = nil
		}
	}
	return out, nil
}

// loadLeft fetches the first hop's key for stored resources that lack it,
// with one store call
func (rel *Relationship) loadLeft(ctx context.Context, b *Batch) error {
	field := rel.joins[0].leftField
	var missing []*Resource
	var ids []any
	for _, r := range b.items {
		if !r.Has(field) && r.ID() != nil {
			missing = append(missing, r)
			ids = append(ids, r.ID())
		}
	}
	if len(ids) == 0 {
		return nil
	}
	found, err := b.typ.GetMany(ctx, ids, field)
	if err != nil {
		return err
	}
	byID := make(map[any]*Resource, found.Len())
	for _, f := range found.items {
		byID[joinKey(f.ID())] = f
	}
	for _, r := range missing {
		if f, ok := byID[joinKey(r.ID())]; ok {
			r.state.Set(field, f.Value(field))
			r.Clean(field)
		}
	}
	return nil
}

// flatten follows the per-hop mappings from src level by level. Each level
// is deduplicated, so cycles in the data cannot repeat work, and the final
// level is deduplicated by identity.
func flatten(src *Resource, mappings []map[*Resource][]*Resource) []*Resource {
	level := []*Resource{src}
	for _, m := range mappings {
		var next []*Resource
		seen := make(map[*Resource]bool)
		for _, r := range level {
			for _, t := range m[r] {
				if !seen[t] {
					seen[t] = true
					next = append(next, t)
				}
			}
		}
		level = next
	}

	out := level[:0:0]
	ids := make(map[any]bool, len(level))
	for _, r := range level {
		if id := r.ID(); id != nil {
			k := joinKey(id)
			if ids[k] {
				continue
			}
			ids[k] = true
		}
		out = append(out, r)
	}
	return out
}

// distinctValues collects the distinct non-nil values of name in order
func distinctValues(items []*Resource, name string) []any {
	var out []any
	seen := make(map[any]bool)
	for _, r := range items {
		v := r.Value(name)
		if v == nil {
			continue
		}
		k := joinKey(v)
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, v)
	}
	return out
}

// joinKey maps a field value to a comparable key so equal values read from
// different stores land in the same bucket
func joinKey(v any) any {
	switch x := query.Normalize(v).(type) {
	case nil:
		return nil
	case float64:
		if x == math.Trunc(x) && math.Abs(x) < 1<<53 {
			return int64(x)
		}
		return x
	case int64, uint64, string, bool:
		return x
	case time.Time:
		return x.UTC().UnixNano()
	default:
		return fmt.Sprintf("%T:%v", x, x)
	}
}

// OnBackfill tops the related value up to the nested limit (default one)
// using the env's Backfiller
func (rel *Relationship) OnBackfill(ctx context.Context, r *Resource, req *Request, partial any) (any, error) {
	if rel.hooks.OnBackfill != nil {
		return rel.hooks.OnBackfill(ctx, r, req, partial)
	}
	bf := rel.owner.env.backfiller
	if bf == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoBackfiller, rel.qualifiedName())
	}
	want := 1
	if req.Spec != nil && req.Spec.Limit != nil {
		want = *req.Spec.Limit
	}

	have := rel.target.NewBatch()
	switch v := partial.(type) {
	case *Batch:
		if v != nil {
			have = v
		}
	case *Resource:
		if v != nil {
			return v, nil
		}
	}
	if !rel.many && have.Len() > 0 {
		return have.At(0), nil
	}
	if rel.many && have.Len() >= want {
		return have, nil
	}

	q := rel.simulationQuery(r, req).Backfill()
	generated, err := bf.Backfill(ctx, q, have, want)
	if err != nil {
		return nil, err
	}
	extra := rel.target.NewBatch(generated...)
	if err := rel.owner.env.executor.complete(ctx, q, extra); err != nil {
		return nil, err
	}
	if err := have.Append(extra.items...); err != nil {
		return nil, err
	}
	if rel.many {
		return have, nil
	}
	if have.Len() == 0 {
		return nil, nil
	}
	return have.At(0), nil
}

// Dump delegates to the dumper
func (rel *Relationship) Dump(d Dumper, value any) (any, error) {
	if value == nil {
		return nil, nil
	}
	return d.Dump(value)
}
