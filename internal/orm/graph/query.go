package graph

import (
	"context"
	"fmt"
	"strings"

	"github.com/conduit-lang/weave/internal/orm/query"
)

// Spec is a normalized selection tree. Select lists the selected resolver
// names in first-seen order; Nested holds the sub-selection of resolvers
// that target another type.
type Spec struct {
	Select  []string
	Nested  map[string]*Spec
	Where   query.Predicate
	OrderBy []query.OrderBy
	Limit   *int
	Offset  *int
}

// NewSpec returns an empty selection
func NewSpec() *Spec {
	return &Spec{Nested: make(map[string]*Spec)}
}

// Has reports whether name is selected
func (s *Spec) Has(name string) bool {
	for _, n := range s.Select {
		if n == name {
			return true
		}
	}
	return false
}

func (s *Spec) add(name string) {
	if !s.Has(name) {
		s.Select = append(s.Select, name)
	}
}

// nested returns the sub-selection of name, creating it on demand
func (s *Spec) nested(name string) *Spec {
	s.add(name)
	n, ok := s.Nested[name]
	if !ok {
		n = NewSpec()
		s.Nested[name] = n
	}
	return n
}

// Child returns the sub-selection of name or an empty spec
func (s *Spec) Child(name string) *Spec {
	if s == nil {
		return NewSpec()
	}
	if n, ok := s.Nested[name]; ok {
		return n
	}
	return NewSpec()
}

// Clone returns a deep copy. Predicates are immutable and shared.
func (s *Spec) Clone() *Spec {
	if s == nil {
		return NewSpec()
	}
	out := &Spec{
		Select:  append([]string(nil), s.Select...),
		Nested:  make(map[string]*Spec, len(s.Nested)),
		Where:   s.Where,
		OrderBy: append([]query.OrderBy(nil), s.OrderBy...),
		Limit:   copyInt(s.Limit),
		Offset:  copyInt(s.Offset),
	}
	for k, v := range s.Nested {
		out.Nested[k] = v.Clone()
	}
	return out
}

// Merge folds other into s: selections are unioned recursively, predicates
// conjoined, and ordering, limit and offset replaced only when other sets
// them.
func (s *Spec) Merge(other *Spec) *Spec {
	if other == nil {
		return s
	}
	for _, name := range other.Select {
		s.add(name)
	}
	for name, n := range other.Nested {
		s.nested(name).Merge(n)
	}
	s.Where = query.And(s.Where, other.Where)
	if len(other.OrderBy) > 0 {
		s.OrderBy = append([]query.OrderBy(nil), other.OrderBy...)
	}
	if other.Limit != nil {
		s.Limit = copyInt(other.Limit)
	}
	if other.Offset != nil {
		s.Offset = copyInt(other.Offset)
	}
	return s
}

func copyInt(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// Selection is a nested select item: a resolver name with the items to
// select on its target type and optional refinements
type Selection struct {
	name    string
	items   []any
	where   []query.Predicate
	orderBy []any
	limit   *int
	offset  *int
}

// With selects items on the target of the resolver called name
func With(name string, items ...any) *Selection {
	return &Selection{name: name, items: items}
}

// Where filters the nested query
func (s *Selection) Where(ps ...query.Predicate) *Selection {
	s.where = append(s.where, ps...)
	return s
}

// OrderBy orders the nested query
func (s *Selection) OrderBy(keys ...any) *Selection {
	s.orderBy = append(s.orderBy, keys...)
	return s
}

// Limit bounds the nested query
func (s *Selection) Limit(n int) *Selection {
	s.limit = &n
	return s
}

// Offset skips into the nested query
func (s *Selection) Offset(n int) *Selection {
	s.offset = &n
	return s
}

// Query is a builder over one type. Builder errors are deferred: the first
// one is kept and returned by Err, All and First.
type Query struct {
	typ      *Type
	spec     *Spec
	backfill bool
	err      error
}

// newQuery starts a query with the identity, revision and required
// resolvers already selected
func newQuery(t *Type) *Query {
	q := &Query{typ: t, spec: NewSpec()}
	s := t.schema
	q.spec.add(s.IDField)
	q.spec.add(s.RevField)
	for _, r := range t.order {
		if r.Required() {
			q.spec.add(r.Name())
		}
	}
	return q
}

// bareQuery starts a query with nothing selected, used for nested
// selections
func bareQuery(t *Type) *Query {
	return &Query{typ: t, spec: NewSpec()}
}

// Type returns the queried type
func (q *Query) Type() *Type { return q.typ }

// Spec returns the selection tree
func (q *Query) Spec() *Spec { return q.spec }

// Err returns the first builder error
func (q *Query) Err() error { return q.err }

// Backfilling reports whether backfill is enabled
func (q *Query) Backfilling() bool { return q.backfill }

func (q *Query) fail(err error) *Query {
	if q.err == nil {
		q.err = err
	}
	return q
}

// Clone returns an independent copy of the query
func (q *Query) Clone() *Query {
	return &Query{typ: q.typ, spec: q.spec.Clone(), backfill: q.backfill, err: q.err}
}

// Select adds items to the selection. An item is a resolver name (a dotted
// path selects through relationships), a Resolver, a *Selection, a
// map from resolver name to nested items, or a slice of items.
func (q *Query) Select(items ...any) *Query {
	if q.err != nil {
		return q
	}
	for _, item := range items {
		if err := q.selectItem(q.spec, item); err != nil {
			return q.fail(err)
		}
	}
	return q
}

func (q *Query) selectItem(spec *Spec, item any) error {
	switch v := item.(type) {
	case nil:
		return nil
	case string:
		return q.selectPath(spec, v)
	case Resolver:
		if v.Owner() != nil && v.Owner() != q.typ {
			return fmt.Errorf("%w: %s does not belong to %s", ErrUnknownResolver, v.base().qualifiedName(), q.typ.Name())
		}
		return q.selectPath(spec, v.Name())
	case *Selection:
		return q.selectNested(spec, v)
	case map[string]any:
		for name, sub := range v {
			var subItems []any
			if sub != nil {
				subItems = []any{sub}
			}
			if err := q.selectNested(spec, With(name, subItems...)); err != nil {
				return err
			}
		}
		return nil
	case []string:
		for _, s := range v {
			if err := q.selectPath(spec, s); err != nil {
				return err
			}
		}
		return nil
	case []any:
		for _, s := range v {
			if err := q.selectItem(spec, s); err != nil {
				return err
			}
		}
		return nil
	}
	return fmt.Errorf("%w: cannot select %T", ErrTypeMismatch, item)
}

func (q *Query) selectPath(spec *Spec, path string) error {
	head, rest, nested := strings.Cut(path, ".")
	if _, ok := q.typ.resolvers[head]; !ok {
		return fmt.Errorf("%w: %s.%s", ErrUnknownResolver, q.typ.Name(), head)
	}
	if !nested {
		spec.add(head)
		return nil
	}
	return q.selectNested(spec, With(head, rest))
}

func (q *Query) selectNested(spec *Spec, sel *Selection) error {
	res, ok := q.typ.resolvers[sel.name]
	if !ok {
		return fmt.Errorf("%w: %s.%s", ErrUnknownResolver, q.typ.Name(), sel.name)
	}
	target, err := targetOf(res)
	if err != nil {
		return err
	}

	sub := bareQuery(target).Select(sel.items...).Where(sel.where...).OrderBy(sel.orderBy...)
	if sel.limit != nil {
		sub.Limit(*sel.limit)
	}
	if sel.offset != nil {
		sub.Offset(*sel.offset)
	}
	if sub.err != nil {
		return sub.err
	}
	spec.nested(sel.name).Merge(sub.spec)
	return nil
}

// targetOf returns the target type of a resolver that supports nested
// selection
func targetOf(res Resolver) (*Type, error) {
	if t := res.Target(); t != nil {
		return t, nil
	}
	if b := res.base(); b.targetRef != "" && !b.IsBound() {
		return nil, fmt.Errorf("%w: %s", ErrNotBound, b.qualifiedName())
	}
	return nil, fmt.Errorf("%w: %s has no target type", ErrTypeMismatch, res.base().qualifiedName())
}

// Where conjoins predicates into the filter. Predicates may only reference
// schema fields of the queried type.
func (q *Query) Where(ps ...query.Predicate) *Query {
	if q.err != nil {
		return q
	}
	for _, p := range ps {
		if p == nil {
			continue
		}
		if err := q.checkPredicate(p); err != nil {
			return q.fail(err)
		}
		q.spec.Where = query.And(q.spec.Where, p)
	}
	return q
}

// Filter parses text with query.Parse and conjoins it into the filter
func (q *Query) Filter(text string) *Query {
	if q.err != nil {
		return q
	}
	p, err := query.Parse(q.typ.Name(), text)
	if err != nil {
		return q.fail(fmt.Errorf("%w: %w", ErrSelection, err))
	}
	return q.Where(p)
}

func (q *Query) checkPredicate(p query.Predicate) error {
	var err error
	query.Walk(p, func(c *query.ConditionalPredicate) {
		if err != nil {
			return
		}
		if c.Target() != "" && c.Target() != q.typ.Name() {
			err = fmt.Errorf("%w: predicate %s targets %s, not %s", ErrTypeMismatch, c, c.Target(), q.typ.Name())
			return
		}
		if !q.typ.IsField(c.Field()) {
			err = fmt.Errorf("%w: %s.%s is not a field", ErrUnknownResolver, q.typ.Name(), c.Field())
		}
	})
	return err
}

// OrderBy appends sort keys, given as query.OrderBy values or strings such
// as "name desc"
func (q *Query) OrderBy(keys ...any) *Query {
	if q.err != nil {
		return q
	}
	for _, k := range keys {
		var o query.OrderBy
		switch v := k.(type) {
		case query.OrderBy:
			o = v
		case string:
			parsed, err := query.ParseOrderBy(v)
			if err != nil {
				return q.fail(fmt.Errorf("%w: %w", ErrSelection, err))
			}
			o = parsed
		default:
			return q.fail(fmt.Errorf("%w: cannot order by %T", ErrTypeMismatch, k))
		}
		if !q.typ.IsField(o.Field) {
			return q.fail(fmt.Errorf("%w: %s.%s is not a field", ErrUnknownResolver, q.typ.Name(), o.Field))
		}
		q.spec.OrderBy = append(q.spec.OrderBy, o)
	}
	return q
}

// Limit caps the number of results
func (q *Query) Limit(n int) *Query {
	if n < 0 {
		return q.fail(fmt.Errorf("%w: limit %d", ErrInvalidLimit, n))
	}
	q.spec.Limit = &n
	return q
}

// Offset skips the first n results
func (q *Query) Offset(n int) *Query {
	if n < 0 {
		return q.fail(fmt.Errorf("%w: offset %d", ErrInvalidLimit, n))
	}
	q.spec.Offset = &n
	return q
}

// Merge folds other into q. Both queries must be over the same type.
func (q *Query) Merge(other *Query) *Query {
	if q.err != nil || other == nil {
		return q
	}
	if other.err != nil {
		return q.fail(other.err)
	}
	if other.typ != q.typ {
		return q.fail(fmt.Errorf("%w: cannot merge a %s query into a %s query", ErrTypeMismatch, other.typ.Name(), q.typ.Name()))
	}
	q.spec.Merge(other.spec)
	q.backfill = q.backfill || other.backfill
	return q
}

// MergeSpec folds a selection tree into q, validating every name
func (q *Query) MergeSpec(spec *Spec) *Query {
	if q.err != nil || spec == nil {
		return q
	}
	for _, name := range spec.Select {
		if _, ok := spec.Nested[name]; ok {
			continue
		}
		q.Select(name)
	}
	for name, sub := range spec.Nested {
		res, ok := q.typ.resolvers[name]
		if !ok {
			return q.fail(fmt.Errorf("%w: %s.%s", ErrUnknownResolver, q.typ.Name(), name))
		}
		if _, err := targetOf(res); err != nil {
			return q.fail(err)
		}
		q.spec.nested(name).Merge(sub)
	}
	q.Where(spec.Where)
	if len(spec.OrderBy) > 0 {
		q.spec.OrderBy = nil
		for _, o := range spec.OrderBy {
			q.OrderBy(o)
		}
	}
	if spec.Limit != nil {
		q.Limit(*spec.Limit)
	}
	if spec.Offset != nil {
		q.Offset(*spec.Offset)
	}
	return q
}

// Backfill enables backfill: when fewer resources than the limit (default
// one) are found, the env's Backfiller synthesizes the rest
func (q *Query) Backfill() *Query {
	q.backfill = true
	return q
}

// All executes the query
func (q *Query) All(ctx context.Context) (*Batch, error) {
	if q.err != nil {
		return nil, q.err
	}
	if q.typ.env == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotBound, q.typ.Name())
	}
	return q.typ.env.executor.Execute(ctx, q)
}

// First executes the query limited to one result and returns it, or nil
// when nothing matches
func (q *Query) First(ctx context.Context) (*Resource, error) {
	one := q.Clone()
	if one.spec.Limit == nil {
		one.Limit(1)
	}
	b, err := one.All(ctx)
	if err != nil {
		return nil, err
	}
	if b.Len() == 0 {
		return nil, nil
	}
	return b.At(0), nil
}

// String renders the query for logs
func (q *Query) String() string {
	var sb strings.Builder
	sb.WriteString(q.typ.Name())
	sb.WriteString("[")
	sb.WriteString(strings.Join(q.spec.Select, ", "))
	sb.WriteString("]")
	if q.spec.Where != nil {
		sb.WriteString(" where ")
		sb.WriteString(q.spec.Where.String())
	}
	for i, o := range q.spec.OrderBy {
		if i == 0 {
			sb.WriteString(" order by ")
		} else {
			sb.WriteString(", ")
		}
		sb.WriteString(o.String())
	}
	if q.spec.Limit != nil {
		fmt.Fprintf(&sb, " limit %d", *q.spec.Limit)
	}
	if q.spec.Offset != nil {
		fmt.Fprintf(&sb, " offset %d", *q.spec.Offset)
	}
	return sb.String()
}
