package query

// Constraint bounds the values a synthesized field may take
type Constraint struct {
	// Equal pins the field to one value when HasEqual is set.
	Equal    any
	HasEqual bool
	// OneOf restricts the field to the listed values.
	OneOf []any
	// NoneOf excludes the listed values.
	NoneOf []any
	// Min and Max are numeric bounds; nil means unbounded.
	Min, Max     any
	MinExclusive bool
	MaxExclusive bool
}

// Constraints derives per-field constraints from the AND-spine of p.
// Sub-trees under OR contribute nothing.
func Constraints(p Predicate) map[string]*Constraint {
	out := make(map[string]*Constraint)
	collectConstraints(p, out)
	return out
}

func collectConstraints(p Predicate, out map[string]*Constraint) {
	switch n := p.(type) {
	case *BooleanPredicate:
		if n.op == OpAnd {
			collectConstraints(n.lhs, out)
			collectConstraints(n.rhs, out)
		}
	case *ConditionalPredicate:
		c, ok := out[n.field]
		if !ok {
			c = &Constraint{}
			out[n.field] = c
		}
		switch n.op {
		case OpEqual:
			c.Equal, c.HasEqual = n.value, true
		case OpNotEqual:
			c.NoneOf = append(c.NoneOf, n.value)
		case OpIn:
			c.OneOf = toList(n.value)
		case OpNotIn:
			c.NoneOf = append(c.NoneOf, toList(n.value)...)
		case OpGreaterThan, OpGreaterThanOrEqual:
			c.Min, c.MinExclusive = n.value, n.op == OpGreaterThan
		case OpLessThan, OpLessThanOrEqual:
			c.Max, c.MaxExclusive = n.value, n.op == OpLessThan
		}
	}
}

// Allows reports whether v satisfies the constraint
func (c *Constraint) Allows(v any) bool {
	if c == nil {
		return true
	}
	if c.HasEqual && !Equal(v, c.Equal) {
		return false
	}
	if c.OneOf != nil {
		found := false
		for _, item := range c.OneOf {
			if Equal(v, item) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	for _, item := range c.NoneOf {
		if Equal(v, item) {
			return false
		}
	}
	if c.Min != nil {
		cmp, ok := CompareValues(v, c.Min)
		if !ok || cmp < 0 || (cmp == 0 && c.MinExclusive) {
			return false
		}
	}
	if c.Max != nil {
		cmp, ok := CompareValues(v, c.Max)
		if !ok || cmp > 0 || (cmp == 0 && c.MaxExclusive) {
			return false
		}
	}
	return true
}
