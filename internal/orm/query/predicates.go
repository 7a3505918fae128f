// Package query provides the predicate algebra used to filter resource queries.
package query

import (
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Operator represents a comparison or boolean operator
type Operator int

const (
	OpEqual Operator = iota
	OpNotEqual
	OpGreaterThan
	OpLessThan
	OpGreaterThanOrEqual
	OpLessThanOrEqual
	OpIn
	OpNotIn
	OpAnd
	OpOr
)

// String returns the display symbol of the operator
func (o Operator) String() string {
	switch o {
	case OpEqual:
		return "=="
	case OpNotEqual:
		return "!="
	case OpGreaterThan:
		return ">"
	case OpLessThan:
		return "<"
	case OpGreaterThanOrEqual:
		return ">="
	case OpLessThanOrEqual:
		return "<="
	case OpIn:
		return "in"
	case OpNotIn:
		return "not in"
	case OpAnd:
		return "&&"
	case OpOr:
		return "||"
	default:
		return "UNKNOWN"
	}
}

// IsBoolean reports whether the operator combines two predicates
func (o Operator) IsBoolean() bool {
	return o == OpAnd || o == OpOr
}

// ParseOperator returns the operator for a display symbol
func ParseOperator(symbol string) (Operator, error) {
	switch strings.ToLower(strings.TrimSpace(symbol)) {
	case "==", "=":
		return OpEqual, nil
	case "!=":
		return OpNotEqual, nil
	case ">":
		return OpGreaterThan, nil
	case "<":
		return OpLessThan, nil
	case ">=":
		return OpGreaterThanOrEqual, nil
	case "<=":
		return OpLessThanOrEqual, nil
	case "in":
		return OpIn, nil
	case "not in":
		return OpNotIn, nil
	case "&&", "and":
		return OpAnd, nil
	case "||", "or":
		return OpOr, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownOperator, symbol)
	}
}

// Kind discriminates the two predicate node types
type Kind int

const (
	KindConditional Kind = iota + 1
	KindBoolean
)

// Predicate is an immutable boolean expression over resource fields
type Predicate interface {
	Kind() Kind
	// Targets returns the sorted names of the resource types referenced.
	Targets() []string
	String() string
	predicate()
}

// ConditionalPredicate compares one field to a literal value
type ConditionalPredicate struct {
	target string
	field  string
	op     Operator
	value  any
}

// Compare builds a ConditionalPredicate. Values for OpIn and OpNotIn are
// normalized into a []any; a scalar becomes a single-element list.
// Compare panics when op is a boolean operator.
func Compare(target, field string, op Operator, value any) *ConditionalPredicate {
	if op.IsBoolean() || op < OpEqual || op > OpOr {
		panic(fmt.Sprintf("query: %s is not a comparison operator", op))
	}
	if op == OpIn || op == OpNotIn {
		value = toList(value)
	}
	return &ConditionalPredicate{target: target, field: field, op: op, value: value}
}

func (p *ConditionalPredicate) Kind() Kind { return KindConditional }

// Target returns the resource type name the field belongs to
func (p *ConditionalPredicate) Target() string { return p.target }

// Field returns the compared field name
func (p *ConditionalPredicate) Field() string { return p.field }

// Op returns the comparison operator
func (p *ConditionalPredicate) Op() Operator { return p.op }

// Value returns the literal operand
func (p *ConditionalPredicate) Value() any { return p.value }

func (p *ConditionalPredicate) Targets() []string {
	if p.target == "" {
		return nil
	}
	return []string{p.target}
}

func (p *ConditionalPredicate) String() string {
	name := p.field
	if p.target != "" {
		name = p.target + "." + p.field
	}
	return fmt.Sprintf("(%s %s %s)", name, p.op, FormatValue(p.value))
}

func (p *ConditionalPredicate) predicate() {}

// BooleanPredicate joins two predicates with AND or OR
type BooleanPredicate struct {
	op      Operator
	lhs     Predicate
	rhs     Predicate
	targets []string
}

func newBoolean(op Operator, lhs, rhs Predicate) *BooleanPredicate {
	seen := make(map[string]struct{})
	for _, t := range lhs.Targets() {
		seen[t] = struct{}{}
	}
	for _, t := range rhs.Targets() {
		seen[t] = struct{}{}
	}
	targets := make([]string, 0, len(seen))
	for t := range seen {
		targets = append(targets, t)
	}
	sort.Strings(targets)
	return &BooleanPredicate{op: op, lhs: lhs, rhs: rhs, targets: targets}
}

func (p *BooleanPredicate) Kind() Kind { return KindBoolean }

// Op returns OpAnd or OpOr
func (p *BooleanPredicate) Op() Operator { return p.op }

// Left returns the left operand
func (p *BooleanPredicate) Left() Predicate { return p.lhs }

// Right returns the right operand
func (p *BooleanPredicate) Right() Predicate { return p.rhs }

func (p *BooleanPredicate) Targets() []string {
	out := make([]string, len(p.targets))
	copy(out, p.targets)
	return out
}

func (p *BooleanPredicate) String() string {
	return fmt.Sprintf("(%s %s %s)", p.lhs, p.op, p.rhs)
}

func (p *BooleanPredicate) predicate() {}

// And conjoins two predicates. A nil operand yields the other operand.
func And(p, q Predicate) Predicate {
	switch {
	case p == nil:
		return q
	case q == nil:
		return p
	}
	return newBoolean(OpAnd, p, q)
}

// Or disjoins two predicates. A nil operand yields the other operand.
func Or(p, q Predicate) Predicate {
	switch {
	case p == nil:
		return q
	case q == nil:
		return p
	}
	return newBoolean(OpOr, p, q)
}

// All folds predicates left to right with And
func All(ps ...Predicate) Predicate {
	var out Predicate
	for _, p := range ps {
		out = And(out, p)
	}
	return out
}

// Any folds predicates left to right with Or
func Any(ps ...Predicate) Predicate {
	var out Predicate
	for _, p := range ps {
		out = Or(out, p)
	}
	return out
}

// Walk calls fn for every conditional leaf in left-to-right order
func Walk(p Predicate, fn func(*ConditionalPredicate)) {
	switch n := p.(type) {
	case *ConditionalPredicate:
		fn(n)
	case *BooleanPredicate:
		Walk(n.lhs, fn)
		Walk(n.rhs, fn)
	}
}

// Fields returns the distinct field names referenced by p, in first-seen order
func Fields(p Predicate) []string {
	var out []string
	seen := make(map[string]struct{})
	Walk(p, func(c *ConditionalPredicate) {
		if _, ok := seen[c.field]; ok {
			return
		}
		seen[c.field] = struct{}{}
		out = append(out, c.field)
	})
	return out
}

// Ref names a field on a resource type and builds predicates against it
type Ref struct {
	Target string
	Field  string
}

// Field returns a Ref for target.field
func Field(target, field string) Ref {
	return Ref{Target: target, Field: field}
}

func (r Ref) Eq(v any) *ConditionalPredicate  { return Compare(r.Target, r.Field, OpEqual, v) }
func (r Ref) Ne(v any) *ConditionalPredicate  { return Compare(r.Target, r.Field, OpNotEqual, v) }
func (r Ref) Gt(v any) *ConditionalPredicate  { return Compare(r.Target, r.Field, OpGreaterThan, v) }
func (r Ref) Lt(v any) *ConditionalPredicate  { return Compare(r.Target, r.Field, OpLessThan, v) }
func (r Ref) Gte(v any) *ConditionalPredicate { return Compare(r.Target, r.Field, OpGreaterThanOrEqual, v) }
func (r Ref) Lte(v any) *ConditionalPredicate { return Compare(r.Target, r.Field, OpLessThanOrEqual, v) }

// In matches any of the given values. A single slice argument is expanded.
func (r Ref) In(vs ...any) *ConditionalPredicate {
	return Compare(r.Target, r.Field, OpIn, variadicList(vs))
}

// NotIn matches none of the given values. A single slice argument is expanded.
func (r Ref) NotIn(vs ...any) *ConditionalPredicate {
	return Compare(r.Target, r.Field, OpNotIn, variadicList(vs))
}

// Asc orders by the referenced field ascending
func (r Ref) Asc() OrderBy { return OrderBy{Field: r.Field} }

// Desc orders by the referenced field descending
func (r Ref) Desc() OrderBy { return OrderBy{Field: r.Field, Desc: true} }

func variadicList(vs []any) any {
	if len(vs) == 1 {
		rv := reflect.ValueOf(vs[0])
		if rv.IsValid() && (rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array) {
			if _, isBytes := vs[0].([]byte); !isBytes {
				return vs[0]
			}
		}
	}
	return vs
}

func toList(v any) []any {
	if v == nil {
		return []any{}
	}
	if list, ok := v.([]any); ok {
		out := make([]any, len(list))
		copy(out, list)
		return out
	}
	if _, isBytes := v.([]byte); isBytes {
		return []any{v}
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = rv.Index(i).Interface()
		}
		return out
	}
	return []any{v}
}

// FormatValue renders a literal the way predicates display it
func FormatValue(v any) string {
	switch x := Normalize(v).(type) {
	case nil:
		return "nil"
	case string:
		return strconv.Quote(x)
	case bool:
		return strconv.FormatBool(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case uint64:
		return strconv.FormatUint(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case time.Time:
		return strconv.Quote(x.Format(time.RFC3339Nano))
	case []any:
		parts := make([]string, len(x))
		for i, item := range x {
			parts[i] = FormatValue(item)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	default:
		return fmt.Sprintf("%v", x)
	}
}
