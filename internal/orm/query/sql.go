package query

import (
	"fmt"
	"strings"
)

// SQLOptions controls predicate rendering for a SQL dialect
type SQLOptions struct {
	// Quote quotes an identifier. Defaults to the identity function.
	Quote func(string) string
	// Array, when set, renders included-in as "col = ANY(?)" with a single
	// array argument produced by Array.
	Array func([]any) any
}

// ToSQL renders a predicate as a WHERE clause using "?" placeholders.
// A nil predicate renders as an empty clause.
func ToSQL(p Predicate, opts SQLOptions) (string, []any, error) {
	if p == nil {
		return "", nil, nil
	}
	if opts.Quote == nil {
		opts.Quote = func(s string) string { return s }
	}
	var args []any
	clause, err := predicateToSQL(p, opts, &args)
	if err != nil {
		return "", nil, err
	}
	return clause, args, nil
}

func predicateToSQL(p Predicate, opts SQLOptions, args *[]any) (string, error) {
	switch n := p.(type) {
	case *ConditionalPredicate:
		return conditionToSQL(n, opts, args)
	case *BooleanPredicate:
		lhs, err := predicateToSQL(n.lhs, opts, args)
		if err != nil {
			return "", err
		}
		rhs, err := predicateToSQL(n.rhs, opts, args)
		if err != nil {
			return "", err
		}
		connector := "AND"
		if n.op == OpOr {
			connector = "OR"
		}
		return fmt.Sprintf("(%s %s %s)", lhs, connector, rhs), nil
	default:
		return "", fmt.Errorf("%w: %T", ErrMalformedPredicate, p)
	}
}

// conditionToSQL converts a condition to SQL with parameterized values.
// NULL follows Evaluate: it differs from every value and equals only nil.
func conditionToSQL(cond *ConditionalPredicate, opts SQLOptions, args *[]any) (string, error) {
	column := opts.Quote(cond.field)

	switch cond.op {
	case OpEqual, OpNotEqual:
		if cond.value == nil {
			if cond.op == OpEqual {
				return column + " IS NULL", nil
			}
			return column + " IS NOT NULL", nil
		}
		*args = append(*args, cond.value)
		if cond.op == OpEqual {
			return column + " = ?", nil
		}
		return "(" + column + " <> ? OR " + column + " IS NULL)", nil

	case OpGreaterThan, OpLessThan, OpGreaterThanOrEqual, OpLessThanOrEqual:
		*args = append(*args, cond.value)
		return fmt.Sprintf("%s %s ?", column, cond.op), nil

	case OpIn, OpNotIn:
		values, hasNil := splitNil(toList(cond.value))
		member := memberSQL(column, values, opts, args)
		if cond.op == OpIn {
			switch {
			case member == "" && !hasNil:
				// an empty list matches nothing
				return "1 = 0", nil
			case member == "":
				return column + " IS NULL", nil
			case hasNil:
				return "(" + member + " OR " + column + " IS NULL)", nil
			}
			return member, nil
		}
		switch {
		case member == "" && !hasNil:
			return "1 = 1", nil
		case member == "":
			return column + " IS NOT NULL", nil
		case hasNil:
			return "(NOT (" + member + ") AND " + column + " IS NOT NULL)", nil
		}
		return "(NOT (" + member + ") OR " + column + " IS NULL)", nil

	default:
		return "", fmt.Errorf("%w: %v", ErrUnknownOperator, cond.op)
	}
}

// memberSQL renders membership of column in the non-nil values, or ""
// when there are none
func memberSQL(column string, values []any, opts SQLOptions, args *[]any) string {
	if len(values) == 0 {
		return ""
	}
	if opts.Array != nil {
		*args = append(*args, opts.Array(values))
		return column + " = ANY(?)"
	}
	placeholders := make([]string, len(values))
	for i, v := range values {
		*args = append(*args, v)
		placeholders[i] = "?"
	}
	return fmt.Sprintf("%s IN (%s)", column, strings.Join(placeholders, ", "))
}

func splitNil(values []any) ([]any, bool) {
	out := make([]any, 0, len(values))
	hasNil := false
	for _, v := range values {
		if Normalize(v) == nil {
			hasNil = true
			continue
		}
		out = append(out, v)
	}
	return out, hasNil
}
