package query

import (
	"fmt"
	"math"
	"reflect"
	"time"
)

// Normalize widens integer kinds to int64 (or uint64 when out of range),
// float32 to float64, []byte to string, and lists to []any. Values from
// different stores compare and hash consistently once normalized.
func Normalize(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case int:
		return int64(x)
	case int8:
		return int64(x)
	case int16:
		return int64(x)
	case int32:
		return int64(x)
	case int64:
		return x
	case uint:
		return normalizeUint(uint64(x))
	case uint8:
		return int64(x)
	case uint16:
		return int64(x)
	case uint32:
		return int64(x)
	case uint64:
		return normalizeUint(x)
	case float32:
		return float64(x)
	case float64, string, bool, time.Time:
		return x
	case []byte:
		return string(x)
	case []any:
		out := make([]any, len(x))
		for i, item := range x {
			out[i] = Normalize(item)
		}
		return out
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
		return Normalize(toList(v))
	}
	return v
}

func normalizeUint(u uint64) any {
	if u <= math.MaxInt64 {
		return int64(u)
	}
	return u
}

// CompareValues orders two literals. ok is false when the values are not
// mutually comparable (different kinds, or either is nil).
func CompareValues(a, b any) (cmp int, ok bool) {
	a, b = Normalize(a), Normalize(b)
	if a == nil || b == nil {
		return 0, false
	}
	if af, aNum := asFloat(a); aNum {
		bf, bNum := asFloat(b)
		if !bNum {
			return 0, false
		}
		if ai, aInt := a.(int64); aInt {
			if bi, bInt := b.(int64); bInt {
				return compareOrdered(ai, bi), true
			}
		}
		return compareOrdered(af, bf), true
	}
	switch x := a.(type) {
	case string:
		y, ok := b.(string)
		if !ok {
			return 0, false
		}
		return compareOrdered(x, y), true
	case bool:
		y, ok := b.(bool)
		if !ok {
			return 0, false
		}
		switch {
		case x == y:
			return 0, true
		case !x:
			return -1, true
		default:
			return 1, true
		}
	case time.Time:
		y, ok := b.(time.Time)
		if !ok {
			return 0, false
		}
		return x.Compare(y), true
	}
	return 0, false
}

// Equal reports whether two literals are equal after normalization
func Equal(a, b any) bool {
	a, b = Normalize(a), Normalize(b)
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if c, ok := CompareValues(a, b); ok {
		return c == 0
	}
	return reflect.DeepEqual(a, b)
}

// Evaluate tests a record against a predicate. A field missing from the
// record reads as nil; ordering comparisons involving nil are false.
func Evaluate(p Predicate, record map[string]any) (bool, error) {
	switch n := p.(type) {
	case nil:
		return true, nil
	case *ConditionalPredicate:
		return evalConditional(n, record[n.field])
	case *BooleanPredicate:
		lhs, err := Evaluate(n.lhs, record)
		if err != nil {
			return false, err
		}
		if n.op == OpAnd && !lhs {
			return false, nil
		}
		if n.op == OpOr && lhs {
			return true, nil
		}
		return Evaluate(n.rhs, record)
	default:
		return false, fmt.Errorf("%w: %T", ErrMalformedPredicate, p)
	}
}

func evalConditional(p *ConditionalPredicate, actual any) (bool, error) {
	switch p.op {
	case OpEqual:
		return Equal(actual, p.value), nil
	case OpNotEqual:
		return !Equal(actual, p.value), nil
	case OpIn, OpNotIn:
		found := false
		for _, item := range toList(p.value) {
			if Equal(actual, item) {
				found = true
				break
			}
		}
		return found == (p.op == OpIn), nil
	case OpGreaterThan, OpLessThan, OpGreaterThanOrEqual, OpLessThanOrEqual:
		c, ok := CompareValues(actual, p.value)
		if !ok {
			return false, nil
		}
		switch p.op {
		case OpGreaterThan:
			return c > 0, nil
		case OpLessThan:
			return c < 0, nil
		case OpGreaterThanOrEqual:
			return c >= 0, nil
		default:
			return c <= 0, nil
		}
	}
	return false, fmt.Errorf("%w: %s", ErrUnknownOperator, p.op)
}

func asFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case int64:
		return float64(x), true
	case uint64:
		return float64(x), true
	case float64:
		return x, true
	}
	return 0, false
}

type ordered interface {
	~int64 | ~float64 | ~string
}

func compareOrdered[T ordered](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
