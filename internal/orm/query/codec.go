package query

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"
)

// envelope is the wire form of a predicate node. Code distinguishes
// conditional from boolean nodes.
type envelope struct {
	Code   Kind      `json:"code"`
	Op     string    `json:"op"`
	Target string    `json:"target,omitempty"`
	Field  string    `json:"field,omitempty"`
	Value  *literal  `json:"value,omitempty"`
	LHS    *envelope `json:"lhs,omitempty"`
	RHS    *envelope `json:"rhs,omitempty"`
}

// literal carries a value together with its kind so decoding restores
// the same Go type.
type literal struct {
	Type  string          `json:"t"`
	Value json.RawMessage `json:"v,omitempty"`
	Items []literal       `json:"items,omitempty"`
}

const (
	litNil    = "nil"
	litString = "string"
	litBool   = "bool"
	litInt    = "int"
	litUint   = "uint"
	litFloat  = "float"
	litTime   = "time"
	litList   = "list"
)

// Encode serializes a predicate into an opaque URL-safe token
func Encode(p Predicate) (string, error) {
	env, err := toEnvelope(p)
	if err != nil {
		return "", err
	}
	data, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("failed to encode predicate: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

// Decode restores a predicate produced by Encode
func Decode(token string) (Predicate, error) {
	data, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPredicate, err)
	}
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPredicate, err)
	}
	return fromEnvelope(&env)
}

func toEnvelope(p Predicate) (*envelope, error) {
	switch n := p.(type) {
	case *ConditionalPredicate:
		lit, err := encodeLiteral(n.value)
		if err != nil {
			return nil, err
		}
		return &envelope{
			Code:   KindConditional,
			Op:     n.op.String(),
			Target: n.target,
			Field:  n.field,
			Value:  &lit,
		}, nil
	case *BooleanPredicate:
		lhs, err := toEnvelope(n.lhs)
		if err != nil {
			return nil, err
		}
		rhs, err := toEnvelope(n.rhs)
		if err != nil {
			return nil, err
		}
		return &envelope{Code: KindBoolean, Op: n.op.String(), LHS: lhs, RHS: rhs}, nil
	default:
		return nil, fmt.Errorf("%w: cannot encode %T", ErrMalformedPredicate, p)
	}
}

func fromEnvelope(env *envelope) (Predicate, error) {
	if env == nil {
		return nil, fmt.Errorf("%w: missing node", ErrMalformedPredicate)
	}
	op, err := ParseOperator(env.Op)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPredicate, err)
	}
	switch env.Code {
	case KindConditional:
		if op.IsBoolean() || env.Field == "" || env.Value == nil {
			return nil, fmt.Errorf("%w: bad conditional node", ErrMalformedPredicate)
		}
		value, err := decodeLiteral(*env.Value)
		if err != nil {
			return nil, err
		}
		return Compare(env.Target, env.Field, op, value), nil
	case KindBoolean:
		if !op.IsBoolean() {
			return nil, fmt.Errorf("%w: %s is not a boolean operator", ErrMalformedPredicate, op)
		}
		lhs, err := fromEnvelope(env.LHS)
		if err != nil {
			return nil, err
		}
		rhs, err := fromEnvelope(env.RHS)
		if err != nil {
			return nil, err
		}
		return newBoolean(op, lhs, rhs), nil
	default:
		return nil, fmt.Errorf("%w: unknown code %d", ErrMalformedPredicate, env.Code)
	}
}

func encodeLiteral(v any) (literal, error) {
	var typ string
	switch x := Normalize(v).(type) {
	case nil:
		return literal{Type: litNil}, nil
	case []any:
		items := make([]literal, len(x))
		for i, item := range x {
			lit, err := encodeLiteral(item)
			if err != nil {
				return literal{}, err
			}
			items[i] = lit
		}
		return literal{Type: litList, Items: items}, nil
	case string:
		typ = litString
	case bool:
		typ = litBool
	case int64:
		typ = litInt
	case uint64:
		typ = litUint
	case float64:
		typ = litFloat
	case time.Time:
		typ = litTime
	default:
		return literal{}, fmt.Errorf("%w: %T", ErrUnsupportedValue, v)
	}
	raw, err := json.Marshal(Normalize(v))
	if err != nil {
		return literal{}, fmt.Errorf("%w: %v", ErrUnsupportedValue, err)
	}
	return literal{Type: typ, Value: raw}, nil
}

func decodeLiteral(lit literal) (any, error) {
	var err error
	switch lit.Type {
	case litNil:
		return nil, nil
	case litList:
		out := make([]any, len(lit.Items))
		for i, item := range lit.Items {
			if out[i], err = decodeLiteral(item); err != nil {
				return nil, err
			}
		}
		return out, nil
	case litString:
		var s string
		err = json.Unmarshal(lit.Value, &s)
		return s, wrapLiteralErr(err)
	case litBool:
		var b bool
		err = json.Unmarshal(lit.Value, &b)
		return b, wrapLiteralErr(err)
	case litInt:
		var i int64
		err = json.Unmarshal(lit.Value, &i)
		return i, wrapLiteralErr(err)
	case litUint:
		var u uint64
		err = json.Unmarshal(lit.Value, &u)
		return u, wrapLiteralErr(err)
	case litFloat:
		var f float64
		err = json.Unmarshal(lit.Value, &f)
		return f, wrapLiteralErr(err)
	case litTime:
		var t time.Time
		err = json.Unmarshal(lit.Value, &t)
		return t, wrapLiteralErr(err)
	}
	return nil, fmt.Errorf("%w: unknown literal type %q", ErrMalformedPredicate, lit.Type)
}

func wrapLiteralErr(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrMalformedPredicate, err)
}
