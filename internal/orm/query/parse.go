package query

import (
	"fmt"

	"github.com/expr-lang/expr/ast"
	"github.com/expr-lang/expr/parser"
)

// Parse builds a predicate from text such as
//
//	name != "b" && (age >= 3 || id in ["x", "y"])
//
// Bare identifiers are fields of target; Type.field names another type.
// The output of Predicate.String parses back to an equivalent predicate.
func Parse(target, text string) (Predicate, error) {
	tree, err := parser.Parse(text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	return fromNode(target, tree.Node)
}

func fromNode(target string, node ast.Node) (Predicate, error) {
	switch n := node.(type) {
	case *ast.BinaryNode:
		op, err := ParseOperator(n.Operator)
		if err != nil {
			return nil, fmt.Errorf("%w: operator %q", ErrParse, n.Operator)
		}
		if op.IsBoolean() {
			lhs, err := fromNode(target, n.Left)
			if err != nil {
				return nil, err
			}
			rhs, err := fromNode(target, n.Right)
			if err != nil {
				return nil, err
			}
			return newBoolean(op, lhs, rhs), nil
		}
		return comparison(target, op, n.Left, n.Right)
	case *ast.UnaryNode:
		inner, ok := n.Node.(*ast.BinaryNode)
		if (n.Operator == "not" || n.Operator == "!") && ok && inner.Operator == "in" {
			return comparison(target, OpNotIn, inner.Left, inner.Right)
		}
		return nil, fmt.Errorf("%w: unsupported unary %q", ErrParse, n.Operator)
	}
	return nil, fmt.Errorf("%w: expected a comparison, got %T", ErrParse, node)
}

func comparison(target string, op Operator, left, right ast.Node) (Predicate, error) {
	ref, err := refFromNode(target, left)
	if err != nil {
		return nil, err
	}
	value, err := literalFromNode(right)
	if err != nil {
		return nil, err
	}
	return Compare(ref.Target, ref.Field, op, value), nil
}

func refFromNode(target string, node ast.Node) (Ref, error) {
	switch n := node.(type) {
	case *ast.IdentifierNode:
		return Ref{Target: target, Field: n.Value}, nil
	case *ast.MemberNode:
		owner, ok := n.Node.(*ast.IdentifierNode)
		prop, okProp := n.Property.(*ast.StringNode)
		if ok && okProp {
			return Ref{Target: owner.Value, Field: prop.Value}, nil
		}
	}
	return Ref{}, fmt.Errorf("%w: left side must be a field, got %T", ErrParse, node)
}

func literalFromNode(node ast.Node) (any, error) {
	switch n := node.(type) {
	case *ast.NilNode:
		return nil, nil
	case *ast.StringNode:
		return n.Value, nil
	case *ast.BoolNode:
		return n.Value, nil
	case *ast.IntegerNode:
		return int64(n.Value), nil
	case *ast.FloatNode:
		return n.Value, nil
	case *ast.UnaryNode:
		if n.Operator == "-" {
			switch v := n.Node.(type) {
			case *ast.IntegerNode:
				return -int64(v.Value), nil
			case *ast.FloatNode:
				return -v.Value, nil
			}
		}
	case *ast.ArrayNode:
		out := make([]any, len(n.Nodes))
		for i, item := range n.Nodes {
			v, err := literalFromNode(item)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: right side must be a literal, got %T", ErrParse, node)
}
