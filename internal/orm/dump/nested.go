package dump

import (
	"fmt"

	"github.com/conduit-lang/weave/internal/orm/graph"
)

// Nested dumps resources as maps with relationships inlined: a scalar
// relationship becomes a map (or nil) and a many relationship a slice of
// maps. Relationships are followed as far as Fields says, and at most
// Depth levels where Fields leaves the selection open.
type Nested struct {
	// Depth bounds relationship nesting; zero selects DefaultDepth
	Depth  int
	Fields Fields
}

var _ graph.Dumper = (*Nested)(nil)

// Dump accepts a *graph.Resource, a *graph.Batch or nil
func (n *Nested) Dump(value any) (any, error) {
	depth := n.Depth
	if depth <= 0 {
		depth = DefaultDepth
	}
	return level{fields: n.Fields, max: depth}.Dump(value)
}

// level is the dumper handed to resolvers at one nesting level
type level struct {
	fields Fields
	depth  int
	max    int
}

func (l level) Dump(value any) (any, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case *graph.Resource:
		if v == nil {
			return nil, nil
		}
		return l.resource(v)
	case *graph.Batch:
		if v == nil {
			return []any{}, nil
		}
		out := make([]any, 0, v.Len())
		for _, r := range v.Items() {
			rec, err := l.resource(r)
			if err != nil {
				return nil, err
			}
			out = append(out, rec)
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: cannot dump %T", graph.ErrDump, value)
}

func (l level) resource(r *graph.Resource) (map[string]any, error) {
	keys, explicit := selected(r, l.fields)
	out := make(map[string]any, len(keys))
	for _, k := range keys {
		res, err := resolverFor(r, k)
		if err != nil {
			return nil, err
		}
		related := res.Target() != nil
		if !r.Has(k) {
			if related && explicit {
				return nil, unresolved(r, k)
			}
			continue
		}
		if related && !explicit && l.depth >= l.max {
			continue
		}
		child := level{fields: l.fields[k], depth: l.depth + 1, max: l.max}
		v, err := res.Dump(child, r.Value(k))
		if err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, nil
}
