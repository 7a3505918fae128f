package dump

import (
	"fmt"

	"github.com/conduit-lang/weave/internal/orm/graph"
)

// Document is a side-loaded dump. Target holds the root record (or a slice
// of records for a batch) with relationships replaced by identities; Links
// holds every other reachable resource by type name and identity.
type Document struct {
	Target any                                  `json:"target"`
	Links  map[string]map[string]map[string]any `json:"links"`
}

// Link returns the linked record of kind with identity id
func (d *Document) Link(kind string, id any) (map[string]any, bool) {
	rec, ok := d.Links[kind][idKey(id)]
	return rec, ok
}

// Len counts the linked records
func (d *Document) Len() int {
	n := 0
	for _, byID := range d.Links {
		n += len(byID)
	}
	return n
}

// SideLoaded dumps a graph as a Document. Each resource appears once,
// however many paths reach it; the first path to reach a resource decides
// which of its fields are dumped.
type SideLoaded struct {
	Fields Fields
}

var _ graph.Dumper = (*SideLoaded)(nil)

type visit struct {
	r      *graph.Resource
	fields Fields
}

// Dump accepts a *graph.Resource, a *graph.Batch or nil and returns a
// *Document
func (s *SideLoaded) Dump(value any) (any, error) {
	doc := &Document{Links: make(map[string]map[string]map[string]any)}
	var roots []*graph.Resource
	switch v := value.(type) {
	case nil:
		return doc, nil
	case *graph.Resource:
		if v == nil {
			return doc, nil
		}
		roots = []*graph.Resource{v}
	case *graph.Batch:
		if v != nil {
			roots = v.Items()
		}
	default:
		return nil, fmt.Errorf("%w: cannot dump %T", graph.ErrDump, value)
	}

	seen := make(map[string]bool)
	for _, r := range roots {
		key, err := visitKey(r)
		if err != nil {
			return nil, err
		}
		seen[key] = true
	}

	var stack []visit
	records := make([]any, 0, len(roots))
	for _, r := range roots {
		rec, next, err := s.record(r, s.Fields)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
		stack = push(stack, next)
	}

	for len(stack) > 0 {
		v := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		key, err := visitKey(v.r)
		if err != nil {
			return nil, err
		}
		if seen[key] {
			continue
		}
		seen[key] = true

		rec, next, err := s.record(v.r, v.fields)
		if err != nil {
			return nil, err
		}
		kind := v.r.Type().Name()
		if doc.Links[kind] == nil {
			doc.Links[kind] = make(map[string]map[string]any)
		}
		doc.Links[kind][idKey(v.r.ID())] = rec
		stack = push(stack, next)
	}

	if _, ok := value.(*graph.Batch); ok {
		doc.Target = records
	} else {
		doc.Target = records[0]
	}
	return doc, nil
}

// push adds next so that it pops in its original order
func push(stack, next []visit) []visit {
	for i := len(next) - 1; i >= 0; i-- {
		stack = append(stack, next[i])
	}
	return stack
}

// record dumps the plain fields of r and returns the related resources to
// visit
func (s *SideLoaded) record(r *graph.Resource, fields Fields) (map[string]any, []visit, error) {
	keys, explicit := selected(r, fields)
	out := make(map[string]any, len(keys))
	var next []visit
	for _, k := range keys {
		res, err := resolverFor(r, k)
		if err != nil {
			return nil, nil, err
		}
		if !r.Has(k) {
			if res.Target() != nil && explicit {
				return nil, nil, unresolved(r, k)
			}
			continue
		}
		value := r.Value(k)
		if res.Target() == nil {
			v, err := res.Dump(s, value)
			if err != nil {
				return nil, nil, err
			}
			out[k] = v
			continue
		}

		sub := fields[k]
		switch rel := value.(type) {
		case *graph.Resource:
			if rel == nil {
				out[k] = nil
				continue
			}
			if rel.ID() == nil {
				return nil, nil, missingIdentity(rel)
			}
			out[k] = rel.ID()
			next = append(next, visit{r: rel, fields: sub})
		case *graph.Batch:
			ids := make([]any, 0, rel.Len())
			for _, item := range rel.Items() {
				if item.ID() == nil {
					return nil, nil, missingIdentity(item)
				}
				ids = append(ids, item.ID())
				next = append(next, visit{r: item, fields: sub})
			}
			out[k] = ids
		case nil:
			out[k] = nil
		default:
			return nil, nil, fmt.Errorf("%w: %s.%s holds %T", graph.ErrDump, r.Type().Name(), k, value)
		}
	}
	return out, next, nil
}

func visitKey(r *graph.Resource) (string, error) {
	if r.ID() == nil {
		return "", missingIdentity(r)
	}
	return r.Type().Name() + "/" + idKey(r.ID()), nil
}

func idKey(id any) string {
	if s, ok := id.(string); ok {
		return s
	}
	return fmt.Sprint(id)
}

func missingIdentity(r *graph.Resource) error {
	return fmt.Errorf("%w: %s: %w", graph.ErrDump, r.Type().Name(), graph.ErrMissingIdentity)
}
