// Package dump converts resolved resource graphs into plain data.
//
// Two styles are provided. Nested inlines each relationship under its
// resolver name, following a per-level selection. SideLoaded replaces
// relationships with identity references and lists every reachable
// resource once under its type name, the way a JSON:API document carries
// related resources in "included".
package dump

import (
	"fmt"
	"sort"
	"strings"

	"github.com/conduit-lang/weave/internal/orm/graph"
)

// DefaultDepth bounds relationship nesting when no selection does
const DefaultDepth = 4

// Style names a dump strategy
type Style string

const (
	StyleNested     Style = "nested"
	StyleSideLoaded Style = "side_loaded"
)

// ParseStyle accepts "nested" and "side_loaded"; empty selects nested
func ParseStyle(s string) (Style, error) {
	switch Style(s) {
	case "", StyleNested:
		return StyleNested, nil
	case StyleSideLoaded:
		return StyleSideLoaded, nil
	}
	return "", fmt.Errorf("%w: unknown dump style %q", graph.ErrDump, s)
}

// ForStyle returns a dumper of the given style. depth only applies to
// nested dumps.
func ForStyle(style Style, depth int, fields Fields) (graph.Dumper, error) {
	switch style {
	case "", StyleNested:
		return &Nested{Depth: depth, Fields: fields}, nil
	case StyleSideLoaded:
		return &SideLoaded{Fields: fields}, nil
	}
	return nil, fmt.Errorf("%w: unknown dump style %q", graph.ErrDump, style)
}

// Fields selects what to dump at one level. Each key names a resolver;
// its value selects within the related resources. A nil Fields selects
// every loaded, non-private resolver.
type Fields map[string]Fields

// Keys builds Fields from dotted paths such as "team.org.name"
func Keys(paths ...string) Fields {
	out := Fields{}
	for _, p := range paths {
		level := out
		for _, part := range strings.Split(p, ".") {
			if part == "" {
				continue
			}
			next, ok := level[part]
			if !ok || next == nil {
				next = Fields{}
				level[part] = next
			}
			level = next
		}
	}
	prune(out)
	return out
}

// prune turns empty leaves back into nil so they select everything
func prune(f Fields) {
	for k, v := range f {
		if len(v) == 0 {
			f[k] = nil
			continue
		}
		prune(v)
	}
}

// FromSpec mirrors a query selection, so a dump shows what was selected
func FromSpec(s *graph.Spec) Fields {
	if s == nil || len(s.Select) == 0 {
		return nil
	}
	out := make(Fields, len(s.Select))
	for _, name := range s.Select {
		out[name] = nil
		if child, ok := s.Nested[name]; ok {
			out[name] = FromSpec(child)
		}
	}
	return out
}

// Paths flattens f back into sorted dotted paths
func (f Fields) Paths() []string {
	var out []string
	for k, v := range f {
		if len(v) == 0 {
			out = append(out, k)
			continue
		}
		for _, p := range v.Paths() {
			out = append(out, k+"."+p)
		}
	}
	sort.Strings(out)
	return out
}

// selected returns the keys to dump for r and whether they were asked for
// explicitly
func selected(r *graph.Resource, fields Fields) ([]string, bool) {
	if fields != nil {
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return keys, true
	}
	var keys []string
	for _, k := range r.Keys() {
		if res, ok := r.Type().Resolver(k); ok && !res.Private() {
			keys = append(keys, k)
		}
	}
	return keys, false
}

func resolverFor(r *graph.Resource, name string) (graph.Resolver, error) {
	res, ok := r.Type().Resolver(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s has no resolver %q", graph.ErrDump, r.Type().Name(), name)
	}
	return res, nil
}

func unresolved(r *graph.Resource, name string) error {
	return fmt.Errorf("%w: %s.%s", graph.ErrUnresolvedRelationship, r.Type().Name(), name)
}
