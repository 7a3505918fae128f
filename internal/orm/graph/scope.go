package graph

import (
	"fmt"
	"sort"
)

// ScopeFunc refines a fresh query into a named, reusable one
type ScopeFunc func(q *Query) *Query

// DefineScope registers a named query. Callers refine it with Query.Merge
// or further builder calls.
func (t *Type) DefineScope(name string, fn ScopeFunc) error {
	if _, ok := t.scopes[name]; ok {
		return fmt.Errorf("%w: scope %s.%s", ErrDuplicateResolver, t.Name(), name)
	}
	t.scopes[name] = fn
	return nil
}

// Scope returns a new query built by the named scope. An unknown name
// yields a query whose Err is ErrUnknownScope.
func (t *Type) Scope(name string) *Query {
	fn, ok := t.scopes[name]
	if !ok {
		return newQuery(t).fail(fmt.Errorf("%w: %s.%s", ErrUnknownScope, t.Name(), name))
	}
	return fn(newQuery(t))
}

// Scopes returns the defined scope names, sorted
func (t *Type) Scopes() []string {
	out := make([]string, 0, len(t.scopes))
	for name := range t.scopes {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
