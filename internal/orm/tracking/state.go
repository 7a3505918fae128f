// Package tracking holds resource state together with the set of keys
// changed since the state last mirrored the store.
// State is not safe for concurrent use; a resource is owned by one goroutine.
package tracking

import (
	"reflect"
	"sort"
)

// State maps keys to values and tracks which keys are dirty
type State struct {
	values map[string]any
	dirty  map[string]struct{}
}

// NewState creates a state where every supplied key is dirty
func NewState(values map[string]any) *State {
	s := &State{
		values: make(map[string]any, len(values)),
		dirty:  make(map[string]struct{}, len(values)),
	}
	for k, v := range values {
		s.values[k] = v
		s.dirty[k] = struct{}{}
	}
	return s
}

// Get returns the value for key and whether it is present
func (s *State) Get(key string) (any, bool) {
	v, ok := s.values[key]
	return v, ok
}

// Has reports whether key is present
func (s *State) Has(key string) bool {
	_, ok := s.values[key]
	return ok
}

// Set stores a value, marks the key dirty and returns the previous value
func (s *State) Set(key string, value any) (old any) {
	old = s.values[key]
	s.values[key] = value
	s.dirty[key] = struct{}{}
	return old
}

// Delete removes key and returns the removed value
func (s *State) Delete(key string) (old any, ok bool) {
	old, ok = s.values[key]
	delete(s.values, key)
	delete(s.dirty, key)
	return old, ok
}

// Keys returns the present keys sorted
func (s *State) Keys() []string {
	keys := make([]string, 0, len(s.values))
	for k := range s.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of present keys
func (s *State) Len() int {
	return len(s.values)
}

// Mark marks the given keys dirty; with no keys every present key is marked
func (s *State) Mark(keys ...string) {
	if len(keys) == 0 {
		keys = s.Keys()
	}
	for _, k := range keys {
		s.dirty[k] = struct{}{}
	}
}

// Clean clears the dirty flag of the given keys; with no keys all flags are cleared
func (s *State) Clean(keys ...string) {
	if len(keys) == 0 {
		s.dirty = make(map[string]struct{})
		return
	}
	for _, k := range keys {
		delete(s.dirty, k)
	}
}

// Changed returns true if key is dirty
func (s *State) Changed(key string) bool {
	_, ok := s.dirty[key]
	return ok
}

// ChangedFields returns the dirty keys sorted
func (s *State) ChangedFields() []string {
	fields := make([]string, 0, len(s.dirty))
	for k := range s.dirty {
		fields = append(fields, k)
	}
	sort.Strings(fields)
	return fields
}

// HasChanges returns true if any key is dirty
func (s *State) HasChanges() bool {
	return len(s.dirty) > 0
}

// GetChangedData returns a map of dirty keys to current values, restricted
// to keys accepted by keep when keep is non-nil
func (s *State) GetChangedData(keep func(string) bool) map[string]any {
	data := make(map[string]any, len(s.dirty))
	for k := range s.dirty {
		if keep != nil && !keep(k) {
			continue
		}
		if v, ok := s.values[k]; ok {
			data[k] = v
		}
	}
	return data
}

// Snapshot returns a shallow copy of all values
func (s *State) Snapshot() map[string]any {
	out := make(map[string]any, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out
}

// Merge stores every value of other without touching dirty flags of keys
// whose value is unchanged
func (s *State) Merge(other map[string]any) {
	for k, v := range other {
		if old, ok := s.values[k]; ok && deepEqual(old, v) {
			continue
		}
		s.Set(k, v)
	}
}

// deepEqual compares two values for equality, handling nil and different types
func deepEqual(a, b any) bool {
	if a == nil && b == nil {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	return reflect.DeepEqual(a, b)
}
