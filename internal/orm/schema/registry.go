package schema

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

var (
	// ErrDuplicateSchema is returned when a name is registered twice
	ErrDuplicateSchema = errors.New("duplicate schema")

	// ErrUnknownReference is returned for a "Type.field" reference that names
	// an unregistered schema or a missing field
	ErrUnknownReference = errors.New("unknown reference")
)

// Registry indexes the schemas of one environment by resource name and
// resolves "Type.field" references against them
type Registry struct {
	mu      sync.RWMutex
	schemas map[string]*ResourceSchema
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{schemas: make(map[string]*ResourceSchema)}
}

// Register validates s and adds it under its name
func (r *Registry) Register(s *ResourceSchema) error {
	if s == nil {
		return fmt.Errorf("%w: nil schema", ErrInvalidSchema)
	}
	if err := s.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.schemas[s.Name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateSchema, s.Name)
	}
	r.schemas[s.Name] = s
	return nil
}

// Get returns the schema registered as name
func (r *Registry) Get(name string) (*ResourceSchema, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.schemas[name]
	return s, ok
}

// Names returns the registered resource names, sorted
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.schemas))
	for name := range r.schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Lookup resolves a reference written "Type.field"
func (r *Registry) Lookup(ref string) (*ResourceSchema, *Field, error) {
	name, field, ok := strings.Cut(ref, ".")
	if !ok || name == "" || field == "" {
		return nil, nil, fmt.Errorf("%w: %q is not Type.field", ErrUnknownReference, ref)
	}
	s, ok := r.Get(name)
	if !ok {
		return nil, nil, fmt.Errorf("%w: type %q", ErrUnknownReference, name)
	}
	f, ok := s.Field(field)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s has no field %q", ErrUnknownReference, name, field)
	}
	return s, f, nil
}
