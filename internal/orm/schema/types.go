// Package schema describes the stored fields of each resource type: their
// primitive kinds, which are required, and which fields carry identity and
// revision.
package schema

import (
	"errors"
	"fmt"
)

// PrimitiveType represents the stored kind of a field
type PrimitiveType int

const (
	// Text types
	TypeString PrimitiveType = iota
	TypeText

	// Numeric types
	TypeInt
	TypeBigInt
	TypeFloat
	TypeDecimal

	// Boolean
	TypeBool

	// Time types
	TypeTimestamp
	TypeDate

	// Unique identifiers
	TypeUUID

	// Arbitrary structured data
	TypeJSON
)

// String returns the string representation of the primitive type
func (p PrimitiveType) String() string {
	switch p {
	case TypeString:
		return "string"
	case TypeText:
		return "text"
	case TypeInt:
		return "int"
	case TypeBigInt:
		return "bigint"
	case TypeFloat:
		return "float"
	case TypeDecimal:
		return "decimal"
	case TypeBool:
		return "bool"
	case TypeTimestamp:
		return "timestamp"
	case TypeDate:
		return "date"
	case TypeUUID:
		return "uuid"
	case TypeJSON:
		return "json"
	default:
		return "unknown"
	}
}

// ParsePrimitiveType converts a string to a PrimitiveType
func ParsePrimitiveType(s string) (PrimitiveType, error) {
	switch s {
	case "string":
		return TypeString, nil
	case "text":
		return TypeText, nil
	case "int":
		return TypeInt, nil
	case "bigint":
		return TypeBigInt, nil
	case "float":
		return TypeFloat, nil
	case "decimal":
		return TypeDecimal, nil
	case "bool":
		return TypeBool, nil
	case "timestamp":
		return TypeTimestamp, nil
	case "date":
		return TypeDate, nil
	case "uuid":
		return TypeUUID, nil
	case "json":
		return TypeJSON, nil
	default:
		return 0, fmt.Errorf("unknown primitive type: %s", s)
	}
}

// IsNumeric returns true for integer and floating point kinds
func (p PrimitiveType) IsNumeric() bool {
	switch p {
	case TypeInt, TypeBigInt, TypeFloat, TypeDecimal:
		return true
	}
	return false
}

// IsText returns true for string-like kinds
func (p PrimitiveType) IsText() bool {
	return p == TypeString || p == TypeText || p == TypeUUID
}

// Field is a single stored attribute of a resource
type Field struct {
	Name     string
	Type     PrimitiveType
	Required bool
	Nullable bool
	Private  bool

	// Default produces the value used when a resource is synthesized
	// and no constraint pins the field.
	Default func() any
}

var (
	// ErrDuplicateField is returned when a schema declares a field twice
	ErrDuplicateField = errors.New("duplicate field")

	// ErrInvalidSchema is returned for a structurally invalid schema
	ErrInvalidSchema = errors.New("invalid schema")

	// ErrInvalidValue is returned when a value cannot be coerced to a field's kind
	ErrInvalidValue = errors.New("invalid field value")
)

// Default identity and revision field names
const (
	DefaultIDField  = "id"
	DefaultRevField = "rev"
)

// ResourceSchema is the ordered field schema of one resource type
type ResourceSchema struct {
	Name      string
	IDField   string
	RevField  string
	TableName string

	Fields map[string]*Field
	order  []string
}

// NewResourceSchema creates a schema with "id" and "rev" string fields
// followed by the given fields. Passing a field named id or rev replaces
// the default definition.
func NewResourceSchema(name string, fields ...*Field) (*ResourceSchema, error) {
	s := &ResourceSchema{
		Name:      name,
		IDField:   DefaultIDField,
		RevField:  DefaultRevField,
		TableName: ToSnakeCase(name),
		Fields:    make(map[string]*Field),
	}

	declared := make(map[string]*Field, len(fields))
	for _, f := range fields {
		declared[f.Name] = f
	}
	for _, name := range []string{s.IDField, s.RevField} {
		f, ok := declared[name]
		if !ok {
			f = &Field{Name: name, Type: TypeString, Nullable: true}
		}
		if err := s.AddField(f); err != nil {
			return nil, err
		}
	}
	for _, f := range fields {
		if f.Name == s.IDField || f.Name == s.RevField {
			continue
		}
		if err := s.AddField(f); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// MustResourceSchema is like NewResourceSchema but panics on error
func MustResourceSchema(name string, fields ...*Field) *ResourceSchema {
	s, err := NewResourceSchema(name, fields...)
	if err != nil {
		panic(err)
	}
	return s
}

// AddField appends a field to the schema
func (r *ResourceSchema) AddField(f *Field) error {
	if f == nil || f.Name == "" {
		return fmt.Errorf("%w: field without a name on %s", ErrInvalidSchema, r.Name)
	}
	if _, exists := r.Fields[f.Name]; exists {
		return fmt.Errorf("%w: %s.%s", ErrDuplicateField, r.Name, f.Name)
	}
	r.Fields[f.Name] = f
	r.order = append(r.order, f.Name)
	return nil
}

// Field returns the named field
func (r *ResourceSchema) Field(name string) (*Field, bool) {
	f, ok := r.Fields[name]
	return f, ok
}

// HasField returns true if the resource has a field with the given name
func (r *ResourceSchema) HasField(name string) bool {
	_, exists := r.Fields[name]
	return exists
}

// FieldNames returns field names in declaration order
func (r *ResourceSchema) FieldNames() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// RequiredFields returns the names of required fields in declaration order
func (r *ResourceSchema) RequiredFields() []string {
	var out []string
	for _, name := range r.order {
		if r.Fields[name].Required {
			out = append(out, name)
		}
	}
	return out
}

// Validate checks the schema is internally consistent
func (r *ResourceSchema) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("%w: resource without a name", ErrInvalidSchema)
	}
	if !r.HasField(r.IDField) {
		return fmt.Errorf("%w: %s has no identity field %q", ErrInvalidSchema, r.Name, r.IDField)
	}
	if !r.HasField(r.RevField) {
		return fmt.Errorf("%w: %s has no revision field %q", ErrInvalidSchema, r.Name, r.RevField)
	}
	if len(r.order) != len(r.Fields) {
		return fmt.Errorf("%w: %s fields were modified outside AddField", ErrInvalidSchema, r.Name)
	}
	return nil
}

// ToSnakeCase converts a string to snake_case
func ToSnakeCase(s string) string {
	var result []rune
	runes := []rune(s)

	for i, r := range runes {
		if i > 0 && r >= 'A' && r <= 'Z' {
			prev := runes[i-1]
			// Acronym boundaries: "HTTPServer" -> "http_server"
			if prev >= 'a' && prev <= 'z' {
				result = append(result, '_')
			} else if i+1 < len(runes) && runes[i+1] >= 'a' && runes[i+1] <= 'z' {
				result = append(result, '_')
			}
		}
		if r >= 'A' && r <= 'Z' {
			result = append(result, r+('a'-'A'))
		} else {
			result = append(result, r)
		}
	}
	return string(result)
}
