package store

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/conduit-lang/weave/internal/orm/query"
	"github.com/conduit-lang/weave/internal/orm/schema"
)

// NewID returns a fresh identity value
func NewID() string {
	return uuid.NewString()
}

// NewRev returns a fresh revision token
func NewRev() string {
	return uuid.NewString()
}

// Key normalizes an id so values read from different backends
// (int vs int64, []byte vs string) index maps consistently.
func Key(id any) any {
	return query.Normalize(id)
}

// Copy returns a shallow copy of a record
func Copy(r Record) Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Project restricts a record to fields plus the identity and revision
// fields. A nil field list keeps every field.
func Project(s *schema.ResourceSchema, r Record, fields []string) Record {
	if fields == nil {
		return Copy(r)
	}
	out := make(Record, len(fields)+2)
	for _, name := range ProjectionFields(s, fields) {
		if v, ok := r[name]; ok {
			out[name] = v
		}
	}
	return out
}

// ProjectionFields returns the id and rev fields followed by the distinct
// requested fields. A nil list selects every schema field.
func ProjectionFields(s *schema.ResourceSchema, fields []string) []string {
	if fields == nil {
		return s.FieldNames()
	}
	out := []string{s.IDField, s.RevField}
	seen := map[string]struct{}{s.IDField: {}, s.RevField: {}}
	for _, f := range fields {
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}

// CheckFields fails with ErrUnknownField for any name the schema lacks
func CheckFields(s *schema.ResourceSchema, names []string) error {
	for _, name := range names {
		if !s.HasField(name) {
			return fmt.Errorf("%w: %s.%s", ErrUnknownField, s.Name, name)
		}
	}
	return nil
}

// CheckRecord fails with ErrUnknownField for any key the schema lacks
func CheckRecord(s *schema.ResourceSchema, r Record) error {
	for name := range r {
		if !s.HasField(name) {
			return fmt.Errorf("%w: %s.%s", ErrUnknownField, s.Name, name)
		}
	}
	return nil
}

// Window applies ordering, offset and limit to records in memory
func Window(records []Record, params Params) []Record {
	query.Sort(records, params.OrderBy...)
	if params.Offset != nil {
		if *params.Offset >= len(records) {
			return records[:0]
		}
		records = records[*params.Offset:]
	}
	if params.Limit != nil && *params.Limit < len(records) {
		records = records[:*params.Limit]
	}
	return records
}

// Filter keeps records matching the predicate, preserving order
func Filter(records []Record, where query.Predicate) ([]Record, error) {
	if where == nil {
		return records, nil
	}
	out := records[:0:0]
	for _, r := range records {
		ok, err := query.Evaluate(where, r)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, r)
		}
	}
	return out, nil
}

// PrepareCreate copies a record for insertion, assigning an id when absent
// and a fresh revision
func PrepareCreate(s *schema.ResourceSchema, r Record) (Record, error) {
	if err := CheckRecord(s, r); err != nil {
		return nil, err
	}
	out := Copy(r)
	if out == nil {
		out = make(Record)
	}
	if out[s.IDField] == nil {
		out[s.IDField] = NewID()
	}
	out[s.RevField] = NewRev()
	return out, nil
}

// SplitUpdate separates the expected revision, if any, from the changes of
// an update record and stamps a new revision onto the changes
func SplitUpdate(s *schema.ResourceSchema, r Record) (changes Record, expectedRev any, err error) {
	if err := CheckRecord(s, r); err != nil {
		return nil, nil, err
	}
	changes = Copy(r)
	if changes == nil {
		changes = make(Record)
	}
	expectedRev = changes[s.RevField]
	delete(changes, s.IDField)
	changes[s.RevField] = NewRev()
	return changes, expectedRev, nil
}

// RevMatches reports whether the stored revision satisfies an expected one.
// A nil expectation always matches.
func RevMatches(expected, stored any) bool {
	return expected == nil || query.Equal(expected, stored)
}
