package store

import (
	"errors"
	"fmt"
)

// Common store error types
var (
	// ErrNotFound is returned when a record is not found
	ErrNotFound = errors.New("record not found")

	// ErrConflict is returned when a record was modified since its revision was read
	ErrConflict = errors.New("record was modified by another writer")

	// ErrAlreadyExists is returned when creating a record whose id is taken
	ErrAlreadyExists = errors.New("record already exists")

	// ErrUnknownField is returned when a record or selection names a field the schema lacks
	ErrUnknownField = errors.New("unknown field")

	// ErrConstraint is returned for other integrity constraint violations
	ErrConstraint = errors.New("constraint violation")
)

// IsNotFound returns true if the error is ErrNotFound
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConflict returns true if the error is ErrConflict
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsAlreadyExists returns true if the error is ErrAlreadyExists
func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrAlreadyExists)
}

// LengthMismatchError is returned when batch ids and records differ in length
type LengthMismatchError struct {
	IDs     int
	Records int
}

func (e *LengthMismatchError) Error() string {
	return fmt.Sprintf("batch update got %d ids but %d records", e.IDs, e.Records)
}
