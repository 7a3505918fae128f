package graph

import (
	"errors"
	"fmt"
)

// Error categories. Every error returned by this package wraps exactly one
// of them so callers can tell configuration mistakes from bad queries and
// store failures.
var (
	// ErrBinding is a configuration error raised while binding types
	ErrBinding = errors.New("binding error")

	// ErrSelection is raised while building a query or assigning a value
	ErrSelection = errors.New("selection error")

	// ErrResolution is raised while executing resolvers or calling the store
	ErrResolution = errors.New("resolution error")

	// ErrBackfill is raised when synthesizing resources is impossible
	ErrBackfill = errors.New("backfill error")

	// ErrDump is raised while serializing a resolved graph
	ErrDump = errors.New("dump error")
)

// Binding errors
var (
	// ErrUnresolvedReference is returned when a join or target names an unknown type or field
	ErrUnresolvedReference = fmt.Errorf("%w: unresolved reference", ErrBinding)

	// ErrDuplicateResolver is returned when a type declares a resolver name twice
	ErrDuplicateResolver = fmt.Errorf("%w: duplicate resolver", ErrBinding)

	// ErrDuplicateType is returned when an env registers a type name twice
	ErrDuplicateType = fmt.Errorf("%w: duplicate type", ErrBinding)

	// ErrMissingTarget is returned when a relationship has no joins
	ErrMissingTarget = fmt.Errorf("%w: missing target type", ErrBinding)

	// ErrCyclicReference is returned when a join callback re-enters its own binding
	ErrCyclicReference = fmt.Errorf("%w: cyclic reference", ErrBinding)

	// ErrAlreadyBound is returned when resolvers are added to a bound type
	ErrAlreadyBound = fmt.Errorf("%w: type already bound", ErrBinding)
)

// Selection errors
var (
	// ErrUnknownResolver is returned for a name the type does not declare
	ErrUnknownResolver = fmt.Errorf("%w: unknown resolver", ErrSelection)

	// ErrTypeMismatch is returned when a value or query does not fit the resolver's target
	ErrTypeMismatch = fmt.Errorf("%w: type mismatch", ErrSelection)

	// ErrNotLoaded is returned when reading an unset non-lazy resolver
	ErrNotLoaded = fmt.Errorf("%w: attribute not loaded", ErrSelection)

	// ErrInvalidLimit is returned for a negative limit or offset
	ErrInvalidLimit = fmt.Errorf("%w: invalid limit or offset", ErrSelection)

	// ErrMissingRequired is returned when creating a resource without a required field
	ErrMissingRequired = fmt.Errorf("%w: missing required field", ErrSelection)

	// ErrUnknownScope is returned for a scope the type does not define
	ErrUnknownScope = fmt.Errorf("%w: unknown scope", ErrSelection)
)

// Resolution errors
var (
	// ErrNotBound is returned when executing a resolver or query before Env.Bind
	ErrNotBound = fmt.Errorf("%w: not bound", ErrResolution)

	// ErrNotImplemented is returned by resolvers without an execute behavior
	ErrNotImplemented = fmt.Errorf("%w: not implemented", ErrResolution)
)

// Backfill errors
var (
	// ErrBackfillUnsupported is returned by resolvers that cannot synthesize values
	ErrBackfillUnsupported = fmt.Errorf("%w: resolver does not support backfill", ErrBackfill)

	// ErrNoBackfiller is returned when backfill is requested without a configured backfiller
	ErrNoBackfiller = fmt.Errorf("%w: no backfiller configured", ErrBackfill)
)

// Dump errors
var (
	// ErrUnresolvedRelationship is returned when a dump explicitly asks for an unloaded relationship
	ErrUnresolvedRelationship = fmt.Errorf("%w: unresolved relationship", ErrDump)
)

// ErrMissingIdentity is returned when an operation needs an id the resource lacks
var ErrMissingIdentity = errors.New("resource has no identity")

// IsBindingError reports whether err is a configuration error
func IsBindingError(err error) bool { return errors.Is(err, ErrBinding) }

// IsSelectionError reports whether err comes from a bad query or assignment
func IsSelectionError(err error) bool { return errors.Is(err, ErrSelection) }

// IsResolutionError reports whether err was raised while resolving
func IsResolutionError(err error) bool { return errors.Is(err, ErrResolution) }

// IsBackfillError reports whether err was raised while backfilling
func IsBackfillError(err error) bool { return errors.Is(err, ErrBackfill) }

// IsDumpError reports whether err was raised while dumping
func IsDumpError(err error) bool { return errors.Is(err, ErrDump) }

// storeError wraps a store failure as a resolution error while keeping the
// store sentinel reachable through errors.Is
func storeError(op string, t *Type, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s %s: %w", ErrResolution, op, t.Name(), err)
}
