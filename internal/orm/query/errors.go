package query

import "errors"

var (
	// ErrUnknownOperator is returned when an operator symbol or code is not recognized
	ErrUnknownOperator = errors.New("unknown operator")

	// ErrUnsupportedValue is returned when a literal cannot be encoded or compared
	ErrUnsupportedValue = errors.New("unsupported predicate value")

	// ErrMalformedPredicate is returned when an encoded predicate cannot be decoded
	ErrMalformedPredicate = errors.New("malformed predicate")

	// ErrParse is returned when predicate text cannot be parsed
	ErrParse = errors.New("predicate parse error")

	// ErrInvalidOrderBy is returned for an unparseable order-by term
	ErrInvalidOrderBy = errors.New("invalid order by")
)

// IsMalformed returns true if the error came from decoding or parsing a predicate
func IsMalformed(err error) bool {
	return errors.Is(err, ErrMalformedPredicate) || errors.Is(err, ErrParse)
}
