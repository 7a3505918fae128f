package query

import (
	"fmt"
	"sort"
	"strings"
)

// OrderBy is a single sort key
type OrderBy struct {
	Field string
	Desc  bool
}

// Asc orders by field ascending
func Asc(field string) OrderBy { return OrderBy{Field: field} }

// Desc orders by field descending
func Desc(field string) OrderBy { return OrderBy{Field: field, Desc: true} }

// ParseOrderBy accepts "field", "field asc" or "field desc"
func ParseOrderBy(s string) (OrderBy, error) {
	parts := strings.Fields(s)
	switch len(parts) {
	case 1:
		return OrderBy{Field: parts[0]}, nil
	case 2:
		switch strings.ToLower(parts[1]) {
		case "asc":
			return OrderBy{Field: parts[0]}, nil
		case "desc":
			return OrderBy{Field: parts[0], Desc: true}, nil
		}
	}
	return OrderBy{}, fmt.Errorf("%w: %q", ErrInvalidOrderBy, s)
}

// String renders the key as "field asc" or "field desc"
func (o OrderBy) String() string {
	if o.Desc {
		return o.Field + " desc"
	}
	return o.Field + " asc"
}

// Sort stably sorts records by the given keys. Nil sorts before any value
// in ascending order; values of incomparable kinds keep their relative order.
func Sort(records []map[string]any, keys ...OrderBy) {
	if len(keys) == 0 {
		return
	}
	sort.SliceStable(records, func(i, j int) bool {
		for _, key := range keys {
			c := compareForSort(records[i][key.Field], records[j][key.Field])
			if c == 0 {
				continue
			}
			if key.Desc {
				return c > 0
			}
			return c < 0
		}
		return false
	})
}

func compareForSort(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	c, _ := CompareValues(a, b)
	return c
}
