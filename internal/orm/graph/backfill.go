package graph

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/conduit-lang/weave/internal/orm/query"
	"github.com/conduit-lang/weave/internal/orm/schema"
)

// Backfiller synthesizes resources for a query that found fewer than want.
// have holds what the query found; the returned resources are the ones
// added.
type Backfiller interface {
	Backfill(ctx context.Context, q *Query, have *Batch, want int) ([]*Resource, error)
}

// BackfillMode says what happens to synthesized resources
type BackfillMode int

const (
	// Ephemeral resources stay in memory and are never stored
	Ephemeral BackfillMode = iota
	// Persistent resources are created in the type's store
	Persistent
)

// ParseBackfillMode maps the config names "ephemeral" and "persistent"
func ParseBackfillMode(s string) (BackfillMode, error) {
	switch s {
	case "ephemeral", "":
		return Ephemeral, nil
	case "persistent":
		return Persistent, nil
	}
	return Ephemeral, fmt.Errorf("%w: unknown mode %q", ErrBackfill, s)
}

func (m BackfillMode) String() string {
	if m == Persistent {
		return "persistent"
	}
	return "ephemeral"
}

const maxAttempts = 32

// Generator is the default Backfiller. Field values satisfy the equality,
// membership and range constraints of the query's filter; unconstrained
// fields take the schema default or a value generated from their kind.
type Generator struct {
	Mode BackfillMode
	Rand *rand.Rand
}

var _ Backfiller = (*Generator)(nil)

// NewGenerator returns a generator seeded from the clock
func NewGenerator(mode BackfillMode) *Generator {
	return &Generator{Mode: mode, Rand: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

// Backfill creates want-have.Len() resources
func (g *Generator) Backfill(ctx context.Context, q *Query, have *Batch, want int) ([]*Resource, error) {
	t := q.Type()
	n := want
	if have != nil {
		n -= have.Len()
	}
	if n <= 0 {
		return nil, nil
	}
	if g.Rand == nil {
		g.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	constraints := query.Constraints(q.Spec().Where)
	out := t.NewBatch()
	for i := 0; i < n; i++ {
		values := make(map[string]any)
		for _, name := range t.schema.FieldNames() {
			if name == t.schema.RevField {
				continue
			}
			f, _ := t.schema.Field(name)
			v, err := g.value(t, f, constraints[name])
			if err != nil {
				return nil, err
			}
			if v != nil {
				values[name] = v
			}
		}
		out.items = append(out.items, newResource(t, values))
	}

	if g.Mode == Persistent {
		if err := out.Create(ctx); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrBackfill, err)
		}
	}
	return out.items, nil
}

func (g *Generator) value(t *Type, f *schema.Field, c *query.Constraint) (any, error) {
	if c != nil {
		if c.HasEqual {
			if c.Equal == nil && f.Name == t.schema.IDField {
				// a resource needs an identity even when the join key is unset
				return g.random(t, f, nil), nil
			}
			return c.Equal, nil
		}
		if c.OneOf != nil {
			var allowed []any
			for _, v := range c.OneOf {
				if c.Allows(v) {
					allowed = append(allowed, v)
				}
			}
			if len(allowed) == 0 {
				return nil, fmt.Errorf("%w: no allowed value for %s.%s", ErrBackfill, t.Name(), f.Name)
			}
			return allowed[g.Rand.Intn(len(allowed))], nil
		}
	}
	if c == nil && f.Default != nil {
		return f.Default(), nil
	}
	if c == nil && f.Name != t.schema.IDField && !f.Required && f.Nullable {
		return nil, nil
	}
	for i := 0; i < maxAttempts; i++ {
		v := g.random(t, f, c)
		if c.Allows(v) {
			return v, nil
		}
	}
	return nil, fmt.Errorf("%w: cannot satisfy %s.%s", ErrBackfill, t.Name(), f.Name)
}

func (g *Generator) random(t *Type, f *schema.Field, c *query.Constraint) any {
	if f.Name == t.schema.IDField && f.Type.IsText() {
		return uuid.NewString()
	}
	switch f.Type {
	case schema.TypeInt, schema.TypeBigInt:
		lo, hi := g.bounds(c, 0, 1000)
		lo, hi = math.Ceil(lo), math.Floor(hi)
		if hi < lo {
			return int64(lo)
		}
		return int64(lo) + g.Rand.Int63n(int64(hi-lo)+1)
	case schema.TypeFloat, schema.TypeDecimal:
		lo, hi := g.bounds(c, 0, 1000)
		return lo + g.Rand.Float64()*(hi-lo)
	case schema.TypeBool:
		return g.Rand.Intn(2) == 1
	case schema.TypeTimestamp, schema.TypeDate:
		return time.Now().UTC().Truncate(time.Second).Add(-time.Duration(g.Rand.Intn(86400)) * time.Second)
	case schema.TypeUUID:
		return uuid.NewString()
	case schema.TypeJSON:
		return map[string]any{}
	}
	return fmt.Sprintf("%s-%s", f.Name, uuid.NewString()[:8])
}

// bounds returns the numeric range of c, nudging exclusive ends inward
func (g *Generator) bounds(c *query.Constraint, lo, hi float64) (float64, float64) {
	if c == nil {
		return lo, hi
	}
	if v, ok := asNumber(c.Min); ok {
		lo = v
		if c.MinExclusive {
			lo = math.Nextafter(v, math.Inf(1))
			if v == math.Trunc(v) {
				lo = v + 1
			}
		}
		if c.Max == nil {
			hi = lo + 1000
		}
	}
	if v, ok := asNumber(c.Max); ok {
		hi = v
		if c.MaxExclusive {
			hi = math.Nextafter(v, math.Inf(-1))
			if v == math.Trunc(v) {
				hi = v - 1
			}
		}
		if c.Min == nil {
			lo = hi - 1000
		}
	}
	return lo, hi
}

func asNumber(v any) (float64, bool) {
	switch x := query.Normalize(v).(type) {
	case int64:
		return float64(x), true
	case uint64:
		return float64(x), true
	case float64:
		return x, true
	}
	return 0, false
}
