package schema

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewResourceSchema(t *testing.T) {
	s, err := NewResourceSchema("BlogPost",
		&Field{Name: "title", Type: TypeString, Required: true},
		&Field{Name: "views", Type: TypeInt},
	)
	require.NoError(t, err)

	assert.Equal(t, "blog_post", s.TableName)
	assert.Equal(t, []string{"id", "rev", "title", "views"}, s.FieldNames())
	assert.Equal(t, []string{"title"}, s.RequiredFields())
	assert.NoError(t, s.Validate())

	t.Run("explicit id replaces default", func(t *testing.T) {
		s, err := NewResourceSchema("Tag", &Field{Name: "label", Type: TypeString}, &Field{Name: "id", Type: TypeInt})
		require.NoError(t, err)
		assert.Equal(t, []string{"id", "rev", "label"}, s.FieldNames())
		f, _ := s.Field("id")
		assert.Equal(t, TypeInt, f.Type)
	})

	t.Run("duplicate field", func(t *testing.T) {
		_, err := NewResourceSchema("Tag", &Field{Name: "a"}, &Field{Name: "a"})
		assert.ErrorIs(t, err, ErrDuplicateField)
	})
}

func TestPrimitiveTypeRoundTrip(t *testing.T) {
	for p := TypeString; p <= TypeJSON; p++ {
		parsed, err := ParsePrimitiveType(p.String())
		require.NoError(t, err)
		assert.Equal(t, p, parsed)
	}
	_, err := ParsePrimitiveType("blob")
	assert.Error(t, err)
}

func TestFieldCoerce(t *testing.T) {
	ts := time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)

	tests := []struct {
		name  string
		typ   PrimitiveType
		in    any
		want  any
		fails bool
	}{
		{"bytes to string", TypeString, []byte("abc"), "abc", false},
		{"int kinds", TypeInt, int32(7), int64(7), false},
		{"integral float", TypeInt, float64(9), int64(9), false},
		{"fractional float", TypeInt, 9.5, nil, true},
		{"json number", TypeBigInt, json.Number("12"), int64(12), false},
		{"float from int", TypeFloat, int64(3), float64(3), false},
		{"bool from sqlite int", TypeBool, int64(1), true, false},
		{"bool from string", TypeBool, "false", false, false},
		{"time passthrough", TypeTimestamp, ts, ts, false},
		{"time from text", TypeTimestamp, "2024-05-06T07:08:09Z", ts, false},
		{"json text", TypeJSON, `{"a":1}`, map[string]any{"a": float64(1)}, false},
		{"nil", TypeInt, nil, nil, false},
		{"bad int", TypeInt, "seven", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &Field{Name: "f", Type: tt.typ}
			got, err := f.Coerce(tt.in)
			if tt.fails {
				assert.ErrorIs(t, err, ErrInvalidValue)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRegistry(t *testing.T) {
	t.Run("register and get schema", func(t *testing.T) {
		registry := NewRegistry()
		require.NoError(t, registry.Register(MustResourceSchema("Post")))

		retrieved, ok := registry.Get("Post")
		require.True(t, ok)
		assert.Equal(t, "Post", retrieved.Name)
		_, ok = registry.Get("Comment")
		assert.False(t, ok)
	})

	t.Run("duplicate registration", func(t *testing.T) {
		registry := NewRegistry()
		s := MustResourceSchema("Post")
		require.NoError(t, registry.Register(s))
		assert.ErrorIs(t, registry.Register(s), ErrDuplicateSchema)
	})

	t.Run("names sorted", func(t *testing.T) {
		registry := NewRegistry()
		for _, name := range []string{"User", "Post", "Comment"} {
			require.NoError(t, registry.Register(MustResourceSchema(name)))
		}
		assert.Equal(t, []string{"Comment", "Post", "User"}, registry.Names())
	})

	t.Run("invalid schema rejected", func(t *testing.T) {
		registry := NewRegistry()
		s := MustResourceSchema("Post")
		s.IDField = "pk"
		assert.ErrorIs(t, registry.Register(s), ErrInvalidSchema)
	})
}

func TestRegistryLookup(t *testing.T) {
	registry := NewRegistry()
	require.NoError(t, registry.Register(MustResourceSchema("Post",
		&Field{Name: "author_id", Type: TypeString},
	)))

	s, f, err := registry.Lookup("Post.author_id")
	require.NoError(t, err)
	assert.Equal(t, "Post", s.Name)
	assert.Equal(t, "author_id", f.Name)

	_, f, err = registry.Lookup("Post.id")
	require.NoError(t, err)
	assert.Equal(t, "id", f.Name)

	for _, ref := range []string{"Post", ".id", "Post.", "Author.id", "Post.title"} {
		_, _, err := registry.Lookup(ref)
		assert.ErrorIs(t, err, ErrUnknownReference, ref)
	}
}
