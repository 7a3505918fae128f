package graph

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBatchCreatePreservesOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	b := f.user.NewBatch(
		f.user.MustNew(map[string]any{"name": "a"}),
		f.user.MustNew(map[string]any{"id": "fixed", "name": "b"}),
		f.user.MustNew(map[string]any{"name": "c"}),
	)
	require.NoError(t, b.Create(ctx))

	assert.Equal(t, []any{"a", "b", "c"}, b.Values("name"))
	assert.Equal(t, "fixed", b.At(1).ID())
	for _, r := range b.Items() {
		assert.NotNil(t, r.ID())
		assert.NotNil(t, r.Rev())
		assert.Empty(t, r.Dirty())
	}
}

func TestBatchAppendRejectsOtherTypes(t *testing.T) {
	f := newFixture(t)
	b := f.user.NewBatch()
	assert.ErrorIs(t, b.Append(f.team.MustNew(nil)), ErrTypeMismatch)
	require.NoError(t, b.Append(f.user.MustNew(nil), nil))
	assert.Equal(t, 1, b.Len())
}

func TestBatchUpdateGroupsByDirtyFields(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seed(t)

	users, err := f.user.GetMany(ctx, []any{"u1", "u2", "u3", "u4"})
	require.NoError(t, err)
	require.Equal(t, 4, users.Len())

	require.NoError(t, users.At(0).Set("name", "x"))
	require.NoError(t, users.At(1).Set("name", "y"))
	require.NoError(t, users.At(2).Set("age", int64(1)))
	// u4 stays clean

	require.NoError(t, users.Update(ctx))
	assert.Equal(t, 2, f.stores["User"].updateManys)

	stored, err := f.user.GetMany(ctx, []any{"u1", "u2", "u3"})
	require.NoError(t, err)
	assert.Equal(t, []any{"x", "y", "cid"}, stored.Values("name"))
	assert.EqualValues(t, 1, stored.At(2).Value("age"))
}

func TestBatchSaveSplitsCreatesAndUpdates(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seed(t)

	existing, err := f.user.Get(ctx, "u1")
	require.NoError(t, err)
	require.NoError(t, existing.Set("name", "renamed"))
	fresh := f.user.MustNew(map[string]any{"name": "new"})

	b := f.user.NewBatch(existing, fresh)
	require.NoError(t, b.Save(ctx))

	assert.Equal(t, "u1", existing.ID())
	assert.NotNil(t, fresh.ID())
	got, err := f.user.GetMany(ctx, b.IDs())
	require.NoError(t, err)
	assert.Equal(t, []any{"renamed", "new"}, got.Values("name"))
}

func TestBatchDelete(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seed(t)

	b, err := f.user.GetMany(ctx, []any{"u1", "missing", "u2"})
	require.NoError(t, err)
	assert.Equal(t, []any{"u1", "u2"}, b.IDs())

	require.NoError(t, b.Delete(ctx))
	assert.Equal(t, []any{nil, nil}, b.IDs())

	exists, err := f.user.ExistsMany(ctx, []any{"u1", "u2", "u3"})
	require.NoError(t, err)
	assert.False(t, exists["u1"])
	assert.False(t, exists["u2"])
	assert.True(t, exists["u3"])
}
