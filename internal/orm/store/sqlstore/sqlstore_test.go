package sqlstore

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conduit-lang/weave/internal/orm/query"
	"github.com/conduit-lang/weave/internal/orm/schema"
	"github.com/conduit-lang/weave/internal/orm/store"
	"github.com/conduit-lang/weave/internal/orm/store/storetest"
)

// setupTestDB opens a private in-memory sqlite database
func setupTestDB(t *testing.T) *sqlx.DB {
	db, err := sqlx.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	// every connection to :memory: is a separate database
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSQLiteStoreConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T, s *schema.ResourceSchema) store.Store {
		st := New(setupTestDB(t), s)
		require.NoError(t, st.EnsureTable(context.Background()))
		return st
	})
}

func TestSQLiteCoercesColumnKinds(t *testing.T) {
	ctx := context.Background()
	s := schema.MustResourceSchema("Flag",
		&schema.Field{Name: "on", Type: schema.TypeBool},
		&schema.Field{Name: "weight", Type: schema.TypeFloat},
	)
	st := New(setupTestDB(t), s)
	require.NoError(t, st.EnsureTable(ctx))

	rec, err := st.Create(ctx, store.Record{"on": true, "weight": 1.5})
	require.NoError(t, err)

	got, err := st.Fetch(ctx, rec["id"], nil)
	require.NoError(t, err)
	assert.Equal(t, true, got["on"])
	assert.Equal(t, 1.5, got["weight"])
	assert.IsType(t, "", got["id"])
}

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	mdb, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mdb.Close() })
	db := sqlx.NewDb(mdb, "postgres")
	return New(db, storetest.ThingSchema()), mock
}

func TestPostgresQueryShape(t *testing.T) {
	st, mock := newMockStore(t)
	limit, offset := 2, 1

	mock.ExpectQuery(regexp.QuoteMeta(
		`SELECT "id", "rev", "name" FROM "thing" WHERE "id" = ANY($1) ORDER BY "name" DESC LIMIT $2 OFFSET $3`,
	)).
		WithArgs(sqlmock.AnyArg(), 2, 1).
		WillReturnRows(sqlmock.NewRows([]string{"id", "rev", "name"}).AddRow("1", "r1", "a"))

	recs, err := st.Query(context.Background(), store.Params{
		Where:   query.Field("Thing", "id").In("1", "2"),
		Fields:  []string{"name"},
		OrderBy: []query.OrderBy{query.Desc("name")},
		Limit:   &limit,
		Offset:  &offset,
	})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, store.Record{"id": "1", "rev": "r1", "name": "a"}, recs[0])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUpdateConflict(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "thing" SET "rev" = $1, "name" = $2 WHERE "id" = $3 AND "rev" = $4`)).
		WithArgs(sqlmock.AnyArg(), "x", "1", "stale").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT "id", "rev" FROM "thing" WHERE "id" = $1`)).
		WithArgs("1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "rev"}).AddRow("1", "fresh"))
	mock.ExpectRollback()

	_, err := st.Update(context.Background(), "1", store.Record{"name": "x", "rev": "stale"})
	assert.ErrorIs(t, err, store.ErrConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresDeleteManyIsOneStatement(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM "thing" WHERE "id" = ANY($1)`)).
		WithArgs(sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 3))

	require.NoError(t, st.DeleteMany(context.Background(), []any{"1", "2", "3"}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateTableSQL(t *testing.T) {
	st, _ := newMockStore(t)
	assert.Equal(t,
		`CREATE TABLE IF NOT EXISTS "thing" ("id" TEXT PRIMARY KEY, "rev" TEXT, "name" TEXT, "size" BIGINT)`,
		st.CreateTableSQL())
}

func TestConvertError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"unique", &pgconn.PgError{Code: "23505"}, store.ErrAlreadyExists},
		{"not null", &pgconn.PgError{Code: "23502"}, store.ErrConstraint},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, convertError(tt.err), tt.want)
		})
	}

	other := errors.New("boom")
	assert.Same(t, other, convertError(other))
	assert.Nil(t, convertError(nil))
}

func TestArrayArg(t *testing.T) {
	assert.Equal(t, pq.StringArray{"a", "b"}, arrayArg([]any{"a", "b"}))
	assert.Equal(t, pq.Int64Array{1, 2}, arrayArg([]any{1, int32(2)}))
	assert.Equal(t, pq.Float64Array{1.5}, arrayArg([]any{1.5}))
	assert.IsType(t, pq.GenericArray{}, arrayArg([]any{"a", 1}))
}
