package sqlstore

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"

	"github.com/conduit-lang/weave/internal/orm/store"
)

// convertError converts driver-specific errors to store errors
func convertError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}

	// PostgreSQL via pgx
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return convertPostgresCode(pgErr.Code, pgErr.Detail, err)
	}

	// PostgreSQL via lib/pq
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return convertPostgresCode(string(pqErr.Code), pqErr.Detail, err)
	}

	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		switch {
		case liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey,
			liteErr.ExtendedCode == sqlite3.ErrConstraintUnique:
			return fmt.Errorf("%w: %s", store.ErrAlreadyExists, liteErr.Error())
		case liteErr.Code == sqlite3.ErrConstraint:
			return fmt.Errorf("%w: %s", store.ErrConstraint, liteErr.Error())
		}
	}

	return err
}

func convertPostgresCode(code, detail string, err error) error {
	switch code {
	case "23505": // unique_violation
		return fmt.Errorf("%w: %s", store.ErrAlreadyExists, detail)
	case "23503", "23514", "23502": // foreign key, check, not null
		return fmt.Errorf("%w: %s", store.ErrConstraint, detail)
	}
	return err
}
